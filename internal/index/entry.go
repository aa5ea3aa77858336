package index

import (
	"risk_engine/internal/core"

	"github.com/shopspring/decimal"
)

// PositionRiskEntry is the authoritative in-memory record of one open
// position's protective thresholds. Side and entry price never change after
// creation; the trailing machine is the only writer of the trailing fields.
type PositionRiskEntry struct {
	PositionID       string
	UID              string
	StrategyID       string
	ExchangeAPIKeyID string
	Exchange         string
	Symbol           string
	Side             core.Side
	EntryPrice       decimal.Decimal
	Quantity         decimal.Decimal

	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal

	TrailingEnabled   bool
	TrailingStopPrice decimal.Decimal
	TrailingTriggered bool
	ActivationPct     decimal.Decimal
	DrawdownPct       decimal.Decimal

	// Derived trailing thresholds, maintained by the trailing machine
	ActivationPrice decimal.Decimal
	UpdatePrice     decimal.Decimal

	Status core.PositionStatus
}

// NewPositionRiskEntry builds an entry from a persisted position and its
// resolved trailing config. A nil config leaves the percentage fields unset,
// which puts an enabled trailing stop with an explicit price into manual mode.
func NewPositionRiskEntry(pos core.Position, cfg *core.TrailingConfig) *PositionRiskEntry {
	e := &PositionRiskEntry{
		PositionID:        pos.ID,
		UID:               pos.UID,
		StrategyID:        pos.StrategyID,
		ExchangeAPIKeyID:  pos.ExchangeAPIKeyID,
		Exchange:          pos.Exchange,
		Symbol:            pos.Symbol,
		Side:              pos.Side,
		EntryPrice:        pos.EntryPrice,
		Quantity:          pos.Quantity,
		StopLossPrice:     pos.StopLossPrice,
		TakeProfitPrice:   pos.TakeProfitPrice,
		TrailingEnabled:   pos.TrailingEnabled,
		TrailingStopPrice: pos.TrailingStopPrice,
		TrailingTriggered: pos.TrailingTriggered,
		Status:            pos.Status,
	}
	if cfg != nil {
		e.ActivationPct = cfg.ActivationPct
		e.DrawdownPct = cfg.DrawdownPct
	}
	e.deriveTrailingPrices()
	return e
}

// deriveTrailingPrices recomputes the activation and update thresholds from
// the current trailing fields. Called at construction and after rebuilds so
// that restored positions carry the same derived prices as live ones.
func (e *PositionRiskEntry) deriveTrailingPrices() {
	switch e.trailingState() {
	case trailingPending:
		e.ActivationPrice = activationPrice(e.Side, e.EntryPrice, e.ActivationPct)
		e.UpdatePrice = decimal.Zero
	case trailingActivated:
		e.ActivationPrice = decimal.Zero
		if e.DrawdownPct.IsPositive() {
			e.UpdatePrice = updateThreshold(e.Side, e.TrailingStopPrice, e.DrawdownPct)
		}
	default:
		e.ActivationPrice = decimal.Zero
		e.UpdatePrice = decimal.Zero
	}
}

// Clone returns a copy safe to use outside the symbol lock
func (e *PositionRiskEntry) Clone() *PositionRiskEntry {
	c := *e
	return &c
}
