// Package core defines the shared domain types for the risk engine
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a leveraged position
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OrderSide is the direction of an order sent to a venue
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// CloseSide returns the order side that reduces a position of the given side
func (s Side) CloseSide() OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// PositionStatus is the lifecycle status of a position
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// CloseReason identifies which protective threshold closed a position
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "StopLoss"
	CloseReasonTakeProfit CloseReason = "TakeProfit"
	CloseReasonTrailing   CloseReason = "TrailingStop"
)

// Position is the persisted shape of a leveraged position.
// Optional price fields use decimal zero to mean "not set"; a protective
// threshold is only meaningful at a strictly positive price.
type Position struct {
	ID               string
	UID              string
	StrategyID       string
	ExchangeAPIKeyID string
	Exchange         string
	Symbol           string
	Side             Side
	EntryPrice       decimal.Decimal
	Quantity         decimal.Decimal

	StopLossPrice     decimal.Decimal
	TakeProfitPrice   decimal.Decimal
	TrailingEnabled   bool
	TrailingStopPrice decimal.Decimal
	TrailingTriggered bool

	Status   PositionStatus
	OpenedAt time.Time
	ClosedAt time.Time
}

// TrailingConfig holds the percentage parameters of an automatic trailing stop
type TrailingConfig struct {
	ActivationPct decimal.Decimal `json:"activation_pct"`
	DrawdownPct   decimal.Decimal `json:"drawdown_pct"`
}

// PriceSample is one OHLC observation for a symbol
type PriceSample struct {
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Timestamp time.Time
}

// PlaceOrderRequest describes a market order sent through the order collaborator
type PlaceOrderRequest struct {
	UID              string
	ExchangeAPIKeyID string
	Exchange         string
	Symbol           string
	Side             OrderSide
	Quantity         decimal.Decimal
	ReduceOnly       bool
	ClientOrderID    string
}

// OrderResult is the outcome of a market order placement
type OrderResult struct {
	Success      bool
	AveragePrice decimal.Decimal
	ErrorMessage string
}
