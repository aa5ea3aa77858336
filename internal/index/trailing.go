package index

import (
	"risk_engine/internal/core"

	"github.com/shopspring/decimal"
)

// trailingState is the trailing-stop machine state derived from entry fields
type trailingState int

const (
	trailingDisabled trailingState = iota
	// trailingManual carries an externally supplied stop price with no
	// percentage config; the stop is indexed as-is and never ratchets.
	trailingManual
	trailingPending
	trailingActivated
)

func (e *PositionRiskEntry) trailingState() trailingState {
	if !e.TrailingEnabled {
		return trailingDisabled
	}
	if e.TrailingTriggered && e.TrailingStopPrice.IsPositive() {
		return trailingActivated
	}
	if e.ActivationPct.IsPositive() && e.DrawdownPct.IsPositive() {
		return trailingPending
	}
	if e.TrailingStopPrice.IsPositive() {
		return trailingManual
	}
	return trailingDisabled
}

// TrailingOutcome reports what one range evaluation did to the machine
type TrailingOutcome struct {
	Triggered bool
	Activated bool
	StopMoved bool
	NewStop   decimal.Decimal
}

func activationPrice(side core.Side, entry, activationPct decimal.Decimal) decimal.Decimal {
	if side == core.SideShort {
		return entry.Mul(decimal.NewFromInt(1).Sub(activationPct))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(activationPct))
}

func stopFromFavorable(side core.Side, favorable, drawdownPct decimal.Decimal) decimal.Decimal {
	if side == core.SideShort {
		return favorable.Mul(decimal.NewFromInt(1).Add(drawdownPct))
	}
	return favorable.Mul(decimal.NewFromInt(1).Sub(drawdownPct))
}

func updateThreshold(side core.Side, stop, drawdownPct decimal.Decimal) decimal.Decimal {
	if side == core.SideShort {
		return stop.Div(decimal.NewFromInt(1).Add(drawdownPct))
	}
	return stop.Div(decimal.NewFromInt(1).Sub(drawdownPct))
}

// favorableExtreme is the best price the position saw in the range:
// the high for a long, the low for a short.
func favorableExtreme(side core.Side, low, high decimal.Decimal) decimal.Decimal {
	if side == core.SideShort {
		return low
	}
	return high
}

// crossedUnfavorably reports whether the range touched the threshold on the
// losing side: a long is stopped when the low reaches down to it, a short
// when the high reaches up to it.
func crossedUnfavorably(side core.Side, low, high, threshold decimal.Decimal) bool {
	if side == core.SideShort {
		return high.GreaterThanOrEqual(threshold)
	}
	return low.LessThanOrEqual(threshold)
}

// crossedFavorably reports whether the range touched the threshold on the
// winning side.
func crossedFavorably(side core.Side, low, high, threshold decimal.Decimal) bool {
	if side == core.SideShort {
		return low.LessThanOrEqual(threshold)
	}
	return high.GreaterThanOrEqual(threshold)
}

// evaluateTrailing advances the trailing machine for one traversed range and
// mutates the entry's trailing fields in place. The trigger check always runs
// against the stop price that existed before this range was seen: a stop set
// or ratcheted by the current range cannot fire within the same cycle.
//
// Callers must hold the owning symbol lock and re-index the entry's trailing
// membership when Activated or StopMoved is set.
func evaluateTrailing(e *PositionRiskEntry, low, high decimal.Decimal) TrailingOutcome {
	var out TrailingOutcome

	switch e.trailingState() {
	case trailingDisabled:
		return out

	case trailingManual:
		out.Triggered = crossedUnfavorably(e.Side, low, high, e.TrailingStopPrice)
		return out

	case trailingPending:
		if !crossedFavorably(e.Side, low, high, e.ActivationPrice) {
			return out
		}
		favorable := favorableExtreme(e.Side, low, high)
		e.TrailingTriggered = true
		e.TrailingStopPrice = stopFromFavorable(e.Side, favorable, e.DrawdownPct)
		e.ActivationPrice = decimal.Zero
		e.UpdatePrice = updateThreshold(e.Side, e.TrailingStopPrice, e.DrawdownPct)
		out.Activated = true
		out.StopMoved = true
		out.NewStop = e.TrailingStopPrice
		return out

	case trailingActivated:
		if crossedUnfavorably(e.Side, low, high, e.TrailingStopPrice) {
			out.Triggered = true
			return out
		}
		// An activated stop restored without its drawdown config is frozen:
		// it can still trigger but never moves
		if !e.DrawdownPct.IsPositive() || !e.UpdatePrice.IsPositive() {
			return out
		}
		if !crossedFavorably(e.Side, low, high, e.UpdatePrice) {
			return out
		}
		candidate := stopFromFavorable(e.Side, favorableExtreme(e.Side, low, high), e.DrawdownPct)
		// Monotonic ratchet: the stop never retreats
		if e.Side == core.SideShort {
			if candidate.GreaterThan(e.TrailingStopPrice) {
				return out
			}
		} else {
			if candidate.LessThan(e.TrailingStopPrice) {
				return out
			}
		}
		e.TrailingStopPrice = candidate
		e.UpdatePrice = updateThreshold(e.Side, candidate, e.DrawdownPct)
		out.StopMoved = true
		out.NewStop = candidate
		return out
	}

	return out
}
