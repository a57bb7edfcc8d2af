// Package signal defines the Signal value type produced by strategies and
// consumed by the Live Trading Service's signal-to-order adaptation path.
package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type is the closed set of strategy signal kinds.
type Type string

const (
	TypeStrongBuy   Type = "StrongBuy"
	TypeBuy         Type = "Buy"
	TypeSell        Type = "Sell"
	TypeStrongSell  Type = "StrongSell"
	TypeCloseLong   Type = "CloseLong"
	TypeCloseShort  Type = "CloseShort"
	TypeHold        Type = "Hold"
)

// IsActionable reports whether the type maps to any order action at all;
// Hold never does.
func (t Type) IsActionable() bool {
	return t != TypeHold
}

// Signal is a single strategy emission consumed by the adaptation pipeline.
type Signal struct {
	StrategyID string
	Symbol     string
	Type       Type

	// Strength and Confidence are both clamped to [0, 1] by New.
	Strength   decimal.Decimal
	Confidence decimal.Decimal

	// Parameters is a free-form bag carrying at minimum the current price
	// under key "price"; strategies may attach additional context.
	Parameters map[string]decimal.Decimal

	Timestamp time.Time
}

// New constructs a Signal, clamping strength and confidence into [0, 1].
func New(strategyID, symbol string, kind Type, strength, confidence decimal.Decimal, params map[string]decimal.Decimal) Signal {
	if params == nil {
		params = make(map[string]decimal.Decimal)
	}
	return Signal{
		StrategyID: strategyID,
		Symbol:     symbol,
		Type:       kind,
		Strength:   clamp01(strength),
		Confidence: clamp01(confidence),
		Parameters: params,
		Timestamp:  time.Now().UTC(),
	}
}

// Price returns the "price" parameter, or zero if absent.
func (s Signal) Price() decimal.Decimal {
	return s.Parameters["price"]
}

// MeetsThresholds reports whether the signal clears the configured minimum
// confidence and strength before it may be adapted into an order (§4.6.2).
func (s Signal) MeetsThresholds(minConfidence, minStrength decimal.Decimal) bool {
	return s.Confidence.GreaterThanOrEqual(minConfidence) && s.Strength.GreaterThanOrEqual(minStrength)
}

func clamp01(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if v.GreaterThan(one) {
		return one
	}
	return v
}
