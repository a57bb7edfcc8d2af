// Package money centralizes fixed-point decimal helpers shared by the
// trading domain. Every price, quantity, and cash amount in the core is a
// decimal.Decimal; floating point is never used for arithmetic and only
// appears, if at all, at an outermost wire boundary.
package money

import "github.com/shopspring/decimal"

// RoundStep rounds value toward zero to the nearest multiple of step.
// A zero or negative step is treated as "no rounding" and returns value
// unchanged, since some symbols declare no step constraint.
func RoundStep(value, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return value
	}
	steps := value.Div(step).Truncate(0)
	return steps.Mul(step)
}

// RoundTick rounds price toward zero to the nearest multiple of tick.
func RoundTick(price, tick decimal.Decimal) decimal.Decimal {
	return RoundStep(price, tick)
}

// Pct returns value * (pct / 100).
func Pct(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct).Div(decimal.NewFromInt(100))
}
