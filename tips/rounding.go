package tips

import "github.com/shopspring/decimal"

// RoundDown floors amount to a multiple of step, then rounds to cents to
// drop any representation noise. RoundNone returns the amount unchanged.
// It never rounds up, and a non-negative amount never produces a negative
// result.
func RoundDown(amount decimal.Decimal, step RoundingStep) decimal.Decimal {
	size, ok := step.Value()
	if !ok {
		return amount
	}
	return amount.Div(size).Floor().Mul(size).Round(2)
}

// DefaultActualAmount is what gets disbursed when no override is given:
// the total due floored to the step.
//
// Policy: a total due at or below zero pays 0 rather than
// RoundDown(totalDue, step). Flooring a negative amount would mean
// collecting money from the member at payout time; instead the debt stays
// on the balance and is netted against a later payout.
func DefaultActualAmount(totalDue decimal.Decimal, step RoundingStep) decimal.Decimal {
	if !totalDue.IsPositive() {
		return decimal.Zero
	}
	return RoundDown(totalDue, step)
}
