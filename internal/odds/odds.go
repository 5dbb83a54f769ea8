// Package odds provides pure conversions between American odds, decimal
// odds, implied probability, expected value, and Kelly staking fractions.
//
// American odds are a signed notation: +150 pays 1.5x the stake in profit,
// -110 requires risking 110 to win 100. Decimal odds are the total payout
// multiple per unit staked.
//
// None of these functions reject inputs outside their nominal domain.
// A true probability above 1 produces a (nonsensical but well-defined)
// EV figure rather than an error; callers own domain validation.
package odds

import "math"

// AmericanToDecimal converts American odds to decimal odds:
//
//	positive: american/100 + 1
//	negative: 100/|american| + 1
//
// Zero divides by zero and yields +Inf. Callers that need a finite
// decimal must never pass zero; this is a known edge, not a guard.
func AmericanToDecimal(american float64) float64 {
	if american > 0 {
		return american/100 + 1
	}
	return 100/math.Abs(american) + 1
}

// AmericanToProbability returns the implied probability of American odds:
// 1 / AmericanToDecimal(american). Includes the book's vig.
func AmericanToProbability(american float64) float64 {
	return 1 / AmericanToDecimal(american)
}

// EVPercent computes the expected value of a wager as a percentage of the
// stake:
//
//	(trueProb * decimalOdds - 1) * 100
//
// No bounds checking on trueProb.
func EVPercent(trueProb, decimalOdds float64) float64 {
	return (trueProb*decimalOdds - 1) * 100
}

// KellyFraction returns the full-Kelly bankroll fraction for a bet:
//
//	b = decimalOdds - 1
//	f = (b*trueProb - (1-trueProb)) / b
//
// clamped to zero for breakeven or negative edge. Note that the numerator
// equals trueProb*decimalOdds - 1, so the clamp condition is exactly
// trueProb*decimalOdds <= 1; testing the edge first also keeps b = 0
// (decimal odds of 1.0) from dividing by zero. A certain win
// (trueProb = 1) returns 1.
func KellyFraction(trueProb, decimalOdds float64) float64 {
	edge := trueProb*decimalOdds - 1
	if edge <= 0 {
		return 0
	}
	return edge / (decimalOdds - 1)
}
