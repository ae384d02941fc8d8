// Package odds implements American-odds payout math for the wagering ledger.
// All stake and payout amounts are integer cents; divisions round half up so
// the house never silently drops or invents a cent.
package odds

import (
	"errors"
	"math"
)

// ErrInvalidOdds is returned for odds values no sportsbook would quote:
// zero, or anything in the open interval (-100, 100).
var ErrInvalidOdds = errors.New("invalid american odds")

// Valid reports whether the given American odds value is quotable.
// American odds are either >= +100 or <= -100.
func Valid(american int64) bool {
	return american >= 100 || american <= -100
}

// Decimal converts American odds to decimal odds (stake multiplier).
// +150 -> 2.50, -110 -> 1.9090...
func Decimal(american int64) (float64, error) {
	if !Valid(american) {
		return 0, ErrInvalidOdds
	}
	if american > 0 {
		return 1 + float64(american)/100, nil
	}
	return 1 + 100/float64(-american), nil
}

// American converts decimal odds back to the nearest American odds value.
// Decimal odds at or above 2.0 map to positive American odds.
func American(decimal float64) (int64, error) {
	if decimal <= 1 {
		return 0, ErrInvalidOdds
	}
	if decimal >= 2 {
		return int64(math.Round((decimal - 1) * 100)), nil
	}
	return -int64(math.Round(100 / (decimal - 1))), nil
}

// Payout returns the total payout (stake plus profit) in cents for a winning
// bet at the given American odds.
//
//	odds > 0: stake * (1 + odds/100)
//	odds < 0: stake * (1 + 100/|odds|)
func Payout(stakeCents int64, american int64) (int64, error) {
	if !Valid(american) {
		return 0, ErrInvalidOdds
	}
	if stakeCents < 0 {
		return 0, errors.New("negative stake")
	}
	var profit int64
	if american > 0 {
		profit = divRound(stakeCents*american, 100)
	} else {
		profit = divRound(stakeCents*100, -american)
	}
	return stakeCents + profit, nil
}

// Combine multiplies the decimal odds of every leg and returns the combined
// decimal odds. Used to price parlays.
func Combine(americanLegs []int64) (float64, error) {
	if len(americanLegs) == 0 {
		return 0, errors.New("no legs to combine")
	}
	combined := 1.0
	for _, a := range americanLegs {
		d, err := Decimal(a)
		if err != nil {
			return 0, err
		}
		combined *= d
	}
	return combined, nil
}

// ParlayPayout returns the total payout in cents for a winning parlay with
// the given combined decimal odds.
func ParlayPayout(stakeCents int64, combinedDecimal float64) int64 {
	return int64(math.Round(float64(stakeCents) * combinedDecimal))
}

// ScalePayout reduces a parlay payout after legs push or void: the original
// payout is scaled linearly by the fraction of legs that stayed active.
func ScalePayout(payoutCents int64, activeLegs, totalLegs int) int64 {
	if totalLegs == 0 {
		return 0
	}
	return divRound(payoutCents*int64(activeLegs), int64(totalLegs))
}

// SplitStake divides a parlay's total stake evenly across legs. The remainder
// cents go to the first legs so the parts always sum to the total.
func SplitStake(totalCents int64, legs int) []int64 {
	parts := make([]int64, legs)
	if legs == 0 {
		return parts
	}
	base := totalCents / int64(legs)
	rem := totalCents % int64(legs)
	for i := range parts {
		parts[i] = base
		if int64(i) < rem {
			parts[i]++
		}
	}
	return parts
}

// divRound divides num by den rounding half away from zero. den must be
// positive; num may be any sign.
func divRound(num, den int64) int64 {
	if num >= 0 {
		return (num + den/2) / den
	}
	return -((-num + den/2) / den)
}
