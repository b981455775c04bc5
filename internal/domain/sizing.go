package domain

import (
	"fmt"
	"math"
)

// StrategyKind selects one of the fixed bet-sizing formulas. Assigned once
// at agent creation and never changed at runtime.
type StrategyKind int

const (
	StrategyKelly        StrategyKind = iota // conservative quarter-Kelly
	StrategyFixed                            // fixed fraction by confidence bucket
	StrategyProportional                     // continuous edge × confidence blend
	StrategyLossStreak                       // geometric increase on loss streaks
	StrategyWinStreak                        // geometric increase on win streaks
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyKelly:
		return "kelly"
	case StrategyFixed:
		return "fixed"
	case StrategyProportional:
		return "proportional"
	case StrategyLossStreak:
		return "loss-streak"
	case StrategyWinStreak:
		return "win-streak"
	}
	return fmt.Sprintf("StrategyKind(%d)", int(k))
}

// ParseStrategy maps a config name to its StrategyKind.
func ParseStrategy(s string) (StrategyKind, error) {
	for k := StrategyKelly; k <= StrategyWinStreak; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return StrategyKelly, fmt.Errorf("unknown strategy %q", s)
}

// minimum confidence any strategy accepts.
const minConfidence = 50

// probability floors per strategy. Below the floor the edge estimate is too
// noisy to act on, regardless of the computed EV.
var probabilityFloor = map[StrategyKind]float64{
	StrategyKelly:        0.55,
	StrategyFixed:        0.60,
	StrategyProportional: 0.52,
	StrategyLossStreak:   0.55,
	StrategyWinStreak:    0.55,
}

// streak amplification: bounded geometric increase for up to three
// consecutive outcomes, then reset to the base fraction.
const (
	streakBaseFraction = 0.01
	streakFactor       = 1.5
	streakMaxSteps     = 3
)

// SizingInput carries everything a sizing formula may consult.
type SizingInput struct {
	Account     AccountSnapshot
	Probability float64 // forecast probability ∈ [0,1]
	Confidence  float64 // forecast confidence ∈ [0,100]
	NetEV       float64 // fee-adjusted expected value of the probe
	VenuePrice  float64 // entry price for the chosen side
	MaxBet      float64 // tier-derived cap at the current balance
}

// ProposeSize returns the USDC stake for the strategy, or 0 for "no bet".
// Zero is returned whenever an eligibility gate fails: non-positive net EV,
// probability under the strategy floor, or confidence under 50.
func ProposeSize(kind StrategyKind, in SizingInput) float64 {
	if in.NetEV <= 0 || in.Confidence < minConfidence {
		return 0
	}
	if in.Probability < probabilityFloor[kind] {
		return 0
	}

	balance := in.Account.Balance
	if balance <= 0 {
		return 0
	}

	var size float64
	switch kind {
	case StrategyKelly:
		size = kellySize(balance, in)
	case StrategyFixed:
		size = fixedSize(balance, in)
	case StrategyProportional:
		size = proportionalSize(balance, in)
	case StrategyLossStreak:
		size = streakSize(balance, in.Account.ConsecutiveLosses)
	case StrategyWinStreak:
		size = streakSize(balance, in.Account.ConsecutiveWins)
	}

	size = minF(size, in.MaxBet)
	size = minF(size, balance)
	if size <= 0 {
		return 0
	}
	return size
}

// kellySize is quarter-Kelly scaled by confidence. b is the net odds implied
// by the entry price: a winning $1 share bought at m pays (1−m)/m.
func kellySize(balance float64, in SizingInput) float64 {
	m := in.VenuePrice
	if m <= 0 || m >= 1 {
		m = in.Probability
	}
	if m <= 0 || m >= 1 {
		return 0
	}
	b := (1 - m) / m
	p := in.Probability
	q := 1 - p
	f := (p*b - q) / b
	if f <= 0 {
		return 0
	}
	f = f / 4 * (in.Confidence / 100)
	return balance * f
}

// fixedSize stakes a fixed fraction picked by confidence bucket.
func fixedSize(balance float64, in SizingInput) float64 {
	var frac float64
	switch {
	case in.Confidence >= 85:
		frac = 0.03
	case in.Confidence >= 70:
		frac = 0.02
	default:
		frac = 0.01
	}
	return balance * frac
}

// proportionalSize blends the probability edge over a fair coin with the
// confidence into a continuous fraction, capped at 5% of balance.
func proportionalSize(balance float64, in SizingInput) float64 {
	edge := in.Probability - 0.5
	if edge <= 0 {
		return 0
	}
	frac := edge * (in.Confidence / 100) * 0.10 / 0.5
	return balance * minF(frac, 0.05)
}

// streakSize amplifies the base fraction geometrically for up to
// streakMaxSteps consecutive outcomes, then resets.
func streakSize(balance float64, streak int) float64 {
	steps := streak
	if steps > streakMaxSteps {
		steps = 0
	}
	return balance * streakBaseFraction * math.Pow(streakFactor, float64(steps))
}
