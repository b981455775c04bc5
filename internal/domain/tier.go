package domain

import (
	"fmt"
	"time"
)

// Tier is a discrete risk regime derived from the balance ratio. Ordering
// matters: a higher value is a strictly worse regime.
type Tier int

const (
	TierConservative Tier = iota // balance ratio >= 0.90
	TierDefensive                // >= 0.70
	TierRecovery                 // >= 0.50
	TierEmergency                // >= 0.40, arms a mandatory cooldown
	TierSuspended                // < 0.40 or balance <= 0, blocks until manual reset
)

func (t Tier) String() string {
	switch t {
	case TierConservative:
		return "CONSERVATIVE"
	case TierDefensive:
		return "DEFENSIVE"
	case TierRecovery:
		return "RECOVERY"
	case TierEmergency:
		return "EMERGENCY"
	case TierSuspended:
		return "SUSPENDED"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// ParseTier maps a stored tier name back to its Tier value.
func ParseTier(s string) (Tier, error) {
	for t := TierConservative; t <= TierSuspended; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return TierSuspended, fmt.Errorf("unknown tier %q", s)
}

// EmergencyCooldown is the mandatory pause armed when an agent drops into
// EMERGENCY. No new bets are admissible while it runs.
const EmergencyCooldown = 72 * time.Hour

// TierLimits are the per-tier risk caps. Percentage caps apply to the current
// balance; fixed caps are absolute USDC amounts. The effective cap is always
// the smaller of the two.
type TierLimits struct {
	MaxBetPct       float64
	MaxBetFixed     float64
	DailyLossPct    float64
	DailyLossFixed  float64
	MaxConcurrent   int
	MaxExposureFrac float64 // fraction of equity (balance + open exposure)
}

var tierLimits = map[Tier]TierLimits{
	TierConservative: {MaxBetPct: 0.05, MaxBetFixed: 50, DailyLossPct: 0.10, DailyLossFixed: 100, MaxConcurrent: 5, MaxExposureFrac: 0.25},
	TierDefensive:    {MaxBetPct: 0.03, MaxBetFixed: 25, DailyLossPct: 0.06, DailyLossFixed: 50, MaxConcurrent: 3, MaxExposureFrac: 0.15},
	TierRecovery:     {MaxBetPct: 0.02, MaxBetFixed: 10, DailyLossPct: 0.04, DailyLossFixed: 25, MaxConcurrent: 2, MaxExposureFrac: 0.10},
	TierEmergency:    {MaxBetPct: 0.01, MaxBetFixed: 5, DailyLossPct: 0.02, DailyLossFixed: 10, MaxConcurrent: 1, MaxExposureFrac: 0.05},
	TierSuspended:    {},
}

// Limits returns the risk caps for the tier.
func (t Tier) Limits() TierLimits {
	return tierLimits[t]
}

// MaxBet returns min(balance × pct_cap, fixed_cap) for the tier.
func (t Tier) MaxBet(balance float64) float64 {
	l := tierLimits[t]
	return minF(balance*l.MaxBetPct, l.MaxBetFixed)
}

// DailyLossBudget returns min(balance × pct_cap, fixed_cap) for the tier.
func (t Tier) DailyLossBudget(balance float64) float64 {
	l := tierLimits[t]
	return minF(balance*l.DailyLossPct, l.DailyLossFixed)
}

// TierFor is the pure tier mapping. It is the only place a tier may be
// derived; callers never set tiers directly.
func TierFor(balance, initialBalance float64) Tier {
	if initialBalance <= 0 || balance <= 0 {
		return TierSuspended
	}
	ratio := balance / initialBalance
	switch {
	case ratio >= 0.90:
		return TierConservative
	case ratio >= 0.70:
		return TierDefensive
	case ratio >= 0.50:
		return TierRecovery
	case ratio >= 0.40:
		return TierEmergency
	default:
		return TierSuspended
	}
}

// TierState is the stateful part of the risk regime: cooldown timestamps,
// the previous tier for adaptation logging, and the daily loss counter.
// The tier itself is always recomputable from the balance.
type TierState struct {
	AgentID        string
	Current        Tier
	Previous       Tier
	CooldownUntil  *time.Time
	DailyLossToday float64
	LastResetDate  string // YYYY-MM-DD (UTC)
}

// AdaptationRecord is appended whenever an agent's tier strictly worsens.
type AdaptationRecord struct {
	AgentID   string
	From      Tier
	To        Tier
	Balance   float64
	ChangedAt time.Time
}

// Blocked reports whether the circuit breaker forbids new bets, with a
// human-readable reason.
func (s *TierState) Blocked(now time.Time) (bool, string) {
	if s.Current == TierSuspended {
		return true, "suspended until manual reset"
	}
	if s.CooldownUntil != nil && now.Before(*s.CooldownUntil) {
		return true, fmt.Sprintf("cooldown until %s", s.CooldownUntil.UTC().Format(time.RFC3339))
	}
	return false, ""
}

// Apply records a freshly computed tier. Entering EMERGENCY arms the cooldown
// window; a strictly worse transition returns an AdaptationRecord for the
// audit trail, otherwise nil.
func (s *TierState) Apply(newTier Tier, balance float64, now time.Time) *AdaptationRecord {
	if newTier == s.Current {
		return nil
	}
	s.Previous = s.Current
	s.Current = newTier

	if newTier == TierEmergency && s.Previous != TierEmergency {
		until := now.Add(EmergencyCooldown)
		s.CooldownUntil = &until
	}
	if newTier < TierEmergency {
		s.CooldownUntil = nil
	}

	if newTier > s.Previous {
		return &AdaptationRecord{
			AgentID:   s.AgentID,
			From:      s.Previous,
			To:        newTier,
			Balance:   balance,
			ChangedAt: now,
		}
	}
	return nil
}

// ConsumeDailyLoss reserves worst-case loss budget for a new bet, resetting
// the counter on the first call of a new UTC day. Wins refund their share via
// RefundDailyLoss.
func (s *TierState) ConsumeDailyLoss(size float64, now time.Time) {
	s.rollDate(now)
	s.DailyLossToday += size
}

// RefundDailyLoss returns budget that did not materialize as a loss.
func (s *TierState) RefundDailyLoss(size float64) {
	s.DailyLossToday -= size
	if s.DailyLossToday < 0 {
		s.DailyLossToday = 0
	}
}

// ResetDaily clears the daily counter for a new UTC day.
func (s *TierState) ResetDaily(now time.Time) {
	s.DailyLossToday = 0
	s.LastResetDate = now.UTC().Format("2006-01-02")
}

// ManualReset clears suspension and cooldown. Only an explicit operator
// action may call this.
func (s *TierState) ManualReset(newTier Tier) {
	s.Previous = s.Current
	s.Current = newTier
	s.CooldownUntil = nil
	s.DailyLossToday = 0
}

func (s *TierState) rollDate(now time.Time) {
	today := now.UTC().Format("2006-01-02")
	if s.LastResetDate != today {
		s.DailyLossToday = 0
		s.LastResetDate = today
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
