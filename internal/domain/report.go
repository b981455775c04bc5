package domain

import (
	"sort"
	"time"
)

// SkipReason labels why a candidate was rejected. Every rejection in a cycle
// is recorded with one of these.
type SkipReason string

const (
	SkipValidation   SkipReason = "validation"
	SkipDuplicate    SkipReason = "duplicate"
	SkipForecast     SkipReason = "forecast"
	SkipNegativeEV   SkipReason = "negative_ev"
	SkipZeroSize     SkipReason = "zero_size"
	SkipTierCap      SkipReason = "tier_cap"
	SkipDailyLoss    SkipReason = "daily_loss"
	SkipConcurrency  SkipReason = "concurrency"
	SkipExposure     SkipReason = "exposure"
	SkipGlobalCap    SkipReason = "global_cap"
	SkipStalePrice   SkipReason = "stale_price"
	SkipCooldown     SkipReason = "cooldown"
	SkipInsufficient SkipReason = "insufficient_balance"
	SkipExecution    SkipReason = "execution"
)

// SkippedCandidate records one rejected candidate with its reason.
type SkippedCandidate struct {
	OpportunityID string
	Reason        SkipReason
	Detail        string
}

// AgentCycleSummary aggregates one agent's outcomes within a cycle.
type AgentCycleSummary struct {
	AgentID      string
	Tier         Tier
	Evaluated    int
	Selected     int
	Placed       int
	Skipped      []SkippedCandidate
	BalanceAfter float64
	NeedsReview  bool // a persistence failure after execution occurred
}

// SkipCounts folds the skip list into reason → count.
func (s AgentCycleSummary) SkipCounts() map[SkipReason]int {
	counts := make(map[SkipReason]int, len(s.Skipped))
	for _, sk := range s.Skipped {
		counts[sk.Reason]++
	}
	return counts
}

// CycleReport is the immutable record of one allocation cycle.
type CycleReport struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	EventsAnalyzed int
	ByCategory     map[string]int
	Agents         []AgentCycleSummary
}

// TotalPlaced sums placed bets across agents.
func (r CycleReport) TotalPlaced() int {
	n := 0
	for _, a := range r.Agents {
		n += a.Placed
	}
	return n
}

// TotalSkipped sums rejected candidates across agents.
func (r CycleReport) TotalSkipped() int {
	n := 0
	for _, a := range r.Agents {
		n += len(a.Skipped)
	}
	return n
}

// LeaderboardRow is a pure projection of one account for downstream display.
type LeaderboardRow struct {
	AgentID   string
	Name      string
	Strategy  StrategyKind
	Tier      Tier
	Balance   float64
	Exposure  float64
	ROI       float64 // (balance + exposure − initial) / initial
	TotalBets int
	WinRate   float64
	Streak    int // positive = wins, negative = losses
}

// Leaderboard builds rows for all agents sorted by equity descending.
func Leaderboard(agents []*Agent) []LeaderboardRow {
	rows := make([]LeaderboardRow, 0, len(agents))
	for _, ag := range agents {
		snap := ag.Account.Snapshot()
		row := LeaderboardRow{
			AgentID:   ag.ID,
			Name:      ag.Name,
			Strategy:  ag.Strategy,
			Tier:      ag.TierState().Current,
			Balance:   snap.Balance,
			Exposure:  snap.Exposure,
			TotalBets: snap.TotalBets,
			Streak:    snap.ConsecutiveWins - snap.ConsecutiveLosses,
		}
		if snap.InitialBalance > 0 {
			row.ROI = (snap.Balance + snap.Exposure - snap.InitialBalance) / snap.InitialBalance
		}
		if snap.TotalBets > 0 {
			row.WinRate = float64(snap.WinningBets) / float64(snap.TotalBets)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Balance+rows[i].Exposure > rows[j].Balance+rows[j].Exposure
	})
	return rows
}
