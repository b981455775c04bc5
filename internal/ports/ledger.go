package ports

import (
	"context"
	"time"

	"github.com/jcastano/betfleet/internal/domain"
)

// Ledger persists bets, tier state, adaptation records, and cycle reports.
// Must provide read-your-writes consistency within a single process.
type Ledger interface {
	// PersistBet inserts or replaces the full bet record.
	PersistBet(ctx context.Context, bet domain.Bet) error

	// UpdateBetStatus updates only the status field.
	UpdateBetStatus(ctx context.Context, betID string, status domain.BetStatus) error

	// SettleBet records the final status and net P/L of a bet.
	SettleBet(ctx context.Context, betID string, status domain.BetStatus, netPnL float64, settledAt time.Time) error

	// FlagBetForReview marks a bet whose local and venue state diverged.
	FlagBetForReview(ctx context.Context, betID string) error

	// ListBets returns the full bet history for an agent, oldest first.
	ListBets(ctx context.Context, agentID string) ([]domain.Bet, error)

	// ListOpenBets returns bets still locking capital (RESERVED/EXECUTED).
	ListOpenBets(ctx context.Context, agentID string) ([]domain.Bet, error)

	// Tier state + adaptation audit trail
	SaveTierState(ctx context.Context, state domain.TierState) error
	LoadTierState(ctx context.Context, agentID string) (*domain.TierState, error)
	AppendAdaptation(ctx context.Context, rec domain.AdaptationRecord) error

	// SaveCycleReport persists the immutable cycle record.
	SaveCycleReport(ctx context.Context, report domain.CycleReport) error

	// Close releases the underlying store.
	Close() error
}
