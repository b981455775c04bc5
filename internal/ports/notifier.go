package ports

import (
	"context"

	"github.com/jcastano/betfleet/internal/domain"
)

// Notifier presents cycle outcomes to the operator.
type Notifier interface {
	// NotifyCycle reports one finished cycle and the current leaderboard.
	// In the console implementation, prints a formatted table.
	NotifyCycle(ctx context.Context, report domain.CycleReport, board []domain.LeaderboardRow) error
}
