// Package reconcile syncs local bet state with the venue's authoritative
// settlement records. It runs after every allocation cycle and independently
// on a timer, and must stay idempotent: re-running over an already-settled
// bet never double-applies P/L.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcastano/betfleet/internal/application/engine"
	"github.com/jcastano/betfleet/internal/domain"
	"github.com/jcastano/betfleet/internal/metrics"
	"github.com/jcastano/betfleet/internal/ports"
)

// Engine reconciles open bets against venue settlements.
type Engine struct {
	venue  ports.Venue
	ledger ports.Ledger
	guard  *engine.GlobalCapGuard
	agents map[string]*domain.Agent
	now    func() time.Time
}

// New creates a reconciliation engine over the given agents.
func New(venue ports.Venue, ledger ports.Ledger, guard *engine.GlobalCapGuard, agents []*domain.Agent) *Engine {
	byID := make(map[string]*domain.Agent, len(agents))
	for _, ag := range agents {
		byID[ag.ID] = ag
	}
	return &Engine{venue: venue, ledger: ledger, guard: guard, agents: byID, now: time.Now}
}

// SetClock overrides the clock, for tests.
func (r *Engine) SetClock(now func() time.Time) { r.now = now }

// Run reconciles every agent's open bets once. Individual failures are
// logged and skipped; the pass continues.
func (r *Engine) Run(ctx context.Context) error {
	settled := 0
	for _, agent := range r.agents {
		n, err := r.reconcileAgent(ctx, agent)
		if err != nil {
			slog.Warn("reconciliation error", "agent", agent.ID, "err", err)
			continue
		}
		settled += n
	}
	if settled > 0 {
		slog.Info("reconciliation pass complete", "settled", settled)
	}
	return nil
}

// reconcileAgent queries the venue for each executed bet with no recorded
// settlement, matched by the stored venue order id.
func (r *Engine) reconcileAgent(ctx context.Context, agent *domain.Agent) (int, error) {
	open, err := r.ledger.ListOpenBets(ctx, agent.ID)
	if err != nil {
		return 0, fmt.Errorf("reconcile %s: list open bets: %w", agent.ID, err)
	}

	settled := 0
	for _, bet := range open {
		if bet.VenueOrderID == "" {
			// Never executed on the venue; nothing to match against.
			continue
		}

		settlement, err := r.venue.GetSettlement(ctx, bet.VenueOrderID)
		if err != nil {
			slog.Warn("error fetching settlement", "bet", bet.ID, "venue_order", bet.VenueOrderID, "err", err)
			continue
		}
		if settlement == nil {
			continue // market not resolved yet
		}

		if err := r.applySettlement(ctx, agent, bet, *settlement); err != nil {
			slog.Warn("error applying settlement", "bet", bet.ID, "err", err)
			continue
		}
		settled++
	}
	return settled, nil
}

// applySettlement commits one settlement to the account, the ledger, the
// global guard, and the tier state.
func (r *Engine) applySettlement(ctx context.Context, agent *domain.Agent, bet domain.Bet, s domain.Settlement) error {
	// The account's status check is the idempotence barrier: P/L, guard, and
	// tier adjustments happen exactly once, on the first application.
	prev, ok := agent.Account.Bet(bet.ID)
	if !ok {
		agent.Account.FlagForReview(bet.ID)
		return fmt.Errorf("bet %s not in account, needs review", bet.ID)
	}

	status := domain.BetSettledLoss
	if s.Won {
		status = domain.BetSettledWin
	}

	if !prev.Status.IsSettled() {
		if err := agent.Account.Settle(bet.ID, s.Won, s.NetPnL, s.SettledAt); err != nil {
			return fmt.Errorf("settle account: %w", err)
		}

		r.guard.OnSettle(bet.Size, s.NetPnL)
		agent.WithTier(func(t *domain.TierState) {
			if s.NetPnL >= 0 {
				t.RefundDailyLoss(bet.Size)
			} else if -s.NetPnL < bet.Size {
				t.RefundDailyLoss(bet.Size + s.NetPnL)
			}
		})

		metrics.Bets.WithLabelValues(agent.ID, string(status)).Inc()
		metrics.Balance.WithLabelValues(agent.ID).Set(agent.Account.Balance())

		slog.Info("bet settled",
			"agent", agent.ID,
			"bet", bet.ID,
			"won", s.Won,
			"net_pnl", fmt.Sprintf("%+.2f", s.NetPnL),
		)
	}

	// The ledger write is retried on later passes until it sticks; the
	// account step above is skipped once applied.
	if err := r.ledger.SettleBet(ctx, bet.ID, status, s.NetPnL, s.SettledAt); err != nil {
		return fmt.Errorf("settle ledger: %w", err)
	}

	r.recheckTier(ctx, agent)
	return nil
}

// recheckTier mirrors the allocation engine's post-cycle tier recompute: a
// settlement can drop the balance into a worse regime immediately.
func (r *Engine) recheckTier(ctx context.Context, agent *domain.Agent) {
	rec := agent.RecomputeTier(r.now())
	if rec != nil {
		slog.Warn("tier worsened on settlement",
			"agent", agent.ID, "from", rec.From.String(), "to", rec.To.String())
		if err := r.ledger.AppendAdaptation(ctx, *rec); err != nil {
			slog.Warn("error appending adaptation record", "agent", agent.ID, "err", err)
		}
	}
	if err := r.ledger.SaveTierState(ctx, agent.TierState()); err != nil {
		slog.Warn("error saving tier state", "agent", agent.ID, "err", err)
	}
}
