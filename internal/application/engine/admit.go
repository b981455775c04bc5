package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/jcastano/betfleet/internal/domain"
	"github.com/jcastano/betfleet/internal/metrics"
)

// admitAndExecute runs steps 4-6 of the cycle for one candidate: re-validate
// every cap against current state, execute on the venue, then commit to the
// local ledger. The sequence is execute-before-reserve, reserve-before-
// persist, rollback-on-persist-failure. A rejected candidate is skipped with
// its reason, never retried with a smaller size.
func (e *Engine) admitAndExecute(ctx context.Context, agent *domain.Agent, cand Candidate) (placed bool, skip *domain.SkippedCandidate, needsReview bool) {
	oppID := cand.Opportunity.ID
	size := cand.ProposedSize

	// Stale price: if the venue quote moved beyond tolerance since
	// evaluation, skip. Never auto-adjust the size.
	if quote, err := e.venue.GetPrice(ctx, cand.Opportunity.YesToken); err == nil && quote != nil {
		if math.Abs(*quote-cand.EntryPrice) > e.cfg.StaleTolerance {
			return false, &domain.SkippedCandidate{
				OpportunityID: oppID,
				Reason:        domain.SkipStalePrice,
				Detail:        fmt.Sprintf("%.3f -> %.3f: %v", cand.EntryPrice, *quote, domain.ErrStalePrice),
			}, false
		}
	}

	// Tier caps against the CURRENT balance: earlier candidates in this
	// cycle may already have reserved capital.
	snap := agent.Account.Snapshot()
	ts := agent.TierState()
	limits := ts.Current.Limits()

	if maxBet := ts.Current.MaxBet(snap.Balance); size > maxBet {
		return false, &domain.SkippedCandidate{
			OpportunityID: oppID,
			Reason:        domain.SkipTierCap,
			Detail:        fmt.Sprintf("size %.2f > max bet %.2f: %v", size, maxBet, domain.ErrBudgetExceeded),
		}, false
	}
	if snap.OpenBets >= limits.MaxConcurrent {
		return false, &domain.SkippedCandidate{
			OpportunityID: oppID,
			Reason:        domain.SkipConcurrency,
			Detail:        domain.ErrConcurrencyLimit.Error(),
		}, false
	}
	if equity := snap.Balance + snap.Exposure; equity > 0 &&
		snap.Exposure+size > equity*limits.MaxExposureFrac {
		return false, &domain.SkippedCandidate{
			OpportunityID: oppID,
			Reason:        domain.SkipExposure,
			Detail:        fmt.Sprintf("exposure %.2f + %.2f over fraction %.2f: %v", snap.Exposure, size, limits.MaxExposureFrac, domain.ErrBudgetExceeded),
		}, false
	}
	if size > snap.Balance {
		return false, &domain.SkippedCandidate{
			OpportunityID: oppID,
			Reason:        domain.SkipInsufficient,
			Detail:        domain.ErrInsufficientBalance.Error(),
		}, false
	}

	// Per-agent daily loss budget, charged worst-case and refunded on wins.
	dailyOK := false
	agent.WithTier(func(t *domain.TierState) {
		if t.DailyLossToday+size <= t.Current.DailyLossBudget(snap.Balance) {
			t.ConsumeDailyLoss(size, e.now())
			dailyOK = true
		}
	})
	if !dailyOK {
		return false, &domain.SkippedCandidate{
			OpportunityID: oppID,
			Reason:        domain.SkipDailyLoss,
			Detail:        domain.ErrBudgetExceeded.Error(),
		}, false
	}

	// Global caps: single serialized check-and-increment across all agents.
	if err := e.guard.Admit(size); err != nil {
		agent.WithTier(func(t *domain.TierState) { t.RefundDailyLoss(size) })
		return false, &domain.SkippedCandidate{
			OpportunityID: oppID,
			Reason:        domain.SkipGlobalCap,
			Detail:        err.Error(),
		}, false
	}

	bet := domain.Bet{
		ID:            uuid.NewString(),
		AgentID:       agent.ID,
		OpportunityID: oppID,
		Category:      cand.Opportunity.Category,
		Side:          cand.Side,
		TokenID:       cand.Opportunity.YesToken,
		Size:          size,
		Probability:   cand.Forecast.Probability,
		Confidence:    cand.Forecast.Confidence,
		VenuePrice:    cand.EntryPrice,
		NetEV:         cand.NetEV,
		PlacedAt:      e.now(),
	}

	// 5. Execute. Venue failure is fatal to this candidate only; the ledger
	// is never touched for a bet that was never placed.
	receipt, err := e.execute(ctx, bet)
	if err != nil {
		e.guard.Release(size)
		agent.WithTier(func(t *domain.TierState) { t.RefundDailyLoss(size) })
		agent.Account.RecordFailed(bet)
		metrics.Bets.WithLabelValues(agent.ID, string(domain.BetFailed)).Inc()
		slog.Error("venue execution failed", "agent", agent.ID, "bet", bet.ID, "opportunity", oppID, "err", err)
		return false, &domain.SkippedCandidate{
			OpportunityID: oppID,
			Reason:        domain.SkipExecution,
			Detail:        err.Error(),
		}, false
	}
	bet.VenueOrderID = receipt.VenueOrderID
	bet.Status = domain.BetReserved

	// 6. Commit: reserve, then persist; rollback on persistence failure.
	if err := agent.Account.Reserve(bet); err != nil {
		// Executed on the venue but could not lock capital locally. State
		// has diverged; reconciliation must resolve it from the venue side.
		e.guard.Release(size)
		agent.WithTier(func(t *domain.TierState) { t.RefundDailyLoss(size) })
		metrics.ReviewFlags.Inc()
		slog.Error("ALERT: executed but reserve failed, state diverged",
			"agent", agent.ID, "bet", bet.ID, "venue_order", receipt.VenueOrderID, "err", err)
		return false, &domain.SkippedCandidate{
			OpportunityID: oppID,
			Reason:        domain.SkipInsufficient,
			Detail:        err.Error(),
		}, true
	}

	if err := e.ledger.PersistBet(ctx, bet); err != nil {
		perr := domain.PersistenceError{Op: "persist bet", Err: err}
		if rbErr := agent.Account.Rollback(bet.ID); rbErr != nil {
			slog.Error("ALERT: rollback after persistence failure also failed",
				"agent", agent.ID, "bet", bet.ID, "err", rbErr)
		}
		e.guard.Release(size)
		agent.WithTier(func(t *domain.TierState) { t.RefundDailyLoss(size) })
		agent.Account.FlagForReview(bet.ID)
		metrics.Bets.WithLabelValues(agent.ID, string(domain.BetRolledBack)).Inc()
		metrics.ReviewFlags.Inc()
		slog.Error("ALERT: persistence failed after execution, rolled back",
			"agent", agent.ID, "bet", bet.ID, "venue_order", receipt.VenueOrderID, "err", perr)
		return false, &domain.SkippedCandidate{
			OpportunityID: oppID,
			Reason:        domain.SkipExecution,
			Detail:        perr.Error(),
		}, true
	}

	if err := agent.Account.MarkExecuted(bet.ID, receipt.VenueOrderID); err != nil {
		slog.Warn("error marking bet executed", "bet", bet.ID, "err", err)
	}
	if err := e.ledger.UpdateBetStatus(ctx, bet.ID, domain.BetExecuted); err != nil {
		slog.Warn("error updating bet status", "bet", bet.ID, "err", err)
	}

	metrics.Bets.WithLabelValues(agent.ID, string(domain.BetExecuted)).Inc()
	slog.Info("bet placed",
		"agent", agent.ID,
		"bet", bet.ID,
		"opportunity", oppID,
		"size", fmt.Sprintf("$%.2f", size),
		"net_ev", fmt.Sprintf("%.3f", cand.NetEV),
		"venue_order", receipt.VenueOrderID,
	)
	return true, nil, false
}

// execute calls the venue, or fabricates a receipt in dry-run mode.
// Order placement is never retried: a retry after an ambiguous failure could
// double-execute, so ambiguity is left for reconciliation to resolve.
func (e *Engine) execute(ctx context.Context, bet domain.Bet) (domain.ExecutionReceipt, error) {
	if e.cfg.DryRun {
		return domain.ExecutionReceipt{VenueOrderID: "dry-" + bet.ID, FilledPrice: bet.VenuePrice}, nil
	}
	receipt, err := e.venue.Execute(ctx, domain.Order{
		BetID:         bet.ID,
		OpportunityID: bet.OpportunityID,
		TokenID:       bet.TokenID,
		Side:          bet.Side,
		Size:          bet.Size,
		LimitPrice:    bet.VenuePrice,
	})
	if err != nil {
		return domain.ExecutionReceipt{}, domain.ExecutionError{BetID: bet.ID, Err: err}
	}
	return receipt, nil
}
