package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jcastano/betfleet/internal/domain"
	"github.com/jcastano/betfleet/internal/metrics"
	"github.com/jcastano/betfleet/internal/ports"
)

const (
	defaultFetchLimit     = 200
	defaultTopPerCategory = 5
	defaultProbeSize      = 10
	defaultFeeRate        = 0.03
	defaultStaleTolerance = 0.05
)

// Config holds configuration for the allocation engine.
type Config struct {
	ProbeSize         float64 // nominal size for EV probes
	FeeRate           float64 // venue fee on the expected winning payout
	FetchLimit        int
	TopPerCategory    int
	ExcludeCategories []string
	StaleTolerance    float64 // max price drift between evaluation and admission
	EvalWorkers       int
	DryRun            bool // evaluate and select, never execute
}

// Engine orchestrates one allocation cycle across all agents:
// fetch → evaluate → select → admit → execute → commit → report.
type Engine struct {
	venue      ports.Venue
	forecaster ports.Forecaster
	ledger     ports.Ledger
	notifier   ports.Notifier
	guard      *GlobalCapGuard
	agents     []*domain.Agent
	cfg        Config
	now        func() time.Time
}

// New creates the allocation engine.
func New(
	venue ports.Venue,
	forecaster ports.Forecaster,
	ledger ports.Ledger,
	notifier ports.Notifier,
	guard *GlobalCapGuard,
	agents []*domain.Agent,
	cfg Config,
) *Engine {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = defaultFetchLimit
	}
	if cfg.TopPerCategory <= 0 {
		cfg.TopPerCategory = defaultTopPerCategory
	}
	if cfg.ProbeSize <= 0 {
		cfg.ProbeSize = defaultProbeSize
	}
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = defaultFeeRate
	}
	if cfg.StaleTolerance <= 0 {
		cfg.StaleTolerance = defaultStaleTolerance
	}

	return &Engine{
		venue:      venue,
		forecaster: forecaster,
		ledger:     ledger,
		notifier:   notifier,
		guard:      guard,
		agents:     agents,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetClock overrides the engine clock, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// RunCycle executes one allocation cycle. Evaluation fans out per agent;
// admission and execution stay strictly sequential within an agent so later
// candidates observe the reservations of earlier ones.
func (e *Engine) RunCycle(ctx context.Context) (*domain.CycleReport, error) {
	started := e.now()
	report := &domain.CycleReport{
		ID:         uuid.NewString(),
		StartedAt:  started,
		ByCategory: make(map[string]int),
	}

	// 1. Fetch, partitioned by category.
	opps, err := e.venue.ListOpportunities(ctx, e.cfg.FetchLimit, e.cfg.ExcludeCategories)
	if err != nil {
		return nil, fmt.Errorf("engine.RunCycle: list opportunities: %w", err)
	}
	byCategory := partition(opps, e.cfg.ExcludeCategories)
	for cat, list := range byCategory {
		report.ByCategory[cat] = len(list)
		report.EventsAnalyzed += len(list)
	}
	slog.Info("cycle start",
		"cycle", report.ID,
		"agents", len(e.agents),
		"opportunities", report.EventsAnalyzed,
		"categories", len(byCategory),
	)

	// 2-6. One pipeline per agent; the global cap guard is the only shared
	// mutable region between them.
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	summaries := make([]domain.AgentCycleSummary, 0, len(e.agents))
	for _, agent := range e.agents {
		if ctx.Err() != nil {
			break // abort between agents, never mid-commit
		}
		wg.Add(1)
		go func(ag *domain.Agent) {
			defer wg.Done()
			summary := e.runAgent(ctx, ag, byCategory)
			mu.Lock()
			summaries = append(summaries, summary)
			mu.Unlock()
		}(agent)
	}
	wg.Wait()
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].AgentID < summaries[j].AgentID })
	report.Agents = summaries

	// 7. Tier re-evaluation for every agent touched, then report.
	for _, agent := range e.agents {
		e.recheckTier(ctx, agent)
		metrics.Balance.WithLabelValues(agent.ID).Set(agent.Account.Balance())
	}

	report.FinishedAt = e.now()
	metrics.CycleDuration.Observe(report.FinishedAt.Sub(started).Seconds())

	if err := e.ledger.SaveCycleReport(ctx, *report); err != nil {
		slog.Warn("error saving cycle report", "cycle", report.ID, "err", err)
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyCycle(ctx, *report, domain.Leaderboard(e.agents)); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}

	slog.Info("cycle complete",
		"cycle", report.ID,
		"placed", report.TotalPlaced(),
		"skipped", report.TotalSkipped(),
		"duration", report.FinishedAt.Sub(started).Round(time.Millisecond),
	)
	return report, nil
}

// runAgent drives evaluation, selection, and the sequential admission
// pipeline for one agent.
func (e *Engine) runAgent(ctx context.Context, agent *domain.Agent, byCategory map[string][]domain.Opportunity) domain.AgentCycleSummary {
	summary := domain.AgentCycleSummary{AgentID: agent.ID}

	ts := agent.TierState()
	summary.Tier = ts.Current
	if blocked, reason := ts.Blocked(e.now()); blocked {
		slog.Info("agent blocked, skipping cycle",
			"agent", agent.ID, "tier", ts.Current.String(), "reason", reason)
		summary.Skipped = append(summary.Skipped, domain.SkippedCandidate{Reason: domain.SkipCooldown, Detail: reason})
		metrics.Skips.WithLabelValues(agent.ID, string(domain.SkipCooldown)).Inc()
		summary.BalanceAfter = agent.Account.Balance()
		return summary
	}

	// 2. Evaluate per category, keeping the top N admissible of each.
	var admitted []Candidate
	for _, opps := range byCategory {
		cands := e.evaluateAll(ctx, agent, opps)
		summary.Evaluated += len(cands)

		sort.Slice(cands, func(i, j int) bool { return cands[i].NetEV > cands[j].NetEV })
		kept := 0
		for _, c := range cands {
			if !c.IsOpportunity {
				summary.Skipped = append(summary.Skipped, *c.Skip)
				metrics.Skips.WithLabelValues(agent.ID, string(c.Skip.Reason)).Inc()
				continue
			}
			if kept < e.cfg.TopPerCategory {
				admitted = append(admitted, c)
				kept++
			}
		}
	}

	// 3. Select: merge across categories, best net EV first, bounded by the
	// tier's concurrency headroom.
	sort.Slice(admitted, func(i, j int) bool { return admitted[i].NetEV > admitted[j].NetEV })
	headroom := ts.Current.Limits().MaxConcurrent - agent.Account.OpenBets()
	if headroom < 0 {
		headroom = 0
	}
	if len(admitted) > headroom {
		for _, c := range admitted[headroom:] {
			summary.Skipped = append(summary.Skipped, domain.SkippedCandidate{
				OpportunityID: c.Opportunity.ID,
				Reason:        domain.SkipConcurrency,
				Detail:        "over tier concurrency headroom",
			})
			metrics.Skips.WithLabelValues(agent.ID, string(domain.SkipConcurrency)).Inc()
		}
		admitted = admitted[:headroom]
	}
	summary.Selected = len(admitted)

	// 4-6. Strictly sequential per agent: each admission re-validates
	// against current, not cached, state.
	for _, cand := range admitted {
		if ctx.Err() != nil {
			break
		}
		placed, skip, review := e.admitAndExecute(ctx, agent, cand)
		if review {
			summary.NeedsReview = true
		}
		if placed {
			summary.Placed++
			continue
		}
		if skip != nil {
			summary.Skipped = append(summary.Skipped, *skip)
			metrics.Skips.WithLabelValues(agent.ID, string(skip.Reason)).Inc()
		}
	}

	summary.BalanceAfter = agent.Account.Balance()
	return summary
}

// recheckTier recomputes the agent's tier from the current balance, persists
// the state, and appends an adaptation record on strictly-worse transitions.
func (e *Engine) recheckTier(ctx context.Context, agent *domain.Agent) {
	rec := agent.RecomputeTier(e.now())
	if rec != nil {
		slog.Warn("tier worsened",
			"agent", agent.ID,
			"from", rec.From.String(),
			"to", rec.To.String(),
			"balance", fmt.Sprintf("%.2f", rec.Balance),
		)
		if err := e.ledger.AppendAdaptation(ctx, *rec); err != nil {
			slog.Warn("error appending adaptation record", "agent", agent.ID, "err", err)
		}
	}
	if err := e.ledger.SaveTierState(ctx, agent.TierState()); err != nil {
		slog.Warn("error saving tier state", "agent", agent.ID, "err", err)
	}
}

// partition groups opportunities by category, dropping excluded ones.
// Exclusion is enforced locally even though the venue already filters.
func partition(opps []domain.Opportunity, exclude []string) map[string][]domain.Opportunity {
	excluded := make(map[string]bool, len(exclude))
	for _, c := range exclude {
		excluded[c] = true
	}
	byCategory := make(map[string][]domain.Opportunity)
	for _, opp := range opps {
		if excluded[opp.Category] {
			continue
		}
		byCategory[opp.Category] = append(byCategory[opp.Category], opp)
	}
	return byCategory
}
