package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/jcastano/betfleet/internal/domain"
)

// Candidate is the evaluation result for one (agent, opportunity) pair.
type Candidate struct {
	Opportunity   domain.Opportunity
	Forecast      domain.Forecast
	Side          string  // side the forecast favors, always "YES" here: p is P(YES)
	EntryPrice    float64 // venue price used for the EV math
	GrossEV       float64
	FeeCost       float64
	NetEV         float64
	ProposedSize  float64
	IsOpportunity bool
	Skip          *domain.SkippedCandidate // set when not an opportunity
}

// NetEV computes the fee-adjusted expected value of a probe of size s at
// forecast probability p against entry price m. The fee is charged only on
// the expected winning payout, never on the entry cost:
//
//	gross = (p − m) × s
//	fee   = p × s × feeRate
//	net   = gross − fee
func NetEV(p, m, s, feeRate float64) (gross, fee, net float64) {
	gross = (p - m) * s
	fee = p * s * feeRate
	return gross, fee, gross - fee
}

// evaluateOne scores a single opportunity for an agent. Read-only: it never
// mutates shared state and never touches the venue's execution endpoint.
func (e *Engine) evaluateOne(ctx context.Context, agent *domain.Agent, opp domain.Opportunity) Candidate {
	cand := Candidate{Opportunity: opp, Side: "YES"}

	if err := opp.Validate(); err != nil {
		cand.Skip = &domain.SkippedCandidate{OpportunityID: opp.ID, Reason: domain.SkipValidation, Detail: err.Error()}
		return cand
	}

	// Duplicate prevention: one unresolved bet per market per agent.
	if agent.Account.HasOpenBetOn(opp.ID) {
		cand.Skip = &domain.SkippedCandidate{OpportunityID: opp.ID, Reason: domain.SkipDuplicate, Detail: "unresolved bet on market"}
		return cand
	}

	fc, err := e.forecaster.Predict(ctx, opp)
	if err != nil {
		cand.Skip = &domain.SkippedCandidate{OpportunityID: opp.ID, Reason: domain.SkipForecast, Detail: err.Error()}
		return cand
	}
	cand.Forecast = fc

	price := fc.Probability // no quote → no edge against the venue
	if opp.VenuePrice != nil {
		price = *opp.VenuePrice
	}
	cand.EntryPrice = price

	cand.GrossEV, cand.FeeCost, cand.NetEV = NetEV(fc.Probability, price, e.cfg.ProbeSize, e.cfg.FeeRate)
	if cand.NetEV <= 0 {
		cand.Skip = &domain.SkippedCandidate{OpportunityID: opp.ID, Reason: domain.SkipNegativeEV}
		return cand
	}

	snap := agent.Account.Snapshot()
	tier := agent.TierState().Current
	cand.ProposedSize = domain.ProposeSize(agent.Strategy, domain.SizingInput{
		Account:     snap,
		Probability: fc.Probability,
		Confidence:  fc.Confidence,
		NetEV:       cand.NetEV,
		VenuePrice:  price,
		MaxBet:      tier.MaxBet(snap.Balance),
	})
	if cand.ProposedSize <= 0 {
		cand.Skip = &domain.SkippedCandidate{OpportunityID: opp.ID, Reason: domain.SkipZeroSize, Detail: "strategy declined"}
		return cand
	}

	cand.IsOpportunity = true
	return cand
}

// evaluateAll scores every opportunity for an agent on a worker pool. The
// phase touches no shared mutable state, so fan-out is safe; ordering is
// restored by the caller's ranking step.
func (e *Engine) evaluateAll(ctx context.Context, agent *domain.Agent, opps []domain.Opportunity) []Candidate {
	workers := e.cfg.EvalWorkers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if workers > len(opps) {
		workers = len(opps)
	}

	workCh := make(chan domain.Opportunity, len(opps))
	resultCh := make(chan Candidate, len(opps))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for opp := range workCh {
				resultCh <- e.evaluateOne(ctx, agent, opp)
			}
		}()
	}

	for _, opp := range opps {
		workCh <- opp
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	cands := make([]Candidate, 0, len(opps))
	for c := range resultCh {
		cands = append(cands, c)
	}

	slog.Debug("evaluation complete",
		"agent", agent.ID,
		"opportunities", len(opps),
		"admissible", countAdmissible(cands),
		"workers", workers,
	)
	return cands
}

func countAdmissible(cands []Candidate) int {
	n := 0
	for _, c := range cands {
		if c.IsOpportunity {
			n++
		}
	}
	return n
}
