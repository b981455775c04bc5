package domain

import (
	"sync"
	"time"
)

// Agent is one autonomous participant: an identity, a fixed bet-sizing
// strategy, and exactly one bankroll account. Agents are created at bootstrap
// and never destroyed, only reset by explicit manual action.
type Agent struct {
	ID       string
	Name     string
	Strategy StrategyKind
	Account  *BankrollAccount

	mu   sync.Mutex
	tier TierState
}

// NewAgent creates an agent with a fresh account and a CONSERVATIVE tier.
func NewAgent(id, name string, strategy StrategyKind, initialBalance float64) *Agent {
	return &Agent{
		ID:       id,
		Name:     name,
		Strategy: strategy,
		Account:  NewBankrollAccount(id, initialBalance),
		tier:     TierState{AgentID: id, Current: TierConservative, Previous: TierConservative},
	}
}

// TierState returns a copy of the current tier state.
func (ag *Agent) TierState() TierState {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.tier
}

// SetTierState replaces the tier state, used when restoring from the ledger.
func (ag *Agent) SetTierState(s TierState) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	s.AgentID = ag.ID
	ag.tier = s
}

// WithTier runs fn with exclusive access to the mutable tier state.
func (ag *Agent) WithTier(fn func(*TierState)) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	fn(&ag.tier)
}

// RecomputeTier derives the tier from the current balance and applies it,
// returning the adaptation record for strictly-worse transitions.
func (ag *Agent) RecomputeTier(now time.Time) *AdaptationRecord {
	snap := ag.Account.Snapshot()
	newTier := TierFor(snap.Balance, snap.InitialBalance)

	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.tier.Apply(newTier, snap.Balance, now)
}
