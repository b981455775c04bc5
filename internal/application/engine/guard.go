package engine

import (
	"fmt"
	"sync"

	"github.com/jcastano/betfleet/internal/domain"
	"github.com/jcastano/betfleet/internal/metrics"
)

// GlobalCapGuard is the single serialized critical section shared by all
// agents. It enforces the system-wide daily-loss and exposure caps with an
// atomic check-and-increment: two agents whose bets individually fit under a
// cap must not jointly exceed it.
//
// The daily-loss budget is consumed by worst-case loss (the full stake) at
// admission time and refunded when a bet settles as a win or is unwound, so
// the cap holds even before outcomes are known.
type GlobalCapGuard struct {
	mu sync.Mutex

	dailyLossCap float64
	exposureCap  float64

	dailyLossUsed float64
	exposure      float64
}

// NewGlobalCapGuard creates a guard with the given system-wide caps.
// A cap <= 0 disables that check.
func NewGlobalCapGuard(dailyLossCap, exposureCap float64) *GlobalCapGuard {
	return &GlobalCapGuard{dailyLossCap: dailyLossCap, exposureCap: exposureCap}
}

// Admit atomically checks both caps and, on success, charges the stake
// against them. Returns domain.ErrGlobalCapExceeded when either cap would be
// breached.
func (g *GlobalCapGuard) Admit(size float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dailyLossCap > 0 && g.dailyLossUsed+size > g.dailyLossCap {
		return fmt.Errorf("daily loss %.2f + %.2f > cap %.2f: %w",
			g.dailyLossUsed, size, g.dailyLossCap, domain.ErrGlobalCapExceeded)
	}
	if g.exposureCap > 0 && g.exposure+size > g.exposureCap {
		return fmt.Errorf("exposure %.2f + %.2f > cap %.2f: %w",
			g.exposure, size, g.exposureCap, domain.ErrGlobalCapExceeded)
	}

	g.dailyLossUsed += size
	g.exposure += size
	g.publish()
	return nil
}

// Release unwinds a full admission for a bet that never stuck (venue
// rejection or rollback).
func (g *GlobalCapGuard) Release(size float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyLossUsed -= size
	g.exposure -= size
	g.clamp()
	g.publish()
}

// OnSettle releases the exposure of a settled bet. A win also refunds its
// daily-loss reservation; a partial loss refunds the part that survived.
func (g *GlobalCapGuard) OnSettle(size, netPnL float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exposure -= size
	if netPnL >= 0 {
		g.dailyLossUsed -= size
	} else if -netPnL < size {
		g.dailyLossUsed -= size + netPnL
	}
	g.clamp()
	g.publish()
}

// RestoreExposure seeds the exposure counter from the open bets found in the
// ledger at startup. Daily-loss reservations are not restored; that counter
// restarts each UTC day.
func (g *GlobalCapGuard) RestoreExposure(total float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exposure += total
	g.publish()
}

// ResetDaily clears the daily-loss counter at the UTC day boundary.
// Exposure carries over: open bets still lock capital.
func (g *GlobalCapGuard) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyLossUsed = 0
	g.publish()
}

// Usage returns the current counters, for reporting.
func (g *GlobalCapGuard) Usage() (dailyLossUsed, exposure float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyLossUsed, g.exposure
}

func (g *GlobalCapGuard) clamp() {
	if g.dailyLossUsed < 0 {
		g.dailyLossUsed = 0
	}
	if g.exposure < 0 {
		g.exposure = 0
	}
}

func (g *GlobalCapGuard) publish() {
	metrics.DailyLoss.Set(g.dailyLossUsed)
	metrics.Exposure.Set(g.exposure)
}
