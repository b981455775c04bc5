package domain

import (
	"fmt"
	"sync"
	"time"
)

// BankrollAccount is the per-agent capital ledger. The allocation engine
// mutates it sequentially within a cycle; the reconciler settles bets from a
// separate goroutine, so all access goes through the mutex.
//
// Accounting identity, maintained by every mutation:
//
//	balance = initial + Σ(settled net P/L) − Σ(size of RESERVED/EXECUTED bets)
type BankrollAccount struct {
	mu sync.Mutex

	agentID        string
	initialBalance float64
	balance        float64
	bets           []Bet // ordered by reservation time, never shrinks

	totalBets         int
	winningBets       int
	consecutiveWins   int
	consecutiveLosses int
}

// NewBankrollAccount creates an account with the given starting capital.
func NewBankrollAccount(agentID string, initialBalance float64) *BankrollAccount {
	return &BankrollAccount{
		agentID:        agentID,
		initialBalance: initialBalance,
		balance:        initialBalance,
	}
}

// Restore rebuilds in-memory state from persisted bets. Open bets re-lock
// their reservation; settled bets re-apply their P/L and streaks.
func (a *BankrollAccount) Restore(bets []Bet) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.balance = a.initialBalance
	a.bets = append([]Bet(nil), bets...)
	a.totalBets = 0
	a.winningBets = 0
	a.consecutiveWins = 0
	a.consecutiveLosses = 0

	for _, b := range a.bets {
		switch {
		case b.Status.IsOpen():
			a.balance -= b.Size
			a.totalBets++
		case b.Status.IsSettled():
			a.totalBets++
			if b.NetPnL != nil {
				a.balance += *b.NetPnL
			}
			if b.Status == BetSettledWin {
				a.winningBets++
				a.consecutiveWins++
				a.consecutiveLosses = 0
			} else {
				a.consecutiveWins = 0
				a.consecutiveLosses++
			}
		}
	}
}

// Reserve deducts the bet size immediately and appends a RESERVED bet.
func (a *BankrollAccount) Reserve(bet Bet) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if bet.Size <= 0 {
		return fmt.Errorf("reserve %s: non-positive size %.4f", bet.ID, bet.Size)
	}
	if bet.Size > a.balance {
		return fmt.Errorf("reserve %s: size %.2f > balance %.2f: %w",
			bet.ID, bet.Size, a.balance, ErrInsufficientBalance)
	}

	bet.AgentID = a.agentID
	bet.Status = BetReserved
	a.balance -= bet.Size
	a.bets = append(a.bets, bet)
	a.totalBets++
	return nil
}

// Rollback is the exact inverse of the most recent Reserve. It refuses to
// touch anything but the latest not-yet-settled reservation.
func (a *BankrollAccount) Rollback(betID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := -1
	for i := len(a.bets) - 1; i >= 0; i-- {
		if a.bets[i].Status == BetReserved {
			idx = i
			break
		}
	}
	if idx < 0 || a.bets[idx].ID != betID {
		return fmt.Errorf("rollback %s: %w", betID, ErrNotRollbackable)
	}

	a.balance += a.bets[idx].Size
	a.bets[idx].Status = BetRolledBack
	a.totalBets--
	return nil
}

// MarkExecuted transitions a reserved bet to EXECUTED and stores the venue's
// correlation id.
func (a *BankrollAccount) MarkExecuted(betID, venueOrderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.find(betID)
	if b == nil {
		return fmt.Errorf("mark executed %s: %w", betID, ErrBetNotFound)
	}
	if b.Status != BetReserved {
		return fmt.Errorf("mark executed %s: status %s", betID, b.Status)
	}
	b.Status = BetExecuted
	b.VenueOrderID = venueOrderID
	return nil
}

// Settle applies the venue's net P/L to an executed bet. The reservation was
// already deducted, so the balance gains size + netPnL. Idempotent: settling
// an already-settled bet is a no-op.
func (a *BankrollAccount) Settle(betID string, won bool, netPnL float64, settledAt time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.find(betID)
	if b == nil {
		return fmt.Errorf("settle %s: %w", betID, ErrBetNotFound)
	}
	if b.Status.IsSettled() {
		return nil
	}
	if !b.Status.IsOpen() {
		return fmt.Errorf("settle %s: status %s", betID, b.Status)
	}
	if netPnL < -b.Size {
		return fmt.Errorf("settle %s: net pnl %.2f below max loss %.2f", betID, netPnL, -b.Size)
	}

	a.balance += b.Size + netPnL
	pnl := netPnL
	b.NetPnL = &pnl
	t := settledAt
	b.SettledAt = &t

	if won {
		b.Status = BetSettledWin
		a.winningBets++
		a.consecutiveWins++
		a.consecutiveLosses = 0
	} else {
		b.Status = BetSettledLoss
		a.consecutiveWins = 0
		a.consecutiveLosses++
	}
	return nil
}

// RecordFailed appends an audit record for a bet the venue rejected. No
// capital was reserved, so the balance is untouched.
func (a *BankrollAccount) RecordFailed(bet Bet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bet.AgentID = a.agentID
	bet.Status = BetFailed
	a.bets = append(a.bets, bet)
}

// FlagForReview marks a bet whose local and venue state diverged.
func (a *BankrollAccount) FlagForReview(betID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b := a.find(betID); b != nil {
		b.NeedsReview = true
	}
}

// Balance returns the current free balance.
func (a *BankrollAccount) Balance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// InitialBalance returns the immutable starting capital.
func (a *BankrollAccount) InitialBalance() float64 {
	return a.initialBalance
}

// OpenBets returns how many bets currently lock capital.
func (a *BankrollAccount) OpenBets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, b := range a.bets {
		if b.Status.IsOpen() {
			n++
		}
	}
	return n
}

// Exposure returns the total capital locked in open bets.
func (a *BankrollAccount) Exposure() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	sum := 0.0
	for _, b := range a.bets {
		if b.Status.IsOpen() {
			sum += b.Size
		}
	}
	return sum
}

// HasOpenBetOn reports whether an unresolved bet already exists for the
// given market. Used for duplicate prevention at evaluation time.
func (a *BankrollAccount) HasOpenBetOn(opportunityID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range a.bets {
		if b.OpportunityID == opportunityID && b.Status.IsOpen() {
			return true
		}
	}
	return false
}

// Bet returns a copy of the bet with the given id.
func (a *BankrollAccount) Bet(betID string) (Bet, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b := a.find(betID); b != nil {
		return *b, true
	}
	return Bet{}, false
}

// Bets returns a copy of the full bet history.
func (a *BankrollAccount) Bets() []Bet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Bet(nil), a.bets...)
}

// Snapshot captures the account state for sizing decisions and projections.
type AccountSnapshot struct {
	AgentID           string
	InitialBalance    float64
	Balance           float64
	Exposure          float64
	OpenBets          int
	TotalBets         int
	WinningBets       int
	ConsecutiveWins   int
	ConsecutiveLosses int
}

// Snapshot returns a consistent point-in-time view of the account.
func (a *BankrollAccount) Snapshot() AccountSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	open := 0
	exposure := 0.0
	for _, b := range a.bets {
		if b.Status.IsOpen() {
			open++
			exposure += b.Size
		}
	}
	return AccountSnapshot{
		AgentID:           a.agentID,
		InitialBalance:    a.initialBalance,
		Balance:           a.balance,
		Exposure:          exposure,
		OpenBets:          open,
		TotalBets:         a.totalBets,
		WinningBets:       a.winningBets,
		ConsecutiveWins:   a.consecutiveWins,
		ConsecutiveLosses: a.consecutiveLosses,
	}
}

func (a *BankrollAccount) find(betID string) *Bet {
	for i := range a.bets {
		if a.bets[i].ID == betID {
			return &a.bets[i]
		}
	}
	return nil
}
