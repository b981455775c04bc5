package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBet(id string, size float64) Bet {
	return Bet{ID: id, OpportunityID: "opp-" + id, Size: size, PlacedAt: time.Now()}
}

func TestReserve_DeductsImmediately(t *testing.T) {
	acc := NewBankrollAccount("a1", 1000)

	require.NoError(t, acc.Reserve(openBet("b1", 30)))
	assert.InDelta(t, 970.0, acc.Balance(), 0.001)
	assert.Equal(t, 1, acc.OpenBets())
	assert.InDelta(t, 30.0, acc.Exposure(), 0.001)
}

func TestReserve_RejectsOverBalance(t *testing.T) {
	acc := NewBankrollAccount("a1", 20)

	err := acc.Reserve(openBet("b1", 25))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.InDelta(t, 20.0, acc.Balance(), 0.001)
	assert.Equal(t, 0, acc.OpenBets())
}

func TestRollback_InverseOfReserve(t *testing.T) {
	acc := NewBankrollAccount("a1", 1000)
	require.NoError(t, acc.Reserve(openBet("b1", 40)))

	require.NoError(t, acc.Rollback("b1"))
	assert.InDelta(t, 1000.0, acc.Balance(), 0.001)
	assert.Equal(t, 0, acc.OpenBets())

	// the record survives as an audit entry
	b, ok := acc.Bet("b1")
	require.True(t, ok)
	assert.Equal(t, BetRolledBack, b.Status)
	assert.Equal(t, 0, acc.Snapshot().TotalBets)
}

func TestRollback_OnlyMostRecentReservation(t *testing.T) {
	acc := NewBankrollAccount("a1", 1000)
	require.NoError(t, acc.Reserve(openBet("b1", 10)))
	require.NoError(t, acc.Reserve(openBet("b2", 20)))

	err := acc.Rollback("b1")
	assert.ErrorIs(t, err, ErrNotRollbackable)

	require.NoError(t, acc.Rollback("b2"))
	require.NoError(t, acc.Rollback("b1"))
	assert.InDelta(t, 1000.0, acc.Balance(), 0.001)
}

func TestSettle_WinAddsSizePlusProfit(t *testing.T) {
	acc := NewBankrollAccount("a1", 1000)
	require.NoError(t, acc.Reserve(openBet("b1", 50)))
	require.NoError(t, acc.MarkExecuted("b1", "v-1"))

	require.NoError(t, acc.Settle("b1", true, 35, time.Now()))
	// 1000 − 50 + (50 + 35)
	assert.InDelta(t, 1035.0, acc.Balance(), 0.001)

	snap := acc.Snapshot()
	assert.Equal(t, 1, snap.WinningBets)
	assert.Equal(t, 1, snap.ConsecutiveWins)
	assert.Equal(t, 0, snap.OpenBets)
}

func TestSettle_TotalLossReturnsNothing(t *testing.T) {
	acc := NewBankrollAccount("a1", 1000)
	require.NoError(t, acc.Reserve(openBet("b1", 50)))
	require.NoError(t, acc.MarkExecuted("b1", "v-1"))

	require.NoError(t, acc.Settle("b1", false, -50, time.Now()))
	assert.InDelta(t, 950.0, acc.Balance(), 0.001)

	snap := acc.Snapshot()
	assert.Equal(t, 1, snap.ConsecutiveLosses)
	assert.Equal(t, 0, snap.ConsecutiveWins)
}

func TestSettle_Idempotent(t *testing.T) {
	acc := NewBankrollAccount("a1", 1000)
	require.NoError(t, acc.Reserve(openBet("b1", 50)))
	require.NoError(t, acc.MarkExecuted("b1", "v-1"))

	require.NoError(t, acc.Settle("b1", true, 35, time.Now()))
	require.NoError(t, acc.Settle("b1", true, 35, time.Now()))
	assert.InDelta(t, 1035.0, acc.Balance(), 0.001)
	assert.Equal(t, 1, acc.Snapshot().WinningBets)
}

func TestSettle_RejectsPnLBelowMaxLoss(t *testing.T) {
	acc := NewBankrollAccount("a1", 1000)
	require.NoError(t, acc.Reserve(openBet("b1", 50)))
	require.NoError(t, acc.MarkExecuted("b1", "v-1"))

	err := acc.Settle("b1", false, -60, time.Now())
	assert.Error(t, err)
	assert.InDelta(t, 950.0, acc.Balance(), 0.001)
}

func TestSettle_StreaksResetEachOther(t *testing.T) {
	acc := NewBankrollAccount("a1", 1000)
	outcomes := []bool{false, false, true, true, true, false}
	for i, won := range outcomes {
		b := openBet(string(rune('a'+i)), 10)
		require.NoError(t, acc.Reserve(b))
		require.NoError(t, acc.MarkExecuted(b.ID, "v"))
		pnl := 8.0
		if !won {
			pnl = -10.0
		}
		require.NoError(t, acc.Settle(b.ID, won, pnl, time.Now()))
	}

	snap := acc.Snapshot()
	assert.Equal(t, 1, snap.ConsecutiveLosses)
	assert.Equal(t, 0, snap.ConsecutiveWins)
	assert.Equal(t, 3, snap.WinningBets)
	assert.Equal(t, 6, snap.TotalBets)
}

func TestAccountingIdentity_HoldsAcrossLifecycle(t *testing.T) {
	acc := NewBankrollAccount("a1", 500)

	require.NoError(t, acc.Reserve(openBet("b1", 40)))
	require.NoError(t, acc.Reserve(openBet("b2", 25)))
	require.NoError(t, acc.MarkExecuted("b1", "v-1"))
	require.NoError(t, acc.MarkExecuted("b2", "v-2"))
	require.NoError(t, acc.Settle("b1", true, 28, time.Now()))

	// balance = initial + Σ settled net P/L − Σ open sizes
	settledPnL := 28.0
	openSizes := 25.0
	assert.InDelta(t, 500+settledPnL-openSizes, acc.Balance(), 0.001)
	assert.InDelta(t, openSizes, acc.Exposure(), 0.001)
}

func TestRecordFailed_BalanceUntouched(t *testing.T) {
	acc := NewBankrollAccount("a1", 100)
	acc.RecordFailed(openBet("b1", 30))

	assert.InDelta(t, 100.0, acc.Balance(), 0.001)
	assert.Equal(t, 0, acc.OpenBets())
	b, ok := acc.Bet("b1")
	require.True(t, ok)
	assert.Equal(t, BetFailed, b.Status)
}

func TestHasOpenBetOn_OnlyWhileOpen(t *testing.T) {
	acc := NewBankrollAccount("a1", 1000)
	require.NoError(t, acc.Reserve(openBet("b1", 10)))
	assert.True(t, acc.HasOpenBetOn("opp-b1"))

	require.NoError(t, acc.MarkExecuted("b1", "v-1"))
	assert.True(t, acc.HasOpenBetOn("opp-b1"))

	require.NoError(t, acc.Settle("b1", false, -10, time.Now()))
	assert.False(t, acc.HasOpenBetOn("opp-b1"))
}

func TestRestore_ReplaysHistory(t *testing.T) {
	win := 15.0
	loss := -20.0
	history := []Bet{
		{ID: "b1", Size: 30, Status: BetSettledWin, NetPnL: &win},
		{ID: "b2", Size: 20, Status: BetSettledLoss, NetPnL: &loss},
		{ID: "b3", Size: 40, Status: BetExecuted},
		{ID: "b4", Size: 10, Status: BetRolledBack},
	}

	acc := NewBankrollAccount("a1", 500)
	acc.Restore(history)

	// 500 + 15 − 20 − 40; rolled-back bets count for nothing
	assert.InDelta(t, 455.0, acc.Balance(), 0.001)
	assert.Equal(t, 1, acc.OpenBets())
	assert.InDelta(t, 40.0, acc.Exposure(), 0.001)

	snap := acc.Snapshot()
	assert.Equal(t, 3, snap.TotalBets)
	assert.Equal(t, 1, snap.WinningBets)
	assert.Equal(t, 1, snap.ConsecutiveLosses)
}
