package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierFor_Boundaries(t *testing.T) {
	assert.Equal(t, TierConservative, TierFor(1000, 1000))
	assert.Equal(t, TierConservative, TierFor(900, 1000))
	assert.Equal(t, TierDefensive, TierFor(899.99, 1000))
	assert.Equal(t, TierDefensive, TierFor(700, 1000))
	assert.Equal(t, TierRecovery, TierFor(699.99, 1000))
	assert.Equal(t, TierRecovery, TierFor(500, 1000))
	assert.Equal(t, TierEmergency, TierFor(499.99, 1000))
	assert.Equal(t, TierEmergency, TierFor(400, 1000))
	assert.Equal(t, TierSuspended, TierFor(399.99, 1000))
}

func TestTierFor_DegenerateBalances(t *testing.T) {
	assert.Equal(t, TierSuspended, TierFor(0, 1000))
	assert.Equal(t, TierSuspended, TierFor(-5, 1000))
	assert.Equal(t, TierSuspended, TierFor(100, 0))
}

func TestMaxBet_SmallerOfPctAndFixed(t *testing.T) {
	// 5% of 600 = 30 < fixed 50
	assert.InDelta(t, 30.0, TierConservative.MaxBet(600), 0.001)
	// 5% of 2000 = 100 > fixed 50
	assert.InDelta(t, 50.0, TierConservative.MaxBet(2000), 0.001)
	// 2% of 650 = 13 > fixed 10
	assert.InDelta(t, 10.0, TierRecovery.MaxBet(650), 0.001)
	assert.Equal(t, 0.0, TierSuspended.MaxBet(1000))
}

func TestDailyLossBudget_SmallerOfPctAndFixed(t *testing.T) {
	assert.InDelta(t, 60.0, TierConservative.DailyLossBudget(600), 0.001)
	assert.InDelta(t, 100.0, TierConservative.DailyLossBudget(5000), 0.001)
	assert.InDelta(t, 10.0, TierEmergency.DailyLossBudget(2000), 0.001)
}

func TestApply_WorseTransitionReturnsRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := TierState{AgentID: "a1", Current: TierConservative, Previous: TierConservative}

	// 650/1000 → RECOVERY, strictly worse
	rec := s.Apply(TierFor(650, 1000), 650, now)
	require.NotNil(t, rec)
	assert.Equal(t, "a1", rec.AgentID)
	assert.Equal(t, TierConservative, rec.From)
	assert.Equal(t, TierRecovery, rec.To)
	assert.Equal(t, 650.0, rec.Balance)
	assert.Equal(t, TierRecovery, s.Current)
	assert.Equal(t, TierConservative, s.Previous)
}

func TestApply_ImprovementReturnsNoRecord(t *testing.T) {
	now := time.Now()
	s := TierState{Current: TierRecovery}

	rec := s.Apply(TierDefensive, 750, now)
	assert.Nil(t, rec)
	assert.Equal(t, TierDefensive, s.Current)
}

func TestApply_SameTierIsNoop(t *testing.T) {
	s := TierState{Current: TierDefensive, Previous: TierConservative}
	assert.Nil(t, s.Apply(TierDefensive, 800, time.Now()))
	assert.Equal(t, TierConservative, s.Previous)
}

func TestApply_EnteringEmergencyArmsCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := TierState{Current: TierRecovery}

	s.Apply(TierEmergency, 420, now)
	require.NotNil(t, s.CooldownUntil)
	assert.Equal(t, now.Add(72*time.Hour), *s.CooldownUntil)

	blocked, reason := s.Blocked(now.Add(71 * time.Hour))
	assert.True(t, blocked)
	assert.Contains(t, reason, "cooldown")

	blocked, _ = s.Blocked(now.Add(73 * time.Hour))
	assert.False(t, blocked)
}

func TestApply_RecoveryAboveEmergencyClearsCooldown(t *testing.T) {
	now := time.Now()
	s := TierState{Current: TierRecovery}
	s.Apply(TierEmergency, 420, now)
	require.NotNil(t, s.CooldownUntil)

	s.Apply(TierRecovery, 550, now.Add(time.Hour))
	assert.Nil(t, s.CooldownUntil)
}

func TestBlocked_Suspended(t *testing.T) {
	s := TierState{Current: TierSuspended}
	blocked, reason := s.Blocked(time.Now())
	assert.True(t, blocked)
	assert.Contains(t, reason, "manual reset")
}

func TestConsumeDailyLoss_RollsOverAtUTCMidnight(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	s := TierState{}

	s.ConsumeDailyLoss(20, day1)
	s.ConsumeDailyLoss(15, day1.Add(5*time.Minute))
	assert.InDelta(t, 35.0, s.DailyLossToday, 0.001)

	// first consume of the next UTC day resets the counter
	s.ConsumeDailyLoss(10, day1.Add(20*time.Minute))
	assert.InDelta(t, 10.0, s.DailyLossToday, 0.001)
	assert.Equal(t, "2026-03-02", s.LastResetDate)
}

func TestRefundDailyLoss_ClampsAtZero(t *testing.T) {
	s := TierState{DailyLossToday: 8}
	s.RefundDailyLoss(10)
	assert.Equal(t, 0.0, s.DailyLossToday)
}

func TestManualReset_ClearsSuspensionAndCooldown(t *testing.T) {
	until := time.Now().Add(time.Hour)
	s := TierState{Current: TierSuspended, CooldownUntil: &until, DailyLossToday: 12}

	s.ManualReset(TierRecovery)
	assert.Equal(t, TierRecovery, s.Current)
	assert.Equal(t, TierSuspended, s.Previous)
	assert.Nil(t, s.CooldownUntil)
	assert.Equal(t, 0.0, s.DailyLossToday)

	blocked, _ := s.Blocked(time.Now())
	assert.False(t, blocked)
}

func TestParseTier_RoundTrip(t *testing.T) {
	for tier := TierConservative; tier <= TierSuspended; tier++ {
		got, err := ParseTier(tier.String())
		require.NoError(t, err)
		assert.Equal(t, tier, got)
	}
	_, err := ParseTier("AGGRESSIVE")
	assert.Error(t, err)
}
