package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcastano/betfleet/internal/domain"
)

func TestAdmit_SecondBetOverDailyCapRejected(t *testing.T) {
	g := NewGlobalCapGuard(50, 0)

	require.NoError(t, g.Admit(30))
	err := g.Admit(30)
	assert.ErrorIs(t, err, domain.ErrGlobalCapExceeded)

	used, _ := g.Usage()
	assert.InDelta(t, 30.0, used, 0.001)
}

func TestAdmit_ExposureCapIndependent(t *testing.T) {
	g := NewGlobalCapGuard(0, 100)

	require.NoError(t, g.Admit(60))
	require.NoError(t, g.Admit(40))
	assert.ErrorIs(t, g.Admit(1), domain.ErrGlobalCapExceeded)
}

func TestAdmit_ZeroCapsDisableChecks(t *testing.T) {
	g := NewGlobalCapGuard(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, g.Admit(1000))
	}
}

func TestRelease_UnwindsAdmission(t *testing.T) {
	g := NewGlobalCapGuard(50, 50)
	require.NoError(t, g.Admit(30))
	g.Release(30)

	require.NoError(t, g.Admit(50))
}

func TestOnSettle_WinRefundsDailyLoss(t *testing.T) {
	g := NewGlobalCapGuard(50, 100)
	require.NoError(t, g.Admit(30))

	g.OnSettle(30, 18) // win: full reservation refunded
	used, exposure := g.Usage()
	assert.InDelta(t, 0.0, used, 0.001)
	assert.InDelta(t, 0.0, exposure, 0.001)

	require.NoError(t, g.Admit(50))
}

func TestOnSettle_TotalLossKeepsReservation(t *testing.T) {
	g := NewGlobalCapGuard(50, 100)
	require.NoError(t, g.Admit(30))

	g.OnSettle(30, -30)
	used, exposure := g.Usage()
	assert.InDelta(t, 30.0, used, 0.001)
	assert.InDelta(t, 0.0, exposure, 0.001)
}

func TestOnSettle_PartialLossRefundsSurvivingPart(t *testing.T) {
	g := NewGlobalCapGuard(50, 100)
	require.NoError(t, g.Admit(30))

	g.OnSettle(30, -12) // only 12 materialized as loss
	used, _ := g.Usage()
	assert.InDelta(t, 12.0, used, 0.001)
}

func TestResetDaily_ClearsLossKeepsExposure(t *testing.T) {
	g := NewGlobalCapGuard(50, 100)
	require.NoError(t, g.Admit(40))

	g.ResetDaily()
	used, exposure := g.Usage()
	assert.InDelta(t, 0.0, used, 0.001)
	assert.InDelta(t, 40.0, exposure, 0.001)
}

func TestAdmit_ConcurrentAgentsNeverJointlyExceed(t *testing.T) {
	g := NewGlobalCapGuard(100, 0)

	var wg sync.WaitGroup
	admitted := make(chan float64, 64)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit(30) == nil {
				admitted <- 30
			}
		}()
	}
	wg.Wait()
	close(admitted)

	total := 0.0
	for size := range admitted {
		total += size
	}
	assert.LessOrEqual(t, total, 100.0)
	assert.InDelta(t, 90.0, total, 0.001) // exactly three fit under the cap
}
