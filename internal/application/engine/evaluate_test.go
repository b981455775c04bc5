package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetEV_ProfitableExample(t *testing.T) {
	gross, fee, net := NetEV(0.80, 0.60, 10, 0.03)
	assert.InDelta(t, 2.00, gross, 0.001)
	assert.InDelta(t, 0.24, fee, 0.001)
	assert.InDelta(t, 1.76, net, 0.001)
}

func TestNetEV_NegativeEdge(t *testing.T) {
	gross, _, net := NetEV(0.50, 0.60, 10, 0.03)
	assert.InDelta(t, -1.00, gross, 0.001)
	assert.Less(t, net, 0.0)
}

func TestNetEV_FeeCanFlipMarginalEdge(t *testing.T) {
	// 1¢ of gross edge, wiped out by the fee on the winning payout
	_, _, net := NetEV(0.61, 0.60, 10, 0.03)
	assert.Less(t, net, 0.0)
}

func TestNetEV_ZeroFeeRate(t *testing.T) {
	gross, fee, net := NetEV(0.70, 0.60, 10, 0)
	assert.InDelta(t, 1.00, gross, 0.001)
	assert.Equal(t, 0.0, fee)
	assert.InDelta(t, 1.00, net, 0.001)
}
