package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoricalVaR_EmptyWindowIsZero(t *testing.T) {
	assert.Equal(t, 0.0, HistoricalVaR(nil, 0.99))
}

func TestHistoricalVaR_WorstTailBecomesPositiveMagnitude(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.005, -0.08, 0.03, -0.01, 0.02, -0.015, 0.01, -0.005}
	v := HistoricalVaR(returns, 0.90)
	assert.Greater(t, v, 0.0)
}

func TestHistoricalVaR_AllPositiveReturnsIsZero(t *testing.T) {
	returns := []float64{0.01, 0.02, 0.03, 0.015, 0.025}
	v := HistoricalVaR(returns, 0.95)
	assert.Equal(t, 0.0, v)
}

func TestPortfolioReturns_WeightedCombination(t *testing.T) {
	returns := map[string][]float64{
		"BTCUSDT": {0.01, 0.02, -0.01},
		"ETHUSDT": {0.02, -0.01, 0.03},
	}
	weights := map[string]float64{"BTCUSDT": 0.6, "ETHUSDT": 0.4}

	combined := PortfolioReturns(returns, weights)
	assert.Len(t, combined, 3)
	assert.InDelta(t, 0.6*0.01+0.4*0.02, combined[0], 1e-9)
	assert.InDelta(t, 0.6*0.02+0.4*-0.01, combined[1], 1e-9)
	assert.InDelta(t, 0.6*-0.01+0.4*0.03, combined[2], 1e-9)
}

func TestPortfolioReturns_EmptyInputIsNil(t *testing.T) {
	assert.Nil(t, PortfolioReturns(nil, nil))
}
