package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptotrader/internal/domain"
)

func completeFeatureVector() domain.FeatureVector {
	rsi := 25.0
	bbPos := 0.1
	atr := 10.0
	return domain.FeatureVector{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		AsOf:      time.Unix(0, 0),
		LastClose: 1000,
		SMA:       map[int]float64{20: 1010, 50: 990},
		EMA:       map[int]float64{12: 1020, 26: 990, 200: 950},
		RSI:       &rsi,
		MACD:      &domain.MACDValue{MACD: 5, Signal: 2, Histogram: 3},
		Bollinger: &domain.BollingerValue{Upper: 1100, Middle: 1000, Lower: 900},
		BollingerPos: &bbPos,
		ATR:       &atr,
		Complete:  true,
	}
}

func TestTrendModel_IncompleteVectorIsFlat(t *testing.T) {
	m := NewTrendModel()
	score, err := m.Score(context.Background(), domain.FeatureVector{Complete: false})
	require.NoError(t, err)
	assert.Equal(t, domain.SideFlat, score.Signal)
	assert.Equal(t, 0.0, score.Confidence)
}

func TestTrendModel_BullishCrossoverBuys(t *testing.T) {
	m := NewTrendModel()
	fv := completeFeatureVector()
	score, err := m.Score(context.Background(), fv)
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, score.Signal)
	assert.Greater(t, score.Confidence, 0.0)
}

func TestMeanReversionModel_OversoldBuys(t *testing.T) {
	m := NewMeanReversionModel()
	fv := completeFeatureVector()
	score, err := m.Score(context.Background(), fv)
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, score.Signal)
}

func TestVolatilityRegimeModel_AbstainsAboveThreshold(t *testing.T) {
	m := NewVolatilityRegimeModel()
	fv := completeFeatureVector()
	highATR := 200.0 // 20% of last close, above the 5% abstain threshold
	fv.ATR = &highATR

	score, err := m.Score(context.Background(), fv)
	require.NoError(t, err)
	assert.Equal(t, domain.SideFlat, score.Signal)
	assert.Equal(t, 0.0, score.Confidence)
}

func TestVolatilityRegimeModel_FollowsTrendBelowThreshold(t *testing.T) {
	m := NewVolatilityRegimeModel()
	fv := completeFeatureVector()
	score, err := m.Score(context.Background(), fv)
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, score.Signal)
}

func TestSideFromSignedStrength(t *testing.T) {
	side, conf := sideFromSignedStrength(0.5)
	assert.Equal(t, domain.SideBuy, side)
	assert.InDelta(t, 0.5, conf, 1e-9)

	side, conf = sideFromSignedStrength(-0.3)
	assert.Equal(t, domain.SideSell, side)
	assert.InDelta(t, 0.3, conf, 1e-9)

	side, conf = sideFromSignedStrength(0)
	assert.Equal(t, domain.SideFlat, side)
	assert.Equal(t, 0.0, conf)
}
