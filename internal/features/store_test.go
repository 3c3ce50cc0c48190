package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptotrader/internal/domain"
)

func pushCandles(t *testing.T, s *Store, symbol string, tf domain.Timeframe, closes []float64) domain.FeatureVector {
	t.Helper()
	dur, err := tf.Duration()
	require.NoError(t, err)

	var last domain.FeatureVector
	openTime := time.Unix(0, 0).UTC()
	for i, c := range closes {
		candle := domain.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  openTime.Add(time.Duration(i) * dur),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    10,
		}
		fv, err := s.OnCandleClose(candle)
		require.NoError(t, err)
		last = fv
	}
	return last
}

func TestStore_IncompleteUntilWarm(t *testing.T) {
	s := NewStore(DefaultConfig())
	fv := pushCandles(t, s, "BTCUSDT", "1m", []float64{100, 101, 102})

	assert.False(t, fv.Complete)
	assert.NotEmpty(t, fv.MissingWarm)
	assert.Equal(t, 102.0, fv.LastClose)
}

func TestStore_CompleteAfterWarmup(t *testing.T) {
	s := NewStore(DefaultConfig())
	closes := make([]float64, 0, 260)
	for i := 0; i < 260; i++ {
		closes = append(closes, 100+float64(i%5))
	}
	fv := pushCandles(t, s, "BTCUSDT", "1m", closes)

	assert.True(t, fv.Complete)
	assert.Empty(t, fv.MissingWarm)
	require.NotNil(t, fv.RSI)
	require.NotNil(t, fv.MACD)
	require.NotNil(t, fv.Bollinger)
	require.NotNil(t, fv.BollingerPos)
	assert.GreaterOrEqual(t, *fv.BollingerPos, 0.0)
	assert.LessOrEqual(t, *fv.BollingerPos, 1.0)
	require.NotNil(t, fv.ATR)
}

func TestStore_SnapshotMatchesLastCompute(t *testing.T) {
	s := NewStore(DefaultConfig())
	pushCandles(t, s, "ETHUSDT", "1m", []float64{10, 11, 12, 13, 14})

	fv, ok := s.Snapshot("ETHUSDT", "1m")
	require.True(t, ok)
	assert.Equal(t, 14.0, fv.LastClose)
}

func TestStore_UnknownSymbolHasNoSnapshot(t *testing.T) {
	s := NewStore(DefaultConfig())
	_, ok := s.Snapshot("UNKNOWN", "1m")
	assert.False(t, ok)
}

func TestStore_RejectsInvalidCandle(t *testing.T) {
	s := NewStore(DefaultConfig())
	_, err := s.OnCandleClose(domain.Candle{
		Symbol: "BTCUSDT", Timeframe: "1m", Open: -1, High: 1, Low: 1, Close: 1,
	})
	assert.Error(t, err)
}
