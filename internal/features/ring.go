// Package features is the Feature Store: a bounded per-symbol candle
// history plus the technical indicators computed on every close —
// grounded on aristath-sentinel's formulas package (trader-go/trader's
// pkg/formulas: CalculateRSI/CalculateEMA/CalculateBollingerBands,
// thin go-talib wrappers with NaN/insufficient-data guards), generalized
// into a warm-tracked, per-symbol ring buffer instead of one-shot
// slices.
package features

import "github.com/aristath/cryptotrader/internal/domain"

// ring is a fixed-capacity FIFO of closed candles for one symbol.
type ring struct {
	capacity int
	candles  []domain.Candle
}

func newRing(capacity int) *ring {
	return &ring{capacity: capacity, candles: make([]domain.Candle, 0, capacity)}
}

func (r *ring) push(c domain.Candle) {
	r.candles = append(r.candles, c)
	if len(r.candles) > r.capacity {
		r.candles = r.candles[len(r.candles)-r.capacity:]
	}
}

func (r *ring) closes() []float64 {
	out := make([]float64, len(r.candles))
	for i, c := range r.candles {
		out[i] = c.Close
	}
	return out
}

func (r *ring) highs() []float64 {
	out := make([]float64, len(r.candles))
	for i, c := range r.candles {
		out[i] = c.High
	}
	return out
}

func (r *ring) lows() []float64 {
	out := make([]float64, len(r.candles))
	for i, c := range r.candles {
		out[i] = c.Low
	}
	return out
}

func (r *ring) last() (domain.Candle, bool) {
	if len(r.candles) == 0 {
		return domain.Candle{}, false
	}
	return r.candles[len(r.candles)-1], true
}
