package features

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/aristath/cryptotrader/internal/domain"
)

// Config controls which indicator periods the Feature Store computes.
// Defaults mirror common hardcoded periods (RSI 14, EMA 200,
// Bollinger 20/2) generalized into config so the Model Host's required
// warm-up window is explicit rather than implied by formula constants.
type Config struct {
	SMAPeriods      []int
	EMAPeriods      []int
	RSIPeriod       int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	BollingerPeriod int
	BollingerStdDev float64
	ATRPeriod       int
}

// DefaultConfig returns the indicator set used when no override is
// supplied.
func DefaultConfig() Config {
	return Config{
		SMAPeriods:      []int{20, 50},
		EMAPeriods:      []int{12, 26, 200},
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		BollingerPeriod: 20,
		BollingerStdDev: 2,
		ATRPeriod:       14,
	}
}

// warmupBars returns the longest lookback any configured indicator
// needs before it can produce a value.
func (c Config) warmupBars() int {
	longest := 0
	grow := func(n int) {
		if n > longest {
			longest = n
		}
	}
	for _, p := range c.SMAPeriods {
		grow(p)
	}
	for _, p := range c.EMAPeriods {
		grow(p)
	}
	grow(c.RSIPeriod + 1)
	grow(c.MACDSlow + c.MACDSignal)
	grow(c.BollingerPeriod)
	grow(c.ATRPeriod + 1)
	return longest
}

// Store computes and caches the current FeatureVector per (symbol,
// timeframe), recomputed whole on every candle close so partial updates
// are never observable.
type Store struct {
	cfg Config

	mu    sync.RWMutex
	rings map[string]*ring // keyed by symbol|timeframe
}

// NewStore builds a Store with the given indicator configuration.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg, rings: make(map[string]*ring)}
}

func ringKey(symbol string, tf domain.Timeframe) string {
	return symbol + "|" + string(tf)
}

// capacity is sized to comfortably exceed the longest warmup window so
// long-period indicators (e.g. EMA-200) can become warm without
// constantly reallocating.
func (s *Store) capacity() int {
	return s.cfg.warmupBars() + 50
}

// OnCandleClose folds a closed candle into its symbol's ring and
// recomputes the full FeatureVector.
func (s *Store) OnCandleClose(c domain.Candle) (domain.FeatureVector, error) {
	if err := c.Validate(); err != nil {
		return domain.FeatureVector{}, fmt.Errorf("invalid candle: %w", err)
	}

	key := ringKey(c.Symbol, c.Timeframe)
	s.mu.Lock()
	r, ok := s.rings[key]
	if !ok {
		r = newRing(s.capacity())
		s.rings[key] = r
	}
	r.push(c)
	closes := r.closes()
	highs := r.highs()
	lows := r.lows()
	s.mu.Unlock()

	return s.compute(c.Symbol, c.Timeframe, c.OpenTime, closes, highs, lows), nil
}

// Snapshot returns the last computed FeatureVector for a symbol without
// folding in a new candle, or ok=false if the symbol has no history yet.
func (s *Store) Snapshot(symbol string, tf domain.Timeframe) (domain.FeatureVector, bool) {
	key := ringKey(symbol, tf)
	s.mu.RLock()
	r, ok := s.rings[key]
	if !ok {
		s.mu.RUnlock()
		return domain.FeatureVector{}, false
	}
	last, hasLast := r.last()
	closes := r.closes()
	highs := r.highs()
	lows := r.lows()
	s.mu.RUnlock()
	if !hasLast {
		return domain.FeatureVector{}, false
	}
	return s.compute(symbol, tf, last.OpenTime, closes, highs, lows), true
}

func (s *Store) compute(symbol string, tf domain.Timeframe, asOf time.Time, closes, highs, lows []float64) domain.FeatureVector {
	fv := domain.FeatureVector{
		Symbol:    symbol,
		Timeframe: tf,
		AsOf:      asOf,
		SMA:       make(map[int]float64),
		EMA:       make(map[int]float64),
	}
	if len(closes) > 0 {
		fv.LastClose = closes[len(closes)-1]
	}

	var missing []string

	for _, period := range s.cfg.SMAPeriods {
		if len(closes) < period {
			missing = append(missing, fmt.Sprintf("sma%d", period))
			continue
		}
		out := talib.Sma(closes, period)
		if v, ok := lastValid(out); ok {
			fv.SMA[period] = v
		} else {
			missing = append(missing, fmt.Sprintf("sma%d", period))
		}
	}

	for _, period := range s.cfg.EMAPeriods {
		if len(closes) < period {
			missing = append(missing, fmt.Sprintf("ema%d", period))
			continue
		}
		out := talib.Ema(closes, period)
		if v, ok := lastValid(out); ok {
			fv.EMA[period] = v
		} else {
			missing = append(missing, fmt.Sprintf("ema%d", period))
		}
	}

	if len(closes) >= s.cfg.RSIPeriod+1 {
		out := talib.Rsi(closes, s.cfg.RSIPeriod)
		if v, ok := lastValid(out); ok {
			fv.RSI = &v
		} else {
			missing = append(missing, domain.IndicatorRSI)
		}
	} else {
		missing = append(missing, domain.IndicatorRSI)
	}

	if len(closes) >= s.cfg.MACDSlow+s.cfg.MACDSignal {
		macd, signal, hist := talib.Macd(closes, s.cfg.MACDFast, s.cfg.MACDSlow, s.cfg.MACDSignal)
		m, mOK := lastValid(macd)
		sig, sOK := lastValid(signal)
		h, hOK := lastValid(hist)
		if mOK && sOK && hOK {
			fv.MACD = &domain.MACDValue{MACD: m, Signal: sig, Histogram: h}
		} else {
			missing = append(missing, domain.IndicatorMACD)
		}
	} else {
		missing = append(missing, domain.IndicatorMACD)
	}

	if len(closes) >= s.cfg.BollingerPeriod {
		upper, middle, lower := talib.BBands(closes, s.cfg.BollingerPeriod, s.cfg.BollingerStdDev, s.cfg.BollingerStdDev, 0)
		u, uOK := lastValid(upper)
		m, mOK := lastValid(middle)
		l, lOK := lastValid(lower)
		if uOK && mOK && lOK {
			fv.Bollinger = &domain.BollingerValue{Upper: u, Middle: m, Lower: l}
			width := u - l
			pos := 0.5
			if width > 0 {
				pos = clamp01((fv.LastClose - l) / width)
			}
			fv.BollingerPos = &pos
		} else {
			missing = append(missing, domain.IndicatorBB)
		}
	} else {
		missing = append(missing, domain.IndicatorBB)
	}

	if len(closes) >= s.cfg.ATRPeriod+1 {
		out := talib.Atr(highs, lows, closes, s.cfg.ATRPeriod)
		if v, ok := lastValid(out); ok {
			fv.ATR = &v
		} else {
			missing = append(missing, domain.IndicatorATR)
		}
	} else {
		missing = append(missing, domain.IndicatorATR)
	}

	fv.Complete = len(missing) == 0
	fv.MissingWarm = missing
	return fv
}

func lastValid(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
