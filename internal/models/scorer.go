// Package models is the Model Host: a bounded worker pool that scores
// every closed-candle FeatureVector through a small ensemble of
// strategy objects, each implementing a common Scorer interface, each
// folding a weighted mix of sub-signals into a single score. Three
// concrete implementations stand in for the distinct model families a
// production system would host (gradient-boosted-tree, recurrent-net,
// RL-policy) — reading the same FeatureVector but weighting its
// components differently.
package models

import (
	"context"
	"math"

	"github.com/aristath/cryptotrader/internal/domain"
)

// Scorer produces one model's vote for a symbol's current feature
// vector. Implementations must be side-effect free and safe for
// concurrent use — the Host calls many of them in parallel.
type Scorer interface {
	ID() string
	Score(ctx context.Context, fv domain.FeatureVector) (domain.ModelScore, error)
}

// clamp bounds a float to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sideFromSignedStrength maps a signed strength in [-1, 1] to a
// Side/confidence pair: positive favors buy, negative favors sell, and
// the magnitude becomes the confidence.
func sideFromSignedStrength(strength float64) (domain.Side, float64) {
	confidence := clamp(math.Abs(strength), 0, 1)
	if strength > 0 {
		return domain.SideBuy, confidence
	}
	if strength < 0 {
		return domain.SideSell, confidence
	}
	return domain.SideFlat, 0
}

// TrendModel stands in for a gradient-boosted-tree model trained on
// trend/momentum features: EMA crossover distance and the price-scaled
// MACD histogram, weighted 60/40.
type TrendModel struct{}

func NewTrendModel() *TrendModel { return &TrendModel{} }

func (m *TrendModel) ID() string { return "trend-gbt" }

func (m *TrendModel) Score(_ context.Context, fv domain.FeatureVector) (domain.ModelScore, error) {
	if !fv.Complete {
		return domain.ModelScore{ModelID: m.ID(), Signal: domain.SideFlat, Confidence: 0, AsOf: fv.AsOf}, nil
	}

	emaFast, hasFast := fv.EMA[12]
	emaSlow, hasSlow := fv.EMA[26]
	emaComponent := 0.0
	if hasFast && hasSlow && emaSlow != 0 {
		emaComponent = clamp((emaFast-emaSlow)/emaSlow*20, -1, 1)
	}

	macdComponent := 0.0
	if fv.MACD != nil {
		macdComponent = clamp(fv.MACD.Histogram/clampDenominator(fv.LastClose)*500, -1, 1)
	}

	strength := emaComponent*0.6 + macdComponent*0.4
	side, confidence := sideFromSignedStrength(strength)
	return domain.ModelScore{ModelID: m.ID(), Signal: side, Confidence: confidence, AsOf: fv.AsOf}, nil
}

// MeanReversionModel stands in for a recurrent-net model trained on
// oscillator features: RSI distance from the neutral 50 line and
// Bollinger-band position, weighted 50/50. Reasons in reverse of
// TrendModel — extremes mean-revert.
type MeanReversionModel struct{}

func NewMeanReversionModel() *MeanReversionModel { return &MeanReversionModel{} }

func (m *MeanReversionModel) ID() string { return "mean-reversion-rnn" }

func (m *MeanReversionModel) Score(_ context.Context, fv domain.FeatureVector) (domain.ModelScore, error) {
	if !fv.Complete {
		return domain.ModelScore{ModelID: m.ID(), Signal: domain.SideFlat, Confidence: 0, AsOf: fv.AsOf}, nil
	}

	rsiComponent := 0.0
	if fv.RSI != nil {
		// RSI > 70 overbought (sell), RSI < 30 oversold (buy).
		rsiComponent = clamp((50-*fv.RSI)/30, -1, 1)
	}

	bbComponent := 0.0
	if fv.BollingerPos != nil {
		// position near 1 (upper band) favors sell, near 0 (lower) favors buy.
		bbComponent = clamp((0.5-*fv.BollingerPos)*2, -1, 1)
	}

	strength := rsiComponent*0.5 + bbComponent*0.5
	side, confidence := sideFromSignedStrength(strength)
	return domain.ModelScore{ModelID: m.ID(), Signal: side, Confidence: confidence, AsOf: fv.AsOf}, nil
}

// VolatilityRegimeModel stands in for an RL-policy model that conditions
// its position on ATR-normalized volatility: it abstains (flat) in
// high-volatility regimes and otherwise follows the SMA trend with
// confidence inversely proportional to volatility.
type VolatilityRegimeModel struct{}

func NewVolatilityRegimeModel() *VolatilityRegimeModel { return &VolatilityRegimeModel{} }

func (m *VolatilityRegimeModel) ID() string { return "vol-regime-rl" }

func (m *VolatilityRegimeModel) Score(_ context.Context, fv domain.FeatureVector) (domain.ModelScore, error) {
	if !fv.Complete {
		return domain.ModelScore{ModelID: m.ID(), Signal: domain.SideFlat, Confidence: 0, AsOf: fv.AsOf}, nil
	}

	volPct := 0.0
	if fv.ATR != nil {
		volPct = *fv.ATR / clampDenominator(fv.LastClose)
	}
	// abstain above 5% ATR/price — policy learned that regime is noise.
	if volPct > 0.05 {
		return domain.ModelScore{ModelID: m.ID(), Signal: domain.SideFlat, Confidence: 0, AsOf: fv.AsOf}, nil
	}

	smaShort, hasShort := fv.SMA[20]
	smaLong, hasLong := fv.SMA[50]
	trend := 0.0
	if hasShort && hasLong && smaLong != 0 {
		trend = clamp((smaShort-smaLong)/smaLong*15, -1, 1)
	}

	// confidence shrinks as volatility rises toward the abstain threshold.
	volDamping := clamp(1-volPct/0.05, 0, 1)
	strength := trend * volDamping
	side, confidence := sideFromSignedStrength(strength)
	return domain.ModelScore{ModelID: m.ID(), Signal: side, Confidence: confidence, AsOf: fv.AsOf}, nil
}

func clampDenominator(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
