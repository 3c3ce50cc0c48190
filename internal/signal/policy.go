// Package signal is the Signal Engine: a deterministic consensus policy
// that folds an ensemble of ModelScores into a single gated Intent,
// weighting each model's vote and requiring both agreement and a
// confidence floor before emitting anything.
package signal

import (
	"math"
	"time"

	"github.com/aristath/cryptotrader/internal/domain"
)

// Config controls the weighted-majority consensus policy. Weights are
// keyed by ModelScore.ModelID; a model with no configured weight falls
// back to an equal share among unweighted models so a freshly
// hot-reloaded model never silently gets a zero vote.
type Config struct {
	Weights             map[string]float64
	MinAgreeCount       int
	ConfidenceThreshold float64
}

// Policy evaluates model scores into an Intent or a suppression reason.
// Pure over (scores, Config): given the same inputs it always produces
// the same output.
type Policy struct {
	cfg Config
}

// NewPolicy builds a Policy. When cfg.MinAgreeCount is zero, Decide
// falls back to DefaultMinAgreeCount (N/2+1, integer division) of the
// scores it's given, since the engine
// cannot see the ensemble size ahead of the first Decide call.
func NewPolicy(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// DefaultMinAgreeCount returns the default agreement requirement for a
// given ensemble size: a simple majority plus one, using integer
// division (n/2+1, not ceil(n/2)+1) so a 3-model ensemble needs 2
// agreeing models rather than all 3 — required for a 2-of-3 split to
// still approve a trade.
func DefaultMinAgreeCount(n int) int {
	return n/2 + 1
}

// round3 rounds to 3 decimals so float accumulation noise never
// leaks into journaled confidence values.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// weightFor returns the configured weight for modelID, or an equal
// share of the unweighted remainder if none is configured.
func (p *Policy) weightFor(modelID string, totalModels, weightedCount int, weightedSum float64) float64 {
	if w, ok := p.cfg.Weights[modelID]; ok {
		return w
	}
	unweighted := totalModels - weightedCount
	if unweighted <= 0 {
		return 0
	}
	remainder := 1 - weightedSum
	if remainder <= 0 {
		return 0
	}
	return remainder / float64(unweighted)
}

// Decide folds scores (missing model votes are expected to already be
// present as (flat, 0) entries — the Model Host guarantees this) into
// an Intent, or nil with a SuppressReason explaining why none was
// formed.
func (p *Policy) Decide(symbol string, scores []domain.ModelScore, asOf time.Time) (*domain.Intent, domain.SuppressReason) {
	if len(scores) == 0 {
		return nil, domain.ReasonInsufficientAgreement
	}

	weightedSum := 0.0
	weightedCount := 0
	for _, s := range scores {
		if w, ok := p.cfg.Weights[s.ModelID]; ok {
			weightedSum += w
			weightedCount++
		}
	}

	voteBuy, voteSell := 0.0, 0.0
	for _, s := range scores {
		w := p.weightFor(s.ModelID, len(scores), weightedCount, weightedSum)
		switch s.Signal {
		case domain.SideBuy:
			voteBuy += w
		case domain.SideSell:
			voteSell += w
		}
	}

	var winner domain.Side
	switch {
	case voteBuy > voteSell:
		winner = domain.SideBuy
	case voteSell > voteBuy:
		winner = domain.SideSell
	default:
		return nil, domain.ReasonTied
	}

	var agreeing []domain.ModelScore
	for _, s := range scores {
		if s.Signal == winner {
			agreeing = append(agreeing, s)
		}
	}

	minAgree := p.cfg.MinAgreeCount
	if minAgree <= 0 {
		minAgree = DefaultMinAgreeCount(len(scores))
	}
	if len(agreeing) < minAgree {
		return nil, domain.ReasonInsufficientAgreement
	}

	confidenceSum := 0.0
	for _, s := range agreeing {
		confidenceSum += s.Confidence
	}
	avgConfidence := confidenceSum / float64(len(agreeing))

	threshold := p.cfg.ConfidenceThreshold
	if avgConfidence < threshold {
		return nil, domain.ReasonLowConfidence
	}

	return &domain.Intent{
		Symbol:        symbol,
		Side:          winner,
		Confidence:    round3(avgConfidence),
		SourceSignals: append([]domain.ModelScore(nil), scores...),
		AsOf:          asOf,
	}, ""
}
