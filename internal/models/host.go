package models

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/domain"
)

// DefaultScoreTimeout is how long the Host waits for one model before
// falling back to a flat, zero-confidence vote for it.
const DefaultScoreTimeout = time.Second

// DefaultWorkerPoolSize bounds concurrent scoring goroutines, mirroring
// a fixed-size request queue worker pattern generalized here to N since
// model scoring has no shared rate limit to serialize through.
const DefaultWorkerPoolSize = 8

// Host owns the live ensemble of Scorers and fans a FeatureVector out to
// all of them concurrently, each bounded by DefaultScoreTimeout. The ensemble
// can be hot-swapped via SetScorers without stopping in-flight scoring.
type Host struct {
	scorers atomic.Value // []Scorer

	timeout    time.Duration
	poolTokens chan struct{} // bounds total concurrent scorer invocations

	clk clock.Clock
	log zerolog.Logger
}

// NewHost builds a Host with the given initial ensemble.
func NewHost(initial []Scorer, clk clock.Clock, log zerolog.Logger) *Host {
	h := &Host{
		timeout:    DefaultScoreTimeout,
		poolTokens: make(chan struct{}, DefaultWorkerPoolSize),
		clk:        clk,
		log:        log.With().Str("component", "model-host").Logger(),
	}
	h.scorers.Store(append([]Scorer(nil), initial...))
	return h
}

// SetScorers atomically replaces the live ensemble — a hot reload that
// in-flight ScoreAll calls never observe mid-flight, since each call
// reads the ensemble slice once at entry.
func (h *Host) SetScorers(scorers []Scorer) {
	h.log.Info().Int("count", len(scorers)).Msg("model ensemble reloaded")
	h.scorers.Store(append([]Scorer(nil), scorers...))
}

// Scorers returns the currently active ensemble.
func (h *Host) Scorers() []Scorer {
	return h.scorers.Load().([]Scorer)
}

// ScoreAll runs every active Scorer against fv concurrently, bounded by
// the worker pool token count. A Scorer that errors or exceeds the
// timeout contributes a flat, zero-confidence vote rather than failing
// the whole ensemble — one bad model must never block a tick.
func (h *Host) ScoreAll(ctx context.Context, fv domain.FeatureVector) []domain.ModelScore {
	scorers := h.Scorers()
	scores := make([]domain.ModelScore, len(scorers))

	var wg sync.WaitGroup
	for i, s := range scorers {
		wg.Add(1)
		go func(i int, s Scorer) {
			defer wg.Done()
			h.poolTokens <- struct{}{}
			defer func() { <-h.poolTokens }()
			scores[i] = h.scoreOne(ctx, s, fv)
		}(i, s)
	}
	wg.Wait()
	return scores
}

func (h *Host) scoreOne(ctx context.Context, s Scorer, fv domain.FeatureVector) domain.ModelScore {
	scoreCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resultCh := make(chan domain.ModelScore, 1)
	errCh := make(chan error, 1)
	go func() {
		score, err := s.Score(scoreCtx, fv)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- score
	}()

	select {
	case score := <-resultCh:
		return score
	case err := <-errCh:
		h.log.Warn().Err(err).Str("model", s.ID()).Msg("model scoring failed, falling back to flat")
		return domain.ModelScore{ModelID: s.ID(), Signal: domain.SideFlat, Confidence: 0, AsOf: fv.AsOf}
	case <-scoreCtx.Done():
		h.log.Warn().Str("model", s.ID()).Msg("model scoring timed out, falling back to flat")
		return domain.ModelScore{ModelID: s.ID(), Signal: domain.SideFlat, Confidence: 0, AsOf: fv.AsOf}
	}
}
