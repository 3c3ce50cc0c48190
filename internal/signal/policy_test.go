package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptotrader/internal/domain"
)

func scoresOf(signals ...domain.Side) []domain.ModelScore {
	out := make([]domain.ModelScore, len(signals))
	for i, s := range signals {
		conf := 0.0
		if s != domain.SideFlat {
			conf = 0.9
		}
		out[i] = domain.ModelScore{ModelID: "m" + string(rune('0'+i)), Signal: s, Confidence: conf}
	}
	return out
}

func TestPolicy_AgreementFormsIntent(t *testing.T) {
	p := NewPolicy(Config{MinAgreeCount: 2, ConfidenceThreshold: 0.70})
	scores := scoresOf(domain.SideBuy, domain.SideBuy, domain.SideSell)

	intent, reason := p.Decide("BTCUSDT", scores, time.Unix(0, 0))
	require.NotNil(t, intent)
	assert.Empty(t, reason)
	assert.Equal(t, domain.SideBuy, intent.Side)
	assert.Equal(t, "BTCUSDT", intent.Symbol)
	assert.InDelta(t, 0.9, intent.Confidence, 1e-9)
}

func TestPolicy_TieSuppresses(t *testing.T) {
	p := NewPolicy(Config{MinAgreeCount: 1, ConfidenceThreshold: 0.70})
	scores := scoresOf(domain.SideBuy, domain.SideSell)

	intent, reason := p.Decide("BTCUSDT", scores, time.Unix(0, 0))
	assert.Nil(t, intent)
	assert.Equal(t, domain.ReasonTied, reason)
}

func TestPolicy_InsufficientAgreementSuppresses(t *testing.T) {
	p := NewPolicy(Config{MinAgreeCount: 3, ConfidenceThreshold: 0.70})
	scores := scoresOf(domain.SideBuy, domain.SideBuy, domain.SideSell)

	intent, reason := p.Decide("BTCUSDT", scores, time.Unix(0, 0))
	assert.Nil(t, intent)
	assert.Equal(t, domain.ReasonInsufficientAgreement, reason)
}

func TestPolicy_LowConfidenceSuppresses(t *testing.T) {
	p := NewPolicy(Config{MinAgreeCount: 2, ConfidenceThreshold: 0.95})
	scores := scoresOf(domain.SideBuy, domain.SideBuy, domain.SideSell)

	intent, reason := p.Decide("BTCUSDT", scores, time.Unix(0, 0))
	assert.Nil(t, intent)
	assert.Equal(t, domain.ReasonLowConfidence, reason)
}

func TestPolicy_ConfiguredWeightsOverrideEqualSplit(t *testing.T) {
	p := NewPolicy(Config{
		Weights:             map[string]float64{"m0": 0.1, "m1": 0.1, "m2": 0.8},
		MinAgreeCount:       1,
		ConfidenceThreshold: 0.70,
	})
	scores := scoresOf(domain.SideBuy, domain.SideBuy, domain.SideSell)

	intent, reason := p.Decide("BTCUSDT", scores, time.Unix(0, 0))
	require.NotNil(t, intent)
	assert.Empty(t, reason)
	assert.Equal(t, domain.SideSell, intent.Side)
}

func TestPolicy_DeterministicForSameInputs(t *testing.T) {
	p := NewPolicy(Config{MinAgreeCount: 2, ConfidenceThreshold: 0.70})
	scores := scoresOf(domain.SideBuy, domain.SideBuy, domain.SideFlat)
	asOf := time.Unix(100, 0)

	a, reasonA := p.Decide("ETHUSDT", scores, asOf)
	b, reasonB := p.Decide("ETHUSDT", scores, asOf)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, reasonA, reasonB)
	assert.Equal(t, a.Side, b.Side)
	assert.Equal(t, a.Confidence, b.Confidence)
}

func TestDefaultMinAgreeCount(t *testing.T) {
	assert.Equal(t, 3, DefaultMinAgreeCount(5))
	assert.Equal(t, 2, DefaultMinAgreeCount(3))
}
