package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptotrader/internal/domain"
)

func TestCircuitBreaker_StartsUntripped(t *testing.T) {
	cb := NewCircuitBreaker(domain.ModeLive)
	assert.False(t, cb.IsHalted())
	assert.Equal(t, domain.ModeLive, cb.Snapshot().Mode)
}

func TestCircuitBreaker_TripDailyDrawdownIsSticky(t *testing.T) {
	cb := NewCircuitBreaker(domain.ModeLive)
	now := time.Unix(1000, 0)
	cb.TripDailyDrawdown(now)

	assert.True(t, cb.IsHalted())
	snap := cb.Snapshot()
	assert.True(t, snap.DailyDrawdownTripped)
	assert.Equal(t, domain.ModeHalt, snap.Mode)
	require.NotNil(t, snap.LastTripAt)
	assert.Equal(t, now, *snap.LastTripAt)

	// still halted even without another trip call.
	assert.True(t, cb.IsHalted())
}

func TestCircuitBreaker_TripVaRIsSticky(t *testing.T) {
	cb := NewCircuitBreaker(domain.ModePaper)
	cb.TripVaR(time.Unix(2000, 0))
	assert.True(t, cb.IsHalted())
	assert.True(t, cb.Snapshot().VaRTripped)
}

func TestCircuitBreaker_KillRequiresExplicitReset(t *testing.T) {
	cb := NewCircuitBreaker(domain.ModeLive)
	cb.Kill(time.Unix(3000, 0), "operator_halt_all")
	assert.True(t, cb.IsHalted())

	cb.SetMode(domain.ModePaper) // mode change alone doesn't clear a kill
	assert.True(t, cb.Snapshot().Killed)

	cb.Reset(domain.ModePaper)
	assert.False(t, cb.IsHalted())
	assert.False(t, cb.Snapshot().Killed)
}
