package risk

import (
	"sync"
	"time"

	"github.com/aristath/cryptotrader/internal/domain"
)

// CircuitBreaker guards the sticky trip/reset lifecycle of
// domain.CircuitState. Trips into halt persist until an explicit Reset;
// the caller is responsible for journaling both transitions.
type CircuitBreaker struct {
	mu    sync.Mutex
	state domain.CircuitState
}

// NewCircuitBreaker starts in the given mode, untripped.
func NewCircuitBreaker(mode domain.Mode) *CircuitBreaker {
	return &CircuitBreaker{state: domain.CircuitState{Mode: mode}}
}

// Snapshot returns a copy of the current circuit state.
func (c *CircuitBreaker) Snapshot() domain.CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TripDailyDrawdown sticks the circuit into halt for a daily-loss-limit
// breach. No-op if already tripped for this reason.
func (c *CircuitBreaker) TripDailyDrawdown(at time.Time) {
	c.trip(&at, "daily_drawdown", func(s *domain.CircuitState) { s.DailyDrawdownTripped = true })
}

// TripVaR sticks the circuit into halt for a VaR-limit breach.
func (c *CircuitBreaker) TripVaR(at time.Time) {
	c.trip(&at, "var_limit", func(s *domain.CircuitState) { s.VaRTripped = true })
}

// Kill is the operator emergency stop — sticky until an explicit Reset.
func (c *CircuitBreaker) Kill(at time.Time, reason string) {
	c.trip(&at, reason, func(s *domain.CircuitState) { s.Killed = true })
}

func (c *CircuitBreaker) trip(at *time.Time, reason string, mark func(*domain.CircuitState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mark(&c.state)
	c.state.Mode = domain.ModeHalt
	c.state.LastTripReason = reason
	c.state.LastTripAt = at
}

// Reset clears every trip flag and restores the given mode. Always an
// explicit operator action — never automatic.
func (c *CircuitBreaker) Reset(mode domain.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = domain.CircuitState{Mode: mode}
}

// SetMode changes the operating mode without touching trip flags — used
// for live/paper toggles that aren't risk trips.
func (c *CircuitBreaker) SetMode(mode domain.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Mode = mode
}

// IsHalted reports whether new intents should be gated off.
func (c *CircuitBreaker) IsHalted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.IsHalted()
}
