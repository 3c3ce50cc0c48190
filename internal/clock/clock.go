// Package clock provides an injectable monotonic/wall clock so the
// Orchestrator, Risk Engine and Gateway can be driven deterministically
// in tests instead of depending on wall-clock time directly.
package clock

import "time"

// Clock is the seam every time-dependent component reads through.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker so Fake can hand out a controllable one.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// Real is the production Clock backed by the standard library.
type Real struct{}

// New returns the production clock.
func New() Clock { return Real{} }

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time  { return time.After(d) }
func (Real) Sleep(d time.Duration)                   { time.Sleep(d) }
func (Real) NewTicker(d time.Duration) Ticker        { return &realTicker{t: time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time   { return r.t.C }
func (r *realTicker) Stop()                 { r.t.Stop() }
func (r *realTicker) Reset(d time.Duration) { r.t.Reset(d) }
