// Package journal is the Journal & State Store: an append-only SQLite
// event log plus the in-memory projections (positions, open orders,
// circuit state) rebuilt from it on boot — grounded on the
// teacher's internal/database (profile-based PRAGMA selection,
// ProfileLedger for "maximum safety... immutable audit trail") and
// internal/events (typed EventData dispatch), generalized from a
// seven-database-per-concern layout to one ledger database carrying
// the journal's tagged-union event stream.
//
// Journaled events are folded into projections inside Append, which
// holds the store's single mutex for its whole duration, keeping the
// journal a single writer. Cash, today's realized PnL, equity-at-open
// and the daily-returns window are set directly (ApplyWallet,
// AddRealizedPnL, ResetDailyWindow, RecordDailyReturn) under the same
// mutex; they are not journaled, so they start empty after a restart.
// Readers call Snapshot for a consistent, independently-owned copy.
package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/database"
	"github.com/aristath/cryptotrader/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal_events (
	sequence   INTEGER PRIMARY KEY,
	event_type TEXT NOT NULL,
	symbol     TEXT NOT NULL DEFAULT '',
	wall_time  TEXT NOT NULL,
	payload    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_events_symbol ON journal_events(symbol);
CREATE INDEX IF NOT EXISTS idx_journal_events_wall_time ON journal_events(wall_time);
`

// Store is the append-only journal plus its derived projections.
type Store struct {
	db  *database.DB
	clk clock.Clock
	log zerolog.Logger

	mu          sync.RWMutex
	projections Projections
}

// Projections is the State Store's read model: positions, open orders,
// circuit state and the daily-PnL/returns bookkeeping the Risk Engine
// reads. Owned exclusively by the Store; journaled events reach it
// through apply, invoked only from inside Append or replay, and the
// non-journaled fields through the Store's setter methods.
type Projections struct {
	LastSequence       uint64
	Positions          map[string]domain.Position // keyed by symbol
	OpenOrders         map[string]domain.Order     // keyed by clientOrderId
	Circuit            domain.CircuitState
	CashUSD            float64
	RealizedPnLToday   float64
	EquityAtOpen       float64
	DailyReturns       []float64
	RecentDiffs        []domain.ReconciliationDiff
}

func newProjections() Projections {
	return Projections{
		Positions:  make(map[string]domain.Position),
		OpenOrders: make(map[string]domain.Order),
	}
}

// clone returns a deep-enough copy for a reader's consistent snapshot:
// maps and slices are copied so a reader never observes a concurrent
// Append's in-progress mutation.
func (p Projections) clone() Projections {
	out := p
	out.Positions = make(map[string]domain.Position, len(p.Positions))
	for k, v := range p.Positions {
		out.Positions[k] = v
	}
	out.OpenOrders = make(map[string]domain.Order, len(p.OpenOrders))
	for k, v := range p.OpenOrders {
		out.OpenOrders[k] = v
	}
	out.DailyReturns = append([]float64(nil), p.DailyReturns...)
	out.RecentDiffs = append([]domain.ReconciliationDiff(nil), p.RecentDiffs...)
	return out
}

// Portfolio projects the State Store's view into the domain.PortfolioState
// shape the Risk Engine consumes.
func (p Projections) Portfolio() domain.PortfolioState {
	return domain.PortfolioState{
		Positions:        p.Positions,
		CashUSD:          p.CashUSD,
		RealizedPnLToday: p.RealizedPnLToday,
		EquityAtOpen:     p.EquityAtOpen,
		DailyReturns:     p.DailyReturns,
	}
}

// Open opens (creating if absent) the ledger database at path and
// replays its full event history into projections before returning.
// Callers must not let the Orchestrator accept commands until this
// has completed.
func Open(path string, clk clock.Clock, log zerolog.Logger) (*Store, error) {
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileLedger, Name: "ledger"})
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	s := &Store{
		db:          db,
		clk:         clk,
		log:         log.With().Str("component", "journal").Logger(),
		projections: newProjections(),
	}
	if err := s.replay(); err != nil {
		db.Close()
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// replay rebuilds projections from every persisted event in sequence
// order. Called once, from Open, before the Orchestrator is allowed to
// accept commands.
func (s *Store) replay() error {
	rows, err := s.db.Query(`SELECT sequence, event_type, wall_time, payload FROM journal_events ORDER BY sequence ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for rows.Next() {
		var seq uint64
		var evType, wallTime string
		var payload []byte
		if err := rows.Scan(&seq, &evType, &wallTime, &payload); err != nil {
			return err
		}
		var ev domain.JournalEvent
		if err := msgpack.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode journal event at sequence %d: %w", seq, err)
		}
		s.apply(ev)
		s.projections.LastSequence = seq
		count++
	}
	s.log.Info().Int("events_replayed", count).Msg("journal replayed")
	return rows.Err()
}

// Append assigns the next sequence number, persists the event, applies
// it to projections, and returns the sequence-stamped event. The whole
// operation runs under the Store's single write lock.
func (s *Store) Append(ctx context.Context, ev domain.JournalEvent) (domain.JournalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.WallTime = s.clk.Now()
	ev.Sequence = s.projections.LastSequence + 1

	payload, err := msgpack.Marshal(ev)
	if err != nil {
		return domain.JournalEvent{}, fmt.Errorf("encode journal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO journal_events (sequence, event_type, symbol, wall_time, payload) VALUES (?, ?, ?, ?, ?)`,
		ev.Sequence, string(ev.Type), ev.Symbol, ev.WallTime.Format(time.RFC3339Nano), payload)
	if err != nil {
		return domain.JournalEvent{}, fmt.Errorf("persist journal event: %w", err)
	}

	s.apply(ev)
	s.projections.LastSequence = ev.Sequence
	return ev, nil
}

// apply folds one event into projections. Must be called with mu held.
func (s *Store) apply(ev domain.JournalEvent) {
	switch ev.Type {
	case domain.EventPositionUpdated:
		if ev.Position != nil {
			if ev.Position.Size == 0 {
				delete(s.projections.Positions, ev.Position.Symbol)
			} else {
				s.projections.Positions[ev.Position.Symbol] = *ev.Position
			}
		}
	case domain.EventOrderSubmitted, domain.EventOrderUpdated:
		if ev.Order != nil {
			s.projections.OpenOrders[ev.Order.ClientOrderID] = *ev.Order
		}
	case domain.EventOrderTerminal:
		if ev.Order != nil {
			if ev.Order.Status.IsTerminal() {
				delete(s.projections.OpenOrders, ev.Order.ClientOrderID)
			} else {
				s.projections.OpenOrders[ev.Order.ClientOrderID] = *ev.Order
			}
		}
	case domain.EventCircuitTripped:
		s.projections.Circuit.Mode = domain.ModeHalt
		s.projections.Circuit.LastTripReason = ev.CircuitReason
		wallTime := ev.WallTime
		s.projections.Circuit.LastTripAt = &wallTime
	case domain.EventCircuitReset:
		mode := ev.Mode
		if mode == "" {
			mode = s.projections.Circuit.Mode
			if mode == domain.ModeHalt {
				mode = domain.ModePaper
			}
		}
		s.projections.Circuit = domain.CircuitState{Mode: mode}
	case domain.EventModeChanged:
		s.projections.Circuit.Mode = ev.Mode
	case domain.EventReconciliationDiff:
		if ev.ReconciliationDiff != nil {
			s.projections.RecentDiffs = append(s.projections.RecentDiffs, *ev.ReconciliationDiff)
			if len(s.projections.RecentDiffs) > maxRecentDiffs {
				s.projections.RecentDiffs = s.projections.RecentDiffs[len(s.projections.RecentDiffs)-maxRecentDiffs:]
			}
		}
	}
}

const maxRecentDiffs = 200

// Snapshot returns an independent copy of current projections.
func (s *Store) Snapshot() Projections {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projections.clone()
}

// ApplyWallet updates the cash projection from an observed wallet
// balance. Wallet ticks arrive far more often than they're
// decision-relevant, so unlike positions and orders this is not itself
// a journaled event type — it rides along with whichever event next
// reads CashUSD into a PortfolioState snapshot.
func (s *Store) ApplyWallet(coinUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projections.CashUSD = coinUSD
}

// SetCircuitSnapshot seeds the circuit projection at boot from the
// CircuitBreaker's initial mode (paper/live/halt from config), before
// any trip/reset events exist.
func (s *Store) SetCircuitSnapshot(mode domain.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projections.Circuit.Mode == "" {
		s.projections.Circuit.Mode = mode
	}
}

// RecordDailyReturn folds today's realized return percentage into the
// rolling VaR window, keeping at most maxReturnsWindow samples.
func (s *Store) RecordDailyReturn(pct float64, maxReturnsWindow int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projections.DailyReturns = append(s.projections.DailyReturns, pct)
	if maxReturnsWindow > 0 && len(s.projections.DailyReturns) > maxReturnsWindow {
		s.projections.DailyReturns = s.projections.DailyReturns[len(s.projections.DailyReturns)-maxReturnsWindow:]
	}
}

// ResetDailyWindow clears today's realized PnL and fixes EquityAtOpen —
// invoked at 00:00 UTC by the orchestrator's cron job.
func (s *Store) ResetDailyWindow(equityAtOpen float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projections.RealizedPnLToday = 0
	s.projections.EquityAtOpen = equityAtOpen
}

// AddRealizedPnL folds a closed trade's realized PnL into today's total.
func (s *Store) AddRealizedPnL(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projections.RealizedPnLToday += delta
}

// PruneOlderThan deletes journal rows older than the retention window.
// Projections are unaffected — they reflect the full history already
// folded in memory; this only bounds the on-disk audit trail.
func (s *Store) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := s.clk.Now().AddDate(0, 0, -days).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM journal_events WHERE wall_time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune journal events: %w", err)
	}
	return res.RowsAffected()
}

// EventsSince returns all events with sequence > after, in order — used
// by tests and any operator tooling that wants raw
// history rather than the derived projections.
func (s *Store) EventsSince(ctx context.Context, after uint64) ([]domain.JournalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM journal_events WHERE sequence > ? ORDER BY sequence ASC`, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JournalEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev domain.JournalEvent
		if err := msgpack.Unmarshal(payload, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
