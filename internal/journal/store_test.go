package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path, clock.NewFake(time.Unix(1700000000, 0)), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AppendAssignsSequentialIDs(t *testing.T) {
	s := openTestStore(t)

	ev1, err := s.Append(context.Background(), domain.JournalEvent{Type: domain.EventModeChanged, Mode: domain.ModePaper})
	require.NoError(t, err)
	ev2, err := s.Append(context.Background(), domain.JournalEvent{Type: domain.EventModeChanged, Mode: domain.ModeLive})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), ev1.Sequence)
	assert.Equal(t, uint64(2), ev2.Sequence)
}

func TestStore_ApplyPositionUpdateProjectsIntoSnapshot(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Append(context.Background(), domain.JournalEvent{
		Type:   domain.EventPositionUpdated,
		Symbol: "BTCUSDT",
		Position: &domain.Position{
			Symbol: "BTCUSDT", Side: domain.SideBuy, Size: 0.01, AvgEntryPrice: 50000,
		},
	})
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Contains(t, snap.Positions, "BTCUSDT")
	assert.Equal(t, 0.01, snap.Positions["BTCUSDT"].Size)
}

func TestStore_ZeroSizePositionClearsProjection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, domain.JournalEvent{
		Type:     domain.EventPositionUpdated,
		Symbol:   "BTCUSDT",
		Position: &domain.Position{Symbol: "BTCUSDT", Size: 0.01, AvgEntryPrice: 50000},
	})
	require.NoError(t, err)
	_, err = s.Append(ctx, domain.JournalEvent{
		Type:     domain.EventPositionUpdated,
		Symbol:   "BTCUSDT",
		Position: &domain.Position{Symbol: "BTCUSDT", Size: 0},
	})
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.NotContains(t, snap.Positions, "BTCUSDT")
}

func TestStore_OrderTerminalRemovesFromOpenOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, domain.JournalEvent{
		Type: domain.EventOrderSubmitted,
		Order: &domain.Order{ClientOrderID: "abc", Status: domain.OrderSubmitted},
	})
	require.NoError(t, err)
	_, err = s.Append(ctx, domain.JournalEvent{
		Type: domain.EventOrderTerminal,
		Order: &domain.Order{ClientOrderID: "abc", Status: domain.OrderFilled},
	})
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.NotContains(t, snap.OpenOrders, "abc")
}

func TestStore_CircuitTripStickyUntilReset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, domain.JournalEvent{Type: domain.EventCircuitTripped, CircuitReason: "daily_drawdown"})
	require.NoError(t, err)
	assert.True(t, s.Snapshot().Circuit.IsHalted())

	_, err = s.Append(ctx, domain.JournalEvent{Type: domain.EventCircuitReset})
	require.NoError(t, err)
	assert.False(t, s.Snapshot().Circuit.IsHalted())
}

func TestStore_ReplayRebuildsProjectionsAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	clk := clock.NewFake(time.Unix(1700000000, 0))

	s1, err := Open(path, clk, zerolog.Nop())
	require.NoError(t, err)
	_, err = s1.Append(context.Background(), domain.JournalEvent{
		Type:     domain.EventPositionUpdated,
		Symbol:   "ETHUSDT",
		Position: &domain.Position{Symbol: "ETHUSDT", Size: 1, AvgEntryPrice: 2000},
	})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path, clk, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()

	snap := s2.Snapshot()
	require.Contains(t, snap.Positions, "ETHUSDT")
	assert.Equal(t, uint64(1), snap.LastSequence)
}

func TestStore_PruneOlderThanZeroDaysRemovesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, domain.JournalEvent{Type: domain.EventModeChanged, Mode: domain.ModePaper})
	require.NoError(t, err)

	n, err := s.PruneOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}
