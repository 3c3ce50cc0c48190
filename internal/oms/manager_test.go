package oms

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/domain"
	"github.com/aristath/cryptotrader/internal/xerrors"
)

type fakeBroker struct {
	placeCalls   int
	failUntil    int
	failErr      error
	positions    []domain.Position
	openOrders   []domain.Order
	cancelled    []string
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, order domain.ApprovedOrder) (string, error) {
	f.placeCalls++
	if f.placeCalls <= f.failUntil {
		return "", f.failErr
	}
	return "exch-" + order.ClientOrderID, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	f.cancelled = append(f.cancelled, clientOrderID)
	return nil
}

func (f *fakeBroker) GetOrder(ctx context.Context, symbol, clientOrderID string) (domain.Order, error) {
	return domain.Order{ClientOrderID: clientOrderID, Status: domain.OrderCancelled}, nil
}

func (f *fakeBroker) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return f.openOrders, nil
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return f.positions, nil
}

type fakeSink struct {
	orders    []domain.Order
	positions []domain.Position
	diffs     []domain.ReconciliationDiff
}

func (s *fakeSink) RecordOrder(o domain.Order)                    { s.orders = append(s.orders, o) }
func (s *fakeSink) RecordPosition(p domain.Position)               { s.positions = append(s.positions, p) }
func (s *fakeSink) RecordReconciliationDiff(d domain.ReconciliationDiff) { s.diffs = append(s.diffs, d) }

func testOrder(symbol string) domain.ApprovedOrder {
	return domain.ApprovedOrder{
		Intent:   domain.Intent{Symbol: symbol, Side: domain.SideBuy, AsOf: time.Unix(0, 0)},
		Quantity: 0.01,
	}
}

func TestManager_SubmitSucceeds(t *testing.T) {
	broker := &fakeBroker{}
	sink := &fakeSink{}
	m := NewManager(DefaultConfig(), broker, sink, clock.New(), zerolog.Nop())
	defer m.Stop()

	err := m.Submit(context.Background(), testOrder("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, 1, broker.placeCalls)

	open := m.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, domain.OrderSubmitted, open[0].Status)
}

func TestManager_DuplicateSubmissionSuppressed(t *testing.T) {
	broker := &fakeBroker{}
	m := NewManager(DefaultConfig(), broker, &fakeSink{}, clock.New(), zerolog.Nop())
	defer m.Stop()

	order := testOrder("BTCUSDT")
	order.ClientOrderID = "fixed-id"

	require.NoError(t, m.Submit(context.Background(), order))
	require.NoError(t, m.Submit(context.Background(), order))
	assert.Equal(t, 1, broker.placeCalls)
}

func TestManager_RetriesRetryableFailureThenSucceeds(t *testing.T) {
	broker := &fakeBroker{failUntil: 1, failErr: xerrors.New(xerrors.KindNetwork, true, "timeout", nil)}
	cfg := DefaultConfig()
	cfg.MaxSubmitRetry = 3
	m := NewManager(cfg, broker, &fakeSink{}, clock.NewFake(time.Unix(0, 0)), zerolog.Nop())
	defer m.Stop()

	err := m.Submit(context.Background(), testOrder("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, 2, broker.placeCalls)
}

func TestManager_NonRetryableFailureRejectsImmediately(t *testing.T) {
	broker := &fakeBroker{failUntil: 10, failErr: xerrors.New(xerrors.KindValidationRejected, false, "invalid quantity", nil)}
	m := NewManager(DefaultConfig(), broker, &fakeSink{}, clock.New(), zerolog.Nop())
	defer m.Stop()

	err := m.Submit(context.Background(), testOrder("BTCUSDT"))
	assert.Error(t, err)
	assert.Equal(t, 1, broker.placeCalls)
}

func TestManager_CancelAllIdempotent(t *testing.T) {
	broker := &fakeBroker{}
	m := NewManager(DefaultConfig(), broker, &fakeSink{}, clock.New(), zerolog.Nop())
	defer m.Stop()

	require.NoError(t, m.Submit(context.Background(), testOrder("BTCUSDT")))
	require.NoError(t, m.CancelAll(context.Background()))
	require.NoError(t, m.CancelAll(context.Background()))
	assert.Len(t, broker.cancelled, 1)
}

func TestManager_ApplyExchangeEventDropsIllegalTransition(t *testing.T) {
	broker := &fakeBroker{}
	m := NewManager(DefaultConfig(), broker, &fakeSink{}, clock.New(), zerolog.Nop())
	defer m.Stop()

	require.NoError(t, m.Submit(context.Background(), testOrder("BTCUSDT")))
	open := m.OpenOrders()
	require.Len(t, open, 1)

	illegal := open[0]
	illegal.Status = domain.OrderNew
	m.ApplyExchangeEvent(illegal)

	still := m.OpenOrders()
	require.Len(t, still, 1)
	assert.Equal(t, domain.OrderSubmitted, still[0].Status)
}
