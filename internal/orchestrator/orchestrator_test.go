package orchestrator

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
	"github.com/aristath/cryptotrader/internal/events"
	"github.com/aristath/cryptotrader/internal/features"
	"github.com/aristath/cryptotrader/internal/journal"
	"github.com/aristath/cryptotrader/internal/models"
	"github.com/aristath/cryptotrader/internal/oms"
	"github.com/aristath/cryptotrader/internal/risk"
	"github.com/aristath/cryptotrader/internal/signal"
)

type fakeBroker struct {
	placeCalls int
	lastOrder  domain.ApprovedOrder
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, order domain.ApprovedOrder) (string, error) {
	f.placeCalls++
	f.lastOrder = order
	return "exch-1", nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	return nil
}

func (f *fakeBroker) GetOrder(ctx context.Context, symbol, clientOrderID string) (domain.Order, error) {
	return domain.Order{ClientOrderID: clientOrderID}, nil
}

func (f *fakeBroker) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func openTestStore(t *testing.T) *journal.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := journal.Open(path, clock.NewFake(time.Unix(1700000000, 0)), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// warmFeatures feeds enough synthetic candles into store for symbol/tf
// to flip FeatureVector.Complete, satisfying ExecuteManualTrade's guard.
func warmFeatures(store *features.Store, symbol string, tf domain.Timeframe, clk clock.Clock) {
	base := clk.Now().Truncate(time.Minute).Add(-250 * time.Minute)
	price := 100.0
	for i := 0; i < 250; i++ {
		price += 0.1
		store.OnCandleClose(domain.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price + 0.5,
			Low:       price - 0.5,
			Close:     price,
			Volume:    10,
		})
	}
}

func newTestOrchestrator(t *testing.T, broker oms.Broker) (*Orchestrator, *journal.Store) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	log := zerolog.Nop()

	store := openTestStore(t)
	store.ApplyWallet(10000)

	featureStore := features.NewStore(features.DefaultConfig())

	circuit := risk.NewCircuitBreaker(domain.ModePaper)
	riskEng := risk.NewEngine(risk.Config{
		MaxOpenPositions:        5,
		PerSymbolCapUsd:         1e9,
		MaxPortfolioExposurePct: 1,
		DailyLossLimitPct:       1,
		VaRLimitPct:             1,
		VaRConfidence:           0.95,
		RiskPerTradePct:         0.02,
		KellyCapPct:             0.1,
		StopLossPct:             0.02,
		TakeProfitPct:           0.04,
		ConfidenceThreshold:     0.5,
	}, circuit, clk, log)

	policy := signal.NewPolicy(signal.Config{MinAgreeCount: 1, ConfidenceThreshold: 0.5})
	host := models.NewHost(nil, clk, log)

	bus := events.NewBus()
	sink := NewEventSink(store, bus, log)
	omsManager := oms.NewManager(oms.DefaultConfig(), broker, sink, clk, log)

	cfg := DefaultConfig()
	cfg.Symbols = []string{"BTCUSDT"}

	orch := New(cfg, featureStore, host, policy, riskEng, circuit, omsManager, store, bus, clk, log)
	orch.SetExchangeInfo("BTCUSDT", domain.ExchangeInfo{Symbol: "BTCUSDT"})

	warmFeatures(featureStore, "BTCUSDT", cfg.Timeframe, clk)

	t.Cleanup(orch.Stop)
	return orch, store
}

func TestExecuteManualTrade_ApprovedOrderReachesBroker(t *testing.T) {
	broker := &fakeBroker{}
	orch, store := newTestOrchestrator(t, broker)

	err := orch.ExecuteManualTrade(context.Background(), "BTCUSDT", domain.SideBuy, 0.9)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return broker.placeCalls == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, domain.SideBuy, broker.lastOrder.Intent.Side)
	assert.Greater(t, broker.lastOrder.Quantity, 0.0)

	events, err := store.EventsSince(context.Background(), 0)
	require.NoError(t, err)
	var sawIntent, sawApprovedDecision bool
	for _, ev := range events {
		switch ev.Type {
		case domain.EventIntentFormed:
			sawIntent = true
		case domain.EventRiskDecided:
			require.NotNil(t, ev.RiskDecision)
			sawApprovedDecision = ev.RiskDecision.Approved
		}
	}
	assert.True(t, sawIntent, "expected an IntentFormed event to be journaled")
	assert.True(t, sawApprovedDecision, "expected the risk decision to be approved")
}

func TestExecuteManualTrade_NoWarmSnapshotRejected(t *testing.T) {
	broker := &fakeBroker{}
	clk := clock.NewFake(time.Unix(1700000000, 0))
	log := zerolog.Nop()
	store := openTestStore(t)

	featureStore := features.NewStore(features.DefaultConfig())
	circuit := risk.NewCircuitBreaker(domain.ModePaper)
	riskEng := risk.NewEngine(risk.Config{ConfidenceThreshold: 0.5}, circuit, clk, log)
	policy := signal.NewPolicy(signal.Config{MinAgreeCount: 1, ConfidenceThreshold: 0.5})
	host := models.NewHost(nil, clk, log)
	bus := events.NewBus()
	sink := NewEventSink(store, bus, log)
	omsManager := oms.NewManager(oms.DefaultConfig(), broker, sink, clk, log)

	cfg := DefaultConfig()
	cfg.Symbols = []string{"ETHUSDT"}
	orch := New(cfg, featureStore, host, policy, riskEng, circuit, omsManager, store, bus, clk, log)
	t.Cleanup(orch.Stop)

	err := orch.ExecuteManualTrade(context.Background(), "ETHUSDT", domain.SideBuy, 0.9)
	assert.Error(t, err)
	assert.Equal(t, 0, broker.placeCalls)
}
