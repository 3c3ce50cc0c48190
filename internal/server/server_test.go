package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/aristath/cryptotrader/internal/orchestrator"
	"github.com/aristath/cryptotrader/internal/risk"
	"github.com/aristath/cryptotrader/internal/signal"
)

type stubBroker struct{}

func (stubBroker) PlaceOrder(ctx context.Context, order domain.ApprovedOrder) (string, error) {
	return "exch-1", nil
}
func (stubBroker) CancelOrder(ctx context.Context, symbol, clientOrderID string) error { return nil }
func (stubBroker) GetOrder(ctx context.Context, symbol, clientOrderID string) (domain.Order, error) {
	return domain.Order{}, nil
}
func (stubBroker) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return nil, nil
}
func (stubBroker) GetPositions(ctx context.Context) ([]domain.Position, error) { return nil, nil }

// newTestServer wires a Server against a real journal store and a real
// Orchestrator (its control loop running in the background so the
// start/stop/halt/reset-circuit handlers' command channel has a reader),
// mirroring the journal package's tempdir-backed store_test.go helper.
func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator, *journal.Store) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	log := zerolog.Nop()

	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := journal.Open(path, clk, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.ApplyWallet(10000)
	store.SetCircuitSnapshot(domain.ModePaper)

	featureStore := features.NewStore(features.DefaultConfig())
	circuit := risk.NewCircuitBreaker(domain.ModePaper)
	riskEng := risk.NewEngine(risk.Config{
		MaxOpenPositions:    5,
		RiskPerTradePct:     0.02,
		KellyCapPct:         0.1,
		StopLossPct:         0.02,
		TakeProfitPct:       0.04,
		ConfidenceThreshold: 0.5,
	}, circuit, clk, log)
	policy := signal.NewPolicy(signal.Config{MinAgreeCount: 1, ConfidenceThreshold: 0.5})
	host := models.NewHost(nil, clk, log)
	bus := events.NewBus()
	sink := orchestrator.NewEventSink(store, bus, log)
	omsManager := oms.NewManager(oms.DefaultConfig(), stubBroker{}, sink, clk, log)

	orch := orchestrator.New(orchestrator.DefaultConfig(), featureStore, host, policy, riskEng, circuit, omsManager, store, bus, clk, log)

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)
	t.Cleanup(func() {
		cancel()
		orch.Stop()
	})

	srv := New(Config{
		Port:         0,
		DevMode:      true,
		Orchestrator: orch,
		Store:        store,
		Bus:          bus,
		Clk:          clk,
		Log:          log,
	})
	return srv, orch, store
}

func doRequest(srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "paper", body["mode"])
}

func TestHandleStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["open_positions"])
}

func TestHandleAccountBalance(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/account/balance", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 10000.0, body["cash_usd"])
}

func TestHandleAccountPositions_Empty(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/account/positions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandleTradeExecute_InvalidSide(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/trade/execute", tradeExecuteRequest{
		Symbol: "BTCUSDT", Side: "sideways", Confidence: 0.9,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTradeExecute_NoWarmSnapshotRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/trade/execute", tradeExecuteRequest{
		Symbol: "BTCUSDT", Side: "buy", Confidence: 0.9,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleTradingLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/trading/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/trading/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/trading/halt", haltRequest{Reason: "test_halt"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/trading/reset-circuit", resetCircuitRequest{Reason: "test_reset", Mode: "paper"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSystemStats(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/system/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, hasCPU := body["cpu_percent"]
	_, hasRAM := body["ram_percent"]
	assert.True(t, hasCPU)
	assert.True(t, hasRAM)
}
