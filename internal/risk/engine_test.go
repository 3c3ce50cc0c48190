package risk

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/domain"
)

func baseConfig() Config {
	return Config{
		MaxOpenPositions:        5,
		PerSymbolCapUsd:         20000,
		MaxPortfolioExposurePct: 0.60,
		DailyLossLimitPct:       0.05,
		VaRLimitPct:             0.10,
		VaRConfidence:           0.99,
		RiskPerTradePct:         0.01,
		KellyCapPct:             0.25,
		StopLossPct:             0.02,
		TakeProfitPct:           0.04,
		ConfidenceThreshold:     0.70,
	}
}

func newTestEngine(cfg Config) (*Engine, *CircuitBreaker) {
	cb := NewCircuitBreaker(domain.ModeLive)
	return NewEngine(cfg, cb, clock.New(), zerolog.Nop()), cb
}

func baseIntent() domain.Intent {
	return domain.Intent{Symbol: "BTCUSDT", Side: domain.SideBuy, Confidence: 0.85}
}

func baseInfo() domain.ExchangeInfo {
	return domain.ExchangeInfo{Symbol: "BTCUSDT", TickSize: 0.1, LotSize: 0.001, MinQty: 0.001}
}

func TestEngine_HaltedCircuitRejects(t *testing.T) {
	e, cb := newTestEngine(baseConfig())
	cb.Kill(clock.New().Now(), "operator")

	decision := e.Evaluate(baseIntent(), domain.PortfolioState{CashUSD: 10000}, domain.KellyStats{}, nil, baseInfo(), 50000, 500)
	assert.Nil(t, decision.Approved)
	assert.Equal(t, domain.RejectHaltedByCircuit, decision.Reason)
}

func TestEngine_ApprovesWithinLimits(t *testing.T) {
	e, _ := newTestEngine(baseConfig())
	portfolio := domain.PortfolioState{CashUSD: 10000, EquityAtOpen: 10000}

	decision := e.Evaluate(baseIntent(), portfolio, domain.KellyStats{}, nil, baseInfo(), 50000, 500)
	require.NotNil(t, decision.Approved)
	assert.Empty(t, decision.Reason)
	assert.Greater(t, decision.Approved.Quantity, 0.0)
}

func TestEngine_PositionCountCapRejectsNewSymbol(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxOpenPositions = 1
	e, _ := newTestEngine(cfg)
	portfolio := domain.PortfolioState{
		CashUSD:      10000,
		EquityAtOpen: 10000,
		Positions:    map[string]domain.Position{"ETHUSDT": {Symbol: "ETHUSDT", Size: 1, AvgEntryPrice: 2000}},
	}

	decision := e.Evaluate(baseIntent(), portfolio, domain.KellyStats{}, nil, baseInfo(), 50000, 500)
	assert.Nil(t, decision.Approved)
	assert.Equal(t, domain.RejectPositionCountCap, decision.Reason)
}

func TestEngine_PositionCountCapAllowsExistingSymbol(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxOpenPositions = 1
	e, _ := newTestEngine(cfg)
	portfolio := domain.PortfolioState{
		CashUSD:      10000,
		EquityAtOpen: 12000,
		Positions:    map[string]domain.Position{"BTCUSDT": {Symbol: "BTCUSDT", Size: 0.01, AvgEntryPrice: 50000}},
	}

	decision := e.Evaluate(baseIntent(), portfolio, domain.KellyStats{}, nil, baseInfo(), 50000, 500)
	assert.NotEqual(t, domain.RejectPositionCountCap, decision.Reason)
}

func TestEngine_SymbolExposureCapRejects(t *testing.T) {
	cfg := baseConfig()
	cfg.PerSymbolCapUsd = 1000 // existing notional (1 @ 50000) is already over the cap
	e, _ := newTestEngine(cfg)
	portfolio := domain.PortfolioState{
		CashUSD:      10000,
		EquityAtOpen: 10000,
		Positions:    map[string]domain.Position{"BTCUSDT": {Symbol: "BTCUSDT", Size: 1, AvgEntryPrice: 50000}},
	}

	decision := e.Evaluate(baseIntent(), portfolio, domain.KellyStats{}, nil, baseInfo(), 50000, 500)
	assert.Equal(t, domain.RejectSymbolExposureCap, decision.Reason)
}

// TestEngine_SymbolExposureCapClampsQuantity covers the post-fill bound
// directly: the gate passes (there's some room left under the cap), but
// Size must clamp quantity so existing-plus-new notional never exceeds
// perSymbolCapUsd, per quantity*price <= perSymbolCapUsd.
func TestEngine_SymbolExposureCapClampsQuantity(t *testing.T) {
	cfg := baseConfig()
	cfg.PerSymbolCapUsd = 10500 // existing 10000 notional, 500 of room left
	cfg.RiskPerTradePct = 0.5   // push the unclamped sizing well past the cap
	cfg.KellyCapPct = 0.5
	e, _ := newTestEngine(cfg)
	portfolio := domain.PortfolioState{
		CashUSD:      10000,
		EquityAtOpen: 10000,
		Positions:    map[string]domain.Position{"BTCUSDT": {Symbol: "BTCUSDT", Size: 0.2, AvgEntryPrice: 50000}},
	}

	decision := e.Evaluate(baseIntent(), portfolio, domain.KellyStats{}, nil, baseInfo(), 50000, 500)
	require.NotNil(t, decision.Approved)
	assert.LessOrEqual(t, decision.Approved.Quantity*50000, 500.0+1e-6)
}

func TestEngine_DailyDrawdownTripsCircuitAndRejects(t *testing.T) {
	cfg := baseConfig()
	cfg.DailyLossLimitPct = 0.01
	e, cb := newTestEngine(cfg)
	portfolio := domain.PortfolioState{
		CashUSD:          10000,
		EquityAtOpen:     10000,
		RealizedPnLToday: -500, // 5% loss, beyond the 1% limit
	}

	decision := e.Evaluate(baseIntent(), portfolio, domain.KellyStats{}, nil, baseInfo(), 50000, 500)
	assert.Equal(t, domain.RejectDailyDrawdown, decision.Reason)
	assert.True(t, cb.IsHalted())
	assert.True(t, cb.Snapshot().DailyDrawdownTripped)
}

func TestEngine_VaRBreachTripsCircuitAndRejects(t *testing.T) {
	cfg := baseConfig()
	cfg.VaRLimitPct = 0.01
	e, cb := newTestEngine(cfg)
	portfolio := domain.PortfolioState{CashUSD: 10000, EquityAtOpen: 10000}
	returns := []float64{0.01, -0.08, 0.02, -0.05, 0.03}

	decision := e.Evaluate(baseIntent(), portfolio, domain.KellyStats{}, returns, baseInfo(), 50000, 500)
	assert.Equal(t, domain.RejectVaRLimit, decision.Reason)
	assert.True(t, cb.IsHalted())
	assert.True(t, cb.Snapshot().VaRTripped)
}

func TestEngine_LowConfidenceRejects(t *testing.T) {
	e, _ := newTestEngine(baseConfig())
	intent := baseIntent()
	intent.Confidence = 0.5
	portfolio := domain.PortfolioState{CashUSD: 10000, EquityAtOpen: 10000}

	decision := e.Evaluate(intent, portfolio, domain.KellyStats{}, nil, baseInfo(), 50000, 500)
	assert.Equal(t, domain.RejectLowConfidence, decision.Reason)
}
