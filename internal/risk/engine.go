// Package risk is the Risk Engine: an ordered, short-circuiting chain of
// gate checks that turns an Intent into either an ApprovedOrder or a
// typed rejection, in the style of a ValidateTrade layering
// (checkTradingMode, checkMarketHours, ... each an independent method,
// first failure wins) generalized from brokerage-specific layers
// (market hours, buy cooldown, minimum hold time) to the portfolio-risk
// layers a leveraged trading system needs (circuit mode, position
// count, exposure caps, drawdown, VaR, confidence floor).
package risk

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/domain"
)

// Config holds the limits the Engine enforces, resolved once from
// config.Config at boot.
type Config struct {
	MaxOpenPositions        int
	PerSymbolCapUsd         float64
	MaxPortfolioExposurePct float64
	DailyLossLimitPct       float64
	VaRLimitPct             float64
	VaRConfidence           float64
	RiskPerTradePct         float64
	KellyCapPct             float64
	StopLossPct             float64
	TakeProfitPct           float64
	ConfidenceThreshold     float64
}

// Engine evaluates Intents against portfolio state and sticky circuit
// breakers.
type Engine struct {
	cfg     Config
	circuit *CircuitBreaker
	clk     clock.Clock
	log     zerolog.Logger
}

// NewEngine builds an Engine sharing the given CircuitBreaker with the
// rest of the pipeline (the Orchestrator reads the same breaker to know
// whether to keep ticking).
func NewEngine(cfg Config, circuit *CircuitBreaker, clk clock.Clock, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, circuit: circuit, clk: clk, log: log.With().Str("component", "risk-engine").Logger()}
}

// Evaluate runs the ordered gate chain against intent and either sizes
// it into an ApprovedOrder or returns a RiskDecision carrying a
// RejectReason. portfolio, kelly, returns, and info are caller-supplied
// read-only snapshots — the Engine never mutates shared state.
func (e *Engine) Evaluate(
	intent domain.Intent,
	portfolio domain.PortfolioState,
	kelly domain.KellyStats,
	returnsWindow []float64,
	info domain.ExchangeInfo,
	entryPrice, atr float64,
) domain.RiskDecision {
	now := e.clk.Now()
	decision := domain.RiskDecision{Intent: intent, AsOf: now}

	if reason, ok := e.checkGates(intent, portfolio, returnsWindow, now); !ok {
		decision.Reason = reason
		return decision
	}

	sized := Size(intent.Side, SizeInputs{
		Equity:              portfolio.Equity(),
		EntryPrice:          entryPrice,
		ATR:                 atr,
		RiskPerTradePct:     e.cfg.RiskPerTradePct,
		KellyCapPct:         e.cfg.KellyCapPct,
		Kelly:               kelly,
		StopLossPct:         e.cfg.StopLossPct,
		TakeProfitPct:       e.cfg.TakeProfitPct,
		Info:                info,
		ExistingNotionalUSD: portfolio.NotionalExposure(intent.Symbol),
		PerSymbolCapUsd:     e.cfg.PerSymbolCapUsd,
	})
	if sized.Quantity <= 0 {
		decision.Reason = domain.RejectSymbolExposureCap
		return decision
	}

	decision.Approved = &domain.ApprovedOrder{
		Intent:          intent,
		Quantity:        sized.Quantity,
		EntryType:       domain.EntryMarket,
		StopLossPrice:   sized.StopLossPrice,
		TakeProfitPrice: sized.TakeProfitPrice,
		ReduceOnly:      false,
	}
	return decision
}

// checkGates runs gates 1-7 in spec order, first failure wins.
func (e *Engine) checkGates(intent domain.Intent, portfolio domain.PortfolioState, returnsWindow []float64, now time.Time) (domain.RejectReason, bool) {
	if e.circuit.IsHalted() {
		return domain.RejectHaltedByCircuit, false
	}

	if len(portfolio.Positions) >= e.cfg.MaxOpenPositions {
		if _, alreadyOpen := portfolio.Positions[intent.Symbol]; !alreadyOpen {
			return domain.RejectPositionCountCap, false
		}
	}

	equity := portfolio.Equity()
	if equity <= 0 {
		return domain.RejectPortfolioExposure, false
	}

	// Gate 3 is a USD notional cap, not a fraction of equity: reject
	// outright only once the symbol is already at or over the cap, with
	// no room left for any fill at all. The post-fill bound — existing
	// notional plus the would-be order's notional ≤ perSymbolCapUsd — is
	// enforced by clamping the sized quantity below, since the order's
	// notional isn't known until sizing runs.
	symbolExposure := portfolio.NotionalExposure(intent.Symbol)
	if e.cfg.PerSymbolCapUsd > 0 && symbolExposure >= e.cfg.PerSymbolCapUsd {
		return domain.RejectSymbolExposureCap, false
	}

	if portfolio.TotalNotional()/equity > e.cfg.MaxPortfolioExposurePct {
		return domain.RejectPortfolioExposure, false
	}

	dailyPnL := portfolio.RealizedPnLToday
	for _, pos := range portfolio.Positions {
		dailyPnL += pos.UnrealizedPnL
	}
	if portfolio.EquityAtOpen > 0 && dailyPnL <= -e.cfg.DailyLossLimitPct*portfolio.EquityAtOpen {
		e.circuit.TripDailyDrawdown(now)
		return domain.RejectDailyDrawdown, false
	}

	if len(returnsWindow) > 0 {
		varPct := HistoricalVaR(returnsWindow, e.cfg.VaRConfidence)
		if varPct > e.cfg.VaRLimitPct {
			e.circuit.TripVaR(now)
			return domain.RejectVaRLimit, false
		}
	}

	if intent.Confidence < e.cfg.ConfidenceThreshold {
		return domain.RejectLowConfidence, false
	}

	return "", true
}
