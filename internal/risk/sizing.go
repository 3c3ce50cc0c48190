package risk

import (
	"math"

	"github.com/aristath/cryptotrader/internal/domain"
)

// SizeInputs bundles everything Size needs to turn an approved Intent
// into a quantity and protective prices.
type SizeInputs struct {
	Equity          float64
	EntryPrice      float64
	ATR             float64 // recent ATR for the symbol's timeframe
	RiskPerTradePct float64
	KellyCapPct     float64
	Kelly           domain.KellyStats
	StopLossPct     float64
	TakeProfitPct   float64
	Info            domain.ExchangeInfo

	// ExistingNotionalUSD is the symbol's current notional exposure
	// before this fill; PerSymbolCapUsd bounds existing+new notional,
	// clamping the sized quantity rather than rejecting outright so a
	// partially-filled symbol can still take a smaller top-up order.
	ExistingNotionalUSD float64
	PerSymbolCapUsd     float64
}

// SizeResult is the sized, priced output of Size.
type SizeResult struct {
	Quantity        float64
	StopLossPrice   float64
	TakeProfitPrice float64
}

// Size computes a position size per the risk-per-trade / ATR /
// Kelly-cap cascade:
//  1. base risk = equity × riskPerTradePct
//  2. volatility-adjusted = base risk / ATR (normalizes to instrument
//     risk — a high-ATR symbol gets a smaller size for the same risk
//     budget)
//  3. Kelly-capped: the fraction of equity actually risked is clipped to
//     the rolling Kelly fraction, with riskPerTradePct as a hard ceiling
//  4. USD-capped: if a per-symbol notional cap is configured, quantity is
//     clamped so existing-plus-new notional never exceeds it
//  5. lot-rounded and floored at the exchange's minimum quantity
func Size(side domain.Side, in SizeInputs) SizeResult {
	if in.EntryPrice <= 0 || in.Equity <= 0 {
		return SizeResult{}
	}

	atr := in.ATR
	if atr <= 0 {
		atr = in.EntryPrice * 0.01 // fallback: 1% of price when ATR is unavailable
	}

	kellyFraction := in.Kelly.Fraction(in.RiskPerTradePct)
	cappedFraction := math.Min(kellyFraction, in.KellyCapPct)
	riskBudgetUSD := in.Equity * cappedFraction

	// volatility-adjusted units: risk budget divided by per-unit ATR risk.
	rawQty := riskBudgetUSD / atr

	if in.PerSymbolCapUsd > 0 {
		roomUSD := in.PerSymbolCapUsd - in.ExistingNotionalUSD
		if roomUSD <= 0 {
			return SizeResult{}
		}
		maxQtyByCap := roomUSD / in.EntryPrice
		if rawQty > maxQtyByCap {
			rawQty = maxQtyByCap
		}
	}

	qty := roundDownToLot(rawQty, in.Info.LotSize)
	if in.Info.MinQty > 0 && qty < in.Info.MinQty {
		qty = 0
	}

	var stopLoss, takeProfit float64
	switch side {
	case domain.SideBuy:
		stopLoss = in.EntryPrice * (1 - in.StopLossPct)
		takeProfit = in.EntryPrice * (1 + in.TakeProfitPct)
	case domain.SideSell:
		stopLoss = in.EntryPrice * (1 + in.StopLossPct)
		takeProfit = in.EntryPrice * (1 - in.TakeProfitPct)
	}

	return SizeResult{
		Quantity:        qty,
		StopLossPrice:   roundToTick(stopLoss, in.Info.TickSize),
		TakeProfitPrice: roundToTick(takeProfit, in.Info.TickSize),
	}
}

func roundDownToLot(qty, lotSize float64) float64 {
	if lotSize <= 0 {
		return qty
	}
	return math.Floor(qty/lotSize) * lotSize
}

func roundToTick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	return math.Round(price/tickSize) * tickSize
}
