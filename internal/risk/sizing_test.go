package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/cryptotrader/internal/domain"
)

func TestSize_BasicBuySizing(t *testing.T) {
	result := Size(domain.SideBuy, SizeInputs{
		Equity:          10000,
		EntryPrice:      100,
		ATR:             2,
		RiskPerTradePct: 0.01,
		KellyCapPct:     0.25,
		StopLossPct:     0.02,
		TakeProfitPct:   0.04,
		Info:            domain.ExchangeInfo{LotSize: 0.01, MinQty: 0.01, TickSize: 0.01},
	})

	assert.Greater(t, result.Quantity, 0.0)
	assert.InDelta(t, 98.0, result.StopLossPrice, 1e-9)
	assert.InDelta(t, 104.0, result.TakeProfitPrice, 1e-9)
}

func TestSize_SellInvertsStopAndTarget(t *testing.T) {
	result := Size(domain.SideSell, SizeInputs{
		Equity:          10000,
		EntryPrice:      100,
		ATR:             2,
		RiskPerTradePct: 0.01,
		KellyCapPct:     0.25,
		StopLossPct:     0.02,
		TakeProfitPct:   0.04,
		Info:            domain.ExchangeInfo{LotSize: 0.01, TickSize: 0.01},
	})

	assert.InDelta(t, 102.0, result.StopLossPrice, 1e-9)
	assert.InDelta(t, 96.0, result.TakeProfitPrice, 1e-9)
}

func TestSize_ZeroEquityOrPriceYieldsNothing(t *testing.T) {
	result := Size(domain.SideBuy, SizeInputs{Equity: 0, EntryPrice: 100})
	assert.Equal(t, 0.0, result.Quantity)

	result = Size(domain.SideBuy, SizeInputs{Equity: 10000, EntryPrice: 0})
	assert.Equal(t, 0.0, result.Quantity)
}

func TestSize_BelowMinQtyRoundsToZero(t *testing.T) {
	result := Size(domain.SideBuy, SizeInputs{
		Equity:          100,
		EntryPrice:      50000,
		ATR:             1000,
		RiskPerTradePct: 0.001,
		KellyCapPct:     0.25,
		Info:            domain.ExchangeInfo{LotSize: 0.001, MinQty: 1},
	})
	assert.Equal(t, 0.0, result.Quantity)
}

func TestSize_KellyCapClipsRiskBudget(t *testing.T) {
	lowCap := Size(domain.SideBuy, SizeInputs{
		Equity:          10000,
		EntryPrice:      100,
		ATR:             2,
		RiskPerTradePct: 0.5,
		KellyCapPct:     0.01,
		Info:            domain.ExchangeInfo{LotSize: 0.01},
	})
	highCap := Size(domain.SideBuy, SizeInputs{
		Equity:          10000,
		EntryPrice:      100,
		ATR:             2,
		RiskPerTradePct: 0.5,
		KellyCapPct:     0.5,
		Info:            domain.ExchangeInfo{LotSize: 0.01},
	})
	assert.Less(t, lowCap.Quantity, highCap.Quantity)
}

func TestRoundDownToLot(t *testing.T) {
	assert.InDelta(t, 1.23, roundDownToLot(1.239, 0.01), 1e-9)
	assert.Equal(t, 5.0, roundDownToLot(5.0, 0))
}

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 100.50, roundToTick(100.504, 0.5), 1e-9)
}
