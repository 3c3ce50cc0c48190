package prices

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/cryptotrader/internal/domain"
)

func TestCache_LastPriceUnknownSymbol(t *testing.T) {
	c := NewCache()
	_, ok := c.LastPrice("BTCUSDT")
	assert.False(t, ok)
}

func TestCache_UpdateFromTicker(t *testing.T) {
	c := NewCache()
	c.Update(domain.MarketEvent{
		Type:   domain.MarketEventTicker,
		Ticker: &domain.Ticker{Symbol: "BTCUSDT", LastPrice: 65000, AsOf: time.Now()},
	})
	p, ok := c.LastPrice("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 65000.0, p)
}

func TestCache_UpdateFromTrade(t *testing.T) {
	c := NewCache()
	c.Update(domain.MarketEvent{
		Type:  domain.MarketEventTrade,
		Trade: &domain.Trade{Symbol: "ETHUSDT", Price: 3200, Side: domain.SideBuy},
	})
	p, ok := c.LastPrice("ETHUSDT")
	assert.True(t, ok)
	assert.Equal(t, 3200.0, p)
}

func TestCache_UpdateFromKlineClose(t *testing.T) {
	c := NewCache()
	c.Update(domain.MarketEvent{
		Type:   domain.MarketEventKlineClose,
		Candle: &domain.Candle{Symbol: "BTCUSDT", Close: 64500},
	})
	p, ok := c.LastPrice("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 64500.0, p)
}

func TestCache_IgnoresNonPositiveAndMismatchedPayloads(t *testing.T) {
	c := NewCache()
	c.Update(domain.MarketEvent{Type: domain.MarketEventTicker, Ticker: nil})
	c.Update(domain.MarketEvent{Type: domain.MarketEventTicker, Ticker: &domain.Ticker{Symbol: "BTCUSDT", LastPrice: 0}})
	c.Update(domain.MarketEvent{Type: domain.MarketEventWallet})
	_, ok := c.LastPrice("BTCUSDT")
	assert.False(t, ok)
}

func TestCache_ConcurrentUpdatesAreRaceFree(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Update(domain.MarketEvent{
				Type:   domain.MarketEventTicker,
				Ticker: &domain.Ticker{Symbol: "BTCUSDT", LastPrice: float64(n + 1)},
			})
		}(i)
	}
	wg.Wait()
	p, ok := c.LastPrice("BTCUSDT")
	assert.True(t, ok)
	assert.Greater(t, p, 0.0)
}
