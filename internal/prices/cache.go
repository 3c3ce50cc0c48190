// Package prices is a minimal top-of-book cache fed by the Market Data
// Gateway's event stream, grounded on the teacher's websocket client
// caching the latest ticker price per symbol in memory rather than
// round-tripping to the exchange on every read — generalized into its
// own package so it can double as oms.PriceSource for the paper broker.
package prices

import (
	"sync"

	"github.com/aristath/cryptotrader/internal/domain"
)

// Cache tracks the last observed trade, ticker, or candle-close price
// per symbol.
type Cache struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewCache builds an empty Cache.
func NewCache() *Cache {
	return &Cache{prices: make(map[string]float64)}
}

// Update folds a MarketEvent's price, if it carries one, into the cache.
func (c *Cache) Update(ev domain.MarketEvent) {
	var symbol string
	var price float64
	switch ev.Type {
	case domain.MarketEventTicker:
		if ev.Ticker == nil {
			return
		}
		symbol, price = ev.Ticker.Symbol, ev.Ticker.LastPrice
	case domain.MarketEventTrade:
		if ev.Trade == nil {
			return
		}
		symbol, price = ev.Trade.Symbol, ev.Trade.Price
	case domain.MarketEventKlineClose:
		if ev.Candle == nil {
			return
		}
		symbol, price = ev.Candle.Symbol, ev.Candle.Close
	default:
		return
	}
	if price <= 0 {
		return
	}
	c.mu.Lock()
	c.prices[symbol] = price
	c.mu.Unlock()
}

// LastPrice implements oms.PriceSource.
func (c *Cache) LastPrice(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	return p, ok
}
