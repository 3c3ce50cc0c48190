package oms

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/domain"
)

// PriceSource is the top-of-book feed the paper simulator fills
// against. The Gateway's live ticker cache implements this.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// PaperConfig controls the simulator's fill model.
type PaperConfig struct {
	SlippageBps   float64
	StartingCash  float64
}

// DefaultPaperConfig returns conservative simulator defaults.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{SlippageBps: 5, StartingCash: 10000}
}

// PaperBroker fills market orders immediately at the last observed
// price plus a fixed slippage allowance, and tracks a local position
// book exactly like a live exchange would report one. It implements
// Broker so the rest of the pipeline (sizing, risk, journaling)
// behaves identically whether the configured mode is live or paper.
type PaperBroker struct {
	cfg    PaperConfig
	prices PriceSource
	clk    clock.Clock
	log    zerolog.Logger

	mu        sync.Mutex
	orders    map[string]domain.Order
	positions map[string]domain.Position
	cashUSD   float64
}

// NewPaperBroker builds a paper trading simulator seeded with starting cash.
func NewPaperBroker(cfg PaperConfig, prices PriceSource, clk clock.Clock, log zerolog.Logger) *PaperBroker {
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = DefaultPaperConfig().StartingCash
	}
	return &PaperBroker{
		cfg:       cfg,
		prices:    prices,
		clk:       clk,
		log:       log.With().Str("component", "paper-broker").Logger(),
		orders:    make(map[string]domain.Order),
		positions: make(map[string]domain.Position),
		cashUSD:   cfg.StartingCash,
	}
}

// PlaceOrder fills immediately against the last observed price, applying
// configured slippage against the order's direction, and updates the
// simulated position book.
func (p *PaperBroker) PlaceOrder(ctx context.Context, order domain.ApprovedOrder) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices.LastPrice(order.Intent.Symbol)
	if !ok {
		return "", fmt.Errorf("paper broker: no price available for %s", order.Intent.Symbol)
	}

	slip := price * p.cfg.SlippageBps / 10000
	fillPrice := price
	switch order.Intent.Side {
	case domain.SideBuy:
		fillPrice += slip
	case domain.SideSell:
		fillPrice -= slip
	}

	exchangeOrderID := "paper-" + uuid.NewString()
	now := p.clk.Now()

	o := domain.Order{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: exchangeOrderID,
		Symbol:          order.Intent.Symbol,
		Side:            order.Intent.Side,
		Status:          domain.OrderFilled,
		EntryType:       order.EntryType,
		RequestedQty:    order.Quantity,
		FilledQty:       order.Quantity,
		AvgFillPrice:    fillPrice,
		ReduceOnly:      order.ReduceOnly,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	p.orders[order.ClientOrderID] = o
	p.applyFill(o)

	return exchangeOrderID, nil
}

// applyFill folds a filled order into the simulated position and cash
// book. Must be called with mu held.
func (p *PaperBroker) applyFill(o domain.Order) {
	notional := o.FilledQty * o.AvgFillPrice
	pos, exists := p.positions[o.Symbol]
	if !exists {
		pos = domain.Position{Symbol: o.Symbol, Side: o.Side}
	}

	switch {
	case !exists || pos.Size == 0:
		pos.Side = o.Side
		pos.Size = o.FilledQty
		pos.AvgEntryPrice = o.AvgFillPrice
		p.cashUSD -= notional
	case pos.Side == o.Side:
		totalCost := pos.Size*pos.AvgEntryPrice + notional
		pos.Size += o.FilledQty
		pos.AvgEntryPrice = totalCost / pos.Size
		p.cashUSD -= notional
	default:
		closing := o.FilledQty
		if closing > pos.Size {
			closing = pos.Size
		}
		realized := closing * (o.AvgFillPrice - pos.AvgEntryPrice)
		if pos.Side == domain.SideSell {
			realized = -realized
		}
		p.cashUSD += realized + closing*pos.AvgEntryPrice
		remaining := o.FilledQty - closing
		pos.Size -= closing
		if pos.Size <= 0 && remaining > 0 {
			pos.Side = o.Side
			pos.Size = remaining
			pos.AvgEntryPrice = o.AvgFillPrice
			p.cashUSD -= remaining * o.AvgFillPrice
		}
	}

	if pos.Size <= 0 {
		delete(p.positions, o.Symbol)
	} else {
		p.positions[o.Symbol] = pos
	}
}

// CancelOrder is a no-op beyond bookkeeping: paper orders fill
// synchronously in PlaceOrder, so there is never anything left open to
// cancel by the time a caller observes the clientOrderId.
func (p *PaperBroker) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.orders[clientOrderID]; ok && !o.Status.IsTerminal() {
		o.Status = domain.OrderCancelled
		o.UpdatedAt = p.clk.Now()
		p.orders[clientOrderID] = o
	}
	return nil
}

// GetOrder returns the simulator's record of a previously placed order.
func (p *PaperBroker) GetOrder(ctx context.Context, symbol, clientOrderID string) (domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[clientOrderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("paper broker: unknown order %s", clientOrderID)
	}
	return o, nil
}

// GetOpenOrders always returns empty: fills are synchronous, so the
// simulator never has resting orders.
func (p *PaperBroker) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return nil, nil
}

// GetPositions returns the simulator's current position book.
func (p *PaperBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

// CashUSD returns the simulator's current simulated cash balance.
func (p *PaperBroker) CashUSD() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cashUSD
}

var _ Broker = (*PaperBroker)(nil)
