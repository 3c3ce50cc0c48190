package oms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/domain"
	"github.com/aristath/cryptotrader/internal/exchange/ratelimit"
	"github.com/aristath/cryptotrader/internal/xerrors"
)

// Config tunes the Manager's submission queue and retry policy.
type Config struct {
	QueueDepth      int
	MaxSubmitRetry  int
	ReconcileEvery  time.Duration
	StrategyID      string
	ClientIDCadence time.Duration
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{
		QueueDepth:      64,
		MaxSubmitRetry:  3,
		ReconcileEvery:  30 * time.Second,
		StrategyID:      "sentinel-trader",
		ClientIDCadence: DefaultCadence,
	}
}

// EventSink receives every order/position change the Manager observes
// or produces, for journaling. Implemented by the journal store's
// adapter in the orchestrator package.
type EventSink interface {
	RecordOrder(order domain.Order)
	RecordPosition(position domain.Position)
	RecordReconciliationDiff(diff domain.ReconciliationDiff)
}

type submission struct {
	order domain.ApprovedOrder
	done  chan error
}

// Manager owns the open-order book and drives a Broker (live exchange
// client or paper simulator) through submission, cancellation,
// reconciliation and emergency flattening. Submissions flow through a
// bounded channel so a slow or rate-limited broker applies backpressure
// to callers instead of silently dropping orders.
type Manager struct {
	cfg    Config
	broker Broker
	sink   EventSink
	clk    clock.Clock
	log    zerolog.Logger

	mu       sync.RWMutex
	orders   map[string]domain.Order // keyed by clientOrderId
	queue    chan submission
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewManager builds a Manager and starts its background submission
// worker. Callers must call Stop to drain it at shutdown.
func NewManager(cfg Config, broker Broker, sink EventSink, clk clock.Clock, log zerolog.Logger) *Manager {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	m := &Manager{
		cfg:    cfg,
		broker: broker,
		sink:   sink,
		clk:    clk,
		log:    log.With().Str("component", "oms").Logger(),
		orders: make(map[string]domain.Order),
		queue:  make(chan submission, cfg.QueueDepth),
		stopCh: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.submitLoop()
	return m
}

// Stop drains the submission queue and stops the background worker.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

// Submit enqueues order for submission, deriving its idempotency key
// if the caller hasn't already set one, and blocks until the queue has
// room — backpressure rather than a dropped order when the broker is
// falling behind.
func (m *Manager) Submit(ctx context.Context, order domain.ApprovedOrder) error {
	if order.ClientOrderID == "" {
		order.ClientOrderID = DeriveClientOrderID(m.cfg.StrategyID, order.Intent.Symbol, order.Intent.Side, order.Intent.AsOf, m.cfg.ClientIDCadence)
	}

	if existing, ok := m.lookup(order.ClientOrderID); ok {
		m.log.Debug().Str("client_order_id", order.ClientOrderID).Str("status", string(existing.Status)).Msg("duplicate submission suppressed")
		return nil
	}

	done := make(chan error, 1)
	select {
	case m.queue <- submission{order: order, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopCh:
		return fmt.Errorf("oms: manager stopped")
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) lookup(clientOrderID string) (domain.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[clientOrderID]
	return o, ok
}

func (m *Manager) submitLoop() {
	defer m.wg.Done()
	for {
		select {
		case sub := <-m.queue:
			sub.done <- m.doSubmit(sub.order)
		case <-m.stopCh:
			for {
				select {
				case sub := <-m.queue:
					sub.done <- fmt.Errorf("oms: manager stopping, submission discarded")
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) doSubmit(order domain.ApprovedOrder) error {
	now := m.clk.Now()
	local := domain.Order{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Intent.Symbol,
		Side:          order.Intent.Side,
		Status:        domain.OrderNew,
		EntryType:     order.EntryType,
		RequestedQty:  order.Quantity,
		ReduceOnly:    order.ReduceOnly,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.storeOrder(local)

	var lastErr error
	maxRetry := m.cfg.MaxSubmitRetry
	if maxRetry <= 0 {
		maxRetry = 1
	}
	for attempt := 0; attempt < maxRetry; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		exchangeOrderID, err := m.broker.PlaceOrder(ctx, order)
		cancel()
		if err == nil {
			local.Status = domain.OrderSubmitted
			local.ExchangeOrderID = exchangeOrderID
			local.UpdatedAt = m.clk.Now()
			m.storeOrder(local)
			return nil
		}
		lastErr = err

		xerr, ok := xerrors.AsXError(err)
		if !ok || !xerr.Retryable {
			local.Status = domain.OrderRejected
			local.UpdatedAt = m.clk.Now()
			m.storeOrder(local)
			return err
		}
		m.clk.Sleep(ratelimit.Backoff429(attempt))
	}

	local.Status = domain.OrderRejected
	local.UpdatedAt = m.clk.Now()
	m.storeOrder(local)
	return fmt.Errorf("oms: submit exhausted retries: %w", lastErr)
}

func (m *Manager) storeOrder(o domain.Order) {
	m.mu.Lock()
	if o.Status.IsTerminal() {
		delete(m.orders, o.ClientOrderID)
	} else {
		m.orders[o.ClientOrderID] = o
	}
	m.mu.Unlock()
	if m.sink != nil {
		m.sink.RecordOrder(o)
	}
}

// Cancel cancels an open order. Idempotent: cancelling an order that's
// already terminal or unknown is not an error.
func (m *Manager) Cancel(ctx context.Context, symbol, clientOrderID string) error {
	existing, ok := m.lookup(clientOrderID)
	if !ok || existing.Status.IsTerminal() {
		return nil
	}
	if err := m.broker.CancelOrder(ctx, symbol, clientOrderID); err != nil {
		xerr, ok := xerrors.AsXError(err)
		if ok && xerr.Kind == xerrors.KindExchangeError && xerr.Code == orderNotFoundCode {
			existing.Status = domain.OrderCancelled
			existing.UpdatedAt = m.clk.Now()
			m.storeOrder(existing)
			return nil
		}
		return fmt.Errorf("cancel order %s: %w", clientOrderID, err)
	}
	existing.Status = domain.OrderCancelled
	existing.UpdatedAt = m.clk.Now()
	m.storeOrder(existing)
	return nil
}

// orderNotFoundCode is the exchange error code returned when cancelling
// an order that has already been filled or cancelled out of band.
const orderNotFoundCode = "110001"

// CancelAll cancels every tracked open order, continuing past
// individual failures and returning the last error seen.
func (m *Manager) CancelAll(ctx context.Context) error {
	m.mu.RLock()
	open := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		open = append(open, o)
	}
	m.mu.RUnlock()

	var lastErr error
	for _, o := range open {
		if err := m.Cancel(ctx, o.Symbol, o.ClientOrderID); err != nil {
			lastErr = err
			m.log.Error().Err(err).Str("client_order_id", o.ClientOrderID).Msg("cancel failed during cancel-all")
		}
	}
	return lastErr
}

// FlattenAll cancels every open order, then submits reduce-only market
// orders to close every open position. Used by the operator halt path
// and by a circuit trip that demands an immediate flat book.
func (m *Manager) FlattenAll(ctx context.Context) error {
	if err := m.CancelAll(ctx); err != nil {
		m.log.Error().Err(err).Msg("cancel-all encountered errors during flatten")
	}

	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("flatten: list positions: %w", err)
	}

	var lastErr error
	for _, pos := range positions {
		if pos.Size == 0 {
			continue
		}
		closingSide := domain.SideSell
		if pos.Side == domain.SideSell {
			closingSide = domain.SideBuy
		}
		order := domain.ApprovedOrder{
			Intent: domain.Intent{
				Symbol: pos.Symbol,
				Side:   closingSide,
				AsOf:   m.clk.Now(),
			},
			Quantity:      pos.Size,
			EntryType:     domain.EntryMarket,
			ReduceOnly:    true,
			ClientOrderID: DeriveClientOrderID(m.cfg.StrategyID+"-flatten", pos.Symbol, closingSide, m.clk.Now(), time.Second),
		}
		if err := m.Submit(ctx, order); err != nil {
			lastErr = err
			m.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("flatten order failed")
		}
	}
	return lastErr
}

// ApplyExchangeEvent folds an order update observed from the market
// data stream into local state, enforcing the order lifecycle state
// machine: a transition the machine disallows is logged and dropped
// rather than corrupting local state.
func (m *Manager) ApplyExchangeEvent(order domain.Order) {
	existing, ok := m.lookup(order.ClientOrderID)
	if ok && !domain.CanTransition(existing.Status, order.Status) {
		m.log.Warn().
			Str("client_order_id", order.ClientOrderID).
			Str("from", string(existing.Status)).
			Str("to", string(order.Status)).
			Msg("dropped illegal order transition from exchange event")
		return
	}
	order.UpdatedAt = m.clk.Now()
	m.storeOrder(order)
}

// OpenOrders returns a snapshot of currently tracked open orders.
func (m *Manager) OpenOrders() []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out
}

// Reconcile compares local open-order state against the broker's
// authoritative view and journals any discrepancy, exchange-wins: the
// local record is corrected to match what the exchange reports.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.mu.RLock()
	local := make(map[string]domain.Order, len(m.orders))
	for k, v := range m.orders {
		local[k] = v
	}
	m.mu.RUnlock()

	seenSymbols := make(map[string]bool)
	for _, o := range local {
		seenSymbols[o.Symbol] = true
	}

	remote := make(map[string]domain.Order)
	for symbol := range seenSymbols {
		orders, err := m.broker.GetOpenOrders(ctx, symbol)
		if err != nil {
			return fmt.Errorf("reconcile: list open orders for %s: %w", symbol, err)
		}
		for _, o := range orders {
			remote[o.ClientOrderID] = o
		}
	}

	now := m.clk.Now()
	for id, localOrder := range local {
		remoteOrder, stillOpen := remote[id]
		if !stillOpen {
			exchangeOrder, err := m.broker.GetOrder(ctx, localOrder.Symbol, id)
			if err != nil {
				continue
			}
			if exchangeOrder.Status != localOrder.Status {
				m.recordDiff(id, "status", string(localOrder.Status), string(exchangeOrder.Status), now)
				exchangeOrder.UpdatedAt = now
				m.storeOrder(exchangeOrder)
			}
			continue
		}
		if remoteOrder.Status != localOrder.Status {
			m.recordDiff(id, "status", string(localOrder.Status), string(remoteOrder.Status), now)
		}
		if remoteOrder.FilledQty != localOrder.FilledQty {
			m.recordDiff(id, "filled_qty", fmt.Sprintf("%g", localOrder.FilledQty), fmt.Sprintf("%g", remoteOrder.FilledQty), now)
		}
		remoteOrder.UpdatedAt = now
		m.storeOrder(remoteOrder)
	}
	return nil
}

func (m *Manager) recordDiff(clientOrderID, field, local, exchange string, at time.Time) {
	diff := domain.ReconciliationDiff{
		ClientOrderID: clientOrderID,
		Field:         field,
		LocalValue:    local,
		ExchangeValue: exchange,
		ObservedAt:    at,
	}
	m.log.Warn().
		Str("client_order_id", clientOrderID).
		Str("field", field).
		Str("local", local).
		Str("exchange", exchange).
		Msg("reconciliation diff")
	if m.sink != nil {
		m.sink.RecordReconciliationDiff(diff)
	}
}
