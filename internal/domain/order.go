package domain

import "time"

// EntryType is market or limit order placement.
type EntryType string

const (
	EntryMarket EntryType = "market"
	EntryLimit  EntryType = "limit"
)

// ApprovedOrder is the Risk Engine's sized, priced output for an Intent
// it approved. clientOrderId is the deterministic idempotency key
// derived from (strategyId, symbol, side, asOf) bucketed to the
// configured cadence, so retries of the same tick reuse the same id.
type ApprovedOrder struct {
	Intent          Intent    `json:"intent"`
	Quantity        float64   `json:"quantity"`
	EntryType       EntryType `json:"entry_type"`
	LimitPrice      *float64  `json:"limit_price,omitempty"`
	StopLossPrice   float64   `json:"stop_loss_price"`
	TakeProfitPrice float64   `json:"take_profit_price"`
	ReduceOnly      bool      `json:"reduce_only"`
	ClientOrderID   string    `json:"client_order_id"`
}

// OrderStatus is a state in the Order lifecycle state machine:
//
//	New → Submitted → {PartiallyFilled → Filled | Cancelled | Rejected}
//	   \→ AmendPending → Submitted
type OrderStatus string

const (
	OrderNew             OrderStatus = "New"
	OrderSubmitted       OrderStatus = "Submitted"
	OrderAmendPending    OrderStatus = "AmendPending"
	OrderPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderFilled          OrderStatus = "Filled"
	OrderCancelled       OrderStatus = "Cancelled"
	OrderRejected        OrderStatus = "Rejected"
)

// IsTerminal reports whether status ends the order's lifecycle.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// validTransitions enumerates the allowed edges of the state machine in
// used by the OMS to reject out-of-band exchange events.
var validTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderNew:             {OrderSubmitted: true},
	OrderSubmitted:       {OrderPartiallyFilled: true, OrderFilled: true, OrderCancelled: true, OrderRejected: true, OrderAmendPending: true},
	OrderAmendPending:    {OrderSubmitted: true},
	OrderPartiallyFilled: {OrderFilled: true, OrderCancelled: true},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	return validTransitions[from][to]
}

// Order is the OMS's authoritative view of one exchange order until it
// observes a terminal event.
type Order struct {
	ClientOrderID   string      `json:"client_order_id"`
	ExchangeOrderID string      `json:"exchange_order_id,omitempty"`
	Symbol          string      `json:"symbol"`
	Side            Side        `json:"side"`
	Status          OrderStatus `json:"status"`
	EntryType       EntryType   `json:"entry_type"`
	RequestedQty    float64     `json:"requested_qty"`
	FilledQty       float64     `json:"filled_qty"`
	AvgFillPrice    float64     `json:"avg_fill_price"`
	ReduceOnly      bool        `json:"reduce_only"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Position is mutated only by observed fills or reconciliation — never
// derived optimistically from submissions.
type Position struct {
	Symbol         string  `json:"symbol"`
	Side           Side    `json:"side"`
	Size           float64 `json:"size"`
	AvgEntryPrice  float64 `json:"avg_entry_price"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	MarginUsed     float64 `json:"margin_used"`
}

// ReconciliationDiff records a discrepancy found between local OMS state
// and the exchange's reported state during reconciliation.
type ReconciliationDiff struct {
	ClientOrderID string    `json:"client_order_id"`
	Field         string    `json:"field"`
	LocalValue    string    `json:"local_value"`
	ExchangeValue string    `json:"exchange_value"`
	ObservedAt    time.Time `json:"observed_at"`
}
