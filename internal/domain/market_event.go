package domain

import "time"

// MarketEventType tags the variant carried by a MarketEvent: a closed
// tagged union so consumers can switch over a finite set of cases
// instead of a dynamically-typed string topic.
type MarketEventType string

const (
	MarketEventTicker       MarketEventType = "ticker"
	MarketEventTrade        MarketEventType = "trade"
	MarketEventOrderbookTop MarketEventType = "orderbook_top"
	MarketEventKlineClose   MarketEventType = "kline_close"
	MarketEventWallet       MarketEventType = "wallet"
	MarketEventPosition     MarketEventType = "position"
	MarketEventOrder        MarketEventType = "order"
)

// Ticker is a top-level price update.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	AsOf      time.Time `json:"as_of"`
}

// Trade is one executed trade print from the public feed.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      Side      `json:"side"`
	AsOf      time.Time `json:"as_of"`
}

// OrderbookTop is the best bid/ask.
type OrderbookTop struct {
	Symbol   string    `json:"symbol"`
	BidPrice float64   `json:"bid_price"`
	BidSize  float64   `json:"bid_size"`
	AskPrice float64   `json:"ask_price"`
	AskSize  float64   `json:"ask_size"`
	AsOf     time.Time `json:"as_of"`
}

// WalletUpdate is a private-stream balance change.
type WalletUpdate struct {
	CoinUSD float64   `json:"coin_usd"`
	AsOf    time.Time `json:"as_of"`
}

// MarketEvent is the single event type the Gateway's subscribe() sequence
// yields. Exactly one payload field is set, matching Type.
type MarketEvent struct {
	Type         MarketEventType `json:"type"`
	Symbol       string          `json:"symbol,omitempty"`
	Ticker       *Ticker         `json:"ticker,omitempty"`
	Trade        *Trade          `json:"trade,omitempty"`
	OrderbookTop *OrderbookTop   `json:"orderbook_top,omitempty"`
	Candle       *Candle         `json:"candle,omitempty"`
	Wallet       *WalletUpdate   `json:"wallet,omitempty"`
	Position     *Position       `json:"position,omitempty"`
	Order        *Order          `json:"order,omitempty"`
}
