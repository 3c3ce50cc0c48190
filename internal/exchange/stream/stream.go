// Package stream implements the public/private WebSocket feeds of the
// Market Data Gateway — grounded on aristath-sentinel's
// MarketStatusWebSocket (internal/clients/tradernet/websocket_client.go):
// the HTTP/1.1-forced dial transport (Cloudflare ALPN workaround), the
// read-loop/reconnect-loop split, and calculateBackoff's exponential
// schedule, generalized from a single public feed to public+private
// channels with heartbeat pings and an auth frame for the private side.
package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/domain"
	"github.com/aristath/cryptotrader/internal/exchange/signer"
)

const (
	dialTimeout = 15 * time.Second
	writeWait   = 10 * time.Second

	heartbeatInterval = 20 * time.Second
	heartbeatTimeout  = 2 * heartbeatInterval

	baseReconnectDelay   = time.Second
	maxReconnectDelay    = 60 * time.Second
	maxReconnectAttempts = 5
)

// ErrMaxReconnectAttemptsReached is surfaced to the caller's halt
// handler when the stream could not be restored after the configured
// attempt budget; the orchestrator treats this as cause to halt rather
// than trade on stale data.
var ErrMaxReconnectAttemptsReached = fmt.Errorf("stream: max reconnect attempts reached")

// createHTTP1Client forces HTTP/1.1 at the TLS layer so the WebSocket
// upgrade handshake doesn't race Cloudflare's HTTP/2 ALPN negotiation.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// Handler receives decoded market events off either feed.
type Handler func(domain.MarketEvent)

// HaltHandler is invoked when reconnection is exhausted.
type HaltHandler func(error)

// Client manages the public and private WebSocket connections for a
// set of symbols, translating exchange wire frames into MarketEvents.
type Client struct {
	wsPublicURL  string
	wsPrivateURL string
	symbols      []string
	signer       *signer.Signer
	httpClient   *http.Client
	clk          clock.Clock
	log          zerolog.Logger

	onEvent Handler
	onHalt  HaltHandler

	mu           sync.Mutex
	publicConn   *websocket.Conn
	privateConn  *websocket.Conn
	cancelPublic context.CancelFunc
	cancelPriv   context.CancelFunc
	stopped      bool
	stopCh       chan struct{}
}

// New builds a stream Client. onEvent is called for every decoded
// MarketEvent; onHalt is called once if reconnection is exhausted on
// either feed.
func New(wsPublicURL, wsPrivateURL string, symbols []string, sgnr *signer.Signer, clk clock.Clock, log zerolog.Logger, onEvent Handler, onHalt HaltHandler) *Client {
	return &Client{
		wsPublicURL:  wsPublicURL,
		wsPrivateURL: wsPrivateURL,
		symbols:      symbols,
		signer:       sgnr,
		httpClient:   createHTTP1Client(),
		clk:          clk,
		log:          log.With().Str("component", "exchange-stream").Logger(),
		onEvent:      onEvent,
		onHalt:       onHalt,
		stopCh:       make(chan struct{}),
	}
}

// Start connects the public feed, and the private feed if credentials
// are configured, launching their read/heartbeat loops in background
// goroutines.
func (c *Client) Start(ctx context.Context) error {
	if err := c.connectPublic(ctx); err != nil {
		go c.reconnectLoop(ctx, "public")
	} else {
		go c.readLoop(ctx, "public")
		go c.heartbeatLoop(ctx, "public")
	}

	if c.signer != nil && c.signer.HasCredentials() {
		if err := c.connectPrivate(ctx); err != nil {
			go c.reconnectLoop(ctx, "private")
		} else {
			go c.readLoop(ctx, "private")
			go c.heartbeatLoop(ctx, "private")
		}
	}
	return nil
}

// Stop closes both connections and halts background loops.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	if c.cancelPublic != nil {
		c.cancelPublic()
	}
	if c.cancelPriv != nil {
		c.cancelPriv()
	}
	pub, priv := c.publicConn, c.privateConn
	c.mu.Unlock()

	if pub != nil {
		pub.Close(websocket.StatusNormalClosure, "")
	}
	if priv != nil {
		priv.Close(websocket.StatusNormalClosure, "")
	}
}

func (c *Client) connectPublic(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.wsPublicURL, &websocket.DialOptions{HTTPClient: c.httpClient})
	if err != nil {
		return fmt.Errorf("dial public stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.publicConn = conn
	c.cancelPublic = connCancel
	c.mu.Unlock()

	if err := c.subscribePublic(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return err
	}
	c.log.Info().Msg("public stream connected")
	return nil
}

func (c *Client) connectPrivate(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.wsPrivateURL, &websocket.DialOptions{HTTPClient: c.httpClient})
	if err != nil {
		return fmt.Errorf("dial private stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.privateConn = conn
	c.cancelPriv = connCancel
	c.mu.Unlock()

	if err := c.authenticate(connCtx, conn); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "auth failed")
		return err
	}
	if err := c.subscribePrivate(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return err
	}
	c.log.Info().Msg("private stream connected")
	return nil
}

func (c *Client) authenticate(ctx context.Context, conn *websocket.Conn) error {
	expires := c.clk.Now().Add(5 * time.Second).UnixMilli()
	sig := c.signer.WSAuthSignature(expires)
	frame := map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{c.signer.APIKey(), expires, sig},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal auth frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *Client) subscribePublic(ctx context.Context) error {
	topics := make([]string, 0, len(c.symbols)*2)
	for _, sym := range c.symbols {
		topics = append(topics, "tickers."+sym, "kline.1."+sym)
	}
	return c.sendSubscribe(ctx, c.publicConn, topics)
}

func (c *Client) subscribePrivate(ctx context.Context) error {
	return c.sendSubscribe(ctx, c.privateConn, []string{"wallet", "position", "order"})
}

func (c *Client) sendSubscribe(ctx context.Context, conn *websocket.Conn, topics []string) error {
	frame := map[string]interface{}{"op": "subscribe", "args": topics}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal subscribe frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *Client) readLoop(ctx context.Context, feed string) {
	for {
		c.mu.Lock()
		conn := c.publicConn
		if feed == "private" {
			conn = c.privateConn
		}
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Str("feed", feed).Msg("stream read error, reconnecting")
			go c.reconnectLoop(ctx, feed)
			return
		}

		if err := c.handleMessage(feed, message); err != nil {
			c.log.Error().Err(err).Str("feed", feed).Msg("failed to handle stream message")
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, feed string) {
	ticker := c.clk.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.mu.Lock()
			conn := c.publicConn
			if feed == "private" {
				conn = c.privateConn
			}
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := conn.Write(pingCtx, websocket.MessageText, []byte(`{"op":"ping"}`))
			cancel()
			if err != nil {
				c.log.Warn().Err(err).Str("feed", feed).Msg("heartbeat ping failed, reconnecting")
				go c.reconnectLoop(ctx, feed)
				return
			}
		}
	}
}

func (c *Client) reconnectLoop(ctx context.Context, feed string) {
	attempt := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		attempt++
		if attempt > maxReconnectAttempts {
			c.log.Error().Str("feed", feed).Int("attempt", attempt).Msg("exhausted reconnect attempts")
			if c.onHalt != nil {
				c.onHalt(ErrMaxReconnectAttemptsReached)
			}
			return
		}

		delay := c.calculateBackoff(attempt)
		select {
		case <-c.stopCh:
			return
		case <-c.clk.After(delay):
		}

		var err error
		if feed == "private" {
			err = c.connectPrivate(ctx)
		} else {
			err = c.connectPublic(ctx)
		}
		if err != nil {
			c.log.Warn().Err(err).Str("feed", feed).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}
		c.log.Info().Str("feed", feed).Int("attempt", attempt).Msg("reconnected")
		go c.readLoop(ctx, feed)
		go c.heartbeatLoop(ctx, feed)
		return
	}
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// handleMessage decodes one wire frame into a MarketEvent and delivers
// it to onEvent. Unrecognized topics and control frames (pong, subscribe
// acks) are ignored.
func (c *Client) handleMessage(feed string, raw []byte) error {
	var envelope struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
		Op    string          `json:"op"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	if envelope.Topic == "" {
		return nil
	}

	switch {
	case hasPrefix(envelope.Topic, "tickers."):
		return c.handleTicker(envelope.Topic, envelope.Data)
	case hasPrefix(envelope.Topic, "kline."):
		return c.handleKline(envelope.Topic, envelope.Data)
	case envelope.Topic == "wallet":
		return c.handleWallet(envelope.Data)
	case envelope.Topic == "position":
		return c.handlePosition(envelope.Data)
	case envelope.Topic == "order":
		return c.handleOrder(envelope.Data)
	}
	return nil
}

func (c *Client) handleTicker(topic string, data json.RawMessage) error {
	var payload struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	price := parseFloat(payload.LastPrice)
	c.onEvent(domain.MarketEvent{
		Type:   domain.MarketEventTicker,
		Symbol: payload.Symbol,
		Ticker: &domain.Ticker{Symbol: payload.Symbol, LastPrice: price, AsOf: c.clk.Now()},
	})
	return nil
}

func (c *Client) handleKline(topic string, data json.RawMessage) error {
	var rows []struct {
		Start   int64  `json:"start"`
		Open    string `json:"open"`
		High    string `json:"high"`
		Low     string `json:"low"`
		Close   string `json:"close"`
		Volume  string `json:"volume"`
		Confirm bool   `json:"confirm"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	symbol := topicSuffix(topic, "kline.1.")
	for _, row := range rows {
		if !row.Confirm {
			continue // only emit closed candles
		}
		candle := domain.Candle{
			Symbol:    symbol,
			Timeframe: "1m",
			OpenTime:  time.UnixMilli(row.Start).UTC(),
			Open:      parseFloat(row.Open),
			High:      parseFloat(row.High),
			Low:       parseFloat(row.Low),
			Close:     parseFloat(row.Close),
			Volume:    parseFloat(row.Volume),
		}
		c.onEvent(domain.MarketEvent{Type: domain.MarketEventKlineClose, Symbol: symbol, Candle: &candle})
	}
	return nil
}

func (c *Client) handleWallet(data json.RawMessage) error {
	var rows []struct {
		TotalEquity string `json:"totalEquity"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	c.onEvent(domain.MarketEvent{
		Type:   domain.MarketEventWallet,
		Wallet: &domain.WalletUpdate{CoinUSD: parseFloat(rows[0].TotalEquity), AsOf: c.clk.Now()},
	})
	return nil
}

func (c *Client) handlePosition(data json.RawMessage) error {
	var rows []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Size          string `json:"size"`
		AvgPrice      string `json:"avgPrice"`
		UnrealisedPnl string `json:"unrealisedPnl"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	for _, row := range rows {
		side := domain.SideBuy
		if row.Side == "Sell" {
			side = domain.SideSell
		}
		pos := domain.Position{
			Symbol:        row.Symbol,
			Side:          side,
			Size:          parseFloat(row.Size),
			AvgEntryPrice: parseFloat(row.AvgPrice),
			UnrealizedPnL: parseFloat(row.UnrealisedPnl),
		}
		c.onEvent(domain.MarketEvent{Type: domain.MarketEventPosition, Symbol: row.Symbol, Position: &pos})
	}
	return nil
}

func (c *Client) handleOrder(data json.RawMessage) error {
	var rows []struct {
		OrderLinkID string `json:"orderLinkId"`
		OrderID     string `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		OrderStatus string `json:"orderStatus"`
		Qty         string `json:"qty"`
		CumExecQty  string `json:"cumExecQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	for _, row := range rows {
		side := domain.SideBuy
		if row.Side == "Sell" {
			side = domain.SideSell
		}
		order := domain.Order{
			ClientOrderID:   row.OrderLinkID,
			ExchangeOrderID: row.OrderID,
			Symbol:          row.Symbol,
			Side:            side,
			Status:          exchangeStatusString(row.OrderStatus),
			RequestedQty:    parseFloat(row.Qty),
			FilledQty:       parseFloat(row.CumExecQty),
			AvgFillPrice:    parseFloat(row.AvgPrice),
			UpdatedAt:       c.clk.Now(),
		}
		c.onEvent(domain.MarketEvent{Type: domain.MarketEventOrder, Symbol: row.Symbol, Order: &order})
	}
	return nil
}

func exchangeStatusString(s string) domain.OrderStatus {
	switch s {
	case "New", "Created":
		return domain.OrderNew
	case "PartiallyFilled":
		return domain.OrderPartiallyFilled
	case "Filled":
		return domain.OrderFilled
	case "Cancelled", "Deactivated":
		return domain.OrderCancelled
	case "Rejected":
		return domain.OrderRejected
	default:
		return domain.OrderSubmitted
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func topicSuffix(topic, prefix string) string {
	if hasPrefix(topic, prefix) {
		return topic[len(prefix):]
	}
	return topic
}

func parseFloat(s string) float64 {
	var f float64
	_, _ = fmt.Sscanf(s, "%f", &f)
	return f
}
