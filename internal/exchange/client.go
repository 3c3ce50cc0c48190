// Package exchange implements the Market Data Gateway and order-routing
// REST client: signed/unsigned requests, rate limiting, and the 429
// retry schedule — grounded on aristath-sentinel's tradernet SDK client
// (authorizedRequestInternal/plainRequestInternal split, JSON envelope
// normalization, non-200 logging) generalized from Tradernet's
// timestamp-in-body scheme to the exchange's v5 header-based signing
// via internal/exchange/signer, and from its fixed inter-request delay
// to the token-bucket internal/exchange/ratelimit.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/config"
	"github.com/aristath/cryptotrader/internal/domain"
	"github.com/aristath/cryptotrader/internal/exchange/ratelimit"
	"github.com/aristath/cryptotrader/internal/exchange/signer"
	"github.com/aristath/cryptotrader/internal/xerrors"
)

// envelope is the common {retCode,retMsg,result,time} wrapper the
// exchange's v5 REST API returns on every endpoint.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// Client is the signed/unsigned REST client for the exchange's v5 API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	signer       *signer.Signer
	limiter      *ratelimit.Limiter
	recvWindowMS int
	clk          clock.Clock
	log          zerolog.Logger
}

// NewClient builds a Client targeting the configured environment.
func NewClient(cfg *config.Config, clk clock.Clock, log zerolog.Logger) *Client {
	urls := ResolveBaseURLs(cfg.Environment)
	return &Client{
		baseURL:      urls.REST,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		signer:       signer.New(cfg.APIKey, cfg.APISecret),
		limiter:      ratelimit.NewLimiter(),
		recvWindowMS: cfg.RecvWindowMS,
		clk:          clk,
		log:          log.With().Str("component", "exchange-client").Logger(),
	}
}

// Quota reports the current rate-limit utilization for an endpoint
// category, for the operator /api/status surface.
func (c *Client) Quota(cat ratelimit.Category) domain.QuotaSnapshot {
	return domain.QuotaSnapshot{
		Category:       string(cat),
		Remaining:      0,
		UtilizationPct: c.limiter.Utilization(cat),
		AsOf:           c.clk.Now(),
	}
}

// get issues a signed GET with query parameters sorted for a
// deterministic signing payload.
func (c *Client) get(ctx context.Context, cat ratelimit.Category, path string, params map[string]string) (json.RawMessage, error) {
	query := encodeSortedQuery(params)
	return c.do(ctx, cat, http.MethodGet, path, query, "")
}

// post issues a signed POST with a JSON body.
func (c *Client) post(ctx context.Context, cat ratelimit.Category, path string, body map[string]interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.New(xerrors.KindValidationRejected, false, "marshal request body", err)
	}
	return c.do(ctx, cat, http.MethodPost, path, "", string(payload))
}

// do performs the signed round trip with the 429 retry schedule.
func (c *Client) do(ctx context.Context, cat ratelimit.Category, method, path, query, body string) (json.RawMessage, error) {
	if !c.signer.HasCredentials() {
		return nil, xerrors.New(xerrors.KindAuthFailed, false, "no API credentials configured", nil)
	}

	var lastErr error
	for attempt := 0; attempt <= ratelimit.Backoff429MaxRetries; attempt++ {
		if attempt > 0 {
			delay := ratelimit.Backoff429(attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clk.After(delay):
			}
		}
		if err := c.limiter.Wait(ctx, cat); err != nil {
			return nil, err
		}

		result, retryable, err := c.doOnce(ctx, method, path, query, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if c.limiter.NearCapacity(cat) {
			c.log.Warn().Str("category", string(cat)).Float64("utilization", c.limiter.Utilization(cat)).Msg("approaching rate limit")
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path, query, body string) (json.RawMessage, bool, error) {
	payload := body
	if method == http.MethodGet {
		payload = query
	}

	timestampMS := c.clk.Now().UnixMilli()
	headers := c.signer.Headers(timestampMS, c.recvWindowMS, payload)

	requestURL := c.baseURL + path
	var reader io.Reader
	if method == http.MethodGet {
		if query != "" {
			requestURL += "?" + query
		}
	} else {
		reader = bytes.NewReader([]byte(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, false, xerrors.New(xerrors.KindValidationRejected, false, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, xerrors.New(xerrors.KindNetwork, true, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, xerrors.New(xerrors.KindNetwork, true, "read response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, xerrors.New(xerrors.KindRateLimited, true, "exchange returned 429", nil)
	}
	if resp.StatusCode >= 500 {
		return nil, true, xerrors.ExchangeError(strconv.Itoa(resp.StatusCode), fmt.Sprintf("exchange server error: %s", trimBody(respBody)), true)
	}
	if resp.StatusCode >= 400 {
		return nil, false, xerrors.ExchangeError(strconv.Itoa(resp.StatusCode), fmt.Sprintf("exchange rejected request: %s", trimBody(respBody)), false)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, false, xerrors.New(xerrors.KindExchangeError, false, "parse response envelope", err)
	}
	if env.RetCode != 0 {
		retryable := env.RetCode == 10006 || env.RetCode == 10018 // exchange-specific rate-limit codes
		return nil, retryable, xerrors.ExchangeError(strconv.Itoa(env.RetCode), env.RetMsg, retryable)
	}
	return env.Result, false, nil
}

func trimBody(b []byte) string {
	s := string(b)
	if len(s) > 500 {
		return s[:500] + "..."
	}
	return s
}

func encodeSortedQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}

// ---------------------------------------------------------------------
// Domain-facing operations
// ---------------------------------------------------------------------

// GetKlines fetches recent candles for warming up the feature store.
func (c *Client) GetKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	raw, err := c.get(ctx, ratelimit.CategoryMarket, "/v5/market/kline", map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"interval": string(tf),
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, xerrors.New(xerrors.KindExchangeError, false, "parse kline result", err)
	}

	candles := make([]domain.Candle, 0, len(result.List))
	for _, row := range result.List {
		if len(row) < 6 {
			continue
		}
		openMS, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		closePx, _ := strconv.ParseFloat(row[4], 64)
		volume, _ := strconv.ParseFloat(row[5], 64)
		candles = append(candles, domain.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  time.UnixMilli(openMS).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
		})
	}
	// the exchange returns newest-first; reverse to chronological order
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// GetInstrumentInfo fetches the tick/lot/min-notional constraints for a
// symbol, used by Risk Engine sizing and OMS validation.
func (c *Client) GetInstrumentInfo(ctx context.Context, symbol string) (domain.ExchangeInfo, error) {
	raw, err := c.get(ctx, ratelimit.CategoryMarket, "/v5/market/instruments-info", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	})
	if err != nil {
		return domain.ExchangeInfo{}, err
	}
	var result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			LotSizeFilter struct {
				QtyStep string `json:"qtyStep"`
				MinQty  string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			MinNotionalUSD string `json:"minNotionalValue"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.ExchangeInfo{}, xerrors.New(xerrors.KindExchangeError, false, "parse instrument info", err)
	}
	if len(result.List) == 0 {
		return domain.ExchangeInfo{}, xerrors.New(xerrors.KindExchangeError, false, "instrument not found", nil)
	}
	item := result.List[0]
	tickSize, _ := strconv.ParseFloat(item.PriceFilter.TickSize, 64)
	lotSize, _ := strconv.ParseFloat(item.LotSizeFilter.QtyStep, 64)
	minQty, _ := strconv.ParseFloat(item.LotSizeFilter.MinQty, 64)
	minNotional, _ := strconv.ParseFloat(item.MinNotionalUSD, 64)
	return domain.ExchangeInfo{
		Symbol:         item.Symbol,
		TickSize:       tickSize,
		LotSize:        lotSize,
		MinQty:         minQty,
		MinNotionalUSD: minNotional,
	}, nil
}

// GetWalletBalance returns the USD-denominated coin balance.
func (c *Client) GetWalletBalance(ctx context.Context) (float64, error) {
	raw, err := c.get(ctx, ratelimit.CategoryAccount, "/v5/account/wallet-balance", map[string]string{
		"accountType": "UNIFIED",
	})
	if err != nil {
		return 0, err
	}
	var result struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, xerrors.New(xerrors.KindExchangeError, false, "parse wallet balance", err)
	}
	if len(result.List) == 0 {
		return 0, nil
	}
	equity, _ := strconv.ParseFloat(result.List[0].TotalEquity, 64)
	return equity, nil
}

// GetPositions returns the account's open positions.
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	raw, err := c.get(ctx, ratelimit.CategoryAccount, "/v5/position/list", map[string]string{
		"category": "linear",
	})
	if err != nil {
		return nil, err
	}
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			PositionIM    string `json:"positionIM"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, xerrors.New(xerrors.KindExchangeError, false, "parse positions", err)
	}
	positions := make([]domain.Position, 0, len(result.List))
	for _, p := range result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}
		avgPrice, _ := strconv.ParseFloat(p.AvgPrice, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		margin, _ := strconv.ParseFloat(p.PositionIM, 64)
		side := domain.SideBuy
		if strings.EqualFold(p.Side, "Sell") {
			side = domain.SideSell
		}
		positions = append(positions, domain.Position{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			AvgEntryPrice: avgPrice,
			UnrealizedPnL: pnl,
			MarginUsed:    margin,
		})
	}
	return positions, nil
}

// PlaceOrder submits an approved order and returns the exchange order ID.
func (c *Client) PlaceOrder(ctx context.Context, order domain.ApprovedOrder) (string, error) {
	body := map[string]interface{}{
		"category":    "linear",
		"symbol":      order.Intent.Symbol,
		"side":        sideToExchange(order.Intent.Side),
		"orderType":   entryTypeToExchange(order.EntryType),
		"qty":         strconv.FormatFloat(order.Quantity, 'f', -1, 64),
		"orderLinkId": order.ClientOrderID,
		"reduceOnly":  order.ReduceOnly,
	}
	if order.LimitPrice != nil {
		body["price"] = strconv.FormatFloat(*order.LimitPrice, 'f', -1, 64)
	}
	if order.StopLossPrice > 0 {
		body["stopLoss"] = strconv.FormatFloat(order.StopLossPrice, 'f', -1, 64)
	}
	if order.TakeProfitPrice > 0 {
		body["takeProfit"] = strconv.FormatFloat(order.TakeProfitPrice, 'f', -1, 64)
	}

	raw, err := c.post(ctx, ratelimit.CategoryOrder, "/v5/order/create", body)
	if err != nil {
		return "", err
	}
	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", xerrors.New(xerrors.KindExchangeError, false, "parse order response", err)
	}
	return result.OrderID, nil
}

// CancelOrder cancels a previously submitted order by client order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	_, err := c.post(ctx, ratelimit.CategoryCancel, "/v5/order/cancel", map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"orderLinkId": clientOrderID,
	})
	return err
}

// GetOrder fetches the current exchange state of one order.
func (c *Client) GetOrder(ctx context.Context, symbol, clientOrderID string) (domain.Order, error) {
	raw, err := c.get(ctx, ratelimit.CategoryAccount, "/v5/order/realtime", map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"orderLinkId": clientOrderID,
	})
	if err != nil {
		return domain.Order{}, err
	}
	var result struct {
		List []exchangeOrder `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.Order{}, xerrors.New(xerrors.KindExchangeError, false, "parse order", err)
	}
	if len(result.List) == 0 {
		return domain.Order{}, xerrors.New(xerrors.KindExchangeError, false, "order not found", nil)
	}
	return result.List[0].toDomain(), nil
}

// GetOpenOrders lists open orders, used during reconciliation.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	raw, err := c.get(ctx, ratelimit.CategoryAccount, "/v5/order/realtime", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	})
	if err != nil {
		return nil, err
	}
	var result struct {
		List []exchangeOrder `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, xerrors.New(xerrors.KindExchangeError, false, "parse open orders", err)
	}
	orders := make([]domain.Order, 0, len(result.List))
	for _, o := range result.List {
		orders = append(orders, o.toDomain())
	}
	return orders, nil
}

type exchangeOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderStatus string `json:"orderStatus"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	ReduceOnly  bool   `json:"reduceOnly"`
	CreatedTime string `json:"createdTime"`
	UpdatedTime string `json:"updatedTime"`
}

func (o exchangeOrder) toDomain() domain.Order {
	qty, _ := strconv.ParseFloat(o.Qty, 64)
	filled, _ := strconv.ParseFloat(o.CumExecQty, 64)
	avgPrice, _ := strconv.ParseFloat(o.AvgPrice, 64)
	createdMS, _ := strconv.ParseInt(o.CreatedTime, 10, 64)
	updatedMS, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)
	side := domain.SideBuy
	if strings.EqualFold(o.Side, "Sell") {
		side = domain.SideSell
	}
	entryType := domain.EntryMarket
	if strings.EqualFold(o.OrderType, "Limit") {
		entryType = domain.EntryLimit
	}
	return domain.Order{
		ClientOrderID:   o.OrderLinkID,
		ExchangeOrderID: o.OrderID,
		Symbol:          o.Symbol,
		Side:            side,
		Status:          exchangeStatusToDomain(o.OrderStatus),
		EntryType:       entryType,
		RequestedQty:    qty,
		FilledQty:       filled,
		AvgFillPrice:    avgPrice,
		ReduceOnly:      o.ReduceOnly,
		CreatedAt:       time.UnixMilli(createdMS).UTC(),
		UpdatedAt:       time.UnixMilli(updatedMS).UTC(),
	}
}

func exchangeStatusToDomain(s string) domain.OrderStatus {
	switch s {
	case "New", "Created":
		return domain.OrderNew
	case "Submitted":
		return domain.OrderSubmitted
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

func sideToExchange(s domain.Side) string {
	if s == domain.SideSell {
		return "Sell"
	}
	return "Buy"
}

func entryTypeToExchange(t domain.EntryType) string {
	if t == domain.EntryLimit {
		return "Limit"
	}
	return "Market"
}
