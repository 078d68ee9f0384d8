// Package gateway implements the REST and WebSocket exchange
// connectivity layer: signed requests, session reuse, and the
// self-healing public/private WebSocket gateways.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

const restTimeout = 10 * time.Second

// Credentials holds exchange API credentials used for REST signing
// and the WS private login flow.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	Demo       bool
}

// RestGateway is the interface consumed by the OMS and strategy code;
// a real HTTP implementation and an in-memory test double both
// satisfy it, per the spec's "define interface abstractions ... real
// and null/in-memory implementations" design note.
type RestGateway interface {
	GetBalance(ctx context.Context, ccy string) (decimal.Decimal, error)
	GetPositions(ctx context.Context, symbol string) ([]core.Position, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*core.Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	GetOrderStatus(ctx context.Context, orderID, symbol string) (*core.Order, error)
	GetKline(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error)
	GetInstruments(ctx context.Context, instType string) ([]core.InstrumentSpec, error)
	SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal, mode string) error
}

// PlaceOrderRequest bundles the fields needed to submit a new order.
type PlaceOrderRequest struct {
	Symbol        string
	Side          core.Side
	OrderType     core.OrderType
	Size          decimal.Decimal
	Price         *decimal.Decimal
	StopLossPrice *decimal.Decimal
	ClOrdID       string
	ReduceOnly    bool
	StrategyID    string
}

// RestClient is the signed HTTP client for the exchange's v5-style
// API. Signing mirrors the v5 convention: message = ISO-millis
// timestamp + method + request path + compact-JSON body, HMAC-SHA256,
// base64 encoded.
type RestClient struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

// NewRestClient builds a client with connection-pooled transport
// reuse (the default http.Client transport already pools
// connections per host, satisfying the "session-pooled" requirement).
func NewRestClient(baseURL string, creds Credentials) *RestClient {
	return &RestClient{
		baseURL: baseURL,
		creds:   creds,
		http: &http.Client{
			Timeout: restTimeout,
		},
	}
}

func (c *RestClient) sign(ts, method, path, body string) string {
	message := ts + method + path + body
	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// timestamp returns the UTC millisecond-precision ISO-8601 timestamp
// with a trailing "Z", as required for REST signing.
func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func (c *RestClient) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var bodyBytes []byte
	var err error
	if payload != nil {
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}
	bodyStr := ""
	if len(bodyBytes) > 0 {
		bodyStr = string(bodyBytes)
	}

	ts := timestamp()
	sig := c.sign(ts, method, path, bodyStr)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &core.NetworkError{Op: path, Err: err}
	}
	req.Header.Set("OK-ACCESS-KEY", c.creds.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", sig)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.creds.Passphrase)
	req.Header.Set("Content-Type", "application/json")
	if c.creds.Demo {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &core.NetworkError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.NetworkError{Op: path, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &core.NetworkError{Op: path, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))}
	}

	var envelope struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, &core.NetworkError{Op: path, Err: err}
	}
	if envelope.Code != "0" {
		return nil, &core.ApiError{Code: envelope.Code, Msg: envelope.Msg}
	}
	return envelope.Data, nil
}

func (c *RestClient) GetBalance(ctx context.Context, ccy string) (decimal.Decimal, error) {
	path := "/api/v5/account/balance"
	if ccy != "" {
		path += "?ccy=" + ccy
	}
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return decimal.Zero, err
	}
	var rows []struct {
		TotalEq string `json:"totalEq"`
	}
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return decimal.Zero, &core.ProtocolError{Channel: "balance", Err: err}
	}
	return decimal.NewFromString(rows[0].TotalEq)
}

func (c *RestClient) GetPositions(ctx context.Context, symbol string) ([]core.Position, error) {
	path := "/api/v5/account/positions"
	if symbol != "" {
		path += "?instId=" + symbol
	}
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		InstID   string `json:"instId"`
		Pos      string `json:"pos"`
		AvgPx    string `json:"avgPx"`
		Upl      string `json:"upl"`
		Leverage string `json:"lever"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, &core.ProtocolError{Channel: "positions", Err: err}
	}
	out := make([]core.Position, 0, len(rows))
	for _, r := range rows {
		signed, _ := decimal.NewFromString(r.Pos)
		avg, _ := decimal.NewFromString(r.AvgPx)
		upl, _ := decimal.NewFromString(r.Upl)
		lev, _ := decimal.NewFromString(r.Leverage)
		out = append(out, core.Position{
			Symbol:        r.InstID,
			SignedSize:    signed,
			AvgEntryPrice: avg,
			UnrealizedPnL: upl,
			Leverage:      lev,
		})
	}
	return out, nil
}

// buildOrderPayload forwards only a field whitelist to the exchange;
// pos_side is always stripped because positions are one-way.
func buildOrderPayload(req PlaceOrderRequest) map[string]interface{} {
	payload := map[string]interface{}{
		"instId":  req.Symbol,
		"side":    string(req.Side),
		"ordType": orderTypeWire(req.OrderType),
		"sz":      req.Size.String(),
		"clOrdId": req.ClOrdID,
	}
	if req.ReduceOnly {
		payload["reduceOnly"] = true
	}
	if req.OrderType != core.OrderTypeMarket && req.Price != nil {
		payload["px"] = req.Price.String()
	}
	if req.StopLossPrice != nil && (req.OrderType == core.OrderTypeStopMarket || req.OrderType == core.OrderTypeStopLimit) {
		payload["ordType"] = "conditional"
		payload["slTriggerPx"] = req.StopLossPrice.String()
		if req.OrderType == core.OrderTypeStopLimit && req.Price != nil {
			payload["slOrdPx"] = req.Price.String()
		} else {
			payload["slOrdPx"] = "-1" // market-on-trigger
		}
	}
	return payload
}

func orderTypeWire(t core.OrderType) string {
	switch t {
	case core.OrderTypeMarket:
		return "market"
	case core.OrderTypeLimit:
		return "limit"
	case core.OrderTypeIOC:
		return "ioc"
	case core.OrderTypeStopMarket, core.OrderTypeStopLimit:
		return "conditional"
	default:
		return "market"
	}
}

func (c *RestClient) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*core.Order, error) {
	if req.ClOrdID == "" {
		req.ClOrdID = GenerateClOrdID(req.StrategyID)
	}
	payload := buildOrderPayload(req)

	data, err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", []map[string]interface{}{payload})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return nil, &core.ProtocolError{Channel: "place_order", Err: err}
	}
	row := rows[0]
	if row.SCode != "" && row.SCode != "0" {
		return nil, &core.ApiError{Code: row.SCode, Msg: row.SMsg}
	}

	price := decimal.Zero
	if req.Price != nil {
		price = *req.Price
	}
	order := &core.Order{
		OrderID:       row.OrdID,
		ClOrdID:       req.ClOrdID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		OrderType:     req.OrderType,
		Price:         price,
		Size:          req.Size,
		Status:        core.OrderLive,
		StopLossPrice: req.StopLossPrice, // always preserved locally
		ReduceOnly:    req.ReduceOnly,
		StrategyID:    req.StrategyID,
		RawPayload:    payload,
		CreatedAt:     time.Now(),
	}
	return order, nil
}

func (c *RestClient) CancelOrder(ctx context.Context, orderID, symbol string) error {
	payload := map[string]interface{}{"instId": symbol, "ordId": orderID}
	_, err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", payload)
	return err
}

func (c *RestClient) CancelAllOrders(ctx context.Context, symbol string) error {
	path := "/api/v5/trade/orders-pending"
	if symbol != "" {
		path += "?instId=" + symbol
	}
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	var rows []struct {
		OrdID  string `json:"ordId"`
		InstID string `json:"instId"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return &core.ProtocolError{Channel: "orders-pending", Err: err}
	}
	for _, r := range rows {
		if err := c.CancelOrder(ctx, r.OrdID, r.InstID); err != nil {
			return err
		}
	}
	return nil
}

func (c *RestClient) GetOrderStatus(ctx context.Context, orderID, symbol string) (*core.Order, error) {
	path := fmt.Sprintf("/api/v5/trade/order?instId=%s&ordId=%s", symbol, orderID)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		OrdID      string `json:"ordId"`
		ClOrdID    string `json:"clOrdId"`
		InstID     string `json:"instId"`
		Side       string `json:"side"`
		Px         string `json:"px"`
		Sz         string `json:"sz"`
		AccFillSz  string `json:"accFillSz"`
		State      string `json:"state"`
	}
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return nil, &core.ProtocolError{Channel: "order_status", Err: err}
	}
	r := rows[0]
	price, _ := decimal.NewFromString(r.Px)
	size, _ := decimal.NewFromString(r.Sz)
	filled, _ := decimal.NewFromString(r.AccFillSz)
	side, _ := core.NormalizeSide(r.Side)
	return &core.Order{
		OrderID:    r.OrdID,
		ClOrdID:    r.ClOrdID,
		Symbol:     r.InstID,
		Side:       side,
		Price:      price,
		Size:       size,
		FilledSize: filled,
		Status:     wireStateToStatus(r.State),
	}, nil
}

func wireStateToStatus(state string) core.OrderStatus {
	switch state {
	case "live":
		return core.OrderLive
	case "partially_filled":
		return core.OrderPartiallyFilled
	case "filled":
		return core.OrderFilled
	case "canceled", "cancelled":
		return core.OrderCancelled
	default:
		return core.OrderLive
	}
}

func (c *RestClient) GetKline(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error) {
	path := fmt.Sprintf("/api/v5/market/candles?instId=%s&bar=%s&limit=%d", symbol, interval, limit)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, &core.ProtocolError{Channel: "candles", Err: err}
	}
	out := make([]core.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		c, err := parseCandleRow(symbol, r)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (c *RestClient) GetInstruments(ctx context.Context, instType string) ([]core.InstrumentSpec, error) {
	path := "/api/v5/public/instruments?instType=" + instType
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		InstID   string `json:"instId"`
		LotSz    string `json:"lotSz"`
		MinSz    string `json:"minSz"`
		TickSz   string `json:"tickSz"`
		CtVal    string `json:"ctVal"`
		State    string `json:"state"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, &core.ProtocolError{Channel: "instruments", Err: err}
	}
	out := make([]core.InstrumentSpec, 0, len(rows))
	for _, r := range rows {
		lot, _ := decimal.NewFromString(r.LotSz)
		minSz, _ := decimal.NewFromString(r.MinSz)
		tick, _ := decimal.NewFromString(r.TickSz)
		ctVal, _ := decimal.NewFromString(r.CtVal)
		state := core.InstrumentLive
		if r.State != "live" {
			state = core.InstrumentSuspended
		}
		out = append(out, core.InstrumentSpec{
			Symbol:        r.InstID,
			LotSize:       lot,
			MinOrderSize:  minSz,
			TickSize:      tick,
			ContractValue: ctVal,
			State:         state,
		})
	}
	return out, nil
}

func (c *RestClient) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal, mode string) error {
	payload := map[string]interface{}{
		"instId": symbol,
		"lever":  leverage.String(),
		"mgnMode": mode,
	}
	_, err := c.do(ctx, http.MethodPost, "/api/v5/account/set-leverage", payload)
	return err
}
