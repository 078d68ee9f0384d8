package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

// PrivateWS is the account-stream gateway: logs in, then subscribes
// to positions/orders for instType SWAP.
type PrivateWS struct {
	conn    *WSConn
	creds   Credentials
	publish func(core.Event, uint8) error
	loggedIn int32
}

type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

type loginMsg struct {
	Op   string     `json:"op"`
	Args []loginArg `json:"args"`
}

type wsEventFrame struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
}

func NewPrivateWS(url string, creds Credentials, publish func(core.Event, uint8) error) *PrivateWS {
	p := &PrivateWS{creds: creds, publish: publish}
	p.conn = NewWSConn(url, p.handleFrame, p.onConnected)
	p.conn.OnFatal(func(err error) {
		_ = publish(fatalEvent("private_ws", err), core.PriorityRiskAlert)
	})
	return p
}

func (p *PrivateWS) Start() { p.conn.Start() }
func (p *PrivateWS) Stop()  { p.conn.Stop() }

func (p *PrivateWS) ReconnectCount() int64 { return p.conn.ReconnectCount() }

func (p *PrivateWS) IsLoggedIn() bool { return atomic.LoadInt32(&p.loggedIn) == 1 }

// onConnected sends the login frame. Subscription happens once the
// server's login acknowledgement arrives (handleFrame).
func (p *PrivateWS) onConnected(conn *WSConn) error {
	atomic.StoreInt32(&p.loggedIn, 0)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sign := signLogin(p.creds.SecretKey, ts)
	msg, err := json.Marshal(loginMsg{Op: "login", Args: []loginArg{{
		APIKey:     p.creds.APIKey,
		Passphrase: p.creds.Passphrase,
		Timestamp:  ts,
		Sign:       sign,
	}}})
	if err != nil {
		return err
	}
	return conn.Send(msg)
}

// signLogin signs timestamp + "GET" + "/users/self/verify" + "" per
// spec.md §4.2.4/§6 login frame convention.
func signLogin(secret, timestampUnixSeconds string) string {
	message := timestampUnixSeconds + "GET" + "/users/self/verify" + ""
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (p *PrivateWS) handleFrame(raw []byte) {
	var ev wsEventFrame
	if err := json.Unmarshal(raw, &ev); err == nil && ev.Event != "" {
		p.handleEvent(ev)
		return
	}

	var frame wsPushFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Warn().Err(err).Msg("private ws: failed to parse frame")
		return
	}
	switch frame.Arg.Channel {
	case "positions":
		p.handlePositions(frame)
	case "orders":
		p.handleOrders(frame)
	}
}

func (p *PrivateWS) handleEvent(ev wsEventFrame) {
	switch ev.Event {
	case "login":
		if ev.Code == "" || ev.Code == "0" {
			atomic.StoreInt32(&p.loggedIn, 1)
			log.Info().Msg("🔐 private websocket logged in")
			p.subscribe()
		} else {
			log.Error().Str("code", ev.Code).Str("msg", ev.Msg).Msg("private ws login failed")
		}
	case "subscribe":
		// no-op ack
	case "error":
		log.Warn().Str("code", ev.Code).Str("msg", ev.Msg).Msg("private ws error event")
	}
}

func (p *PrivateWS) subscribe() {
	msg, _ := json.Marshal(subscribeMsg{Op: "subscribe", Args: []subscribeArg{
		{Channel: "positions", InstType: "SWAP"},
		{Channel: "orders", InstType: "SWAP"},
	}})
	if err := p.conn.Send(msg); err != nil {
		log.Error().Err(err).Msg("private ws: subscribe failed")
	}
}

type positionRow struct {
	InstID   string `json:"instId"`
	Pos      string `json:"pos"`
	AvgPx    string `json:"avgPx"`
	Upl      string `json:"upl"`
	Leverage string `json:"lever"`
}

func (p *PrivateWS) handlePositions(frame wsPushFrame) {
	for _, raw := range frame.Data {
		var r positionRow
		if err := json.Unmarshal(raw, &r); err != nil {
			log.Warn().Err(err).Msg("private ws: bad position row")
			continue
		}
		signed, _ := decimal.NewFromString(r.Pos)
		avg, _ := decimal.NewFromString(r.AvgPx)
		upl, _ := decimal.NewFromString(r.Upl)
		lev, _ := decimal.NewFromString(r.Leverage)
		pos := core.Position{
			Symbol:        r.InstID,
			SignedSize:    signed,
			AvgEntryPrice: avg,
			UnrealizedPnL: upl,
			Leverage:      lev,
		}
		_ = p.publish(core.NewEvent(core.EventPositionUpdate, "private_ws", pos), core.PriorityPositionUpdate)
	}
}

// orderRow is the wire shape of one orders-channel push; it may carry
// order_id, cl_ord_id, or both.
type orderRow struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	InstID    string `json:"instId"`
	Side      string `json:"side"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	FillSz    string `json:"fillSz"`
	AccFillSz string `json:"accFillSz"`
	FillPx    string `json:"fillPx"`
	State     string `json:"state"`
}

// OrderUpdate is the typed payload for OrderUpdate/OrderFilled/
// OrderCancelled events.
type OrderUpdate struct {
	OrderID    string
	ClOrdID    string
	Symbol     string
	Side       core.Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	FilledSize decimal.Decimal
	FillPrice  decimal.Decimal
	State      string
}

func (p *PrivateWS) handleOrders(frame wsPushFrame) {
	for _, raw := range frame.Data {
		var r orderRow
		if err := json.Unmarshal(raw, &r); err != nil {
			log.Warn().Err(err).Msg("private ws: bad order row")
			continue
		}
		price, _ := decimal.NewFromString(r.Px)
		size, _ := decimal.NewFromString(r.Sz)
		filled, _ := decimal.NewFromString(r.AccFillSz)
		fillPrice, _ := decimal.NewFromString(r.FillPx)
		side, _ := core.NormalizeSide(r.Side)

		upd := OrderUpdate{
			OrderID:    r.OrdID,
			ClOrdID:    r.ClOrdID,
			Symbol:     r.InstID,
			Side:       side,
			Price:      price,
			Size:       size,
			FilledSize: filled,
			FillPrice:  fillPrice,
			State:      r.State,
		}

		switch r.State {
		case "filled":
			_ = p.publish(core.NewEvent(core.EventOrderFilled, "private_ws", upd), core.PriorityOrderFilled)
		case "canceled", "cancelled":
			_ = p.publish(core.NewEvent(core.EventOrderCancelled, "private_ws", upd), core.PriorityOrderUpdate)
		default:
			_ = p.publish(core.NewEvent(core.EventOrderUpdate, "private_ws", upd), core.PriorityOrderUpdate)
		}
	}
}
