package gateway

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/okx-scalper/core/internal/core"
)

// PublicWS subscribes to trades/books/candles for a set of symbols
// and republishes them as typed events onto the bus.
type PublicWS struct {
	conn    *WSConn
	symbols []string
	publish func(core.Event, uint8) error
}

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId,omitempty"`
	InstType string `json:"instType,omitempty"`
}

type subscribeMsg struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

type wsPushFrame struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string            `json:"action"`
	Data   []json.RawMessage `json:"data"`
}

// NewPublicWS builds the public market-data gateway. publish is
// typically *eventbus.Bus.Publish, injected to avoid a direct
// dependency from gateway -> eventbus.
func NewPublicWS(url string, symbols []string, publish func(core.Event, uint8) error) *PublicWS {
	p := &PublicWS{symbols: symbols, publish: publish}
	p.conn = NewWSConn(url, p.handleFrame, p.onConnected)
	p.conn.OnFatal(func(err error) {
		_ = publish(fatalEvent("public_ws", err), core.PriorityRiskAlert)
	})
	return p
}

func (p *PublicWS) Start() { p.conn.Start() }
func (p *PublicWS) Stop()  { p.conn.Stop() }

// ReconnectCount exposes the connection's reconnect counter for
// Guardian's WS-death-spiral detector.
func (p *PublicWS) ReconnectCount() int64 { return p.conn.ReconnectCount() }

// onConnected re-subscribes automatically after every (re)connect.
func (p *PublicWS) onConnected(conn *WSConn) error {
	args := make([]subscribeArg, 0, len(p.symbols)*3)
	for _, sym := range p.symbols {
		args = append(args,
			subscribeArg{Channel: "trades", InstID: sym},
			subscribeArg{Channel: "books", InstID: sym},
			subscribeArg{Channel: "candle1m", InstID: sym},
		)
	}
	msg, err := json.Marshal(subscribeMsg{Op: "subscribe", Args: args})
	if err != nil {
		return err
	}
	return conn.Send(msg)
}

func (p *PublicWS) handleFrame(raw []byte) {
	var frame wsPushFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Warn().Err(err).Msg("public ws: failed to parse frame")
		return
	}
	switch frame.Arg.Channel {
	case "trades":
		p.handleTrades(frame)
	case "books":
		p.handleBooks(frame)
	default:
		if len(frame.Arg.Channel) >= 6 && frame.Arg.Channel[:6] == "candle" {
			p.handleCandles(frame)
		}
	}
}

func (p *PublicWS) handleTrades(frame wsPushFrame) {
	for _, raw := range frame.Data {
		var tf TradeFrame
		if err := json.Unmarshal(raw, &tf); err != nil {
			log.Warn().Err(err).Msg("public ws: bad trade frame")
			continue
		}
		tick, err := parseTradeFrame(tf)
		if err != nil {
			log.Warn().Err(err).Msg("public ws: trade parse error")
			continue
		}
		_ = p.publish(core.NewEvent(core.EventTick, "public_ws", tick), core.PriorityTick)
	}
}

type bookData struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

func (p *PublicWS) handleBooks(frame wsPushFrame) {
	for _, raw := range frame.Data {
		var bd bookData
		if err := json.Unmarshal(raw, &bd); err != nil {
			log.Warn().Err(err).Msg("public ws: bad book frame")
			continue
		}
		snap, err := parseBookFrame(frame.Arg.InstID, bd.Bids, bd.Asks)
		if err != nil {
			log.Warn().Err(err).Msg("public ws: book parse error")
			continue
		}
		if !snap.BestBid.IsZero() && !snap.BestAsk.IsZero() && snap.BestBid.GreaterThanOrEqual(snap.BestAsk) {
			log.Warn().Str("symbol", snap.Symbol).Msg("book snapshot violates best_bid < best_ask invariant")
		}
		_ = p.publish(core.NewEvent(core.EventBookUpdate, "public_ws", snap), core.PriorityTick)
	}
}

func (p *PublicWS) handleCandles(frame wsPushFrame) {
	rows := make([][]string, 0, len(frame.Data))
	for _, raw := range frame.Data {
		var row []string
		if err := json.Unmarshal(raw, &row); err != nil {
			log.Warn().Err(err).Msg("public ws: bad candle frame")
			continue
		}
		rows = append(rows, row)
	}
	candles, err := parseCandleFrame(frame.Arg.InstID, rows)
	if err != nil {
		log.Warn().Err(err).Msg("public ws: candle parse error")
		return
	}
	for _, c := range candles {
		_ = p.publish(core.NewEvent(core.EventCandle, "public_ws", c), core.PriorityTick)
	}
}
