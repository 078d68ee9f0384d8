package gateway

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

// TradeFrame is the raw wire shape of one trades-channel push.
type TradeFrame struct {
	InstID  string `json:"instId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	TradeTS string `json:"ts"`
}

// Tick is the typed event published for each trade print.
// UsdtValue = price * size, per spec.md §4.2.3.
type Tick struct {
	Symbol     string
	Price      decimal.Decimal
	Size       decimal.Decimal
	Side       core.Side
	Ts         time.Time
	UsdtValue  decimal.Decimal
}

func parseTradeFrame(f TradeFrame) (Tick, error) {
	price, err := decimal.NewFromString(f.Px)
	if err != nil {
		return Tick{}, &core.ProtocolError{Channel: "trades", Err: err}
	}
	size, err := decimal.NewFromString(f.Sz)
	if err != nil {
		return Tick{}, &core.ProtocolError{Channel: "trades", Err: err}
	}
	side, _ := core.NormalizeSide(f.Side)

	ts := time.Now()
	if f.TradeTS != "" {
		if ms, perr := decimal.NewFromString(f.TradeTS); perr == nil {
			ts = time.UnixMilli(ms.IntPart())
		}
	}

	return Tick{
		Symbol:    f.InstID,
		Price:     price,
		Size:      size,
		Side:      side,
		Ts:        ts,
		UsdtValue: price.Mul(size),
	}, nil
}
