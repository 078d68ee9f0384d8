package gateway

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

// parseCandleRow converts one OKX-style candle row (array payload:
// [ts, o, h, l, c, vol, ...]) into a core.Candle. Only the array row
// shape is handled: its callers decode rows as string arrays, so a row
// sent as a JSON object is skipped by the WS candle handler and makes
// a REST kline response fail to decode.
func parseCandleRow(symbol string, row []string) (core.Candle, error) {
	if len(row) < 6 {
		return core.Candle{}, fmt.Errorf("candle row too short: %d fields", len(row))
	}
	msRaw, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return core.Candle{}, fmt.Errorf("parse candle ts: %w", err)
	}
	o, err := decimal.NewFromString(row[1])
	if err != nil {
		return core.Candle{}, fmt.Errorf("parse candle open: %w", err)
	}
	h, err := decimal.NewFromString(row[2])
	if err != nil {
		return core.Candle{}, fmt.Errorf("parse candle high: %w", err)
	}
	l, err := decimal.NewFromString(row[3])
	if err != nil {
		return core.Candle{}, fmt.Errorf("parse candle low: %w", err)
	}
	cl, err := decimal.NewFromString(row[4])
	if err != nil {
		return core.Candle{}, fmt.Errorf("parse candle close: %w", err)
	}
	v, err := decimal.NewFromString(row[5])
	if err != nil {
		return core.Candle{}, fmt.Errorf("parse candle volume: %w", err)
	}
	return core.Candle{
		Symbol: symbol,
		Open:   o,
		High:   h,
		Low:    l,
		Close:  cl,
		Volume: v,
		Ts:     time.UnixMilli(msRaw),
	}, nil
}

// parseCandleFrame converts a WS push frame for the candle channel
// (map form: {"instId", "data": [[...row...], ...]}) into candles.
func parseCandleFrame(symbol string, rows [][]string) ([]core.Candle, error) {
	out := make([]core.Candle, 0, len(rows))
	for _, r := range rows {
		c, err := parseCandleRow(symbol, r)
		if err != nil {
			return out, &core.ProtocolError{Channel: "candle", Err: err}
		}
		out = append(out, c)
	}
	return out, nil
}
