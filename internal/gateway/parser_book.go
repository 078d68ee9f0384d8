package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

const maxBookLevels = 5

// parseBookLevels normalizes a raw [[price, size, ...], ...] frame
// into at most maxBookLevels typed PriceLevels, mirroring the
// teacher's orderbook normalization helper generalized from
// Polymarket's [[]interface{}] wire shape to OKX's [][]string shape.
func parseBookLevels(raw [][]string) ([]core.PriceLevel, error) {
	n := len(raw)
	if n > maxBookLevels {
		n = maxBookLevels
	}
	out := make([]core.PriceLevel, 0, n)
	for i := 0; i < n; i++ {
		row := raw[i]
		if len(row) < 2 {
			return nil, fmt.Errorf("book level %d has %d fields, want >= 2", i, len(row))
		}
		price, err := decimal.NewFromString(row[0])
		if err != nil {
			return nil, fmt.Errorf("parse book price: %w", err)
		}
		size, err := decimal.NewFromString(row[1])
		if err != nil {
			return nil, fmt.Errorf("parse book size: %w", err)
		}
		out = append(out, core.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// parseBookFrame converts a raw books-channel push into a
// core.OrderBookSnapshot. A violated best_bid < best_ask invariant is
// not fatal: the snapshot is still returned, and the caller is
// responsible for logging the warning (spec.md §4.3).
func parseBookFrame(symbol string, bids, asks [][]string) (core.OrderBookSnapshot, error) {
	bidLevels, err := parseBookLevels(bids)
	if err != nil {
		return core.OrderBookSnapshot{}, &core.ProtocolError{Channel: "books", Err: err}
	}
	askLevels, err := parseBookLevels(asks)
	if err != nil {
		return core.OrderBookSnapshot{}, &core.ProtocolError{Channel: "books", Err: err}
	}

	snap := core.OrderBookSnapshot{
		Symbol: symbol,
		Bids:   bidLevels,
		Asks:   askLevels,
	}
	if len(bidLevels) > 0 {
		snap.BestBid = bidLevels[0].Price
	}
	if len(askLevels) > 0 {
		snap.BestAsk = askLevels[0].Price
	}
	return snap, nil
}
