package marketdata

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/okx-scalper/core/internal/core"
)

func TestOnBookUpdateStoresImmutableSnapshot(t *testing.T) {
	m := New()
	snap := core.OrderBookSnapshot{
		Symbol:  "BTC-USDT-SWAP",
		Bids:    []core.PriceLevel{{Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1)}},
		Asks:    []core.PriceLevel{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)}},
		BestBid: decimal.NewFromInt(100),
		BestAsk: decimal.NewFromInt(101),
	}
	m.OnBookUpdate(core.NewEvent(core.EventBookUpdate, "test", snap))

	got, ok := m.Book("BTC-USDT-SWAP")
	require.True(t, ok)
	require.True(t, got.BestBid.Equal(decimal.NewFromInt(100)))

	bid, ask := m.BestBidAsk("BTC-USDT-SWAP")
	require.True(t, bid.Equal(decimal.NewFromInt(100)))
	require.True(t, ask.Equal(decimal.NewFromInt(101)))
}

func TestDepthCapsAtRequestedLevels(t *testing.T) {
	m := New()
	snap := core.OrderBookSnapshot{
		Symbol: "X",
		Bids: []core.PriceLevel{
			{Price: decimal.NewFromInt(3), Size: decimal.NewFromInt(1)},
			{Price: decimal.NewFromInt(2), Size: decimal.NewFromInt(1)},
			{Price: decimal.NewFromInt(1), Size: decimal.NewFromInt(1)},
		},
	}
	m.OnBookUpdate(core.NewEvent(core.EventBookUpdate, "test", snap))
	bids, _ := m.Depth("X", 2)
	require.Len(t, bids, 2)
}

func TestUnknownSymbolReturnsZeroValue(t *testing.T) {
	m := New()
	_, ok := m.Book("NOPE")
	require.False(t, ok)
	bid, ask := m.BestBidAsk("NOPE")
	require.True(t, bid.IsZero())
	require.True(t, ask.IsZero())
}
