package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseBookFrameRoundTrip(t *testing.T) {
	bids := [][]string{{"50000.1", "1.5"}, {"50000.0", "2.0"}}
	asks := [][]string{{"50000.2", "1.0"}}
	snap, err := parseBookFrame("BTC-USDT-SWAP", bids, asks)
	require.NoError(t, err)
	require.True(t, snap.BestBid.Equal(decimal.RequireFromString("50000.1")))
	require.True(t, snap.BestAsk.Equal(decimal.RequireFromString("50000.2")))
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 1)
}

func TestParseBookFrameCapsAtFiveLevels(t *testing.T) {
	var bids [][]string
	for i := 0; i < 10; i++ {
		bids = append(bids, []string{"100", "1"})
	}
	snap, err := parseBookFrame("X", bids, nil)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 5)
}

func TestParseCandleRowRoundTrip(t *testing.T) {
	row := []string{"1700000000000", "100.5", "101.0", "99.0", "100.8", "42.0"}
	c, err := parseCandleRow("BTC-USDT-SWAP", row)
	require.NoError(t, err)
	require.True(t, c.Open.Equal(decimal.RequireFromString("100.5")))
	require.True(t, c.Close.Equal(decimal.RequireFromString("100.8")))
}

func TestParseTradeFrameComputesUsdtValue(t *testing.T) {
	tick, err := parseTradeFrame(TradeFrame{InstID: "BTC-USDT-SWAP", Px: "50000", Sz: "2", Side: "buy"})
	require.NoError(t, err)
	require.True(t, tick.UsdtValue.Equal(decimal.NewFromInt(100000)))
}
