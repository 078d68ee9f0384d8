package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/okx-scalper/core/internal/config"
	"github.com/okx-scalper/core/internal/core"
)

func TestSumSize(t *testing.T) {
	levels := []core.PriceLevel{
		{Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(2)},
		{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(3)},
	}
	require.True(t, sumSize(levels).Equal(decimal.NewFromInt(5)))
}

func TestStopPriceBuyBelowEntry(t *testing.T) {
	cfg := &config.Config{StopLossPct: decimal.NewFromFloat(0.01)}
	stop := stopPrice(cfg, core.SideBuy, decimal.NewFromInt(100))
	require.True(t, stop.Equal(decimal.NewFromInt(99)), "got %s", stop)
}

func TestStopPriceSellAboveEntry(t *testing.T) {
	cfg := &config.Config{StopLossPct: decimal.NewFromFloat(0.01)}
	stop := stopPrice(cfg, core.SideSell, decimal.NewFromInt(100))
	require.True(t, stop.Equal(decimal.NewFromInt(101)), "got %s", stop)
}
