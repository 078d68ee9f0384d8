package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	keys := []string{
		"OKX_API_KEY", "OKX_SECRET_KEY", "OKX_PASSPHRASE", "USE_DEMO",
		"SCALPER_SYMBOL", "SCALPER_TRADE_DIRECTION", "SCALPER_EMA_FILTER_MODE",
		"SCALPER_CAPITAL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadFailsWithoutCredentials(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OKX_API_KEY", "key")
	t.Setenv("OKX_SECRET_KEY", "secret")
	t.Setenv("OKX_PASSPHRASE", "pass")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "BTC-USDT-SWAP", cfg.Symbol)
	require.Equal(t, "both", cfg.TradeDirection)
	require.True(t, cfg.UseDemo)
	require.True(t, cfg.Sizing.MinOrderValue.Equal(decimal.NewFromInt(10)))
}

func TestLoadRejectsInvalidTradeDirection(t *testing.T) {
	clearEnv(t)
	t.Setenv("OKX_API_KEY", "key")
	t.Setenv("OKX_SECRET_KEY", "secret")
	t.Setenv("OKX_PASSPHRASE", "pass")
	t.Setenv("SCALPER_TRADE_DIRECTION", "sideways")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OKX_API_KEY", "key")
	t.Setenv("OKX_SECRET_KEY", "secret")
	t.Setenv("OKX_PASSPHRASE", "pass")
	t.Setenv("SCALPER_SYMBOL", "ETH-USDT-SWAP")
	t.Setenv("SCALPER_CAPITAL", "5000")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "ETH-USDT-SWAP", cfg.Symbol)
	require.True(t, cfg.Capital.Equal(decimal.NewFromInt(5000)))
}
