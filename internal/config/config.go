// Package config loads the typed runtime configuration from the
// process environment (optionally populated from a .env file via
// godotenv), grounded on the teacher's internal/config/config.go
// env-helper family, retargeted to the OKX_*/SCALPER_* key set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// SizingConfig mirrors internal/sizer.Config's tunables, loaded from
// SCALPER_POSITION_SIZING_* keys.
type SizingConfig struct {
	BaseEquityRatio            decimal.Decimal
	SignalThresholdNormal      decimal.Decimal
	SignalThresholdAggressive  decimal.Decimal
	SignalAggressiveMultiplier decimal.Decimal
	VolatilityWindowSize       int
	VolatilityThreshold        decimal.Decimal
	LiquidityDepthLevels       int
	LiquidityDepthRatio        decimal.Decimal
	MinOrderValue              decimal.Decimal
}

// GuardianConfig mirrors internal/guardian.Config's tunables.
type GuardianConfig struct {
	CheckInterval          time.Duration
	EventLoopThreshold     int64
	EquityDropThresholdPct decimal.Decimal
	WSReconnectThreshold   int64
	SnapshotDir            string
	AutoCloseOnMeltdown    bool
}

// Config is the fully-resolved, typed runtime configuration for one
// trading process.
type Config struct {
	// Exchange credentials (OKX_*).
	APIKey     string
	SecretKey  string
	Passphrase string
	UseDemo    bool
	RestURL    string
	PublicWSURL  string
	PrivateWSURL string

	// Core instrument/execution settings (SCALPER_*).
	Symbol             string
	Capital            decimal.Decimal
	Leverage           decimal.Decimal
	ImbalanceRatio     decimal.Decimal
	MinFlowUSDT        decimal.Decimal
	TakeProfitPct      decimal.Decimal
	StopLossPct        decimal.Decimal
	TimeLimitSeconds   time.Duration
	CooldownSeconds    time.Duration
	MakerTimeoutSeconds time.Duration
	DepthFilterLevels  int
	DepthFilterMinUSDT decimal.Decimal
	TradeDirection     string // "both", "long_only", "short_only"
	EMAFilterMode      string // "off", "boost_only", "strict"
	EMABoostPct        decimal.Decimal

	Sizing   SizingConfig
	Guardian GuardianConfig

	// Ambient.
	Debug          bool
	DatabasePath   string
	DatabaseDSN    string
	TelegramToken  string
	TelegramChatID int64
}

// Load reads every key from the environment, applying spec defaults
// where unset. It does not itself call godotenv.Load — the caller
// (cmd/scalper/main.go) loads .env first so this stays testable
// without touching the filesystem.
func Load() (*Config, error) {
	cfg := &Config{
		APIKey:       os.Getenv("OKX_API_KEY"),
		SecretKey:    os.Getenv("OKX_SECRET_KEY"),
		Passphrase:   os.Getenv("OKX_PASSPHRASE"),
		UseDemo:      getEnvBool("USE_DEMO", true),
		RestURL:      getEnv("OKX_REST_URL", "https://www.okx.com"),
		PublicWSURL:  getEnv("OKX_PUBLIC_WS_URL", "wss://ws.okx.com:8443/ws/v5/public"),
		PrivateWSURL: getEnv("OKX_PRIVATE_WS_URL", "wss://ws.okx.com:8443/ws/v5/private"),

		Symbol:              getEnv("SCALPER_SYMBOL", "BTC-USDT-SWAP"),
		Capital:             getEnvDecimal("SCALPER_CAPITAL", decimal.NewFromInt(1000)),
		Leverage:            getEnvDecimal("SCALPER_LEVERAGE", decimal.NewFromInt(3)),
		ImbalanceRatio:      getEnvDecimal("SCALPER_IMBALANCE_RATIO", decimal.NewFromInt(5)),
		MinFlowUSDT:         getEnvDecimal("SCALPER_MIN_FLOW_USDT", decimal.NewFromInt(5000)),
		TakeProfitPct:       getEnvDecimal("SCALPER_TAKE_PROFIT_PCT", decimal.NewFromFloat(0.003)),
		StopLossPct:         getEnvDecimal("SCALPER_STOP_LOSS_PCT", decimal.NewFromFloat(0.0015)),
		TimeLimitSeconds:    getEnvDuration("SCALPER_TIME_LIMIT_SECONDS", 120*time.Second),
		CooldownSeconds:     getEnvDuration("SCALPER_COOLDOWN_SECONDS", 30*time.Second),
		MakerTimeoutSeconds: getEnvDuration("SCALPER_MAKER_TIMEOUT_SECONDS", 10*time.Second),
		DepthFilterLevels:   getEnvInt("SCALPER_DEPTH_FILTER_LEVELS", 3),
		DepthFilterMinUSDT:  getEnvDecimal("SCALPER_DEPTH_FILTER_MIN_USDT", decimal.NewFromInt(20000)),
		TradeDirection:      getEnv("SCALPER_TRADE_DIRECTION", "both"),
		EMAFilterMode:       getEnv("SCALPER_EMA_FILTER_MODE", "boost_only"),
		EMABoostPct:         getEnvDecimal("SCALPER_EMA_BOOST_PCT", decimal.NewFromFloat(0.5)),

		Sizing: SizingConfig{
			BaseEquityRatio:            getEnvDecimal("SCALPER_POSITION_SIZING_BASE_EQUITY_RATIO", decimal.NewFromFloat(0.02)),
			SignalThresholdNormal:      getEnvDecimal("SCALPER_POSITION_SIZING_SIGNAL_THRESHOLD_NORMAL", decimal.NewFromInt(5)),
			SignalThresholdAggressive:  getEnvDecimal("SCALPER_POSITION_SIZING_SIGNAL_THRESHOLD_AGGRESSIVE", decimal.NewFromInt(10)),
			SignalAggressiveMultiplier: getEnvDecimal("SCALPER_POSITION_SIZING_SIGNAL_AGGRESSIVE_MULTIPLIER", decimal.NewFromFloat(1.5)),
			VolatilityWindowSize:       getEnvInt("SCALPER_POSITION_SIZING_VOLATILITY_WINDOW_SIZE", 20),
			VolatilityThreshold:        getEnvDecimal("SCALPER_POSITION_SIZING_VOLATILITY_THRESHOLD", decimal.NewFromFloat(0.001)),
			LiquidityDepthLevels:       getEnvInt("SCALPER_POSITION_SIZING_LIQUIDITY_DEPTH_LEVELS", 3),
			LiquidityDepthRatio:        getEnvDecimal("SCALPER_POSITION_SIZING_LIQUIDITY_DEPTH_RATIO", decimal.NewFromFloat(0.20)),
			MinOrderValue:              getEnvDecimal("SCALPER_POSITION_SIZING_MIN_ORDER_VALUE", decimal.NewFromInt(10)),
		},

		Guardian: GuardianConfig{
			CheckInterval:          getEnvDuration("SCALPER_GUARDIAN_CHECK_INTERVAL", 5*time.Second),
			EventLoopThreshold:     int64(getEnvInt("SCALPER_GUARDIAN_EVENT_LOOP_THRESHOLD", 10000)),
			EquityDropThresholdPct: getEnvDecimal("SCALPER_GUARDIAN_EQUITY_DROP_THRESHOLD_PCT", decimal.NewFromFloat(0.10)),
			WSReconnectThreshold:   int64(getEnvInt("SCALPER_GUARDIAN_WS_RECONNECT_THRESHOLD", 30)),
			SnapshotDir:            getEnv("SCALPER_GUARDIAN_SNAPSHOT_DIR", "data/meltdown_snapshots"),
			AutoCloseOnMeltdown:    getEnvBool("SCALPER_GUARDIAN_AUTO_CLOSE_ON_MELTDOWN", false),
		},

		Debug:          getEnvBool("DEBUG", false),
		DatabasePath:   getEnv("DATABASE_PATH", "data/scalper.db"),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIKey == "" || c.SecretKey == "" || c.Passphrase == "" {
		return fmt.Errorf("OKX_API_KEY, OKX_SECRET_KEY and OKX_PASSPHRASE must all be set")
	}
	if c.Symbol == "" {
		return fmt.Errorf("SCALPER_SYMBOL must not be empty")
	}
	switch c.TradeDirection {
	case "both", "long_only", "short_only":
	default:
		return fmt.Errorf("invalid SCALPER_TRADE_DIRECTION %q", c.TradeDirection)
	}
	switch c.EMAFilterMode {
	case "off", "boost_only", "strict":
	default:
		return fmt.Errorf("invalid SCALPER_EMA_FILTER_MODE %q", c.EMAFilterMode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
