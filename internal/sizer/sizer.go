// Package sizer implements the adaptive position-sizing pipeline:
// equity-based base sizing, signal-strength multiplier, EMA boost,
// volatility damping, and a one-sided liquidity cap.
package sizer

import (
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

// Config holds every tunable threshold in the sizing pipeline,
// grounded on original_source/src/strategies/hft/components/
// position_sizer.py's PositionSizingConfig dataclass.
type Config struct {
	BaseEquityRatio          decimal.Decimal // default 0.02
	SignalThresholdNormal    decimal.Decimal // default 5
	SignalThresholdAggressive decimal.Decimal // default 10
	SignalAggressiveMultiplier decimal.Decimal // default 1.5
	VolatilityWindowSize     int             // default 20
	VolatilityThreshold      decimal.Decimal // default 0.001
	LiquidityDepthLevels     int             // default 3
	LiquidityDepthRatio      decimal.Decimal // default 0.20
	MinOrderValue            decimal.Decimal // default 10 USDT
}

// DefaultConfig matches spec.md §4.5's literal default values.
func DefaultConfig() Config {
	return Config{
		BaseEquityRatio:            decimal.NewFromFloat(0.02),
		SignalThresholdNormal:      decimal.NewFromInt(5),
		SignalThresholdAggressive:  decimal.NewFromInt(10),
		SignalAggressiveMultiplier: decimal.NewFromFloat(1.5),
		VolatilityWindowSize:       20,
		VolatilityThreshold:        decimal.NewFromFloat(0.001),
		LiquidityDepthLevels:       3,
		LiquidityDepthRatio:        decimal.NewFromFloat(0.20),
		MinOrderValue:              decimal.NewFromInt(10),
	}
}

// Sizer is stateful only in its price-history ring buffer (a fixed-
// capacity slice, modeled on the teacher's feeds/signals.go
// PriceWindow trim-and-recompute shape). Reset is exposed but never
// auto-applied.
type Sizer struct {
	cfg     Config
	prices  []decimal.Decimal
}

func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg, prices: make([]decimal.Decimal, 0, cfg.VolatilityWindowSize)}
}

// Reset clears the volatility price history.
func (s *Sizer) Reset() {
	s.prices = s.prices[:0]
}

func (s *Sizer) updateVolatility(price decimal.Decimal) decimal.Decimal {
	s.prices = append(s.prices, price)
	if len(s.prices) > s.cfg.VolatilityWindowSize {
		s.prices = s.prices[len(s.prices)-s.cfg.VolatilityWindowSize:]
	}
	if len(s.prices) < s.cfg.VolatilityWindowSize {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, p := range s.prices {
		sum = sum.Add(p)
	}
	n := decimal.NewFromInt(int64(len(s.prices)))
	mean := sum.Div(n)
	if mean.IsZero() {
		return decimal.Zero
	}

	variance := decimal.Zero
	for _, p := range s.prices {
		d := p.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(n)
	stdDev := sqrtDecimal(variance)
	return stdDev.Div(mean)
}

// sqrtDecimal computes a square root to decimal precision via
// Newton's method; decimal.Decimal has no native Sqrt.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}
	x := d
	two := decimal.NewFromInt(2)
	for i := 0; i < 40; i++ {
		next := x.Add(d.Div(x)).Div(two)
		if next.Sub(x).Abs().LessThan(decimal.NewFromFloat(1e-12)) {
			x = next
			break
		}
		x = next
	}
	return x
}

func depthNotional(levels []core.PriceLevel, n int, contractValue decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	if n > len(levels) {
		n = len(levels)
	}
	for i := 0; i < n; i++ {
		total = total.Add(levels[i].Price.Mul(levels[i].Size).Mul(contractValue))
	}
	return total
}

// Inputs bundles everything CalculateOrderSize needs.
type Inputs struct {
	AccountEquity  decimal.Decimal
	Bids, Asks     []core.PriceLevel
	SignalRatio    decimal.Decimal
	CurrentPrice   decimal.Decimal
	Side           core.Side
	ContractValue  decimal.Decimal
	EMABoost       decimal.Decimal // clamped to [1.0, 2.0] by the caller
}

// CalculateOrderSize runs the strict-ordering pipeline from spec.md
// §4.5 and returns the notional amount in USDT (0 if the trade should
// be skipped).
func (s *Sizer) CalculateOrderSize(in Inputs) decimal.Decimal {
	// 1. Base.
	amount := in.AccountEquity.Mul(s.cfg.BaseEquityRatio)

	// 2. Signal multiplier.
	if in.SignalRatio.LessThan(s.cfg.SignalThresholdNormal) {
		return decimal.Zero
	}
	multiplier := decimal.NewFromInt(1)
	if in.SignalRatio.GreaterThanOrEqual(s.cfg.SignalThresholdAggressive) {
		multiplier = s.cfg.SignalAggressiveMultiplier
	}
	amount = amount.Mul(multiplier)

	// 3. EMA boost.
	emaBoost := in.EMABoost
	if emaBoost.LessThan(decimal.NewFromInt(1)) {
		emaBoost = decimal.NewFromInt(1)
	}
	if emaBoost.GreaterThan(decimal.NewFromInt(2)) {
		emaBoost = decimal.NewFromInt(2)
	}
	amount = amount.Mul(emaBoost)

	// 4. Volatility damping.
	vol := s.updateVolatility(in.CurrentPrice)
	dampingFactor := decimal.NewFromInt(1)
	if vol.GreaterThan(s.cfg.VolatilityThreshold) {
		excess := vol.Sub(s.cfg.VolatilityThreshold)
		dampingFactor = decimal.NewFromInt(1).Sub(excess.Mul(decimal.NewFromInt(10)))
		if dampingFactor.LessThan(decimal.NewFromFloat(0.5)) {
			dampingFactor = decimal.NewFromFloat(0.5)
		}
	}
	amount = amount.Mul(dampingFactor)

	// 5. Liquidity cap (one-sided: buy looks at asks, sell at bids).
	var levels []core.PriceLevel
	if in.Side == core.SideBuy {
		levels = in.Asks
	} else {
		levels = in.Bids
	}
	depth := depthNotional(levels, s.cfg.LiquidityDepthLevels, in.ContractValue)
	liquidityLimit := depth.Mul(s.cfg.LiquidityDepthRatio)
	if amount.GreaterThan(liquidityLimit) {
		amount = liquidityLimit
	}

	// 6. Minimum order-value floor.
	if amount.LessThan(s.cfg.MinOrderValue) {
		return decimal.Zero
	}
	return amount
}

// ConvertToContracts rounds (never truncates) a USDT notional into a
// whole contract count at the given price and contract value.
func ConvertToContracts(amountUSDT, price, contractValue decimal.Decimal) int64 {
	if price.LessThanOrEqual(decimal.Zero) || contractValue.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	contractNotional := price.Mul(contractValue)
	raw := amountUSDT.Div(contractNotional)
	rounded := raw.Round(0) // round, never truncate, to avoid boundary under-orders
	if rounded.IsZero() {
		return 0
	}
	return rounded.IntPart()
}
