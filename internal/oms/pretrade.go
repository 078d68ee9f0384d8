// Package oms implements the Order Management System: order
// lifecycle, client-ID correlation, pre-trade checks, post-fill
// stop-loss placement with retry, ghost-order cleanup, and the
// position manager.
package oms

import (
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

// PreTradeConfig holds the two pre-trade knobs: the single-order size
// cap and the stop/take-profit price tolerance.
type PreTradeConfig struct {
	MaxSingleOrderSizePercent decimal.Decimal // default 0.20
	PriceTolerance            decimal.Decimal // default 0.001 (0.1%)
}

func DefaultPreTradeConfig() PreTradeConfig {
	return PreTradeConfig{
		MaxSingleOrderSizePercent: decimal.NewFromFloat(0.20),
		PriceTolerance:            decimal.NewFromFloat(0.001),
	}
}

// OrderDetails is the input to IsOrderRational.
type OrderDetails struct {
	Side           core.Side
	Size           decimal.Decimal
	Price          decimal.Decimal
	StopLossPrice  *decimal.Decimal
	TakeProfit     *decimal.Decimal
}

// PreTradeCheck is stateless aside from its config.
type PreTradeCheck struct {
	cfg PreTradeConfig
}

func NewPreTradeCheck(cfg PreTradeConfig) *PreTradeCheck {
	return &PreTradeCheck{cfg: cfg}
}

// IsOrderRational applies spec.md §4.4.3's checks and returns
// (ok, reason). The caller logs the reason on rejection.
func (c *PreTradeCheck) IsOrderRational(o OrderDetails, equity decimal.Decimal, currentPrice decimal.Decimal) (bool, string) {
	if o.Side != core.SideBuy && o.Side != core.SideSell {
		return false, "side must be buy or sell"
	}
	if o.Size.LessThanOrEqual(decimal.Zero) {
		return false, "size must be strictly positive"
	}
	if o.Price.IsNegative() {
		return false, "price must be non-negative"
	}

	maxSize := equity.Mul(c.cfg.MaxSingleOrderSizePercent)
	notional := o.Size.Mul(currentPrice)
	if !currentPrice.IsZero() && notional.GreaterThan(maxSize) {
		return false, "order size exceeds max_single_order_size_percent of equity"
	}

	if currentPrice.IsZero() {
		return true, ""
	}

	tolerance := currentPrice.Mul(c.cfg.PriceTolerance)
	lowerBound := currentPrice.Sub(tolerance)
	upperBound := currentPrice.Add(tolerance)

	if o.StopLossPrice != nil && o.StopLossPrice.LessThanOrEqual(decimal.Zero) {
		return false, "stop loss price must be strictly positive"
	}
	if o.TakeProfit != nil && o.TakeProfit.LessThanOrEqual(decimal.Zero) {
		return false, "take profit price must be strictly positive"
	}

	if o.Side == core.SideBuy {
		if o.StopLossPrice != nil && o.StopLossPrice.GreaterThan(lowerBound) {
			return false, "buy stop loss must be below current price"
		}
		if o.TakeProfit != nil && o.TakeProfit.LessThan(upperBound) {
			return false, "buy take profit must be above current price"
		}
	} else {
		if o.StopLossPrice != nil && o.StopLossPrice.LessThan(upperBound) {
			return false, "sell stop loss must be above current price"
		}
		if o.TakeProfit != nil && o.TakeProfit.GreaterThan(lowerBound) {
			return false, "sell take profit must be below current price"
		}
	}

	return true, ""
}
