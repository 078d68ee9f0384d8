package oms

import (
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

// DefaultMaxUtilization caps a single order's notional at 90% of
// available equity, leaving headroom for existing open exposure and
// fees.
var DefaultMaxUtilization = decimal.NewFromFloat(0.90)

// CapitalCommander gates order submission on available buying power.
// Grounded on original_source/tests/test_order_manager.py, which mocks
// _capital_commander.check_buying_power as a pass/fail gate evaluated
// before submit_order ever reaches the exchange; no source
// implementation of the Python class exists in the retrieval pack, so
// the gate here reconstructs its contract from the test's usage.
type CapitalCommander struct {
	MaxUtilization decimal.Decimal
}

func NewCapitalCommander(maxUtilization decimal.Decimal) *CapitalCommander {
	return &CapitalCommander{MaxUtilization: maxUtilization}
}

// CheckBuyingPower returns an *core.InsufficientCapital error when an
// order's notional value would exceed the permitted share of
// availableEquity.
func (c *CapitalCommander) CheckBuyingPower(notional, availableEquity decimal.Decimal) error {
	if availableEquity.LessThanOrEqual(decimal.Zero) {
		return &core.InsufficientCapital{
			Required:  notional.StringFixed(2),
			Available: availableEquity.StringFixed(2),
		}
	}
	limit := availableEquity.Mul(c.MaxUtilization)
	if notional.GreaterThan(limit) {
		return &core.InsufficientCapital{
			Required:  notional.StringFixed(2),
			Available: limit.StringFixed(2),
		}
	}
	return nil
}
