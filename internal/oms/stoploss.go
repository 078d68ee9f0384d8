package oms

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

// StopLossConfig bounds the protective-stop placement retry loop.
// Grounded on risk/tp_sl.go's exit-monitor shape, generalized per
// spec.md §9 from a free-running monitor goroutine into a state
// machine attached to the Order itself so a crash mid-retry can be
// resumed from the order's own fields.
type StopLossConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

func DefaultStopLossConfig() StopLossConfig {
	return StopLossConfig{MaxAttempts: 3, BaseBackoff: 2 * time.Second}
}

// PlaceStopFunc submits the protective stop order to the exchange and
// reports whether it was accepted.
type PlaceStopFunc func(o *core.Order, stopPrice decimal.Decimal) error

// StopLossManager drives the bounded retry loop after an entry order
// fills: a protective stop must land before the position is left
// naked, but a single rejected attempt (e.g. transient API error)
// should not be treated as fatal.
type StopLossManager struct {
	cfg   StopLossConfig
	place PlaceStopFunc
}

func NewStopLossManager(cfg StopLossConfig, place PlaceStopFunc) *StopLossManager {
	return &StopLossManager{cfg: cfg, place: place}
}

// OnFill is called once an entry order's Status first becomes Filled
// or PartiallyFilled. It attempts to place the protective stop and, on
// failure, leaves the order's retry bookkeeping updated so a later
// call (e.g. from the same poll tick, or Retry) can pick up where it
// left off.
func (m *StopLossManager) OnFill(o *core.Order) error {
	if o.StopLossPrice == nil || o.StopPlaced {
		return nil
	}
	return m.attempt(o)
}

// Retry is invoked on a periodic tick for every live order with a
// pending (not-yet-placed) stop, applying exponential backoff between
// attempts and giving up permanently once MaxAttempts is exhausted.
func (m *StopLossManager) Retry(o *core.Order, riskAlert func(reason string)) error {
	if o.StopLossPrice == nil || o.StopPlaced {
		return nil
	}
	if o.StopRetryCount >= m.cfg.MaxAttempts {
		return nil // already exhausted; caller already alerted
	}
	backoff := m.cfg.BaseBackoff * time.Duration(1<<uint(o.StopRetryCount))
	if time.Since(o.StopLastRetryAt) < backoff {
		return nil
	}

	err := m.attempt(o)
	if err != nil && o.StopRetryCount >= m.cfg.MaxAttempts {
		reason := "protective stop could not be placed after max attempts, position is unprotected"
		log.Error().Str("order_id", o.OrderID).Str("symbol", o.Symbol).Err(err).Msg(reason)
		if riskAlert != nil {
			riskAlert(reason)
		}
	}
	return err
}

func (m *StopLossManager) attempt(o *core.Order) error {
	o.StopRetryCount++
	o.StopLastRetryAt = time.Now()

	err := m.place(o, *o.StopLossPrice)
	if err != nil {
		log.Warn().Str("order_id", o.OrderID).Int("attempt", o.StopRetryCount).Err(err).
			Msg("stop loss placement attempt failed")
		return err
	}
	o.StopPlaced = true
	log.Info().Str("order_id", o.OrderID).Str("symbol", o.Symbol).
		Str("stop_price", o.StopLossPrice.String()).Msg("protective stop placed")
	return nil
}

// Exhausted reports whether the retry budget for this order's stop
// placement has been used up.
func (m *StopLossManager) Exhausted(o *core.Order) bool {
	return !o.StopPlaced && o.StopRetryCount >= m.cfg.MaxAttempts
}
