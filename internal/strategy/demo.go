// Package strategy provides a minimal order-flow-imbalance demo
// strategy. Strategy alpha logic is explicitly out of scope for the
// core — this package exists only as a runnable caller exercising
// the wired engine end to end, grounded on strategy/breakout_15m.go's
// cooldown/threshold shape but stripped to the single signal the
// demo needs.
package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/config"
	"github.com/okx-scalper/core/internal/core"
	"github.com/okx-scalper/core/internal/engine"
	"github.com/okx-scalper/core/internal/sizer"
)

// OrderFlowDemo submits a single directional order whenever the
// bid/ask size ratio, summed over every level of the book snapshot,
// crosses the configured imbalance
// threshold, after clearing the pre-trade check and respecting the
// cooldown between signals.
type OrderFlowDemo struct {
	eng *engine.Engine
	cfg *config.Config

	mu           sync.Mutex
	lastSignalAt time.Time
}

func NewOrderFlowDemo(eng *engine.Engine, cfg *config.Config) *OrderFlowDemo {
	return &OrderFlowDemo{eng: eng, cfg: cfg}
}

// OnTick evaluates the current book for symbol and submits an order if
// the imbalance ratio and cooldown conditions are met.
func (s *OrderFlowDemo) OnTick(symbol string) {
	if !s.eng.StrategiesEnabled() {
		return
	}

	s.mu.Lock()
	if time.Since(s.lastSignalAt) < s.cfg.CooldownSeconds {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	book, ok := s.eng.MarketData.Book(symbol)
	if !ok || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return
	}

	bidDepth := sumSize(book.Bids)
	askDepth := sumSize(book.Asks)
	if askDepth.IsZero() {
		return
	}
	ratio := bidDepth.Div(askDepth)

	var side core.Side
	var signalRatio decimal.Decimal
	switch {
	case ratio.GreaterThanOrEqual(s.cfg.ImbalanceRatio):
		side = core.SideBuy
		signalRatio = ratio
	case ratio.LessThanOrEqual(decimal.NewFromInt(1).Div(s.cfg.ImbalanceRatio)):
		side = core.SideSell
		signalRatio = decimal.NewFromInt(1).Div(ratio) // invert so the dominant-side ratio is always >= 1
	default:
		return
	}
	if s.cfg.TradeDirection == "long_only" && side == core.SideSell {
		return
	}
	if s.cfg.TradeDirection == "short_only" && side == core.SideBuy {
		return
	}

	price := book.BestBid
	if side == core.SideBuy {
		price = book.BestAsk
	}

	amount := s.eng.Sizer.CalculateOrderSize(sizer.Inputs{
		AccountEquity: s.eng.Positions.TotalEquity(s.cfg.Capital),
		Bids:          book.Bids,
		Asks:          book.Asks,
		SignalRatio:   signalRatio,
		CurrentPrice:  price,
		Side:          side,
		ContractValue: decimal.NewFromInt(1),
		EMABoost:      decimal.NewFromInt(1),
	})
	if amount.IsZero() {
		return
	}

	// Pre-trade and buying-power checks run inside SubmitOrder; a
	// rejection there is logged and treated like any other skipped
	// signal.
	stop := stopPrice(s.cfg, side, price)
	_, err := s.eng.SubmitOrder(context.Background(), engine.SubmitRequest{
		Symbol:        symbol,
		Side:          side,
		OrderType:     core.OrderTypeMarket,
		Size:          amount,
		Price:         &price,
		StopLossPrice: &stop,
		StrategyID:    "order_flow_demo",
	})
	if err != nil {
		log.Warn().Err(err).Msg("demo strategy order submission failed")
		return
	}
	s.eng.Ledger.UpdateTarget(symbol, side, amount)

	s.mu.Lock()
	s.lastSignalAt = time.Now()
	s.mu.Unlock()
}

func sumSize(levels []core.PriceLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Size)
	}
	return total
}

func stopPrice(cfg *config.Config, side core.Side, price decimal.Decimal) decimal.Decimal {
	if side == core.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Sub(cfg.StopLossPct))
	}
	return price.Mul(decimal.NewFromInt(1).Add(cfg.StopLossPct))
}
