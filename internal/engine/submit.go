package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
	"github.com/okx-scalper/core/internal/gateway"
	"github.com/okx-scalper/core/internal/oms"
)

// SubmitRequest bundles everything SubmitOrder needs, mirroring
// submit_order's keyword arguments in
// original_source/tests/test_order_manager.py.
type SubmitRequest struct {
	Symbol        string
	Side          core.Side
	OrderType     core.OrderType
	Size          decimal.Decimal
	Price         *decimal.Decimal
	StopLossPrice *decimal.Decimal
	TakeProfit    *decimal.Decimal
	StrategyID    string
}

// SubmitOrder runs the submit flow in order: pre-trade check,
// buying-power check, REST placement, book insertion, and an
// OrderSubmitted publish. Any rejection short-circuits before the
// exchange is touched and before anything is inserted into the book.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitRequest) (*core.Order, error) {
	currentPrice := decimal.Zero
	switch {
	case req.Price != nil:
		currentPrice = *req.Price
	default:
		if book, ok := e.MarketData.Book(req.Symbol); ok {
			if req.Side == core.SideBuy {
				currentPrice = book.BestAsk
			} else {
				currentPrice = book.BestBid
			}
		}
	}

	balance, err := e.Rest.GetBalance(ctx, "USDT")
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch balance for submit flow, treating as zero")
		balance = decimal.Zero
	}
	equity := e.Positions.TotalEquity(balance)

	rational, reason := e.PreTrade.IsOrderRational(oms.OrderDetails{
		Side:          req.Side,
		Size:          req.Size,
		Price:         currentPrice,
		StopLossPrice: req.StopLossPrice,
		TakeProfit:    req.TakeProfit,
	}, equity, currentPrice)
	if !rational {
		return nil, &core.RiskReject{Reason: reason}
	}

	// Buying power is checked against free cash balance, not total
	// equity: an open position's unrealized gain is not spendable.
	notional := req.Size.Mul(currentPrice)
	if err := e.Capital.CheckBuyingPower(notional, balance); err != nil {
		return nil, err
	}

	order, err := e.Rest.PlaceOrder(ctx, gateway.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Side:          req.Side,
		OrderType:     req.OrderType,
		Size:          req.Size,
		Price:         req.Price,
		StopLossPrice: req.StopLossPrice,
		StrategyID:    req.StrategyID,
	})
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	e.Book.Submit(order)

	evt := core.NewEvent(core.EventOrderSubmitted, "engine", order)
	if err := e.Bus.Publish(evt, core.DefaultPriority(core.EventOrderSubmitted)); err != nil {
		log.Warn().Err(err).Str("order_id", order.OrderID).Msg("failed to publish OrderSubmitted")
	}

	return order, nil
}
