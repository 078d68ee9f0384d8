package oms

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/okx-scalper/core/internal/core"
)

func TestSubmitThenLookupByOrderID(t *testing.T) {
	b := NewBook()
	o := &core.Order{OrderID: "ex-1", ClOrdID: "cl-1", Symbol: "BTC-USDT-SWAP", Status: core.OrderLive}
	b.Submit(o)

	got, ok := b.Lookup("ex-1", "")
	require.True(t, ok)
	require.Same(t, o, got)
}

// Scenario 2 (spec.md §8): a fill report arrives bearing only the
// cl_ord_id (the exchange order_id ack has not yet been processed).
func TestFillCorrelationByClOrdIDOnly(t *testing.T) {
	b := NewBook()
	o := &core.Order{ClOrdID: "cl-only", Symbol: "ETH-USDT-SWAP", Status: core.OrderLive, Size: decimal.NewFromInt(10)}
	b.Submit(o)

	updated, ok := b.ApplyFill(FillReport{
		ClOrdID:    "cl-only",
		Status:     core.OrderFilled,
		FilledSize: decimal.NewFromInt(10),
		AvgPrice:   decimal.NewFromInt(100),
	})
	require.True(t, ok)
	require.Equal(t, core.OrderFilled, updated.Status)
	require.True(t, updated.FilledSize.Equal(decimal.NewFromInt(10)))
}

func TestFillReportMatchingNothingIsDropped(t *testing.T) {
	b := NewBook()
	_, ok := b.ApplyFill(FillReport{OrderID: "unknown", ClOrdID: "unknown"})
	require.False(t, ok)
}

// filled_size must never move backward even if a stale/duplicate
// cumulative update arrives out of order.
func TestApplyFillNeverRegressesFilledSize(t *testing.T) {
	b := NewBook()
	o := &core.Order{OrderID: "ex-1", Status: core.OrderPartiallyFilled, FilledSize: decimal.NewFromInt(5)}
	b.Submit(o)

	_, ok := b.ApplyFill(FillReport{OrderID: "ex-1", Status: core.OrderPartiallyFilled, FilledSize: decimal.NewFromInt(3)})
	require.True(t, ok)
	require.True(t, o.FilledSize.Equal(decimal.NewFromInt(5)), "filled size regressed to %s", o.FilledSize)
}

func TestApplyFillNeverOverwritesTerminalStatus(t *testing.T) {
	b := NewBook()
	o := &core.Order{OrderID: "ex-1", Status: core.OrderCancelled, FilledSize: decimal.Zero}
	b.Submit(o)

	b.ApplyFill(FillReport{OrderID: "ex-1", Status: core.OrderFilled, FilledSize: decimal.NewFromInt(1)})
	require.Equal(t, core.OrderCancelled, o.Status)
}

func TestBackfillReindexesByOrderID(t *testing.T) {
	b := NewBook()
	o := &core.Order{ClOrdID: "cl-1", Status: core.OrderLive}
	b.Submit(o)

	b.Backfill("cl-1", "ex-99")
	got, ok := b.Get("ex-99")
	require.True(t, ok)
	require.Equal(t, "ex-99", got.OrderID)
}

func TestLiveExcludesTerminalOrders(t *testing.T) {
	b := NewBook()
	b.Submit(&core.Order{OrderID: "live-1", Status: core.OrderLive})
	b.Submit(&core.Order{OrderID: "dead-1", Status: core.OrderFilled})

	live := b.Live()
	require.Len(t, live, 1)
	require.Equal(t, "live-1", live[0].OrderID)
}

// Scenario 1 (spec.md §8): market order carries no limit price; the
// pre-trade check must accept a zero price without treating it as an
// invalid order.
func TestPreTradeAllowsMarketOrderWithZeroPrice(t *testing.T) {
	c := NewPreTradeCheck(DefaultPreTradeConfig())
	ok, reason := c.IsOrderRational(OrderDetails{
		Side:  core.SideBuy,
		Size:  decimal.NewFromInt(1),
		Price: decimal.Zero,
	}, decimal.NewFromInt(10000), decimal.Zero)
	require.True(t, ok, reason)
}

func TestPreTradeRejectsOversizedOrder(t *testing.T) {
	c := NewPreTradeCheck(DefaultPreTradeConfig())
	ok, reason := c.IsOrderRational(OrderDetails{
		Side:  core.SideBuy,
		Size:  decimal.NewFromInt(100),
		Price: decimal.NewFromInt(100),
	}, decimal.NewFromInt(1000), decimal.NewFromInt(100)) // notional 10000 >> 20% of 1000
	require.False(t, ok)
	require.Contains(t, reason, "max_single_order_size_percent")
}

func TestPreTradeRejectsBuyStopAboveEntry(t *testing.T) {
	c := NewPreTradeCheck(DefaultPreTradeConfig())
	stop := decimal.NewFromInt(101)
	ok, _ := c.IsOrderRational(OrderDetails{
		Side:          core.SideBuy,
		Size:          decimal.NewFromInt(1),
		Price:         decimal.NewFromInt(100),
		StopLossPrice: &stop,
	}, decimal.NewFromInt(100000), decimal.NewFromInt(100))
	require.False(t, ok)
}

func TestPreTradeAcceptsValidBuyWithStopAndTarget(t *testing.T) {
	c := NewPreTradeCheck(DefaultPreTradeConfig())
	stop := decimal.NewFromInt(98)
	target := decimal.NewFromInt(105)
	ok, reason := c.IsOrderRational(OrderDetails{
		Side:          core.SideBuy,
		Size:          decimal.NewFromInt(1),
		Price:         decimal.NewFromInt(100),
		StopLossPrice: &stop,
		TakeProfit:    &target,
	}, decimal.NewFromInt(100000), decimal.NewFromInt(100))
	require.True(t, ok, reason)
}

func TestStopLossOnFillPlacesOnce(t *testing.T) {
	calls := 0
	mgr := NewStopLossManager(DefaultStopLossConfig(), func(o *core.Order, stopPrice decimal.Decimal) error {
		calls++
		return nil
	})
	stop := decimal.NewFromInt(95)
	o := &core.Order{OrderID: "ex-1", Status: core.OrderFilled, StopLossPrice: &stop}

	require.NoError(t, mgr.OnFill(o))
	require.True(t, o.StopPlaced)
	require.NoError(t, mgr.OnFill(o)) // idempotent: already placed
	require.Equal(t, 1, calls)
}

func TestStopLossRetryGivesUpAfterMaxAttempts(t *testing.T) {
	cfg := StopLossConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond}
	mgr := NewStopLossManager(cfg, func(o *core.Order, stopPrice decimal.Decimal) error {
		return errors.New("exchange rejected")
	})
	stop := decimal.NewFromInt(95)
	o := &core.Order{OrderID: "ex-1", Status: core.OrderFilled, StopLossPrice: &stop}

	var alerted string
	for i := 0; i < 5; i++ {
		time.Sleep(3 * time.Millisecond)
		mgr.Retry(o, func(reason string) { alerted = reason })
	}

	require.False(t, o.StopPlaced)
	require.True(t, mgr.Exhausted(o))
	require.NotEmpty(t, alerted)
	require.LessOrEqual(t, o.StopRetryCount, cfg.MaxAttempts)
}

func TestGhostOrderSweepCancelsReduceOnlyWhenFlat(t *testing.T) {
	book := NewBook()
	book.Submit(&core.Order{OrderID: "stop-1", Symbol: "BTC-USDT-SWAP", ReduceOnly: true, Status: core.OrderLive})
	book.Submit(&core.Order{OrderID: "entry-1", Symbol: "BTC-USDT-SWAP", ReduceOnly: false, Status: core.OrderLive})

	pm := NewPositionManager()
	pm.ApplyUpdate(core.Position{Symbol: "BTC-USDT-SWAP", SignedSize: decimal.Zero})

	var cancelled []string
	pm.SweepGhostOrders(book, func(o *core.Order) error {
		cancelled = append(cancelled, o.OrderID)
		return nil
	})

	require.Equal(t, []string{"stop-1"}, cancelled)
}

func TestGhostOrderSweepSkipsWhenPositionOpen(t *testing.T) {
	book := NewBook()
	book.Submit(&core.Order{OrderID: "stop-1", Symbol: "BTC-USDT-SWAP", ReduceOnly: true, Status: core.OrderLive})

	pm := NewPositionManager()
	pm.ApplyUpdate(core.Position{Symbol: "BTC-USDT-SWAP", SignedSize: decimal.NewFromInt(1)})

	var cancelled []string
	pm.SweepGhostOrders(book, func(o *core.Order) error {
		cancelled = append(cancelled, o.OrderID)
		return nil
	})
	require.Empty(t, cancelled)
}
