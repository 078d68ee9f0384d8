// Package engine wires the Event Bus, Exchange Gateways, Market Data
// Manager, Order Management System, Position Sizer, Shadow Ledger,
// Guardian, storage, and notifier into a single runnable process,
// grounded on the teacher's core/engine.go lifecycle shape (start
// gateways, register bus handlers, run until signalled to stop).
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/config"
	"github.com/okx-scalper/core/internal/core"
	"github.com/okx-scalper/core/internal/eventbus"
	"github.com/okx-scalper/core/internal/gateway"
	"github.com/okx-scalper/core/internal/guardian"
	"github.com/okx-scalper/core/internal/ledger"
	"github.com/okx-scalper/core/internal/marketdata"
	"github.com/okx-scalper/core/internal/notify"
	"github.com/okx-scalper/core/internal/oms"
	"github.com/okx-scalper/core/internal/sizer"
	"github.com/okx-scalper/core/internal/storage"
)

// Engine owns every core component's lifecycle. There is exactly one
// per process; cmd/scalper/main.go constructs it from a loaded Config.
type Engine struct {
	cfg *config.Config

	Bus        *eventbus.Bus
	Rest       gateway.RestGateway
	PublicWS   *gateway.PublicWS
	PrivateWS  *gateway.PrivateWS
	MarketData *marketdata.Manager
	Book       *oms.Book
	Positions  *oms.PositionManager
	PreTrade   *oms.PreTradeCheck
	Capital    *oms.CapitalCommander
	StopLoss   *oms.StopLossManager
	Sizer      *sizer.Sizer
	Ledger     *ledger.Ledger
	Guardian   *guardian.Guardian
	Store      *storage.Store
	Notifier   notify.Notifier

	mu                sync.Mutex
	strategiesEnabled bool

	shadowTicker   *time.Ticker
	stopLossTicker *time.Ticker
	stopCh         chan struct{}
	doneCh         chan struct{}
}

// New constructs every component and registers bus handlers, but does
// not start any goroutines — call Start for that.
func New(cfg *config.Config, store *storage.Store, notifier notify.Notifier) *Engine {
	bus := eventbus.New(0)

	creds := gateway.Credentials{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		Passphrase: cfg.Passphrase,
		Demo:       cfg.UseDemo,
	}
	rest := gateway.NewRestClient(cfg.RestURL, creds)

	publish := func(e core.Event, priority uint8) error { return bus.Publish(e, priority) }
	publicWS := gateway.NewPublicWS(cfg.PublicWSURL, []string{cfg.Symbol}, publish)
	privateWS := gateway.NewPrivateWS(cfg.PrivateWSURL, creds, publish)

	mdm := marketdata.New()
	book := oms.NewBook()
	positions := oms.NewPositionManager()
	preTrade := oms.NewPreTradeCheck(oms.PreTradeConfig{
		MaxSingleOrderSizePercent: decimal.NewFromFloat(0.20),
		PriceTolerance:            decimal.NewFromFloat(0.001),
	})

	sizerCfg := sizer.Config{
		BaseEquityRatio:            cfg.Sizing.BaseEquityRatio,
		SignalThresholdNormal:      cfg.Sizing.SignalThresholdNormal,
		SignalThresholdAggressive:  cfg.Sizing.SignalThresholdAggressive,
		SignalAggressiveMultiplier: cfg.Sizing.SignalAggressiveMultiplier,
		VolatilityWindowSize:       cfg.Sizing.VolatilityWindowSize,
		VolatilityThreshold:        cfg.Sizing.VolatilityThreshold,
		LiquidityDepthLevels:       cfg.Sizing.LiquidityDepthLevels,
		LiquidityDepthRatio:        cfg.Sizing.LiquidityDepthRatio,
		MinOrderValue:              cfg.Sizing.MinOrderValue,
	}
	sz := sizer.New(sizerCfg)
	shadowLedger := ledger.New()
	capital := oms.NewCapitalCommander(oms.DefaultMaxUtilization)

	e := &Engine{
		cfg:               cfg,
		Bus:               bus,
		Rest:              rest,
		PublicWS:          publicWS,
		PrivateWS:         privateWS,
		MarketData:        mdm,
		Book:              book,
		Positions:         positions,
		PreTrade:          preTrade,
		Capital:           capital,
		Sizer:             sz,
		Ledger:            shadowLedger,
		Store:             store,
		Notifier:          notifier,
		strategiesEnabled: true,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}

	e.StopLoss = oms.NewStopLossManager(oms.DefaultStopLossConfig(), e.placeStopOrder)

	gcfg := guardian.Config{
		CheckInterval:          cfg.Guardian.CheckInterval,
		EventLoopThreshold:     cfg.Guardian.EventLoopThreshold,
		EquityDropThresholdPct: cfg.Guardian.EquityDropThresholdPct,
		WSReconnectThreshold:   cfg.Guardian.WSReconnectThreshold,
		WSReconnectWindow:      5 * time.Minute,
		SnapshotDir:            cfg.Guardian.SnapshotDir,
		AutoCloseOnMeltdown:    cfg.Guardian.AutoCloseOnMeltdown,
	}
	e.Guardian = guardian.New(gcfg, bus, equitySourceFunc(e.totalEquity), publicWS, privateWS, e, e, notifier)
	if store != nil {
		e.Guardian = e.Guardian.WithMeltdownSink(store)
	}

	e.registerHandlers()
	return e
}

func (e *Engine) registerHandlers() {
	e.Bus.Register(core.EventBookUpdate, e.MarketData.OnBookUpdate)
	e.Bus.Register(core.EventPositionUpdate, e.onPositionUpdate)
	e.Bus.Register(core.EventOrderUpdate, e.onOrderUpdate)
	e.Bus.Register(core.EventOrderFilled, e.onOrderUpdate)
	e.Bus.Register(core.EventOrderCancelled, e.onOrderUpdate)
}

func orderStatusFromState(state string) core.OrderStatus {
	switch state {
	case "filled":
		return core.OrderFilled
	case "canceled", "cancelled":
		return core.OrderCancelled
	case "partially_filled", "partially-filled":
		return core.OrderPartiallyFilled
	case "rejected":
		return core.OrderRejected
	default:
		return core.OrderLive
	}
}

func (e *Engine) onPositionUpdate(ev core.Event) {
	p, ok := ev.Data.(core.Position)
	if !ok {
		return
	}
	e.Positions.ApplyUpdate(p)
	if e.Store != nil {
		if err := e.Store.RecordPosition(p); err != nil {
			log.Warn().Err(err).Msg("failed to persist position snapshot")
		}
	}
	e.Positions.SweepGhostOrders(e.Book, e.cancelOrder)
}

func (e *Engine) onOrderUpdate(ev core.Event) {
	upd, ok := ev.Data.(gateway.OrderUpdate)
	if !ok {
		return
	}
	report := oms.FillReport{
		OrderID:    upd.OrderID,
		ClOrdID:    upd.ClOrdID,
		Status:     orderStatusFromState(upd.State),
		FilledSize: upd.FilledSize,
		AvgPrice:   upd.FillPrice,
		Ts:         ev.Timestamp,
	}
	o, matched := e.Book.ApplyFill(report)
	if !matched {
		return
	}
	if e.Store != nil {
		if err := e.Store.UpsertOrder(o); err != nil {
			log.Warn().Err(err).Msg("failed to persist order")
		}
	}
	if o.Status == core.OrderFilled || o.Status == core.OrderPartiallyFilled {
		if err := e.StopLoss.OnFill(o); err != nil {
			log.Warn().Str("order_id", o.OrderID).Err(err).Msg("stop loss placement failed on fill")
		}
	}
}

func (e *Engine) placeStopOrder(o *core.Order, stopPrice decimal.Decimal) error {
	side := core.SideSell
	if o.Side == core.SideSell {
		side = core.SideBuy
	}
	_, err := e.Rest.PlaceOrder(context.Background(), gateway.PlaceOrderRequest{
		Symbol:        o.Symbol,
		Side:          side,
		OrderType:     core.OrderTypeStopMarket,
		Size:          o.Size,
		StopLossPrice: &stopPrice,
		ReduceOnly:    true,
		StrategyID:    o.StrategyID,
	})
	return err
}

func (e *Engine) cancelOrder(o *core.Order) error {
	err := e.Rest.CancelOrder(context.Background(), o.OrderID, o.Symbol)
	if err == nil {
		o.Status = core.OrderCancelled
		e.Book.Remove(o)
	}
	return err
}

func (e *Engine) totalEquity() decimal.Decimal {
	balance, err := e.Rest.GetBalance(context.Background(), "USDT")
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch balance for equity calculation")
		return e.Positions.TotalEquity(decimal.Zero)
	}
	return e.Positions.TotalEquity(balance)
}

// DisableAllStrategies implements guardian.TradingControl.
func (e *Engine) DisableAllStrategies() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategiesEnabled = false
}

// StrategiesEnabled reports whether new signals should be accepted; a
// strategy loop must check this before submitting orders.
func (e *Engine) StrategiesEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategiesEnabled
}

// CancelAllOrders implements guardian.TradingControl.
func (e *Engine) CancelAllOrders(ctx context.Context) (int, error) {
	live := e.Book.Live()
	if err := e.Rest.CancelAllOrders(ctx, e.cfg.Symbol); err != nil {
		return 0, err
	}
	for _, o := range live {
		o.Status = core.OrderCancelled
		e.Book.Remove(o)
	}
	return len(live), nil
}

// ClosePosition implements guardian.TradingControl: it issues a
// reduce-only market order sized and sided to flatten p, used by
// Guardian's meltdown auto-close branch.
func (e *Engine) ClosePosition(ctx context.Context, p core.Position) error {
	if p.SignedSize.IsZero() {
		return nil
	}
	side := core.SideSell
	if p.SignedSize.IsNegative() {
		side = core.SideBuy
	}
	_, err := e.Rest.PlaceOrder(ctx, gateway.PlaceOrderRequest{
		Symbol:     p.Symbol,
		Side:       side,
		OrderType:  core.OrderTypeMarket,
		Size:       p.SignedSize.Abs(),
		ReduceOnly: true,
	})
	return err
}

// Snapshot implements guardian.SnapshotProvider.
func (e *Engine) Snapshot() guardian.SnapshotSource {
	return guardian.SnapshotSource{
		Positions: e.Positions.All(),
		Orders:    e.Book.Live(),
		Equity:    e.totalEquity(),
	}
}

// Start launches the gateways, Guardian, and the shadow-ledger
// reconciliation ticker, per spec.md §9's resolution of a steady 20s
// cadence in place of the original's wall-clock-aligned trigger.
func (e *Engine) Start() error {
	e.Bus.Start()
	e.PublicWS.Start()
	e.PrivateWS.Start()
	e.Guardian.Start()

	e.shadowTicker = time.NewTicker(20 * time.Second)
	e.stopLossTicker = time.NewTicker(10 * time.Second)
	go e.tickerLoop()

	log.Info().Str("symbol", e.cfg.Symbol).Msg("⚙️ engine started")
	return nil
}

// tickerLoop drives every periodic background job: shadow-ledger
// reconciliation and the stop-loss retry sweep that enforces spec.md
// §4.4.2's bounded grace period on unprotected filled positions.
func (e *Engine) tickerLoop() {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.shadowTicker.C:
			e.reconcileShadowLedger()
		case <-e.stopLossTicker.C:
			e.retryPendingStops()
		}
	}
}

// retryPendingStops walks every live order carrying an unplaced stop
// loss and re-attempts placement through StopLossManager.Retry, so a
// single failed attempt in onOrderUpdate does not leave a filled
// position permanently unprotected.
func (e *Engine) retryPendingStops() {
	for _, o := range e.Book.Live() {
		if o.StopLossPrice == nil || o.StopPlaced {
			continue
		}
		if err := e.StopLoss.Retry(o, e.riskAlert); err != nil {
			log.Warn().Str("order_id", o.OrderID).Err(err).Msg("stop loss retry attempt failed")
		}
	}
}

// riskAlert is the StopLossManager.Retry callback invoked once an
// order exhausts its retry budget with no stop placed.
func (e *Engine) riskAlert(reason string) {
	log.Error().Str("reason", reason).Msg("🚨 stop loss retries exhausted")
	if e.Notifier != nil {
		if err := e.Notifier.SendAlert(notify.LevelCritical, reason); err != nil {
			log.Error().Err(err).Msg("failed to send stop loss exhaustion alert")
		}
	}
	if e.Bus != nil {
		evt := core.NewEvent(core.EventError, "engine", reason)
		if err := e.Bus.PublishNowait(evt, core.DefaultPriority(core.EventError)); err != nil {
			log.Error().Err(err).Msg("failed to publish risk alert event")
		}
	}
}

func (e *Engine) reconcileShadowLedger() {
	if _, ok := e.Ledger.GetTarget(e.cfg.Symbol); !ok {
		return
	}
	pos, _ := e.Positions.Get(e.cfg.Symbol)

	needsSync, plan := e.Ledger.CheckAndComputeDelta(e.cfg.Symbol, pos.SignedSize)
	if !needsSync {
		return
	}

	log.Warn().Str("symbol", e.cfg.Symbol).Str("side", string(plan.Side)).
		Str("amount", plan.Amount.String()).Msg("shadow ledger drift detected, synthesizing correction order")

	_, err := e.Rest.PlaceOrder(context.Background(), gateway.PlaceOrderRequest{
		Symbol:    e.cfg.Symbol,
		Side:      plan.Side,
		OrderType: core.OrderTypeMarket,
		Size:      plan.Amount,
	})
	if err != nil {
		log.Error().Err(err).Msg("shadow ledger correction order failed")
		return
	}
	e.Ledger.MarkSynced(e.cfg.Symbol)
}

// Stop shuts down every component in reverse start order.
func (e *Engine) Stop() {
	close(e.stopCh)
	if e.shadowTicker != nil {
		e.shadowTicker.Stop()
	}
	if e.stopLossTicker != nil {
		e.stopLossTicker.Stop()
	}
	<-e.doneCh
	e.Guardian.Stop()
	e.PrivateWS.Stop()
	e.PublicWS.Stop()
	e.Bus.Stop(5 * time.Second)
	log.Info().Msg("⚙️ engine stopped")
}

type equitySourceFunc func() decimal.Decimal

func (f equitySourceFunc) TotalEquity() decimal.Decimal { return f() }
