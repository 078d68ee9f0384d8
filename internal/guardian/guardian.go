// Package guardian implements the meltdown-detection daemon: a 5s
// poll loop running four ordered detectors, and an idempotent one-shot
// trip that disables trading, cancels working orders, and snapshots
// system state to disk. Grounded on
// original_source/src/safety/guardian.py, translated from its asyncio
// monitoring loop into a Go ticker-driven goroutine.
package guardian

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
	"github.com/okx-scalper/core/internal/eventbus"
	"github.com/okx-scalper/core/internal/notify"
)

const equityWindowSize = 120 // 10 minutes at a 5s poll interval

// Config holds the detector thresholds and snapshot settings,
// mirroring guardian.py's safety_config block. checkErrorLogs uses a
// fixed threshold of five, not a Config field. WSReconnectWindow is not
// read by any detector: checkWSReconnects compares the gateways'
// lifetime reconnect totals against WSReconnectThreshold.
type Config struct {
	CheckInterval            time.Duration
	EventLoopThreshold       int64
	EquityDropThresholdPct   decimal.Decimal
	WSReconnectThreshold     int64
	WSReconnectWindow        time.Duration
	SnapshotDir              string
	AutoCloseOnMeltdown      bool
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:          5 * time.Second,
		EventLoopThreshold:     10000,
		EquityDropThresholdPct: decimal.NewFromFloat(0.10),
		WSReconnectThreshold:   30,
		WSReconnectWindow:      5 * time.Minute,
		SnapshotDir:            "data/meltdown_snapshots",
		AutoCloseOnMeltdown:    false,
	}
}

// EquitySource reports total account equity (cash + unrealized PnL).
type EquitySource interface {
	TotalEquity() decimal.Decimal
}

// ReconnectSource reports a gateway's lifetime reconnect counter.
type ReconnectSource interface {
	ReconnectCount() int64
}

// TradingControl is the set of side effects a meltdown trip performs
// on the running system.
type TradingControl interface {
	DisableAllStrategies()
	CancelAllOrders(ctx context.Context) (int, error)
	ClosePosition(ctx context.Context, p core.Position) error
}

// SnapshotSource supplies the state captured into the meltdown
// snapshot file.
type SnapshotSource struct {
	Positions []core.Position
	Orders    []*core.Order
	Equity    decimal.Decimal
}

type SnapshotProvider interface {
	Snapshot() SnapshotSource
}

// MeltdownSink persists the trip reason and equity durably alongside
// the on-disk JSON snapshot, so history survives a disk wipe.
type MeltdownSink interface {
	RecordMeltdown(reason string, totalEquity decimal.Decimal) error
}

type equityPoint struct {
	ts     time.Time
	equity decimal.Decimal
}

// Guardian runs the 5s detector loop against a single trading engine.
type Guardian struct {
	cfg      Config
	bus      *eventbus.Bus
	equity   EquitySource
	publicWS ReconnectSource
	privateWS ReconnectSource
	control  TradingControl
	snap     SnapshotProvider
	notifier notify.Notifier
	sink     MeltdownSink

	mu             sync.Mutex
	equityHistory  []equityPoint
	lastPublished  map[core.EventKind]int64
	tripped        bool
	tripReason     string
	trippedAt      time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(cfg Config, bus *eventbus.Bus, equity EquitySource, publicWS, privateWS ReconnectSource, control TradingControl, snap SnapshotProvider, notifier notify.Notifier) *Guardian {
	return &Guardian{
		cfg:           cfg,
		bus:           bus,
		equity:        equity,
		publicWS:      publicWS,
		privateWS:     privateWS,
		control:       control,
		snap:          snap,
		notifier:      notifier,
		lastPublished: make(map[core.EventKind]int64),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// WithMeltdownSink attaches durable storage for meltdown events;
// optional, and safe to omit in tests.
func (g *Guardian) WithMeltdownSink(sink MeltdownSink) *Guardian {
	g.sink = sink
	return g
}

// Start launches the monitoring loop in a background goroutine.
func (g *Guardian) Start() {
	go g.loop()
}

// Stop signals the loop to exit and blocks until it has.
func (g *Guardian) Stop() {
	close(g.stopCh)
	<-g.doneCh
}

func (g *Guardian) loop() {
	defer close(g.doneCh)
	ticker := time.NewTicker(g.cfg.CheckInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", g.cfg.CheckInterval).Msg("🛡️ guardian monitoring loop started")

	for {
		select {
		case <-g.stopCh:
			log.Info().Msg("🛡️ guardian monitoring loop stopped")
			return
		case <-ticker.C:
			g.recordEquity()
			g.checkAll()
		}
	}
}

func (g *Guardian) recordEquity() {
	if g.equity == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.equityHistory = append(g.equityHistory, equityPoint{ts: time.Now(), equity: g.equity.TotalEquity()})
	if len(g.equityHistory) > equityWindowSize {
		g.equityHistory = g.equityHistory[len(g.equityHistory)-equityWindowSize:]
	}
}

// checkAll runs the four detectors in fixed order and trips on the
// first positive result; already-tripped Guardians are a no-op.
func (g *Guardian) checkAll() {
	g.mu.Lock()
	if g.tripped {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	detectors := []struct {
		name string
		fn   func() string
	}{
		{"event loop runaway", g.checkEventLoop},
		{"repeated error logs", g.checkErrorLogs},
		{"equity avalanche", g.checkEquityDrop},
		{"websocket death spiral", g.checkWSReconnects},
	}

	for _, d := range detectors {
		if reason := d.fn(); reason != "" {
			log.Error().Str("detector", d.name).Str("reason", reason).Msg("🛡️ guardian detected anomaly")
			g.trigger(reason)
			return
		}
	}
}

// checkEventLoop flags any event kind published more than
// EventLoopThreshold times since the previous poll tick.
func (g *Guardian) checkEventLoop() string {
	if g.bus == nil {
		return ""
	}
	stats := g.bus.GetStats()

	g.mu.Lock()
	defer g.mu.Unlock()
	for kind, total := range stats.Published {
		prev := g.lastPublished[kind]
		delta := total - prev
		g.lastPublished[kind] = total
		if delta > g.cfg.EventLoopThreshold {
			return fmt.Sprintf("event loop runaway: %s published %d times in %s", kind, delta, g.cfg.CheckInterval)
		}
	}
	return ""
}

// checkErrorLogs is a deliberately minimal stand-in for guardian.py's
// log-file tail scan: spec.md scopes the runtime's ambient error
// signal to the bus's own error counter rather than reading the
// process's on-disk log file, since no log sink is mandated to be file
// based. It trips once the bus's error counter (handler panics
// recovered during dispatch, cumulative until ResetStats) reaches five;
// the count is not limited to the last poll interval.
func (g *Guardian) checkErrorLogs() string {
	if g.bus == nil {
		return ""
	}
	stats := g.bus.GetStats()
	const criticalLogThreshold = 5
	if stats.Errors >= criticalLogThreshold {
		return fmt.Sprintf("repeated handler errors: %d recorded on the event bus", stats.Errors)
	}
	return ""
}

// checkEquityDrop implements 资金雪崩 detection: drawdown from the
// rolling window's high-water mark beyond EquityDropThresholdPct.
func (g *Guardian) checkEquityDrop() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.equityHistory) < 2 {
		return ""
	}
	current := g.equityHistory[len(g.equityHistory)-1].equity
	maxEquity := g.equityHistory[0].equity
	for _, p := range g.equityHistory {
		if p.equity.GreaterThan(maxEquity) {
			maxEquity = p.equity
		}
	}
	if maxEquity.LessThanOrEqual(decimal.Zero) {
		return ""
	}
	dropPct := maxEquity.Sub(current).Div(maxEquity)
	if dropPct.GreaterThan(g.cfg.EquityDropThresholdPct) {
		return fmt.Sprintf("资金雪崩 equity avalanche: equity fell from %s to %s (%.2f%% drop, threshold %.2f%%)",
			maxEquity.StringFixed(2), current.StringFixed(2),
			dropPct.InexactFloat64()*100, g.cfg.EquityDropThresholdPct.InexactFloat64()*100)
	}
	return ""
}

func (g *Guardian) checkWSReconnects() string {
	var total int64
	if g.publicWS != nil {
		total += g.publicWS.ReconnectCount()
	}
	if g.privateWS != nil {
		total += g.privateWS.ReconnectCount()
	}
	if total >= g.cfg.WSReconnectThreshold {
		return fmt.Sprintf("websocket death spiral: %d reconnects observed (threshold %d)", total, g.cfg.WSReconnectThreshold)
	}
	return ""
}

// trigger runs the ordered meltdown side-effect sequence from
// guardian.py's _trigger_meltdown: alert, disable strategies, cancel
// all orders, skip auto-close (unless configured), snapshot state.
// Idempotent: a second call while already tripped is a no-op, checked
// under the same lock that sets the flag.
func (g *Guardian) trigger(reason string) {
	g.mu.Lock()
	if g.tripped {
		g.mu.Unlock()
		return
	}
	g.tripped = true
	g.tripReason = reason
	g.trippedAt = time.Now()
	g.mu.Unlock()

	log.Error().Str("reason", reason).Msg("🚨🚨🚨 meltdown triggered 🚨🚨🚨")

	if g.notifier != nil {
		if err := g.notifier.SendAlert(notify.LevelCritical, "meltdown triggered: "+reason); err != nil {
			log.Error().Err(err).Msg("🛡️ failed to send meltdown alert")
		}
	}

	if g.control != nil {
		g.control.DisableAllStrategies()
		log.Info().Msg("🛡️ all strategies disabled")

		n, err := g.control.CancelAllOrders(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("🛡️ cancel all orders failed during meltdown")
		} else {
			log.Info().Int("count", n).Msg("🛡️ cancelled working orders")
		}
	}

	if g.cfg.AutoCloseOnMeltdown {
		g.closeAllPositions()
	} else {
		log.Info().Msg("🛡️ auto_close_on_meltdown disabled, positions left open")
	}

	if err := g.saveSnapshot(reason); err != nil {
		log.Error().Err(err).Msg("🛡️ failed to save meltdown snapshot")
	}

	if g.sink != nil {
		equity := decimal.Zero
		if g.equity != nil {
			equity = g.equity.TotalEquity()
		}
		if err := g.sink.RecordMeltdown(reason, equity); err != nil {
			log.Error().Err(err).Msg("🛡️ failed to persist meltdown record")
		}
	}
}

// closeAllPositions issues a reduce-only market close for every
// non-zero position reported by the snapshot source. Each failure is
// logged and does not prevent the remaining positions from being
// closed.
func (g *Guardian) closeAllPositions() {
	if g.control == nil || g.snap == nil {
		return
	}
	for _, p := range g.snap.Snapshot().Positions {
		if p.SignedSize.IsZero() {
			continue
		}
		if err := g.control.ClosePosition(context.Background(), p); err != nil {
			log.Error().Str("symbol", p.Symbol).Err(err).Msg("🛡️ meltdown auto-close failed")
			continue
		}
		log.Warn().Str("symbol", p.Symbol).Str("size", p.SignedSize.String()).Msg("🛡️ position closed on meltdown")
	}
}

func (g *Guardian) saveSnapshot(reason string) error {
	if err := os.MkdirAll(g.cfg.SnapshotDir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	type snapshotFile struct {
		Timestamp     string          `json:"timestamp"`
		TriggerReason string          `json:"trigger_reason"`
		TotalEquity   decimal.Decimal `json:"total_equity"`
		Positions     []core.Position `json:"positions"`
		Orders        []*core.Order   `json:"orders"`
	}

	sf := snapshotFile{Timestamp: time.Now().UTC().Format(time.RFC3339), TriggerReason: reason}
	if g.snap != nil {
		s := g.snap.Snapshot()
		sf.TotalEquity = s.Equity
		sf.Positions = s.Positions
		sf.Orders = s.Orders
	}

	name := fmt.Sprintf("snapshot_%s.json", time.Now().Format("20060102_150405"))
	path := filepath.Join(g.cfg.SnapshotDir, name)

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	log.Info().Str("path", path).Msg("🛡️ meltdown snapshot saved")
	return nil
}

// IsTripped reports whether a meltdown has fired.
func (g *Guardian) IsTripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}

// TripReason returns the reason string recorded at trip time, or ""
// if no meltdown has occurred.
func (g *Guardian) TripReason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripReason
}
