package guardian

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/okx-scalper/core/internal/core"
	"github.com/okx-scalper/core/internal/eventbus"
	"github.com/okx-scalper/core/internal/notify"
)

type fakeEquity struct {
	mu    sync.Mutex
	value decimal.Decimal
}

func (f *fakeEquity) set(v decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

func (f *fakeEquity) TotalEquity() decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

type fakeReconnect struct{ count int64 }

func (f *fakeReconnect) ReconnectCount() int64 { return f.count }

type fakeControl struct {
	mu        sync.Mutex
	disabled  bool
	cancelled int
	closed    []core.Position
	closeErr  error
}

func (c *fakeControl) DisableAllStrategies() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = true
}

func (c *fakeControl) CancelAllOrders(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = 3
	return 3, nil
}

func (c *fakeControl) ClosePosition(ctx context.Context, p core.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	c.closed = append(c.closed, p)
	return nil
}

type fakeSnapshot struct{}

func (fakeSnapshot) Snapshot() SnapshotSource {
	return SnapshotSource{Equity: decimal.NewFromInt(900)}
}

type fakePositionSnapshot struct {
	positions []core.Position
}

func (f fakePositionSnapshot) Snapshot() SnapshotSource {
	return SnapshotSource{Positions: f.positions, Equity: decimal.NewFromInt(900)}
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) SendAlert(level notify.Level, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

// Scenario 6 (spec.md §8): equity drops from a window high of 1000 to
// 880, a 12% drawdown, exceeding the 10% threshold — Guardian must
// trip with a reason string containing 资金雪崩.
func TestScenario6EquityAvalancheTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotDir = t.TempDir()
	eq := &fakeEquity{}
	control := &fakeControl{}

	g := New(cfg, nil, eq, nil, nil, control, fakeSnapshot{}, nil)

	eq.set(decimal.NewFromInt(1000))
	g.recordEquity()
	eq.set(decimal.NewFromInt(880))
	g.recordEquity()

	g.checkAll()

	require.True(t, g.IsTripped())
	require.Contains(t, g.TripReason(), "资金雪崩")
	require.True(t, control.disabled)
	require.Equal(t, 3, control.cancelled)

	entries, err := os.ReadDir(cfg.SnapshotDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), "snapshot_")
}

func TestEquityDropBelowThresholdDoesNotTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotDir = t.TempDir()
	eq := &fakeEquity{}
	g := New(cfg, nil, eq, nil, nil, nil, nil, nil)

	eq.set(decimal.NewFromInt(1000))
	g.recordEquity()
	eq.set(decimal.NewFromInt(950)) // 5% drop, under threshold
	g.recordEquity()

	g.checkAll()
	require.False(t, g.IsTripped())
}

func TestWSReconnectDeathSpiralTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotDir = t.TempDir()
	pub := &fakeReconnect{count: 20}
	priv := &fakeReconnect{count: 15}

	g := New(cfg, nil, nil, pub, priv, &fakeControl{}, fakeSnapshot{}, nil)
	g.checkAll()

	require.True(t, g.IsTripped())
	require.Contains(t, g.TripReason(), "death spiral")
}

func TestWSReconnectsBelowThresholdDoesNotTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotDir = t.TempDir()
	pub := &fakeReconnect{count: 5}

	g := New(cfg, nil, nil, pub, nil, nil, nil, nil)
	g.checkAll()
	require.False(t, g.IsTripped())
}

func TestEventLoopRunawayTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotDir = t.TempDir()
	cfg.EventLoopThreshold = 5

	bus := eventbus.New(20000)
	bus.Start()
	defer bus.Stop(time.Second)

	for i := 0; i < 10; i++ {
		_ = bus.Publish(core.NewEvent(core.EventTick, "test", nil), core.PriorityTick)
	}
	time.Sleep(50 * time.Millisecond)

	g := New(cfg, bus, nil, nil, nil, &fakeControl{}, fakeSnapshot{}, nil)
	g.checkAll()

	require.True(t, g.IsTripped())
	require.Contains(t, g.TripReason(), "event loop runaway")
}

func TestMeltdownIsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotDir = t.TempDir()
	control := &fakeControl{}
	g := New(cfg, nil, nil, nil, nil, control, fakeSnapshot{}, nil)

	g.trigger("first reason")
	g.trigger("second reason")

	require.Equal(t, "first reason", g.TripReason())

	entries, err := os.ReadDir(cfg.SnapshotDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "a second trigger call must not write a second snapshot")
}

// spec.md §7 step 4: when AutoCloseOnMeltdown is true, trigger must
// issue a market close for each non-zero position.
func TestTriggerAutoClosesNonZeroPositionsWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotDir = t.TempDir()
	cfg.AutoCloseOnMeltdown = true
	control := &fakeControl{}
	snap := fakePositionSnapshot{positions: []core.Position{
		{Symbol: "BTC-USDT-SWAP", SignedSize: decimal.NewFromInt(2)},
		{Symbol: "ETH-USDT-SWAP", SignedSize: decimal.NewFromInt(0)},
		{Symbol: "SOL-USDT-SWAP", SignedSize: decimal.NewFromInt(-5)},
	}}

	g := New(cfg, nil, nil, nil, nil, control, snap, nil)
	g.trigger("manual test")

	require.Len(t, control.closed, 2, "the flat ETH position must not be closed")
	require.Equal(t, "BTC-USDT-SWAP", control.closed[0].Symbol)
	require.Equal(t, "SOL-USDT-SWAP", control.closed[1].Symbol)
}

func TestTriggerLeavesPositionsOpenWhenAutoCloseDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotDir = t.TempDir()
	control := &fakeControl{}
	snap := fakePositionSnapshot{positions: []core.Position{
		{Symbol: "BTC-USDT-SWAP", SignedSize: decimal.NewFromInt(2)},
	}}

	g := New(cfg, nil, nil, nil, nil, control, snap, nil)
	g.trigger("manual test")

	require.Empty(t, control.closed)
}

func TestSnapshotFileNamedByTimestamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotDir = t.TempDir()
	g := New(cfg, nil, nil, nil, nil, &fakeControl{}, fakeSnapshot{}, nil)

	require.NoError(t, g.saveSnapshot("manual test"))
	entries, err := os.ReadDir(cfg.SnapshotDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Ext(entries[0].Name()), ".json")
}
