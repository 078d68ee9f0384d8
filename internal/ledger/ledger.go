// Package ledger implements the Shadow Ledger: a strategy-owned view
// of intended positions used to detect and correct drift from
// actual exchange-reported positions.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

const (
	defaultDriftThreshold = 0.10
	defaultCooldown       = 60 * time.Second
)

// Target is a strategy-declared intended position.
type Target struct {
	Side       core.Side
	SignedSize decimal.Decimal
	Ts         time.Time
}

// Plan is the synthesized correction order when drift exceeds the
// threshold.
type Plan struct {
	Side   core.Side
	Amount decimal.Decimal
	Reason string
}

// Ledger is single-writer via events (spec.md §5): all mutation goes
// through update_target/mark_synced, guarded by a mutex.
type Ledger struct {
	mu             sync.Mutex
	targets        map[string]Target
	lastSyncAt     map[string]time.Time
	driftThreshold decimal.Decimal
	cooldown       time.Duration
}

func New() *Ledger {
	return &Ledger{
		targets:        make(map[string]Target),
		lastSyncAt:     make(map[string]time.Time),
		driftThreshold: decimal.NewFromFloat(defaultDriftThreshold),
		cooldown:       defaultCooldown,
	}
}

// WithThreshold overrides the default 10% drift threshold.
func (l *Ledger) WithThreshold(pct decimal.Decimal) *Ledger {
	l.driftThreshold = pct
	return l
}

// WithCooldown overrides the default 60s cooldown window.
func (l *Ledger) WithCooldown(d time.Duration) *Ledger {
	l.cooldown = d
	return l
}

// UpdateTarget records a strategy-declared intended position.
func (l *Ledger) UpdateTarget(symbol string, side core.Side, size decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.targets[symbol] = Target{Side: side, SignedSize: size, Ts: time.Now()}
}

// GetTarget returns the current target for symbol, if any.
func (l *Ledger) GetTarget(symbol string) (Target, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.targets[symbol]
	return t, ok
}

// CheckAndComputeDelta implements spec.md §4.6's drift/cooldown logic.
func (l *Ledger) CheckAndComputeDelta(symbol string, actualSigned decimal.Decimal) (needsSync bool, plan Plan) {
	l.mu.Lock()
	defer l.mu.Unlock()

	target, ok := l.targets[symbol]
	if !ok || target.SignedSize.LessThanOrEqual(decimal.Zero) {
		return false, Plan{}
	}

	if lastSync, ok := l.lastSyncAt[symbol]; ok && time.Since(lastSync) < l.cooldown {
		return false, Plan{Reason: "in cooldown"}
	}

	targetSigned := target.SignedSize
	if target.Side == core.SideSell {
		targetSigned = targetSigned.Neg()
	}

	delta := targetSigned.Sub(actualSigned)
	driftPct := delta.Abs().Div(targetSigned.Abs())

	if driftPct.LessThanOrEqual(l.driftThreshold) {
		return false, Plan{}
	}

	side := core.SideSell
	if delta.IsPositive() {
		side = core.SideBuy
	}
	return true, Plan{Side: side, Amount: delta.Abs(), Reason: "drift exceeds threshold"}
}

// MarkSynced records the sync timestamp, starting the cooldown window.
// No further sync for symbol is triggered until the cooldown elapses,
// even if drift persists, protecting against self-amplifying
// correction loops.
func (l *Ledger) MarkSynced(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSyncAt[symbol] = time.Now()
}
