package oms

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

// PositionManager is the single writer of exchange-reported position
// state (spec.md §4.4.4): every mutation flows through ApplyUpdate,
// driven exclusively by EventPositionUpdate events, so no other
// component ever guesses at position state from its own fills.
// Grounded on risk/manager.go's position bookkeeping, narrowed to pure
// state tracking since sizing/risk now live in sizer and pretrade.go.
type PositionManager struct {
	mu        sync.RWMutex
	positions map[string]core.Position
}

func NewPositionManager() *PositionManager {
	return &PositionManager{positions: make(map[string]core.Position)}
}

func (m *PositionManager) ApplyUpdate(p core.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
}

func (m *PositionManager) Get(symbol string) (core.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	return p, ok
}

func (m *PositionManager) All() []core.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

func (m *PositionManager) IsFlat(symbol string) bool {
	p, ok := m.Get(symbol)
	return !ok || p.SignedSize.IsZero()
}

// TotalEquity sums unrealized PnL across all open positions plus the
// supplied cash balance, used by the pre-trade size check.
func (m *PositionManager) TotalEquity(cashBalance decimal.Decimal) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := cashBalance
	for _, p := range m.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

// SweepGhostOrders cancels every live reduce-only order for a symbol
// whose exchange position has gone flat (spec.md §4.4.4): a leftover
// reduce-only stop or TP order with nothing left to reduce is a ghost
// order that will otherwise sit on the book indefinitely or, worse,
// open an unintended new position if later re-armed.
func (m *PositionManager) SweepGhostOrders(book *Book, cancel func(o *core.Order) error) {
	for _, o := range book.Live() {
		if !o.ReduceOnly {
			continue
		}
		if !m.IsFlat(o.Symbol) {
			continue
		}
		log.Info().Str("order_id", o.OrderID).Str("symbol", o.Symbol).
			Msg("position flat, cancelling ghost reduce-only order")
		if err := cancel(o); err != nil {
			log.Warn().Str("order_id", o.OrderID).Err(err).Msg("ghost order cancel failed")
		}
	}
}
