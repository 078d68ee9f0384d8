package oms

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

// Book is the working set of live orders, dual-keyed so a fill report
// can be correlated by either order_id or cl_ord_id, whichever the
// exchange echoes first (grounded on execution/executor.go's
// map[string]*Order, generalized to the two-key lookup spec.md §4.4.1
// requires for the window between submit and the exchange ack).
type Book struct {
	mu        sync.RWMutex
	byOrderID map[string]*core.Order
	byClOrdID map[string]*core.Order
}

func NewBook() *Book {
	return &Book{
		byOrderID: make(map[string]*core.Order),
		byClOrdID: make(map[string]*core.Order),
	}
}

// Submit registers a newly-placed order before the exchange has
// necessarily assigned an order_id (REST responses are synchronous so
// OrderID is usually already known; the cl_ord_id key exists for the
// WS ack race).
func (b *Book) Submit(o *core.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o.OrderID != "" {
		b.byOrderID[o.OrderID] = o
	}
	if o.ClOrdID != "" {
		b.byClOrdID[o.ClOrdID] = o
	}
}

// Lookup correlates a fill/update report to a working order, preferring
// order_id and falling back to cl_ord_id. Reports that match neither
// key are dropped by the caller (spec.md §4.4.1).
func (b *Book) Lookup(orderID, clOrdID string) (*core.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if orderID != "" {
		if o, ok := b.byOrderID[orderID]; ok {
			return o, true
		}
	}
	if clOrdID != "" {
		if o, ok := b.byClOrdID[clOrdID]; ok {
			return o, true
		}
	}
	return nil, false
}

// Get returns the order by order_id only, used by the stop-loss retry
// loop which always knows the assigned OrderID.
func (b *Book) Get(orderID string) (*core.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.byOrderID[orderID]
	return o, ok
}

// Remove drops an order from both indices once it reaches a terminal
// status and has been fully reconciled.
func (b *Book) Remove(o *core.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byOrderID, o.OrderID)
	delete(b.byClOrdID, o.ClOrdID)
}

// Backfill assigns the exchange-confirmed order_id to an order that was
// only indexed by cl_ord_id at submit time, then re-indexes it.
func (b *Book) Backfill(clOrdID, orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.byClOrdID[clOrdID]
	if !ok || orderID == "" {
		return
	}
	o.OrderID = orderID
	b.byOrderID[orderID] = o
}

// Live returns a snapshot slice of every non-terminal order, used by
// the PositionManager's ghost-order sweep and by the engine's
// cancel-all, state snapshot and stop-loss retry tick.
func (b *Book) Live() []*core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*core.Order, 0, len(b.byOrderID))
	for _, o := range b.byOrderID {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// FillReport is the normalized shape of an order-update event, already
// parsed from whichever gateway produced it.
type FillReport struct {
	OrderID    string
	ClOrdID    string
	Status     core.OrderStatus
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
	Ts         time.Time
}

// ApplyFill updates the matched order in place per spec.md §4.4.1:
// filled_size only ever moves forward, since OKX order-update channel
// pushes are cumulative, not incremental, and may arrive out of order
// or duplicated.
func (b *Book) ApplyFill(r FillReport) (*core.Order, bool) {
	o, ok := b.Lookup(r.OrderID, r.ClOrdID)
	if !ok {
		log.Warn().Str("order_id", r.OrderID).Str("cl_ord_id", r.ClOrdID).
			Msg("order update matched no working order, dropping")
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if r.OrderID != "" && o.OrderID == "" {
		o.OrderID = r.OrderID
		b.byOrderID[r.OrderID] = o
	}
	if r.FilledSize.GreaterThan(o.FilledSize) {
		o.FilledSize = r.FilledSize
	}
	if r.AvgPrice.IsPositive() {
		o.Price = r.AvgPrice
	}
	if !o.Status.IsTerminal() {
		o.Status = r.Status
	}
	return o, true
}
