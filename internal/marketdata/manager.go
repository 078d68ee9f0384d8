// Package marketdata is the single source of truth for order-book and
// ticker snapshots: a single writer per symbol driven entirely by
// events, with lock-free reads of immutable snapshots.
package marketdata

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/okx-scalper/core/internal/core"
)

// updateStats tracks write-latency in microseconds behind a single
// mutex shared by all symbols. Snapshot writes themselves take no
// lock: each is an atomic pointer store, so two concurrent writers to
// the same symbol are not serialized against each other.
type updateStats struct {
	mu    sync.Mutex
	count int64
	sumUs int64
	maxUs int64
	minUs int64
}

func (s *updateStats) record(d time.Duration) {
	us := d.Microseconds()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	s.sumUs += us
	if us > s.maxUs {
		s.maxUs = us
	}
	if s.minUs == 0 || us < s.minUs {
		s.minUs = us
	}
}

// Snapshot copies out the counters.
func (s *updateStats) Snapshot() (count, sumUs, maxUs, minUs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, s.sumUs, s.maxUs, s.minUs
}

// Manager owns {symbol -> OrderBook} and {symbol -> Ticker}. Writes
// are driven only by bus events; reads return owned, immutable
// snapshots via atomic pointer swap so readers never observe a
// partially-updated book.
type Manager struct {
	books   sync.Map // symbol -> *atomic.Pointer[core.OrderBookSnapshot]
	tickers sync.Map // symbol -> *atomic.Pointer[core.TickerSnapshot]
	stats   updateStats
}

func New() *Manager {
	return &Manager{}
}

func (m *Manager) bookSlot(symbol string) *atomic.Pointer[core.OrderBookSnapshot] {
	v, _ := m.books.LoadOrStore(symbol, &atomic.Pointer[core.OrderBookSnapshot]{})
	return v.(*atomic.Pointer[core.OrderBookSnapshot])
}

func (m *Manager) tickerSlot(symbol string) *atomic.Pointer[core.TickerSnapshot] {
	v, _ := m.tickers.LoadOrStore(symbol, &atomic.Pointer[core.TickerSnapshot]{})
	return v.(*atomic.Pointer[core.TickerSnapshot])
}

// OnBookUpdate is registered with the event bus for core.EventBookUpdate.
func (m *Manager) OnBookUpdate(e core.Event) {
	snap, ok := e.Data.(core.OrderBookSnapshot)
	if !ok {
		return
	}
	start := time.Now()
	if snap.Ts.IsZero() {
		snap.Ts = start
	}
	if !snap.BestBid.IsZero() && !snap.BestAsk.IsZero() && snap.BestBid.GreaterThanOrEqual(snap.BestAsk) {
		log.Warn().Str("symbol", snap.Symbol).Msg("market data: best_bid >= best_ask, storing anyway")
	}
	m.bookSlot(snap.Symbol).Store(&snap)
	m.stats.record(time.Since(start))
}

// OnTick updates the ticker snapshot from a trade print.
func (m *Manager) OnTick(symbol string, price decimal.Decimal, ts time.Time) {
	start := time.Now()
	prev := m.tickerSlot(symbol).Load()
	next := core.TickerSnapshot{Symbol: symbol, LastPrice: price, Ts: ts}
	if prev != nil {
		next.BidPrice = prev.BidPrice
		next.AskPrice = prev.AskPrice
		next.Volume24h = prev.Volume24h
	}
	m.tickerSlot(symbol).Store(&next)
	m.stats.record(time.Since(start))
}

// BestBidAsk returns the top-of-book prices for symbol, or zero values
// if no snapshot has arrived yet.
func (m *Manager) BestBidAsk(symbol string) (bid, ask decimal.Decimal) {
	snap := m.bookSlot(symbol).Load()
	if snap == nil {
		return decimal.Zero, decimal.Zero
	}
	return snap.BestBid, snap.BestAsk
}

// Book returns the current owned snapshot, or the zero value if none
// has arrived. Callers must never mutate the returned value in place.
func (m *Manager) Book(symbol string) (core.OrderBookSnapshot, bool) {
	snap := m.bookSlot(symbol).Load()
	if snap == nil {
		return core.OrderBookSnapshot{}, false
	}
	return *snap, true
}

// Ticker returns the current owned ticker snapshot.
func (m *Manager) Ticker(symbol string) (core.TickerSnapshot, bool) {
	snap := m.tickerSlot(symbol).Load()
	if snap == nil {
		return core.TickerSnapshot{}, false
	}
	return *snap, true
}

// Depth returns the first `levels` levels of both sides as
// (price, size) pairs.
func (m *Manager) Depth(symbol string, levels int) (bids, asks []core.PriceLevel) {
	snap := m.bookSlot(symbol).Load()
	if snap == nil {
		return nil, nil
	}
	bids = capLevels(snap.Bids, levels)
	asks = capLevels(snap.Asks, levels)
	return bids, asks
}

func capLevels(levels []core.PriceLevel, n int) []core.PriceLevel {
	if n > len(levels) {
		n = len(levels)
	}
	out := make([]core.PriceLevel, n)
	copy(out, levels[:n])
	return out
}

// UpdateLatencyStats returns (count, sum_us, max_us, min_us) for all
// book/ticker writes processed so far.
func (m *Manager) UpdateLatencyStats() (count, sumUs, maxUs, minUs int64) {
	return m.stats.Snapshot()
}
