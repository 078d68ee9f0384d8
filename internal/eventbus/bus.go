// Package eventbus implements the priority, in-process publish/
// subscribe hub that connects every other component of the runtime.
package eventbus

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okx-scalper/core/internal/core"
)

const (
	defaultQueueCap  = 10000
	latencyWarnMs    = 10
	latencyCritMs    = 50
	latencySampleCap = 1000
)

// Handler processes one dispatched event. Handlers are invoked
// sequentially, in registration order, for a given kind.
type Handler func(core.Event)

// priorityEvent is the bus's internal heap element: (priority,
// counter, event). counter is a monotonic tiebreaker shared across
// every producer so that equal-priority events preserve publish
// order (FIFO within a priority class).
type priorityEvent struct {
	priority uint8
	counter  uint64
	event    core.Event
}

type eventHeap []priorityEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].counter < h[j].counter
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(priorityEvent))
}
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// LatencyStats tracks per-kind dispatch latency using a ring buffer
// capped at latencySampleCap samples.
type LatencyStats struct {
	Count   int64
	SumNs   int64
	MaxNs   int64
	MinNs   int64
	samples []int64
	head    int
}

func newLatencyStats() *LatencyStats {
	return &LatencyStats{MinNs: -1, samples: make([]int64, 0, latencySampleCap)}
}

func (s *LatencyStats) record(d time.Duration) {
	ns := d.Nanoseconds()
	s.Count++
	s.SumNs += ns
	if ns > s.MaxNs {
		s.MaxNs = ns
	}
	if s.MinNs < 0 || ns < s.MinNs {
		s.MinNs = ns
	}
	if len(s.samples) < latencySampleCap {
		s.samples = append(s.samples, ns)
	} else {
		s.samples[s.head] = ns
		s.head = (s.head + 1) % latencySampleCap
	}
}

// Stats is a point-in-time copy of bus counters, safe to read after
// the bus has moved on.
type Stats struct {
	Published map[core.EventKind]int64
	Dropped   map[core.EventKind]int64
	Errors    int64
}

// Bus is the explicit, engine-owned priority event bus. There is no
// package-level singleton: every Engine constructs and owns exactly
// one Bus.
type Bus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     eventHeap
	counter  uint64
	cap      int
	handlers map[core.EventKind][]Handler

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	statsMu   sync.Mutex
	published map[core.EventKind]int64
	dropped   map[core.EventKind]int64
	errors    int64
	latency   map[core.EventKind]*LatencyStats
}

// New constructs a Bus with the given bounded-queue capacity. A cap of
// 0 uses the spec default of 10,000.
func New(cap int) *Bus {
	if cap <= 0 {
		cap = defaultQueueCap
	}
	b := &Bus{
		cap:       cap,
		handlers:  make(map[core.EventKind][]Handler),
		published: make(map[core.EventKind]int64),
		dropped:   make(map[core.EventKind]int64),
		latency:   make(map[core.EventKind]*LatencyStats),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Register adds a handler for kind. Multiple handlers per kind are
// invoked in registration order.
func (b *Bus) Register(kind core.EventKind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Unregister removes all handlers registered for kind.
func (b *Bus) Unregister(kind core.EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, kind)
}

// ClearHandlers removes every registered handler for every kind.
func (b *Bus) ClearHandlers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[core.EventKind][]Handler)
}

// Publish enqueues an event at the given priority, blocking until
// space is available or the bus stops. Use PublishNowait for a
// non-blocking variant.
func (b *Bus) Publish(e core.Event, priority uint8) error {
	b.mu.Lock()
	for len(b.heap) >= b.cap && b.running {
		b.cond.Wait()
	}
	if !b.running && len(b.heap) >= b.cap {
		b.mu.Unlock()
		b.countDropped(e.Kind)
		return core.ErrQueueFull
	}
	b.enqueueLocked(e, priority)
	b.mu.Unlock()
	return nil
}

// PublishNowait fails fast with core.ErrQueueFull instead of blocking.
func (b *Bus) PublishNowait(e core.Event, priority uint8) error {
	b.mu.Lock()
	if len(b.heap) >= b.cap {
		b.mu.Unlock()
		b.countDropped(e.Kind)
		return core.ErrQueueFull
	}
	b.enqueueLocked(e, priority)
	b.mu.Unlock()
	return nil
}

func (b *Bus) enqueueLocked(e core.Event, priority uint8) {
	b.counter++
	heap.Push(&b.heap, priorityEvent{priority: priority, counter: b.counter, event: e})
	b.statsMu.Lock()
	b.published[e.Kind]++
	b.statsMu.Unlock()
	b.cond.Signal()
}

func (b *Bus) countDropped(kind core.EventKind) {
	b.statsMu.Lock()
	b.dropped[kind]++
	b.statsMu.Unlock()
	log.Warn().Str("kind", kind.String()).Msg("event bus queue full, event dropped")
}

// Start launches the dispatch loop goroutine. It is safe to call once
// per Bus instance.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	go b.dispatchLoop()
	log.Info().Msg("📡 event bus started")
}

// Stop drains remaining events with a bounded wait, then stops the
// dispatch loop. Safe to call multiple times.
func (b *Bus) Stop(drainTimeout time.Duration) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.cond.Broadcast()
	stopCh := b.stopCh
	doneCh := b.doneCh
	b.mu.Unlock()

	deadline := time.After(drainTimeout)
	for {
		b.mu.Lock()
		empty := len(b.heap) == 0
		b.mu.Unlock()
		if empty {
			break
		}
		select {
		case <-deadline:
			goto drained
		case <-time.After(5 * time.Millisecond):
		}
	}
drained:
	close(stopCh)
	<-doneCh
	log.Info().Msg("event bus stopped")
}

// IsRunning reports whether the dispatch loop is active.
func (b *Bus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Bus) dispatchLoop() {
	defer close(b.doneCh)
	for {
		b.mu.Lock()
		for len(b.heap) == 0 && b.running {
			b.cond.Wait()
		}
		if len(b.heap) == 0 && !b.running {
			b.mu.Unlock()
			return
		}
		select {
		case <-b.stopCh:
			// Stop's drain deadline has passed; leave the rest undelivered.
			b.mu.Unlock()
			return
		default:
		}
		pe := heap.Pop(&b.heap).(priorityEvent)
		b.cond.Signal()
		b.mu.Unlock()

		b.dispatch(pe.event)
	}
}

func (b *Bus) dispatch(e core.Event) {
	start := time.Now()

	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[e.Kind]...)
	b.mu.Unlock()

	for _, h := range handlers {
		b.invoke(h, e)
	}

	b.recordLatency(e.Kind, time.Since(start))
}

func (b *Bus) invoke(h Handler, e core.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.statsMu.Lock()
			b.errors++
			b.statsMu.Unlock()
			log.Error().
				Interface("panic", r).
				Str("kind", e.Kind.String()).
				Str("source", e.Source).
				Msg("event handler panicked")
			b.republishError(e)
		}
	}()
	h(e)
}

// republishError emits a single Error event for a failing handler,
// but never recurses: a handler failure while processing an Error
// event itself is logged only, never re-published.
func (b *Bus) republishError(failed core.Event) {
	if failed.Kind == core.EventError {
		return
	}
	errEvent := core.NewEvent(core.EventError, "eventbus", map[string]interface{}{
		"original_kind": failed.Kind.String(),
		"source":        failed.Source,
	})
	_ = b.PublishNowait(errEvent, core.PriorityRiskAlert)
}

func (b *Bus) recordLatency(kind core.EventKind, d time.Duration) {
	b.statsMu.Lock()
	ls, ok := b.latency[kind]
	if !ok {
		ls = newLatencyStats()
		b.latency[kind] = ls
	}
	ls.record(d)
	b.statsMu.Unlock()

	ms := d.Milliseconds()
	if ms >= latencyCritMs {
		log.Error().Str("kind", kind.String()).Int64("latency_ms", ms).Msg("event dispatch latency critical")
	} else if ms >= latencyWarnMs {
		log.Warn().Str("kind", kind.String()).Int64("latency_ms", ms).Msg("event dispatch latency elevated")
	}
}

// GetStats returns a snapshot of publish/drop/error counters.
func (b *Bus) GetStats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	s := Stats{
		Published: make(map[core.EventKind]int64, len(b.published)),
		Dropped:   make(map[core.EventKind]int64, len(b.dropped)),
		Errors:    b.errors,
	}
	for k, v := range b.published {
		s.Published[k] = v
	}
	for k, v := range b.dropped {
		s.Dropped[k] = v
	}
	return s
}

// GetLatencyStats returns a copy of the latency counters for kind.
func (b *Bus) GetLatencyStats(kind core.EventKind) LatencyStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	ls, ok := b.latency[kind]
	if !ok {
		return LatencyStats{MinNs: -1}
	}
	cp := *ls
	cp.samples = append([]int64(nil), ls.samples...)
	return cp
}

// ResetStats zeroes the publish/drop/error counters, leaving latency
// history untouched.
func (b *Bus) ResetStats() {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.published = make(map[core.EventKind]int64)
	b.dropped = make(map[core.EventKind]int64)
	b.errors = 0
}

// ResetLatency clears all recorded latency history.
func (b *Bus) ResetLatency() {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.latency = make(map[core.EventKind]*LatencyStats)
}
