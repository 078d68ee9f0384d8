package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/okx-scalper/core/internal/core"
)

// ConnState is the WS gateway's connection state machine.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateAuthed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateAuthed:
		return "authed"
	default:
		return "unknown"
	}
}

const (
	heartbeatInterval = 20 * time.Second
	watchdogSilence   = 60 * time.Second
	readTimeout       = 30 * time.Second
	maxBackoffDelay   = 60 * time.Second
	baseBackoffDelay  = 1 * time.Second
	maxReconnectTries = 10
)

// backoffDelay implements spec.md §4.2.2's reconnect policy:
// min(60s, 1s * 2^min(attempt, 5)).
func backoffDelay(attempt int) time.Duration {
	capped := attempt
	if capped > 5 {
		capped = 5
	}
	delay := baseBackoffDelay * time.Duration(1<<uint(capped))
	if delay > maxBackoffDelay {
		delay = maxBackoffDelay
	}
	return delay
}

// OnFrame is invoked with every non-heartbeat frame received.
type OnFrame func([]byte)

// OnConnected is invoked after a fresh connection is established, so
// the caller can (re-)subscribe.
type OnConnected func(*WSConn) error

// WSConn is a single self-healing WebSocket connection: reconnect
// with exponential backoff, heartbeat, and a watchdog that forces
// reconnect on prolonged silence. The connect_lock collapses
// concurrent Connect() calls into a single attempt, per spec.md §9's
// explicit "must be preserved verbatim" note.
type WSConn struct {
	url string

	connectLock sync.Mutex
	mu          sync.RWMutex
	conn        *websocket.Conn
	state       ConnState
	lastFrameAt time.Time
	attempt     int
	reconnects  int64

	onFrame     OnFrame
	onConnected OnConnected
	onFatal     func(error)

	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewWSConn constructs a connection. onConnected fires once per
// successful (re)connect so the caller can subscribe/login.
func NewWSConn(url string, onFrame OnFrame, onConnected OnConnected) *WSConn {
	return &WSConn{
		url:         url,
		onFrame:     onFrame,
		onConnected: onConnected,
		state:       StateDisconnected,
	}
}

// OnFatal registers a callback invoked once if the reconnect budget
// (maxReconnectTries) is exhausted, so the caller can surface an
// Error event on the bus.
func (w *WSConn) OnFatal(fn func(error)) {
	w.mu.Lock()
	w.onFatal = fn
	w.mu.Unlock()
}

// State returns the current connection state.
func (w *WSConn) State() ConnState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *WSConn) setState(s ConnState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// ReconnectCount returns the total number of reconnects since start,
// used by Guardian's WS-death-spiral detector (spec.md §4.7 #4).
func (w *WSConn) ReconnectCount() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reconnects
}

// Start launches the connection loop in the background.
func (w *WSConn) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.connectionLoop()
}

// Stop tears the connection down and waits for background goroutines
// to exit (disconnect_cleanup semantics).
func (w *WSConn) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.disconnectCleanup()
	w.wg.Wait()
}

// Send writes a text frame (e.g. a subscribe or login message).
func (w *WSConn) Send(data []byte) error {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSConn) connectionLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		w.mu.RLock()
		attempt := w.attempt
		w.mu.RUnlock()
		if attempt >= maxReconnectTries {
			err := fmt.Errorf("max reconnect attempts (%d) exceeded", maxReconnectTries)
			log.Error().Str("url", w.url).Err(err).Msg("websocket gateway: surfacing fatal state")
			w.mu.RLock()
			onFatal := w.onFatal
			w.mu.RUnlock()
			if onFatal != nil {
				onFatal(err)
			}
			return
		}

		if err := w.connect(); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("websocket connect failed")
			w.mu.Lock()
			w.attempt++
			w.mu.Unlock()
			delay := backoffDelay(attempt)
			select {
			case <-w.stopCh:
				return
			case <-time.After(delay):
			}
			continue
		}

		w.mu.Lock()
		w.attempt = 0
		w.reconnects++
		w.mu.Unlock()

		w.runConnection()

		w.disconnectCleanup()

		select {
		case <-w.stopCh:
			return
		default:
		}
	}
}

// connect collapses concurrent attempts behind connectLock: if a
// connect is already in flight, the second attempt is skipped and
// returns an error at once rather than racing a second dial.
func (w *WSConn) connect() error {
	if !w.connectLock.TryLock() {
		return fmt.Errorf("connect already in progress")
	}
	defer w.connectLock.Unlock()

	w.setState(StateConnecting)
	conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
	if err != nil {
		w.setState(StateDisconnected)
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.lastFrameAt = time.Now()
	w.mu.Unlock()
	w.setState(StateConnected)

	log.Info().Str("url", w.url).Msg("🔌 websocket connected")

	if w.onConnected != nil {
		if err := w.onConnected(w); err != nil {
			log.Error().Err(err).Msg("onConnected hook failed")
		}
	}
	return nil
}

func (w *WSConn) runConnection() {
	done := make(chan struct{})
	var once sync.Once
	stopInner := func() { once.Do(func() { close(done) }) }

	go w.heartbeatLoop(done)
	go w.watchdogLoop(done)
	w.receiveLoop(stopInner)
	stopInner()
}

// receiveLoop intercepts the literal text "pong" before any JSON
// parse, per spec.md §4.2.2/§6: the heartbeat protocol is plain text,
// not JSON. The loop runs until the socket errors or Stop() fires.
func (w *WSConn) receiveLoop(stop func()) {
	defer stop()
	for {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("websocket read error, reconnecting")
			return
		}

		w.mu.Lock()
		w.lastFrameAt = time.Now()
		w.mu.Unlock()

		if string(msg) == "pong" {
			continue
		}
		if w.onFrame != nil {
			w.onFrame(msg)
		}

		select {
		case <-w.stopCh:
			return
		default:
		}
	}
}

func (w *WSConn) heartbeatLoop(done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.Send([]byte("ping")); err != nil {
				log.Warn().Err(err).Msg("heartbeat ping failed")
			}
		}
	}
}

// watchdogLoop forces a reconnect if no frame of any kind (including
// pongs) has arrived within watchdogSilence.
func (w *WSConn) watchdogLoop(done chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.RLock()
			silence := time.Since(w.lastFrameAt)
			conn := w.conn
			w.mu.RUnlock()
			if conn != nil && silence > watchdogSilence {
				log.Warn().Dur("silence", silence).Msg("websocket watchdog: forcing reconnect")
				conn.Close()
				return
			}
		}
	}
}

// disconnectCleanup cancels the receive task (via socket close),
// closes the underlying transport, and resets state. Required before
// any reconnect attempt to prevent resource leaks on rapid flaps.
func (w *WSConn) disconnectCleanup() {
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()
	w.setState(StateDisconnected)
}

// fatalEvent surfaces a fatal connectivity state as a core.Event,
// used by callers wiring this gateway into the Event Bus.
func fatalEvent(source string, err error) core.Event {
	return core.NewEvent(core.EventError, source, map[string]interface{}{"error": err.Error(), "fatal": true})
}
