package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Phase describes the connection health of the event transport.
type Phase string

const (
	// PhaseConnected means the socket is live and events flow.
	PhaseConnected Phase = "connected"
	// PhaseReconnecting means a retry loop is counting attempts.
	PhaseReconnecting Phase = "reconnecting"
	// PhaseDisconnected means the retry budget is exhausted; only an
	// external Connect call resumes the transport.
	PhaseDisconnected Phase = "disconnected"
)

// ConnectionState is the process-wide connection snapshot forwarded to UI
// collaborators. It is mutated only by the transport.
type ConnectionState struct {
	Connected bool
	Phase     Phase
	Attempt   int
}

// Handler receives the raw data member of an inbound named frame.
type Handler func(data json.RawMessage)

// PhaseObserver receives every connection-state transition.
type PhaseObserver func(state ConnectionState)

// Frame is the wire envelope for both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var errMissingURL = errors.New("transport: server url is required")

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	defaultMaxAttempts    = 10
)

// Config carries the transport dependencies. Dialer defaults to the
// gorilla/websocket dialer; tests inject their own.
type Config struct {
	URL            string
	Header         http.Header
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	Dialer         Dialer
	Logger         *zap.Logger
}

// Transport owns the single long-lived duplex connection to the server.
// One transport per process; the composition root enforces the single
// instantiation contract, repeated Connect calls reuse the live socket so
// events are never delivered twice.
type Transport struct {
	url            string
	header         http.Header
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxAttempts    int
	dialer         Dialer
	logger         *zap.Logger

	mu           sync.Mutex
	conn         Conn
	state        ConnectionState
	handlers     map[string][]Handler
	observers    []PhaseObserver
	closed       bool
	reconnecting bool
	connCtx      context.Context
}

// New validates the configuration and returns a disconnected transport.
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errMissingURL
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewWebsocketDialer()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		url:            cfg.URL,
		header:         cfg.Header,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		maxAttempts:    cfg.MaxAttempts,
		dialer:         cfg.Dialer,
		logger:         logger,
		state:          ConnectionState{Connected: false, Phase: PhaseDisconnected, Attempt: 0},
		handlers:       make(map[string][]Handler),
	}, nil
}

// BackoffDelay returns the wait before the given 1-based attempt:
// min(initial << (attempt-1), max).
func BackoffDelay(initial, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return max
	}
	delay := initial << uint(attempt-1)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

// Connect establishes the connection. Calling Connect while already
// connected, or while a reconnect loop is mid-flight, is a no-op so the
// process never holds two live sockets. Dial failures are not returned;
// they feed the same backoff loop as an unexpected disconnect.
func (t *Transport) Connect(ctx context.Context) {
	t.mu.Lock()
	if t.conn != nil || t.reconnecting {
		t.mu.Unlock()
		return
	}
	t.closed = false
	t.connCtx = ctx
	t.mu.Unlock()

	conn, err := t.dialer.Dial(ctx, t.url, t.header)
	if err != nil {
		t.logger.Warn("initial dial failed, entering backoff",
			zap.String("url", t.url), zap.Error(err))
		t.mu.Lock()
		t.reconnecting = true
		t.mu.Unlock()
		go t.reconnectLoop(ctx)
		return
	}
	t.becomeConnected(conn)
}

// Send writes one named frame. It is fire-and-forget: write failures are
// logged and otherwise silent, callers rely on the absence of the
// confirmation event as the failure signal.
func (t *Transport) Send(event string, payload any) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		t.logger.Warn("send skipped, transport not connected", zap.String("event", event))
		return
	}
	frame := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.logger.Warn("send payload marshal failed",
				zap.String("event", event), zap.Error(err))
			return
		}
		frame.Data = data
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.logger.Warn("send write failed", zap.String("event", event), zap.Error(err))
	}
}

// OnEvent registers a handler for a named event. Multiple registrations for
// the same name all fire.
func (t *Transport) OnEvent(name string, handler Handler) {
	if name == "" || handler == nil {
		return
	}
	t.mu.Lock()
	t.handlers[name] = append(t.handlers[name], handler)
	t.mu.Unlock()
}

// OnPhaseChange registers a connection-state observer. Observers for a
// connected transition complete before the read loop starts dispatching, so
// reconnect bookkeeping (room re-joins, queue drain) runs ahead of live
// events.
func (t *Transport) OnPhaseChange(observer PhaseObserver) {
	if observer == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, observer)
	t.mu.Unlock()
}

// State returns the current connection snapshot.
func (t *Transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close tears the connection down deliberately; no reconnect is attempted
// until Connect is called again.
func (t *Transport) Close() {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	t.transition(ConnectionState{Connected: false, Phase: PhaseDisconnected, Attempt: 0})
}

func (t *Transport) becomeConnected(conn Conn) {
	t.mu.Lock()
	if t.closed || t.conn != nil {
		// Either a deliberate Close raced the dial, or another dial
		// already installed a socket; only one connection may live.
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.mu.Unlock()
	t.transition(ConnectionState{Connected: true, Phase: PhaseConnected, Attempt: 0})
	go t.readLoop(conn)
}

func (t *Transport) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			stale := t.conn != conn
			closed := t.closed
			if !stale {
				t.conn = nil
			}
			if !stale && !closed {
				t.reconnecting = true
			}
			ctx := t.connCtx
			t.mu.Unlock()
			if stale || closed {
				return
			}
			t.logger.Warn("connection dropped", zap.Error(err))
			t.reconnectLoop(ctx)
			return
		}
		t.dispatch(data)
	}
}

func (t *Transport) dispatch(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.logger.Warn("inbound frame decode failed", zap.Error(err))
		return
	}
	if frame.Event == "" {
		return
	}
	t.mu.Lock()
	registered := t.handlers[frame.Event]
	handlers := make([]Handler, len(registered))
	copy(handlers, registered)
	t.mu.Unlock()
	if len(handlers) == 0 {
		t.logger.Debug("no handler for inbound event", zap.String("event", frame.Event))
		return
	}
	for _, handler := range handlers {
		handler(frame.Data)
	}
}

// reconnectLoop retries with capped exponential backoff, emitting a
// reconnecting transition per attempt so the UI can render progressive
// feedback. On exhausting the budget the phase stays disconnected until an
// external trigger calls Connect again.
func (t *Transport) reconnectLoop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		t.mu.Lock()
		t.reconnecting = false
		t.mu.Unlock()
	}()
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		t.transition(ConnectionState{Connected: false, Phase: PhaseReconnecting, Attempt: attempt})
		delay := BackoffDelay(t.initialBackoff, t.maxBackoff, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.transition(ConnectionState{Connected: false, Phase: PhaseDisconnected, Attempt: attempt})
			return
		case <-timer.C:
		}
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		conn, err := t.dialer.Dial(ctx, t.url, t.header)
		if err != nil {
			t.logger.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
			continue
		}
		t.becomeConnected(conn)
		return
	}
	t.logger.Error("reconnect budget exhausted", zap.Int("attempts", t.maxAttempts))
	t.transition(ConnectionState{Connected: false, Phase: PhaseDisconnected, Attempt: t.maxAttempts})
}

func (t *Transport) transition(state ConnectionState) {
	t.mu.Lock()
	t.state = state
	registered := t.observers
	observers := make([]PhaseObserver, len(registered))
	copy(observers, registered)
	t.mu.Unlock()
	for _, observer := range observers {
		observer(state)
	}
}
