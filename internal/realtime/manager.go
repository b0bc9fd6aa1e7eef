package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/shared"
)

// ConnState is the externally visible transport state. Connected is
// reached only after the server acknowledges the session with a
// "connected" message; an open socket that has not been acknowledged is
// still Connecting. Error is the backoff window after a failure: the
// channel is down, a retry is scheduled, and [Manager.LastError] holds
// the reason.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

// Reconnect backoff schedule and heartbeat cadence.
const (
	reconnectFloor    = time.Second
	reconnectFactor   = 1.5
	reconnectCap      = 30 * time.Second
	heartbeatInterval = 30 * time.Second
)

// Server-internal message types the manager consumes itself rather than
// dispatching to handlers.
const (
	msgConnected = "connected"
	msgPing      = "ping"
	msgPong      = "pong"
	msgError     = "error"
)

// Handler consumes one pushed envelope. Handlers run on the read loop
// goroutine and must not block.
type Handler func(ctx context.Context, env models.EventEnvelope)

// ManagerOpts configures a realtime [Manager].
type ManagerOpts struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string

	// AccessToken authenticates the connection via the Authorization
	// header on the upgrade request.
	AccessToken string

	// DeviceID identifies this device to the server.
	DeviceID string

	Logger *log.Logger
}

// Manager maintains one websocket connection to the server's push
// channel, reconnecting with exponential backoff until told to
// disconnect. Pushed envelopes are routed to handlers registered by
// message-type prefix.
type Manager struct {
	url      string
	token    string
	deviceID string
	dialer   *websocket.Dialer
	logger   *log.Logger

	floor time.Duration
	cap   time.Duration

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	onConnected   func(ctx context.Context) error
	onStateChange func(ConnState)

	mu          sync.Mutex
	state       ConnState
	lastErr     string
	conn        *websocket.Conn
	writeMu     sync.Mutex
	intentional bool
	stop        chan struct{}
	done        chan struct{}
}

// NewManager creates a realtime manager. It does not connect; call
// [Manager.Connect] when the connection policy wants the channel up.
func NewManager(opts ManagerOpts) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Manager{
		url:      opts.URL,
		token:    opts.AccessToken,
		deviceID: opts.DeviceID,
		dialer:   websocket.DefaultDialer,
		logger:   shared.WithLogger(logger, "component", "realtime"),
		floor:    reconnectFloor,
		cap:      reconnectCap,
		handlers: make(map[string]Handler),
		state:    StateDisconnected,
	}
}

// RegisterHandler routes pushed envelopes whose type starts with prefix
// to fn. The sync engine registers itself under "sync.".
func (m *Manager) RegisterHandler(prefix string, fn Handler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handlers[prefix] = fn
}

// OnConnected registers a hook that runs after the server acknowledges a
// connection and before the channel is considered live. The sync manager
// uses it to catch up on events missed while disconnected; a hook error
// tears the connection down and retries.
func (m *Manager) OnConnected(fn func(ctx context.Context) error) {
	m.onConnected = fn
}

// OnStateChange registers a callback for transport state transitions.
func (m *Manager) OnStateChange(fn func(ConnState)) {
	m.onStateChange = fn
}

// State returns the current transport state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the failure behind the current [StateError], or an
// empty string in any other state.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect brings the channel up and keeps it up, reconnecting with
// backoff on every failure until [Manager.Disconnect] is called or ctx
// is canceled. Returns shared.ErrAlreadyConnected if already up.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return shared.ErrAlreadyConnected
	}
	m.intentional = false
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.setStateLocked(StateConnecting)
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go m.run(ctx, stop, done)
	return nil
}

// Disconnect tears the channel down and stops reconnecting. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.intentional = true
	conn := m.conn
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// run is the connection supervisor: dial, serve, back off, repeat.
func (m *Manager) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	defer m.setState(StateDisconnected)

	backoff := m.floor
	for {
		if ctx.Err() != nil || m.isIntentional() {
			return
		}

		err := m.serve(ctx, &backoff)
		if ctx.Err() != nil || m.isIntentional() {
			return
		}
		if err != nil {
			// Observers see the Error state, with the reason, for the
			// whole backoff window.
			m.setError(err)
			m.logger.Warn("connection lost", "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, m.cap)
		m.setState(StateConnecting)
	}
}

// serve runs one connection from dial to failure. The backoff pointer is
// reset to the floor once the server acknowledges the session.
func (m *Manager) serve(ctx context.Context, backoff *time.Duration) error {
	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}
	if m.deviceID != "" {
		header.Set("X-Device-ID", m.deviceID)
	}

	conn, _, err := m.dialer.DialContext(ctx, m.url, header)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.intentional {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.mu.Unlock()

	defer func() {
		conn.Close()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
	}()

	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go m.heartbeat(conn, heartbeatDone)

	for {
		var env models.EventEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}

		switch env.Type {
		case msgConnected:
			*backoff = m.floor
			if m.onConnected != nil {
				if err := m.onConnected(ctx); err != nil {
					m.logger.Error("post-connect hook failed", "error", err)
					return err
				}
			}
			m.setState(StateConnected)
			m.logger.Info("channel live")
		case msgPong:
			// Heartbeat reply; nothing to do.
		case msgPing:
			m.send(models.EventEnvelope{Type: msgPong})
		case msgError:
			m.logger.Warn("server error message", "payload", string(env.Payload))
		default:
			m.dispatch(ctx, env)
		}
	}
}

// heartbeat sends an application-level ping on a fixed cadence for as
// long as the connection is up.
func (m *Manager) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := m.send(models.EventEnvelope{Type: msgPing}); err != nil {
				return
			}
		}
	}
}

func (m *Manager) send(env models.EventEnvelope) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return shared.ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(env)
}

// dispatch routes an envelope to the longest matching registered prefix.
func (m *Manager) dispatch(ctx context.Context, env models.EventEnvelope) {
	m.handlerMu.RLock()
	var (
		handler Handler
		best    int
	)
	for prefix, fn := range m.handlers {
		if strings.HasPrefix(env.Type, prefix) && len(prefix) >= best {
			handler = fn
			best = len(prefix)
		}
	}
	m.handlerMu.RUnlock()

	if handler == nil {
		m.logger.Debug("no handler for message", "type", env.Type)
		return
	}
	handler(ctx, env)
}

func (m *Manager) isIntentional() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intentional
}

func (m *Manager) setState(state ConnState) {
	m.mu.Lock()
	m.setStateLocked(state)
	m.mu.Unlock()
}

func (m *Manager) setError(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.setStateLocked(StateError)
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(state ConnState) {
	if state != StateError {
		m.lastErr = ""
	}
	if m.state == state {
		return
	}
	m.state = state
	if m.onStateChange != nil {
		go m.onStateChange(state)
	}
}

func nextBackoff(current, ceiling time.Duration) time.Duration {
	next := time.Duration(float64(current) * reconnectFactor)
	if next > ceiling {
		return ceiling
	}
	return next
}
