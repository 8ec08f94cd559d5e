package insights

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultReconnectDelay   = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second

	eventQueueSize = 64
	audioQueueSize = 4
)

// Conn is one live transport handle. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer creates a fresh Conn for every attempt.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error)
}

// TokenSource supplies the bearer token attached to each dial.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Stopper cancels a scheduled callback.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc is the default.
type AfterFunc func(d time.Duration, f func()) Stopper

func timeAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	d := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		d.HandshakeTimeout = handshakeTimeout
	}
	return &WebsocketDialer{dialer: &d}
}

func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", endpoint, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return conn, nil
}

// ConnectionHooks are invoked on the event loop, in order.
type ConnectionHooks struct {
	OnState   func(ConnectionState)
	OnOpen    func()
	// OnDown runs after the handle is gone and before OnState reports the new state.
	OnDown    func(state ConnectionState, err error)
	OnMessage func(data []byte)
}

// ConnectionConfig configures a ConnectionManager.
type ConnectionConfig struct {
	Endpoint       string
	Headers        map[string]string
	Tokens         TokenSource
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
	AfterFunc      AfterFunc
	Logger         *Logger
	Metrics        *Metrics
}

// ConnectionManager owns the transport handle and the session's event loop.
// It reconnects after a fixed delay, forever, with at most one timer pending
// and at most one live handle.
//
// Fields below the loop marker are only touched on the loop goroutine.
type ConnectionManager struct {
	endpoint  string
	headers   map[string]string
	tokens    TokenSource
	delay     time.Duration
	writeTO   time.Duration
	afterFunc AfterFunc
	dialer    Dialer
	hooks     ConnectionHooks
	logger    *Logger
	metrics   *Metrics

	events  chan func()
	audio   chan func()
	done    chan struct{}
	running atomic.Bool
	mirror  atomic.Value

	// loop
	ctx   context.Context
	state ConnectionState
	conn  Conn
	gen   uint64
	timer Stopper
}

func NewConnectionManager(config ConnectionConfig, dialer Dialer, hooks ConnectionHooks) *ConnectionManager {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.AfterFunc == nil {
		config.AfterFunc = timeAfterFunc
	}
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics(nil)
	}
	m := &ConnectionManager{
		endpoint:  config.Endpoint,
		headers:   config.Headers,
		tokens:    config.Tokens,
		delay:     config.ReconnectDelay,
		writeTO:   config.WriteTimeout,
		afterFunc: config.AfterFunc,
		dialer:    dialer,
		hooks:     hooks,
		logger:    config.Logger.WithComponent("connection"),
		metrics:   config.Metrics,
		events:    make(chan func(), eventQueueSize),
		audio:     make(chan func(), audioQueueSize),
		done:      make(chan struct{}),
		state:     Idle,
	}
	m.mirror.Store(Idle)
	return m
}

// Run connects and processes events until ctx is cancelled. It may be called once.
func (m *ConnectionManager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return NewError("connection manager already started", ErrCodeSessionClosed)
	}
	defer close(m.done)

	m.ctx = ctx
	m.connect()
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case fn := <-m.events:
			fn()
		case fn := <-m.audio:
			fn()
		}
	}
}

// Do runs fn on the event loop and waits for it. It must not be called from a hook.
func (m *ConnectionManager) Do(ctx context.Context, fn func()) error {
	if !m.running.Load() {
		return ErrSessionClosed
	}
	finished := make(chan struct{})
	select {
	case m.events <- func() { fn(); close(finished) }:
	case <-m.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrSessionClosed
	}
}

// Submit queues fn on the loop without blocking. It reports false when the
// loop is busy or not running; the caller drops the work.
func (m *ConnectionManager) Submit(fn func()) bool {
	if !m.running.Load() {
		return false
	}
	select {
	case m.audio <- fn:
		return true
	default:
		return false
	}
}

// State returns the current connection state. Safe from any goroutine.
func (m *ConnectionManager) State() ConnectionState {
	return m.mirror.Load().(ConnectionState)
}

func (m *ConnectionManager) IsOpen() bool {
	return m.State() == Open
}

// Send writes one message on the live handle. Loop only. A write failure
// closes the handle so the reader reports it as a transport error.
func (m *ConnectionManager) Send(messageType int, data []byte) error {
	if m.state != Open || m.conn == nil {
		return ErrNotConnected
	}
	if err := m.conn.SetWriteDeadline(time.Now().Add(m.writeTO)); err != nil {
		m.logger.WithError(err).Debug("Failed to set write deadline")
	}
	if err := m.conn.WriteMessage(messageType, data); err != nil {
		m.logger.WithError(err).Warn("WebSocket write failed")
		_ = m.conn.Close()
		return WrapError(err, ErrCodeWebSocket)
	}
	return nil
}

// SendFrame writes one binary PCM frame. Loop only.
func (m *ConnectionManager) SendFrame(frame AudioFrame) error {
	return m.Send(websocket.BinaryMessage, frame)
}

// SendText writes one JSON control message. Loop only.
func (m *ConnectionManager) SendText(payload []byte) error {
	return m.Send(websocket.TextMessage, payload)
}

// post delivers fn to the loop, giving up once the loop has exited.
func (m *ConnectionManager) post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- fn:
		return true
	case <-m.done:
		return false
	}
}

func (m *ConnectionManager) connect() {
	m.gen++
	gen := m.gen
	m.setState(Connecting)

	ctx := m.ctx
	go func() {
		conn, err := m.dial(ctx)
		if !m.post(func() { m.handleDialed(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *ConnectionManager) dial(ctx context.Context) (Conn, error) {
	header := make(http.Header)
	if m.tokens != nil {
		token, err := m.tokens.Token(ctx)
		if err != nil {
			return nil, WrapError(err, ErrCodeTokenFailed)
		}
		header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range m.headers {
		header.Set(k, v)
	}
	conn, err := m.dialer.Dial(ctx, m.endpoint, header)
	if err != nil {
		return nil, WrapError(err, ErrCodeConnectionFailed)
	}
	return conn, nil
}

func (m *ConnectionManager) handleDialed(gen uint64, conn Conn, err error) {
	if gen != m.gen || m.state != Connecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.logger.WithError(err).WithField("endpoint", m.endpoint).Warn("Connection attempt failed")
		m.down(Errored, err)
		return
	}

	m.conn = conn
	m.setState(Open)
	go m.readLoop(gen, conn)
	if m.hooks.OnOpen != nil {
		m.hooks.OnOpen()
	}
}

func (m *ConnectionManager) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.post(func() { m.handleDropped(gen, err) })
			return
		}
		if !m.post(func() { m.handleFrame(gen, data) }) {
			return
		}
	}
}

func (m *ConnectionManager) handleFrame(gen uint64, data []byte) {
	if gen != m.gen || m.state != Open {
		return
	}
	if m.hooks.OnMessage != nil {
		m.hooks.OnMessage(data)
	}
}

func (m *ConnectionManager) handleDropped(gen uint64, err error) {
	if gen != m.gen || m.state != Open {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		m.logger.WithField("code", closeErr.Code).Info("Connection closed by server")
		m.down(Closed, err)
		return
	}
	m.logger.WithError(err).Warn("WebSocket read error")
	m.down(Errored, err)
}

// down tears down the live handle, runs OnDown before the state change is
// published, and schedules the single reconnect.
func (m *ConnectionManager) down(state ConnectionState, err error) {
	m.gen++
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.hooks.OnDown != nil {
		m.hooks.OnDown(state, err)
	}
	m.setState(state)
	m.scheduleReconnect()
}

func (m *ConnectionManager) scheduleReconnect() {
	if m.timer != nil {
		m.timer.Stop()
	}
	gen := m.gen
	m.timer = m.afterFunc(m.delay, func() {
		m.post(func() { m.handleTimer(gen) })
	})
	m.metrics.Reconnects.Inc()
	m.logger.Infof("Reconnecting in %s", m.delay)
}

func (m *ConnectionManager) handleTimer(gen uint64) {
	if gen != m.gen || (m.state != Closed && m.state != Errored) {
		return
	}
	m.timer = nil
	m.connect()
}

func (m *ConnectionManager) shutdown() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	wasOpen := m.state == Open
	if m.conn != nil {
		_ = m.conn.SetWriteDeadline(time.Now().Add(m.writeTO))
		_ = m.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = m.conn.Close()
		m.conn = nil
	}
	if wasOpen && m.hooks.OnDown != nil {
		m.hooks.OnDown(Idle, nil)
	}
	m.setState(Idle)
}

func (m *ConnectionManager) setState(state ConnectionState) {
	if m.state == state {
		return
	}
	m.state = state
	m.mirror.Store(state)
	m.metrics.recordState(state)
	m.logger.LogConnectionEvent("state_change", state, map[string]interface{}{"endpoint": m.endpoint})
	if m.hooks.OnState != nil {
		m.hooks.OnState(state)
	}
}
