package realtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State describes the connection manager's transport status.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMaxAttempts = 8
	writeWait          = 10 * time.Second
)

var errReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")

// ClientConfig configures the websocket connection manager.
type ClientConfig struct {
	ServerURL   string
	Token       string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Logger      *zap.Logger
}

// Client owns the single long-lived websocket connection shared by every
// feature of the staff application. It is constructed explicitly and held by
// the composition root; there is no package-level instance.
//
// Transport failures are never raised to callers of Send. Connection loss is
// observable only through State and the lifecycle listeners.
type Client struct {
	cfg    ClientConfig
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	transportID string
	lastError   string
	conn        *websocket.Conn
	closing     bool
	done        chan struct{}
	recon       *reconnector

	writeMu sync.Mutex

	handlersMu     sync.Mutex
	nextListenerID int
	onConnect      map[int]func()
	onDisconnect   map[int]func(reason string)
	onReconnect    map[int]func(attempt int)
	onConnectError map[int]func(err error)
	onRawEvent     map[int]func(RawEvent)
}

// NewClient constructs a connection manager in the Disconnected state.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, errors.New("realtime: server url is required")
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:            cfg,
		logger:         logger,
		state:          StateDisconnected,
		recon:          newReconnector(cfg.BaseDelay, cfg.MaxDelay, cfg.MaxAttempts),
		onConnect:      make(map[int]func()),
		onDisconnect:   make(map[int]func(string)),
		onReconnect:    make(map[int]func(int)),
		onConnectError: make(map[int]func(error)),
		onRawEvent:     make(map[int]func(RawEvent)),
	}, nil
}

// State reports the current transport status.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TransportID returns the opaque identifier of the current transport, empty
// when disconnected.
func (c *Client) TransportID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transportID
}

// LastError returns the most recent transport error text, if any.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// OnConnect registers a listener fired after the initial connection is
// established. The returned function removes exactly that listener.
func (c *Client) OnConnect(fn func()) func() {
	return addListener(c, c.onConnect, fn)
}

// OnDisconnect registers a listener fired when the transport drops outside an
// explicit Disconnect call.
func (c *Client) OnDisconnect(fn func(reason string)) func() {
	return addListener(c, c.onDisconnect, fn)
}

// OnReconnect registers a listener fired after an automatic reconnection,
// with the attempt count that succeeded.
func (c *Client) OnReconnect(fn func(attempt int)) func() {
	return addListener(c, c.onReconnect, fn)
}

// OnConnectError registers a listener fired when automatic reconnection gives
// up. The manager stays Disconnected until Connect is called again.
func (c *Client) OnConnectError(fn func(err error)) func() {
	return addListener(c, c.onConnectError, fn)
}

// OnRawEvent registers a listener for every inbound transport event.
func (c *Client) OnRawEvent(fn func(RawEvent)) func() {
	return addListener(c, c.onRawEvent, fn)
}

func addListener[T any](c *Client, registry map[int]T, fn T) func() {
	c.handlersMu.Lock()
	c.nextListenerID++
	id := c.nextListenerID
	registry[id] = fn
	c.handlersMu.Unlock()
	return func() {
		c.handlersMu.Lock()
		delete(registry, id)
		c.handlersMu.Unlock()
	}
}

// Connect establishes the transport. A second call while already connected or
// connecting is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.closing = false
	// Supersede any reconnect loop still sleeping in its backoff window;
	// the singleton transport must never be doubled by a stale loop.
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	c.done = make(chan struct{})
	c.recon.reset()
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.lastError = err.Error()
		c.mu.Unlock()
		return err
	}

	c.adopt(conn)
	go c.readLoop(conn)
	c.emitConnect()
	return nil
}

// Disconnect tears down the transport and removes every registered listener.
// Running countdown timers are not owned by the connection and keep counting.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.transportID = ""
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	c.handlersMu.Lock()
	c.onConnect = make(map[int]func())
	c.onDisconnect = make(map[int]func(string))
	c.onReconnect = make(map[int]func(int))
	c.onConnectError = make(map[int]func(error))
	c.onRawEvent = make(map[int]func(RawEvent))
	c.handlersMu.Unlock()
}

// Send writes a fire-and-forget directive. When not connected the message is
// dropped and logged, never queued; callers needing guaranteed delivery must
// use the REST API.
func (c *Client) Send(action string, fields map[string]any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Warn("dropping outbound directive while disconnected",
			zap.String("action", action))
		return
	}

	message := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		message[key] = value
	}
	message["action"] = action

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(message); err != nil {
		c.logger.Warn("outbound directive write failed",
			zap.String("action", action), zap.Error(err))
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.socketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}
	return conn, nil
}

func (c *Client) socketURL() string {
	socketURL := strings.Replace(c.cfg.ServerURL, "https://", "wss://", 1)
	socketURL = strings.Replace(socketURL, "http://", "ws://", 1)
	socketURL = strings.TrimSuffix(socketURL, "/") + "/ws"
	if c.cfg.Token != "" {
		socketURL += "?token=" + c.cfg.Token
	}
	return socketURL
}

func (c *Client) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.transportID = uuid.NewString()
	c.lastError = ""
	c.recon.markConnected()
	c.mu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var raw RawEvent
		if err := conn.ReadJSON(&raw); err != nil {
			c.handleReadFailure(err)
			return
		}
		if raw.Type == "" {
			continue
		}
		c.emitRawEvent(raw)
	}
}

func (c *Client) handleReadFailure(err error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.conn = nil
	c.transportID = ""
	c.lastError = err.Error()
	done := c.done
	c.mu.Unlock()

	c.logger.Info("transport dropped", zap.Error(err))
	c.emitDisconnect(err.Error())
	c.reconnectLoop(done)
}

func (c *Client) reconnectLoop(done chan struct{}) {
	for {
		if !c.recon.shouldRetry() {
			c.mu.Lock()
			if c.closing || c.done != done {
				c.mu.Unlock()
				return
			}
			c.state = StateDisconnected
			c.mu.Unlock()
			c.logger.Warn("reconnect attempts exhausted")
			c.emitConnectError(errReconnectExhausted)
			return
		}

		attempt, delay := c.recon.next()
		select {
		case <-done:
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if c.closing || c.done != done {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		conn, err := c.dial(context.Background())
		if err != nil {
			c.mu.Lock()
			if c.closing || c.done != done {
				c.mu.Unlock()
				return
			}
			c.state = StateDisconnected
			c.lastError = err.Error()
			c.mu.Unlock()
			c.logger.Info("reconnect attempt failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		if !c.adoptIfCurrent(conn, done) {
			_ = conn.Close()
			return
		}
		go c.readLoop(conn)
		c.logger.Info("transport reconnected", zap.Int("attempt", attempt))
		c.emitReconnect(attempt)
		return
	}
}

// adoptIfCurrent installs the dialed connection only when this loop still owns
// the lifecycle. An explicit Connect or Disconnect issued while the dial was in
// flight replaces c.done, and the dialed connection must then be discarded.
func (c *Client) adoptIfCurrent(conn *websocket.Conn, done chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || c.done != done {
		return false
	}
	c.conn = conn
	c.state = StateConnected
	c.transportID = uuid.NewString()
	c.lastError = ""
	c.recon.markConnected()
	return true
}

func (c *Client) emitConnect() {
	for _, fn := range c.snapshotConnect() {
		fn()
	}
}

func (c *Client) emitDisconnect(reason string) {
	c.handlersMu.Lock()
	listeners := make([]func(string), 0, len(c.onDisconnect))
	for _, fn := range c.onDisconnect {
		listeners = append(listeners, fn)
	}
	c.handlersMu.Unlock()
	for _, fn := range listeners {
		fn(reason)
	}
}

func (c *Client) emitReconnect(attempt int) {
	c.handlersMu.Lock()
	listeners := make([]func(int), 0, len(c.onReconnect))
	for _, fn := range c.onReconnect {
		listeners = append(listeners, fn)
	}
	c.handlersMu.Unlock()
	for _, fn := range listeners {
		fn(attempt)
	}
}

func (c *Client) emitConnectError(err error) {
	c.handlersMu.Lock()
	listeners := make([]func(error), 0, len(c.onConnectError))
	for _, fn := range c.onConnectError {
		listeners = append(listeners, fn)
	}
	c.handlersMu.Unlock()
	for _, fn := range listeners {
		fn(err)
	}
}

func (c *Client) emitRawEvent(raw RawEvent) {
	c.handlersMu.Lock()
	listeners := make([]func(RawEvent), 0, len(c.onRawEvent))
	for _, fn := range c.onRawEvent {
		listeners = append(listeners, fn)
	}
	c.handlersMu.Unlock()
	for _, fn := range listeners {
		fn(raw)
	}
}

func (c *Client) snapshotConnect() []func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	listeners := make([]func(), 0, len(c.onConnect))
	for _, fn := range c.onConnect {
		listeners = append(listeners, fn)
	}
	return listeners
}

// reconnector tracks bounded exponential backoff between reconnect attempts.
type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(baseDelay, maxDelay time.Duration, maxAttempts int) *reconnector {
	return &reconnector{
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
	}
}

func (r *reconnector) shouldRetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt < r.maxAttempts
}

func (r *reconnector) next() (int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return r.attempt, delay
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	r.attempt = 0
	r.mu.Unlock()
}

func (r *reconnector) reset() {
	r.mu.Lock()
	r.attempt = 0
	r.mu.Unlock()
}
