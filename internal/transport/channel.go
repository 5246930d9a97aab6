package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/constants"
	"github.com/nupi-ai/warp/internal/eventbus"
)

// State is the lifecycle phase of a Channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConnectionStatus is a snapshot of the channel state.
type ConnectionStatus struct {
	State             State      `json:"-"`
	Connected         bool       `json:"connected"`
	Authenticated     bool       `json:"authenticated"`
	LastPing          *time.Time `json:"last_ping"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	ErrorMessage      string     `json:"error_message,omitempty"`
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBus sets the bus that receives channel events.
func WithBus(bus *eventbus.Bus) Option {
	return func(c *Channel) { c.bus = bus }
}

// WithTLSConfig sets the TLS configuration used by the dialer.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Channel) { c.dialer.TLSClientConfig = cfg }
}

// WithProxy overrides the proxy selection. The default uses the environment.
func WithProxy(proxy func(*http.Request) (*url.URL, error)) Option {
	return func(c *Channel) { c.dialer.Proxy = proxy }
}

// WithHandshakeTimeout bounds the websocket opening handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.dialer.HandshakeTimeout = d
		}
	}
}

// WithJoinTimeout bounds how long Disconnect waits for the read loop.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.joinTimeout = d
		}
	}
}

// link is one open websocket connection and its read loop.
type link struct {
	conn    *websocket.Conn
	url     string
	done    chan struct{}
	closing atomic.Bool
}

// Channel is a realtime connection to the remote service. Inbound messages
// are decoded and published on the bus; a ping is answered with a pong
// without involving listeners.
type Channel struct {
	logger      *zap.Logger
	bus         *eventbus.Bus
	dialer      *websocket.Dialer
	now         func() time.Time
	joinTimeout time.Duration

	mu         sync.Mutex
	connecting bool
	epoch      uint64
	link       *link
	status     ConnectionStatus
	stop       chan struct{} // closed by Disconnect; see stopSignal

	writeMu sync.Mutex
}

// New constructs a disconnected Channel.
func New(opts ...Option) *Channel {
	c := &Channel{
		logger: zap.NewNop(),
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  constants.WebsocketHandshakeTimeout,
			EnableCompression: true,
		},
		now:         time.Now,
		joinTimeout: constants.DisconnectJoinTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials url and starts the read loop. It fails with
// ErrAlreadyConnected unless the channel is disconnected.
func (c *Channel) Connect(ctx context.Context, rawURL string, header http.Header) error {
	c.mu.Lock()
	if c.connecting || c.link != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	epoch := c.epoch
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, rawURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		c.mu.Lock()
		c.connecting = false
		c.status.ErrorMessage = err.Error()
		c.mu.Unlock()
		c.logger.Warn("websocket connect failed", zap.String("url", rawURL), zap.Error(err))
		c.bus.Emit(eventbus.SourceTransport, eventbus.ConnectionErrorEvent{Err: err})
		return &TransportError{Op: "connect", URL: rawURL, Err: err}
	}

	l := &link{conn: conn, url: rawURL, done: make(chan struct{})}

	c.mu.Lock()
	c.connecting = false
	if c.epoch != epoch {
		// Disconnect ran while the handshake was in flight.
		c.mu.Unlock()
		conn.Close()
		return &TransportError{Op: "connect", URL: rawURL, Err: net.ErrClosed}
	}
	now := c.now()
	c.link = l
	c.status.Connected = true
	c.status.LastPing = &now
	c.status.ErrorMessage = ""
	c.mu.Unlock()

	c.logger.Info("websocket connected", zap.String("url", rawURL))
	c.bus.Emit(eventbus.SourceTransport, eventbus.ConnectedEvent{URL: rawURL})

	go c.readLoop(l)
	return nil
}

func (c *Channel) readLoop(l *link) {
	var readErr error
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("websocket read loop panicked", zap.Any("panic", r))
			readErr = fmt.Errorf("read loop panic: %v", r)
		}
		c.finish(l, readErr)
	}()

	for {
		messageType, payload, err := l.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		c.handleMessage(l, payload)
	}
}

func (c *Channel) handleMessage(l *link, payload []byte) {
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil || msg == nil {
		c.logger.Warn("dropping malformed websocket message", zap.Int("bytes", len(payload)), zap.Error(err))
		return
	}

	if msgType, _ := msg["type"].(string); msgType == "ping" {
		c.touch()
		if err := c.write(l, map[string]string{"type": "pong"}); err != nil {
			c.logger.Warn("failed to answer ping", zap.Error(err))
		}
		return
	}

	c.bus.Emit(eventbus.SourceTransport, eventbus.ServerMessage(msg))
}

func (c *Channel) touch() {
	now := c.now()
	c.mu.Lock()
	c.status.LastPing = &now
	c.mu.Unlock()
}

// finish runs once per connection when its read loop exits.
func (c *Channel) finish(l *link, readErr error) {
	l.conn.Close()
	close(l.done)

	local := l.closing.Load()
	abnormal := !local && !isNormalClose(readErr)

	c.mu.Lock()
	if c.link == l {
		c.link = nil
		c.status.Connected = false
	}
	if abnormal {
		c.status.ErrorMessage = readErr.Error()
	}
	c.mu.Unlock()

	if abnormal {
		c.logger.Warn("websocket connection error", zap.String("url", l.url), zap.Error(readErr))
		c.bus.Emit(eventbus.SourceTransport, eventbus.ConnectionErrorEvent{Err: readErr})
	}

	code, reason := closeDetails(readErr)
	c.logger.Info("websocket disconnected", zap.String("url", l.url), zap.Int("code", code))
	c.bus.Emit(eventbus.SourceTransport, eventbus.DisconnectedEvent{Code: code, Reason: reason})
}

// Send writes v as a JSON text message.
func (c *Channel) Send(v any) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	if err := c.write(l, v); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

func (c *Channel) write(l *link, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(constants.WebsocketWriteTimeout)); err != nil {
		return err
	}
	return l.conn.WriteJSON(v)
}

// MarkAuthenticated records whether the session holds a valid credential.
func (c *Channel) MarkAuthenticated(ok bool) {
	c.mu.Lock()
	c.status.Authenticated = ok
	c.mu.Unlock()
}

// Status returns a snapshot of the connection state.
func (c *Channel) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.status
	if snap.LastPing != nil {
		ts := *snap.LastPing
		snap.LastPing = &ts
	}
	switch {
	case c.link != nil && snap.Authenticated:
		snap.State = StateAuthenticated
	case c.link != nil:
		snap.State = StateConnected
	case c.connecting:
		snap.State = StateConnecting
	default:
		snap.State = StateDisconnected
	}
	return snap
}

func (c *Channel) addReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.ReconnectAttempts++
	return c.status.ReconnectAttempts
}

func (c *Channel) resetReconnectAttempts() {
	c.mu.Lock()
	c.status.ReconnectAttempts = 0
	c.mu.Unlock()
}

// stopSignal returns a channel closed by the next Disconnect.
func (c *Channel) stopSignal() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		c.stop = make(chan struct{})
	}
	return c.stop
}

// current returns the open link, if any.
func (c *Channel) current() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

// Disconnect closes the connection and waits a bounded time for the read
// loop to exit. It always clears the connected and authenticated flags and
// never panics. Calling it on a disconnected channel is a no-op.
func (c *Channel) Disconnect() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during disconnect", zap.Any("panic", r))
		}
	}()

	c.mu.Lock()
	c.epoch++
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	l := c.link
	c.status.Connected = false
	c.status.Authenticated = false
	c.mu.Unlock()

	if l == nil {
		return
	}
	if !l.closing.CompareAndSwap(false, true) {
		c.wait(l)
		return
	}

	c.writeMu.Lock()
	err := l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(constants.WebsocketWriteTimeout))
	c.writeMu.Unlock()
	if err != nil {
		l.conn.Close()
	}

	c.wait(l)
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()
}

func (c *Channel) wait(l *link) {
	timer := time.NewTimer(c.joinTimeout)
	defer timer.Stop()
	select {
	case <-l.done:
	case <-timer.C:
		c.logger.Warn("websocket read loop did not stop in time; closing connection",
			zap.Duration("timeout", c.joinTimeout))
		l.conn.Close()
	}
}

func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func closeDetails(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	if err == nil {
		return websocket.CloseNormalClosure, ""
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
