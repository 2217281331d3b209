package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"repsync/internal/observe"
	"repsync/pkg/logger"
)

const (
	// Time allowed to write a message or control frame to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from the peer.
	maxMessageSize = 1024 * 1024 // 1MB

	subscriptionBuffer = 64
)

// Close codes the server uses to reject a connection for auth reasons.
// Reconnecting cannot help; the connection goes straight to failed.
const (
	closeCodeAuthRequired = 4000
	closeCodeUnauthorized = 4001
)

// Connection owns exactly one websocket for one channel. All state
// transitions happen under the connection's own mutex; the receive loop,
// heartbeat and reconnect timer are goroutines the connection starts and
// cancels itself.
type Connection struct {
	cfg    ChannelConfig
	tokens TokenProvider
	log    zerolog.Logger

	mu              sync.Mutex
	conn            *websocket.Conn
	attempts        int
	manual          bool
	baseURL         string
	loopCancel      context.CancelFunc
	reconnectCancel context.CancelFunc

	// writeMu serializes data writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	state     *observe.Value[State]
	connected *observe.Value[bool]

	subsMu sync.RWMutex
	subs   map[*Subscription]struct{}
}

// NewConnection builds a Connection for the given channel. tokens may be nil
// when the channel does not require auth.
func NewConnection(cfg ChannelConfig, tokens TokenProvider) *Connection {
	return &Connection{
		cfg:       cfg.withDefaults(),
		tokens:    tokens,
		log:       logger.Component("realtime").With().Str("channel", cfg.ID).Logger(),
		state:     observe.NewValue(Disconnected()),
		connected: observe.NewValue(false),
		subs:      make(map[*Subscription]struct{}),
	}
}

// ID returns the channel id this connection serves.
func (c *Connection) ID() string { return c.cfg.ID }

// Config returns a copy of the channel configuration.
func (c *Connection) Config() ChannelConfig { return c.cfg }

// State returns the current connection state.
func (c *Connection) State() State { return c.state.Get() }

// WatchState streams connection state changes, starting with the current one.
func (c *Connection) WatchState() (<-chan State, func()) { return c.state.Subscribe() }

// WatchConnected streams the boolean connected status, starting with the
// current one.
func (c *Connection) WatchConnected() (<-chan bool, func()) { return c.connected.Subscribe() }

// websocketURL translates the base URL scheme to a websocket scheme and
// appends the channel endpoint. http maps to ws and https to wss; ws and wss
// pass through; anything else is an ErrInvalidURL.
func websocketURL(base, endpoint string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	return u.JoinPath(endpoint).String(), nil
}

// Connect opens the socket against baseURL. It is a no-op when already
// connecting or connected. On success the receive loop and heartbeat start
// and the reconnect attempt counter resets.
func (c *Connection) Connect(ctx context.Context, baseURL string) error {
	c.mu.Lock()
	c.manual = false
	c.mu.Unlock()
	return c.dial(ctx, baseURL, false)
}

// dial performs one connection attempt. Unlike Connect it leaves the
// manual-disconnect flag alone, so the reconnect loop cannot undo a
// Disconnect that raced with it. During reconnection a failed attempt does
// not publish failed state; the loop decides between retrying and giving up.
func (c *Connection) dial(ctx context.Context, baseURL string, viaReconnect bool) error {
	c.mu.Lock()
	switch c.state.Get().Kind {
	case StateConnecting, StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.baseURL = baseURL
	c.setStateLocked(Connecting())
	c.mu.Unlock()

	target, err := websocketURL(baseURL, c.cfg.Endpoint)
	if err != nil {
		c.mu.Lock()
		if !viaReconnect {
			c.setStateLocked(Failed(err.Error()))
		}
		c.mu.Unlock()
		return err
	}

	header := http.Header{}
	for k, v := range c.cfg.ExtraHeaders {
		header.Set(k, v)
	}
	if c.cfg.RequiresAuth && c.tokens != nil {
		// A missing token is not an error here; the server rejects and the
		// failure path takes over.
		if tok := c.tokens.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, target, header)
	if err != nil {
		reason := err.Error()
		wrapped := fmt.Errorf("%w: %s: %v", ErrConnectionFailed, target, err)
		if errors.Is(err, context.DeadlineExceeded) {
			wrapped = fmt.Errorf("%w: connect to %s", ErrTimeout, target)
		} else if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				wrapped = fmt.Errorf("%w: %s", ErrUnauthorized, target)
				reason = "unauthorized"
			case http.StatusForbidden:
				wrapped = fmt.Errorf("%w: %s", ErrAuthRequired, target)
				reason = "forbidden"
			}
		}
		c.mu.Lock()
		if !viaReconnect {
			c.setStateLocked(Failed(reason))
		}
		c.mu.Unlock()
		c.log.Error().Err(err).Str("url", target).Msg("WebSocket connect failed")
		return wrapped
	}

	conn.SetReadLimit(maxMessageSize)

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.manual {
		// Disconnect won the race while the handshake was in flight.
		c.setStateLocked(Disconnected())
		c.mu.Unlock()
		loopCancel()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.loopCancel = loopCancel
	c.setStateLocked(Connected())
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.heartbeat(loopCtx, conn)

	c.log.Info().Str("url", target).Msg("WebSocket connected")
	return nil
}

// Disconnect closes the socket, suppresses auto-reconnect, and cancels any
// pending reconnect delay. Idempotent.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.manual = true
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	if c.conn != nil {
		deadline := time.Now().Add(writeWait)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(Disconnected())
}

// Send serializes the envelope and writes it as a text frame. Fails with
// ErrNotConnected unless the connection is established.
func (c *Connection) Send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	ok := c.state.Get().Kind == StateConnected
	c.mu.Unlock()

	if !ok || conn == nil {
		return fmt.Errorf("%w: channel %s", ErrNotConnected, c.cfg.ID)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnectionFailed, err)
	}
	return nil
}

// Subscription is a live stream of decoded messages of one operation type
// (or all types via OpAny). Close releases it.
type Subscription struct {
	op   OpType
	ch   chan Message
	conn *Connection
	once sync.Once
}

// Messages returns the subscription's channel. It is closed by Close or when
// the connection shuts the subscription down.
func (s *Subscription) Messages() <-chan Message { return s.ch }

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.conn.subsMu.Lock()
		delete(s.conn.subs, s)
		s.conn.subsMu.Unlock()
		close(s.ch)
	})
}

// Subscribe returns a stream of successfully decoded messages of the given
// type. Frames that fail to decode are logged and dropped; they never
// terminate the stream. The stream survives reconnects.
func (c *Connection) Subscribe(op OpType) *Subscription {
	sub := &Subscription{
		op:   op,
		ch:   make(chan Message, subscriptionBuffer),
		conn: c,
	}
	c.subsMu.Lock()
	c.subs[sub] = struct{}{}
	c.subsMu.Unlock()
	return sub
}

// readLoop blocks on the socket and fans decoded frames out to subscribers.
func (c *Connection) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleFailure(err)
			return
		}
		c.dispatch(data)
	}
}

// dispatch decodes one raw frame and forwards it to matching subscriptions
// in arrival order. Decode failures are logged and dropped.
func (c *Connection) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Error().Err(err).Msg("Failed to decode frame")
		return
	}

	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for sub := range c.subs {
		if sub.op != OpAny && sub.op != msg.Type {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			c.log.Warn().Str("type", string(msg.Type)).Msg("Subscriber buffer full, dropping message")
		}
	}
}

// heartbeat sends transport-level pings until the lifetime context ends. A
// ping failure enters the same failure path as a receive error.
func (c *Connection) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// WriteControl is safe to call concurrently with WriteMessage.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.handleFailure(fmt.Errorf("heartbeat: %w", err))
				return
			}
		}
	}
}

func isAuthClose(err error) bool {
	return websocket.IsCloseError(err, closeCodeAuthRequired, closeCodeUnauthorized) ||
		errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrAuthRequired)
}

// handleFailure reacts to a receive or heartbeat error. Only the first
// failure of an established connection acts; late arrivals (the heartbeat
// noticing after the read loop, or errors after a manual disconnect) return.
func (c *Connection) handleFailure(err error) {
	c.mu.Lock()
	if c.manual || c.state.Get().Kind != StateConnected {
		c.mu.Unlock()
		return
	}

	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if !c.cfg.AutoReconnect || isAuthClose(err) || c.attempts >= c.cfg.MaxReconnectAttempts {
		c.setStateLocked(Failed(err.Error()))
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("WebSocket failed, not reconnecting")
		return
	}

	c.attempts++
	attempt := c.attempts
	base := c.baseURL
	ctx, cancel := context.WithCancel(context.Background())
	c.reconnectCancel = cancel
	c.setStateLocked(Reconnecting())
	c.mu.Unlock()

	c.log.Warn().Err(err).Int("attempt", attempt).Msg("WebSocket lost, scheduling reconnect")
	go c.reconnectLoop(ctx, base)
}

// reconnectLoop waits the configured delay, then retries Connect until it
// succeeds, the attempt cap is hit, or the delay is cancelled by Disconnect.
func (c *Connection) reconnectLoop(ctx context.Context, base string) {
	for {
		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if c.manual {
			c.mu.Unlock()
			return
		}
		attempt := c.attempts
		c.mu.Unlock()

		c.log.Info().Int("attempt", attempt).Msg("Reconnecting")
		err := c.dial(ctx, base, true)
		if err == nil {
			return
		}

		c.mu.Lock()
		if c.manual {
			c.mu.Unlock()
			return
		}
		if isAuthClose(err) || c.attempts >= c.cfg.MaxReconnectAttempts {
			c.setStateLocked(Failed(err.Error()))
			c.mu.Unlock()
			c.log.Error().Err(err).Int("attempts", attempt).Msg("Reconnect attempts exhausted")
			return
		}
		c.attempts++
		c.setStateLocked(Reconnecting())
		c.mu.Unlock()
	}
}

// setStateLocked publishes a state transition. Caller holds c.mu.
func (c *Connection) setStateLocked(s State) {
	c.state.Set(s)
	c.connected.Set(s.Kind == StateConnected)
}
