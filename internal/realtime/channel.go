package realtime

import "time"

// Default channel settings applied when a ChannelConfig leaves them zero.
const (
	defaultReconnectDelay    = 3 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultConnectTimeout    = 10 * time.Second
)

// ChannelConfig holds the immutable settings for one logical channel. A
// Connection copies it at construction; later edits have no effect.
type ChannelConfig struct {
	// ID is the unique channel name, e.g. "exercise_session".
	ID string
	// Endpoint is the path appended to the base URL when dialing.
	Endpoint string
	// RequiresAuth attaches a bearer token header when a token is available.
	RequiresAuth bool
	// AutoReconnect enables automatic reconnection after transport failures.
	AutoReconnect bool
	// MaxReconnectAttempts caps automatic reconnection attempts.
	MaxReconnectAttempts int
	// ReconnectDelay is the constant wait between reconnection attempts.
	ReconnectDelay time.Duration
	// HeartbeatInterval is the period between transport-level pings.
	HeartbeatInterval time.Duration
	// ConnectTimeout bounds the websocket handshake.
	ConnectTimeout time.Duration
	// ExtraHeaders are added to the handshake request verbatim.
	ExtraHeaders map[string]string
}

func (c ChannelConfig) withDefaults() ChannelConfig {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	return c
}

// TokenProvider exposes the current bearer token. Credential storage and
// refresh live outside this layer.
type TokenProvider interface {
	// Token returns the current token, or "" when none is available.
	Token() string
}

// StaticToken is a TokenProvider returning a fixed token. Useful for tests
// and simple deployments.
type StaticToken string

// Token implements TokenProvider.
func (t StaticToken) Token() string { return string(t) }
