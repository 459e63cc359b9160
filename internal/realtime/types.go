package realtime

import (
	"context"
	"errors"
	"time"
)

// Errors fed into the shared failure path.
var (
	ErrChannelDead   = errors.New("channel no longer joined")
	ErrChannelClosed = errors.New("channel closed unexpectedly")
)

// State is the connection lifecycle state. Exactly one is active at any
// time; it is the sole source of truth for whether the heartbeat or the
// fallback poller runs.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// States returns all lifecycle states, in order. Used by metrics to
// pre-register one gauge per state.
func States() []State {
	return []State{StateDisconnected, StateConnecting, StateConnected, StateReconnecting, StateFailed}
}

// Status is an immutable snapshot emitted on every transition.
type Status struct {
	State             State
	LastConnectedAt   time.Time // Zero if never connected
	LastError         string    // Empty if none
	ReconnectAttempts int
	FallbackActive    bool
}

// Event is one payload delivered by the push transport. Events are
// broadcast in transport delivery order; no reordering or deduplication
// happens here.
type Event struct {
	Data       []byte
	ReceivedAt time.Time
}

// ChannelState is the transport's health probe result.
type ChannelState int

const (
	ChannelJoined ChannelState = iota
	ChannelErrored
	ChannelClosed
)

// String returns the string representation of a ChannelState.
func (s ChannelState) String() string {
	switch s {
	case ChannelJoined:
		return "joined"
	case ChannelErrored:
		return "errored"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is one live push feed. The manager is its exclusive owner.
type Channel interface {
	// State reports current channel health.
	State() ChannelState

	// Events returns the payload stream, in delivery order.
	Events() <-chan Event

	// Errors reports a mid-life drop. At most one error matters; the
	// manager tears the channel down on the first.
	Errors() <-chan error

	// Close releases the channel.
	Close() error
}

// Transport opens channels. It is the boundary to the push provider.
type Transport interface {
	Open(ctx context.Context, subjectID string) (Channel, error)
}

// StatusFunc receives status snapshots.
type StatusFunc func(Status)

// MessageFunc receives payload events.
type MessageFunc func(Event)

// RefreshFunc re-fetches current data. Used only by the fallback poller.
type RefreshFunc func(ctx context.Context) error

// Default configuration values.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 2 * time.Second
	DefaultFallbackInterval     = 12 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultOpenTimeout          = 10 * time.Second
)

// Config holds manager settings. Immutable after construction.
type Config struct {
	MaxReconnectAttempts int           // Automatic retries before giving up
	ReconnectDelay       time.Duration // Base backoff delay (attempt n waits base * 2^(n-1))
	MaxReconnectDelay    time.Duration // Cap on a single backoff delay (0 = effectively uncapped)
	FallbackInterval     time.Duration // Poll interval while failed
	HeartbeatInterval    time.Duration // Liveness probe interval while connected
	OpenTimeout          time.Duration // Bound on channel establishment
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectDelay:       DefaultReconnectDelay,
		FallbackInterval:     DefaultFallbackInterval,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		OpenTimeout:          DefaultOpenTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.FallbackInterval == 0 {
		c.FallbackInterval = DefaultFallbackInterval
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	return c
}
