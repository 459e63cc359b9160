package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrSubscribeFailed = errors.New("subscribe rejected")
)

// Command is a request sent to the hub.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params"`
}

// SubscribeParams are parameters for a subscribe command.
type SubscribeParams struct {
	Channel   string `json:"channel"`
	SubjectID string `json:"subject_id"`
}

// Response is a command response from the hub.
type Response struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"` // "subscribed", "error", "ok"
	Msg  json.RawMessage `json:"msg"`
}

// SubscribedMsg is the content of a "subscribed" response.
type SubscribedMsg struct {
	SID     int64  `json:"sid"`
	Channel string `json:"channel"`
}

// ErrorMsg is the content of an "error" response.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DataMessage is a data frame from the hub.
type DataMessage struct {
	Type string          `json:"type"` // "notification"
	SID  int64           `json:"sid"`
	Msg  json.RawMessage `json:"msg"`
}

// DecodeDataMessage parses a raw frame delivered on the event channel.
func DecodeDataMessage(data []byte) (DataMessage, error) {
	var msg DataMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return DataMessage{}, fmt.Errorf("unmarshal data message: %w", err)
	}
	return msg, nil
}

// Config configures the hub transport.
type Config struct {
	URL              string        // Hub WebSocket URL (e.g., wss://hub.rosterly.app/ws/v1)
	Token            string        // Bearer token for the Authorization header
	HandshakeTimeout time.Duration // WebSocket handshake deadline
	PingInterval     time.Duration // Keepalive ping cadence
	PongTimeout      time.Duration // Max silence before the channel counts as stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Event channel buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		PongTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.BufferSize == 0 {
		c.BufferSize = d.BufferSize
	}
	return c
}
