package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rosterly/realtime/internal/realtime"
)

// Transport opens notification channels against the hub. It implements
// realtime.Transport.
type Transport struct {
	cfg    Config
	logger *slog.Logger
}

// NewTransport creates a hub transport.
func NewTransport(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Open dials the hub and subscribes to subjectID's notification feed. The
// returned channel is live once the hub acknowledges the subscription.
func (t *Transport) Open(ctx context.Context, subjectID string) (realtime.Channel, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	ch := &channel{
		cfg:    t.cfg,
		conn:   conn,
		logger: t.logger.With("subject_id", subjectID),
		events: make(chan realtime.Event, t.cfg.BufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	if err := ch.join(ctx, subjectID); err != nil {
		conn.Close()
		return nil, err
	}

	ch.start()
	return ch, nil
}

// channel is one live hub subscription.
type channel struct {
	cfg    Config
	conn   *websocket.Conn
	logger *slog.Logger

	events chan realtime.Event
	errs   chan error
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	errored    bool
	lastPongAt time.Time
	sid        int64
}

// join performs the subscribe handshake. Bounded by the caller's context
// deadline via the read deadline.
func (c *channel) join(ctx context.Context, subjectID string) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	}

	cmd := Command{
		ID:  1,
		Cmd: "subscribe",
		Params: SubscribeParams{
			Channel:   "notifications",
			SubjectID: subjectID,
		},
	}
	data, _ := json.Marshal(cmd)

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await subscribe response: %w", err)
		}

		var resp Response
		if err := json.Unmarshal(msg, &resp); err != nil || resp.ID != cmd.ID {
			// Not our response; the hub must not send data pre-subscribe.
			continue
		}

		switch resp.Type {
		case "subscribed":
			var sub SubscribedMsg
			if err := json.Unmarshal(resp.Msg, &sub); err != nil {
				return fmt.Errorf("decode subscribe ack: %w", err)
			}
			c.sid = sub.SID
			c.conn.SetReadDeadline(time.Time{})
			c.logger.Debug("subscribed", "sid", sub.SID)
			return nil
		case "error":
			var em ErrorMsg
			if err := json.Unmarshal(resp.Msg, &em); err != nil {
				// Still a rejection; surface the raw payload.
				return fmt.Errorf("%w: %s", ErrSubscribeFailed, resp.Msg)
			}
			return fmt.Errorf("%w: %s: %s", ErrSubscribeFailed, em.Code, em.Message)
		}
	}
}

// start launches the read and keepalive loops.
func (c *channel) start() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()

	// The hub pings us; we also ping the hub. Either direction refreshes
	// the liveness clock.
	c.conn.SetPingHandler(func(data string) error {
		c.touch()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return c.conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.keepaliveLoop()
}

func (c *channel) touch() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
}

// State reports channel health. Silence past PongTimeout counts as errored
// even before the read loop notices.
func (c *channel) State() realtime.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return realtime.ChannelClosed
	case c.errored:
		return realtime.ChannelErrored
	case time.Since(c.lastPongAt) > c.cfg.PongTimeout:
		return realtime.ChannelErrored
	default:
		return realtime.ChannelJoined
	}
}

// Events returns the payload stream.
func (c *channel) Events() <-chan realtime.Event {
	return c.events
}

// Errors returns the error stream.
func (c *channel) Errors() <-chan error {
	return c.errs
}

// Close releases the subscription. Idempotent.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}

// readLoop reads frames and forwards them in arrival order.
func (c *channel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close().
			select {
			case <-c.done:
				return
			default:
			}

			c.mu.Lock()
			c.errored = true
			c.mu.Unlock()

			select {
			case c.errs <- err:
			default:
			}
			return
		}

		ev := realtime.Event{Data: data, ReceivedAt: receivedAt}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		default:
			c.logger.Warn("event buffer full, dropping frame")
		}
	}
}

// keepaliveLoop pings the hub and flags stale connections.
func (c *channel) keepaliveLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte("keepalive"),
				time.Now().Add(c.cfg.WriteTimeout),
			)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.Lock()
			stale := time.Since(c.lastPongAt) > c.cfg.PongTimeout
			if stale {
				c.errored = true
			}
			c.mu.Unlock()

			if stale {
				c.logger.Warn("no pong received, connection stale",
					"timeout", c.cfg.PongTimeout,
				)
				select {
				case c.errs <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}
