package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager keeps one push subscription alive per subject. All transitions
// are serialized under mu; status snapshots are delivered synchronously in
// transition order. Callbacks may call back into the manager (including
// Disconnect) without corrupting timer bookkeeping.
type Manager struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	subjectID string // Last-used subject, reused by automatic retries
	channel   Channel

	lastConnectedAt   time.Time
	lastError         string
	reconnectAttempts int
	fallbackActive    bool

	// gen is bumped whenever timers or in-flight attempts from the current
	// epoch become invalid. Every timer callback re-checks it under mu, so
	// nothing stale ever mutates state after Disconnect.
	gen uint64

	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	pumpStop       chan struct{}
	fallbackStop   chan struct{}

	delays *delaySchedule

	statusSubs  []statusSub
	messageSubs []messageSub
	nextSubID   int
	fallback    RefreshFunc

	// Status emission queue. The first caller to queue a snapshot drains
	// the queue with mu released around each delivery, so reentrant calls
	// stay ordered instead of interleaving.
	pendingStatus []Status
	emitting      bool
}

// NewManager creates a Manager. Zero config fields take defaults.
func NewManager(cfg Config, transport Transport, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Manager{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		state:     StateDisconnected,
		delays:    newDelaySchedule(cfg),
	}
}

// Connect establishes the subscription for subjectID. Legal from
// Disconnected or Failed; a no-op otherwise. It never returns an error:
// outcomes are observable only through OnStatusChange and Status.
func (m *Manager) Connect(subjectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		return
	}

	if subjectID != "" {
		m.subjectID = subjectID
	}
	if m.subjectID == "" {
		m.logger.Warn("connect called without a subject")
		return
	}

	m.gen++
	m.stopFallbackLocked()

	if m.sessionCtx == nil {
		m.sessionCtx, m.sessionCancel = context.WithCancel(context.Background())
	}

	m.state = StateConnecting
	gen := m.gen
	ctx := m.sessionCtx
	subject := m.subjectID
	go m.open(ctx, gen, subject)

	m.emitLocked()
}

// Disconnect cancels all timers, releases the channel, and returns the
// manager to a clean Disconnected baseline. Idempotent and safe from any
// state, including from inside a status callback.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

// Reconnect forces a fresh connection without waiting for the backoff
// schedule. An empty subjectID reuses the last one.
func (m *Manager) Reconnect(subjectID string) {
	m.mu.Lock()
	if subjectID == "" {
		subjectID = m.subjectID
	}
	m.disconnectLocked()
	m.mu.Unlock()

	m.Connect(subjectID)
}

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Status {
	return Status{
		State:             m.state,
		LastConnectedAt:   m.lastConnectedAt,
		LastError:         m.lastError,
		ReconnectAttempts: m.reconnectAttempts,
		FallbackActive:    m.fallbackActive,
	}
}

func (m *Manager) disconnectLocked() {
	m.gen++
	m.stopReconnectTimerLocked()
	m.stopHeartbeatLocked()
	m.stopPumpLocked()
	m.stopFallbackLocked()

	if m.sessionCancel != nil {
		m.sessionCancel()
		m.sessionCtx, m.sessionCancel = nil, nil
	}

	if m.channel != nil {
		ch := m.channel
		m.channel = nil
		go ch.Close()
	}

	m.reconnectAttempts = 0
	m.lastError = ""
	m.delays.Reset()

	if m.state != StateDisconnected {
		m.state = StateDisconnected
		m.emitLocked()
	}
}

// open runs one establishment attempt. It is bounded by OpenTimeout; a
// transport that never reaches a joined state is treated as a failure.
func (m *Manager) open(ctx context.Context, gen uint64, subjectID string) {
	openCtx, cancel := context.WithTimeout(ctx, m.cfg.OpenTimeout)
	defer cancel()

	ch, err := m.transport.Open(openCtx, subjectID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		// Torn down while we were opening.
		if err == nil {
			go ch.Close()
		}
		return
	}

	if err != nil {
		m.failLocked(err)
		return
	}

	m.channel = ch
	m.state = StateConnected
	m.reconnectAttempts = 0
	m.lastConnectedAt = time.Now()
	m.lastError = ""
	m.delays.Reset()

	m.startHeartbeatLocked(gen)
	m.startPumpLocked(gen, ch)

	m.logger.Info("connected", "subject_id", subjectID)
	m.emitLocked()
}

// failLocked is the single failure path shared by establishment failures,
// mid-life drops, and heartbeat failures.
func (m *Manager) failLocked(err error) {
	m.gen++
	m.stopReconnectTimerLocked()
	m.stopHeartbeatLocked()
	m.stopPumpLocked()

	if m.channel != nil {
		ch := m.channel
		m.channel = nil
		go ch.Close()
	}

	if err != nil {
		m.lastError = err.Error()
	}
	m.reconnectAttempts++

	if m.reconnectAttempts < m.cfg.MaxReconnectAttempts {
		m.state = StateReconnecting
		delay := m.delays.Next()
		gen := m.gen
		m.reconnectTimer = time.AfterFunc(delay, func() { m.retry(gen) })
		m.logger.Warn("connection lost, retry scheduled",
			"attempt", m.reconnectAttempts,
			"delay", delay,
			"error", err,
		)
	} else {
		m.state = StateFailed
		m.startFallbackLocked()
		m.logger.Error("reconnect attempts exhausted, polling for updates",
			"attempts", m.reconnectAttempts,
			"error", err,
		)
	}

	m.emitLocked()
}

// retry fires when the reconnect timer elapses and starts the next
// establishment attempt with the last-known subject.
func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateReconnecting {
		return
	}
	m.reconnectTimer = nil

	gen = m.gen
	ctx := m.sessionCtx
	subject := m.subjectID
	go m.open(ctx, gen, subject)

	// Re-emit so observers see the attempt begin.
	m.emitLocked()
}

// startPumpLocked launches the event pump for a freshly joined channel.
// Every exit from Connected closes stop, so a pump never outlives its
// channel even when the transport keeps its streams open after Close.
func (m *Manager) startPumpLocked(gen uint64, ch Channel) {
	stop := make(chan struct{})
	m.pumpStop = stop
	go m.pump(gen, ch, stop)
}

func (m *Manager) stopPumpLocked() {
	if m.pumpStop != nil {
		close(m.pumpStop)
		m.pumpStop = nil
	}
}

// pump forwards channel events to message subscribers and feeds a mid-life
// drop into the failure path. One pump runs per live channel, so delivery
// order matches transport order.
func (m *Manager) pump(gen uint64, ch Channel, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-ch.Events():
			if !ok {
				m.channelFailed(gen, ErrChannelClosed)
				return
			}
			if !m.deliver(gen, ev) {
				return
			}
		case err, ok := <-ch.Errors():
			if !ok {
				err = ErrChannelClosed
			}
			m.channelFailed(gen, err)
			return
		}
	}
}

func (m *Manager) deliver(gen uint64, ev Event) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	subs := make([]messageSub, len(m.messageSubs))
	copy(subs, m.messageSubs)
	m.mu.Unlock()

	for _, s := range subs {
		m.invokeMessage(s.fn, ev)
	}
	return true
}

func (m *Manager) channelFailed(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateConnected {
		return
	}
	m.failLocked(err)
}

// startHeartbeatLocked arms the liveness probe. Only ever called on entry
// to Connected, and every exit from Connected stops it, so two heartbeats
// never run concurrently.
func (m *Manager) startHeartbeatLocked(gen uint64) {
	stop := make(chan struct{})
	m.heartbeatStop = stop
	go m.heartbeat(gen, m.channel, stop)
}

func (m *Manager) heartbeat(gen uint64, ch Channel, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			st := ch.State()
			if st == ChannelJoined {
				continue
			}

			m.mu.Lock()
			if gen == m.gen && m.state == StateConnected {
				m.logger.Warn("heartbeat probe failed", "channel_state", st.String())
				m.failLocked(ErrChannelDead)
			}
			m.mu.Unlock()
			return
		}
	}
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// startFallbackLocked begins best-effort polling. Active only while the
// state is Failed; entry to Connected or Disconnected stops it before the
// next tick can fire.
func (m *Manager) startFallbackLocked() {
	m.fallbackActive = true
	stop := make(chan struct{})
	m.fallbackStop = stop
	go m.pollLoop(m.gen, m.sessionCtx, stop)
}

func (m *Manager) stopFallbackLocked() {
	if m.fallbackStop != nil {
		close(m.fallbackStop)
		m.fallbackStop = nil
	}
	m.fallbackActive = false
}

func (m *Manager) pollLoop(gen uint64, ctx context.Context, stop chan struct{}) {
	// Poll immediately on entry to Failed, then on the interval.
	if !m.poll(gen, ctx) {
		return
	}

	ticker := time.NewTicker(m.cfg.FallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.poll(gen, ctx) {
				return
			}
		}
	}
}

// poll invokes the refresh callback once. Failures are logged and never
// stop the loop; only leaving Failed does.
func (m *Manager) poll(gen uint64, ctx context.Context) bool {
	m.mu.Lock()
	if gen != m.gen || !m.fallbackActive {
		m.mu.Unlock()
		return false
	}
	fn := m.fallback
	m.mu.Unlock()

	if fn == nil {
		m.logger.Debug("fallback poll skipped, no refresh callback registered")
		return true
	}

	if err := m.invokeRefresh(fn, ctx); err != nil {
		m.logger.Warn("fallback poll failed", "error", err)
	}
	return true
}
