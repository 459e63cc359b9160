package realtime

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"
)

var errOpenRefused = errors.New("hub refused subscription")

// fakeChannel implements Channel for tests.
type fakeChannel struct {
	mu     sync.Mutex
	state  ChannelState
	closed bool
	events chan Event
	errs   chan error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		state:  ChannelJoined,
		events: make(chan Event, 64),
		errs:   make(chan error, 1),
	}
}

func (c *fakeChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) Events() <-chan Event { return c.events }
func (c *fakeChannel) Errors() <-chan error { return c.errs }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.state = ChannelClosed
	}
	return nil
}

func (c *fakeChannel) setState(st ChannelState) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

func (c *fakeChannel) fail(err error) {
	c.errs <- err
}

func (c *fakeChannel) emit(data string) {
	c.events <- Event{Data: []byte(data), ReceivedAt: time.Now()}
}

// fakeTransport implements Transport for tests. The first `failures` opens
// fail; subsequent opens return a joined fakeChannel.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	block    bool // never complete; Open waits for ctx
	opens    int
	subjects []string
	channels []*fakeChannel
}

func (tr *fakeTransport) Open(ctx context.Context, subjectID string) (Channel, error) {
	tr.mu.Lock()
	tr.opens++
	tr.subjects = append(tr.subjects, subjectID)
	if tr.block {
		tr.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if tr.failures > 0 {
		tr.failures--
		tr.mu.Unlock()
		return nil, errOpenRefused
	}
	ch := newFakeChannel()
	tr.channels = append(tr.channels, ch)
	tr.mu.Unlock()
	return ch, nil
}

func (tr *fakeTransport) openCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.opens
}

func (tr *fakeTransport) lastChannel() *fakeChannel {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.channels) == 0 {
		return nil
	}
	return tr.channels[len(tr.channels)-1]
}

// statusRecorder collects emitted snapshots.
type statusRecorder struct {
	mu    sync.Mutex
	snaps []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *statusRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.State
	}
	return out
}

func (r *statusRecorder) last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Status{}
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *statusRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func timersArmed(m *Manager) (reconnect, heartbeat, fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectTimer != nil, m.heartbeatStop != nil, m.fallbackStop != nil
}

// fastConfig keeps test timers short.
func fastConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       10 * time.Millisecond,
		FallbackInterval:     20 * time.Millisecond,
		HeartbeatInterval:    10 * time.Millisecond,
		OpenTimeout:          time.Second,
	}
}

func TestManager_ConnectSuccess(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(fastConfig(), tr, nil)

	rec := &statusRecorder{}
	m.OnStatusChange(rec.record)
	defer m.Disconnect()

	m.Connect("school-42")

	waitFor(t, time.Second, func() bool { return m.Status().State == StateConnected })

	got := m.Status()
	if got.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", got.ReconnectAttempts)
	}
	if got.LastConnectedAt.IsZero() {
		t.Error("LastConnectedAt not recorded")
	}
	if got.FallbackActive {
		t.Error("FallbackActive = true, want false")
	}

	want := []State{StateDisconnected, StateConnecting, StateConnected}
	states := rec.states()
	if len(states) != len(want) {
		t.Fatalf("status sequence = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("status[%d] = %v, want %v", i, states[i], want[i])
		}
	}

	_, heartbeat, fallback := timersArmed(m)
	if !heartbeat {
		t.Error("heartbeat not armed while connected")
	}
	if fallback {
		t.Error("fallback armed while connected")
	}
}

func TestManager_ConnectIsNoOpWhileActive(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(fastConfig(), tr, nil)
	defer m.Disconnect()

	m.Connect("school-42")
	waitFor(t, time.Second, func() bool { return m.Status().State == StateConnected })

	m.Connect("school-42")
	m.Connect("other-subject")

	if n := tr.openCount(); n != 1 {
		t.Errorf("opens = %d, want 1", n)
	}
	if m.Status().State != StateConnected {
		t.Errorf("state = %v, want connected", m.Status().State)
	}
}

func TestManager_ExhaustedRetriesEnterFailed(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 2
	tr := &fakeTransport{failures: 1000}
	m := NewManager(cfg, tr, nil)
	defer m.Disconnect()

	var pollMu sync.Mutex
	polls := 0
	m.SetFallback(func(ctx context.Context) error {
		pollMu.Lock()
		polls++
		pollMu.Unlock()
		return nil
	})

	rec := &statusRecorder{}
	m.OnStatusChange(rec.record)

	m.Connect("school-42")

	waitFor(t, time.Second, func() bool { return m.Status().State == StateFailed })

	want := []State{StateDisconnected, StateConnecting, StateReconnecting, StateReconnecting, StateFailed}
	states := rec.states()
	if len(states) != len(want) {
		t.Fatalf("status sequence = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("status[%d] = %v, want %v", i, states[i], want[i])
		}
	}

	last := rec.last()
	if last.ReconnectAttempts != 2 {
		t.Errorf("ReconnectAttempts = %d, want 2", last.ReconnectAttempts)
	}
	if !last.FallbackActive {
		t.Error("FallbackActive = false in failed state")
	}
	if last.LastError == "" {
		t.Error("LastError empty after failures")
	}

	// Fallback polls immediately on entry to failed.
	waitFor(t, time.Second, func() bool {
		pollMu.Lock()
		defer pollMu.Unlock()
		return polls >= 1
	})

	reconnect, heartbeat, fallback := timersArmed(m)
	if reconnect || heartbeat {
		t.Errorf("timers armed in failed state: reconnect=%v heartbeat=%v", reconnect, heartbeat)
	}
	if !fallback {
		t.Error("fallback not armed in failed state")
	}
}

func TestManager_NoFurtherAttemptsAfterFailed(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 1
	tr := &fakeTransport{failures: 1000}
	m := NewManager(cfg, tr, nil)
	defer m.Disconnect()

	m.Connect("school-42")
	waitFor(t, time.Second, func() bool { return m.Status().State == StateFailed })

	opens := tr.openCount()
	time.Sleep(50 * time.Millisecond)
	if n := tr.openCount(); n != opens {
		t.Errorf("opens grew from %d to %d after entering failed", opens, n)
	}
}

func TestManager_DisconnectCancelsEverything(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) *Manager
	}{
		{
			name: "from connected",
			setup: func(t *testing.T) *Manager {
				m := NewManager(fastConfig(), &fakeTransport{}, nil)
				m.Connect("s")
				waitFor(t, time.Second, func() bool { return m.Status().State == StateConnected })
				return m
			},
		},
		{
			name: "from reconnecting",
			setup: func(t *testing.T) *Manager {
				cfg := fastConfig()
				cfg.ReconnectDelay = time.Hour // keep the timer pending
				m := NewManager(cfg, &fakeTransport{failures: 1}, nil)
				m.Connect("s")
				waitFor(t, time.Second, func() bool { return m.Status().State == StateReconnecting })
				return m
			},
		},
		{
			name: "from failed",
			setup: func(t *testing.T) *Manager {
				cfg := fastConfig()
				cfg.MaxReconnectAttempts = 1
				m := NewManager(cfg, &fakeTransport{failures: 1000}, nil)
				m.Connect("s")
				waitFor(t, time.Second, func() bool { return m.Status().State == StateFailed })
				return m
			},
		},
		{
			name: "already disconnected",
			setup: func(t *testing.T) *Manager {
				return NewManager(fastConfig(), &fakeTransport{}, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.setup(t)

			m.Disconnect()
			m.Disconnect() // idempotent

			got := m.Status()
			if got.State != StateDisconnected {
				t.Errorf("state = %v, want disconnected", got.State)
			}
			if got.ReconnectAttempts != 0 {
				t.Errorf("ReconnectAttempts = %d, want 0", got.ReconnectAttempts)
			}
			if got.FallbackActive {
				t.Error("FallbackActive = true after disconnect")
			}

			reconnect, heartbeat, fallback := timersArmed(m)
			if reconnect || heartbeat || fallback {
				t.Errorf("timers still armed: reconnect=%v heartbeat=%v fallback=%v",
					reconnect, heartbeat, fallback)
			}
		})
	}
}

func TestManager_HeartbeatFailureMatchesExplicitDrop(t *testing.T) {
	// Heartbeat probe failure must drive the same transition as an explicit
	// mid-life drop.
	run := func(t *testing.T, trigger func(*fakeChannel)) Status {
		tr := &fakeTransport{}
		cfg := fastConfig()
		cfg.ReconnectDelay = time.Hour // hold the reconnecting state for inspection
		m := NewManager(cfg, tr, nil)
		t.Cleanup(m.Disconnect)

		m.Connect("s")
		waitFor(t, time.Second, func() bool { return m.Status().State == StateConnected })

		trigger(tr.lastChannel())

		waitFor(t, time.Second, func() bool { return m.Status().State == StateReconnecting })
		return m.Status()
	}

	fromHeartbeat := run(t, func(ch *fakeChannel) { ch.setState(ChannelErrored) })
	fromDrop := run(t, func(ch *fakeChannel) { ch.fail(errors.New("socket reset")) })

	if fromHeartbeat.State != fromDrop.State {
		t.Errorf("state mismatch: heartbeat=%v drop=%v", fromHeartbeat.State, fromDrop.State)
	}
	if fromHeartbeat.ReconnectAttempts != fromDrop.ReconnectAttempts {
		t.Errorf("attempts mismatch: heartbeat=%d drop=%d",
			fromHeartbeat.ReconnectAttempts, fromDrop.ReconnectAttempts)
	}
	if fromHeartbeat.FallbackActive != fromDrop.FallbackActive {
		t.Error("fallback flag mismatch between heartbeat and drop paths")
	}
	if fromHeartbeat.LastError != ErrChannelDead.Error() {
		t.Errorf("LastError = %q, want %q", fromHeartbeat.LastError, ErrChannelDead)
	}
}

func TestManager_AutomaticRecoveryAfterDrop(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(fastConfig(), tr, nil)
	defer m.Disconnect()

	m.Connect("s")
	waitFor(t, time.Second, func() bool { return m.Status().State == StateConnected })
	first := m.Status().LastConnectedAt

	tr.lastChannel().fail(errors.New("socket reset"))

	waitFor(t, time.Second, func() bool {
		s := m.Status()
		return s.State == StateConnected && s.LastConnectedAt.After(first)
	})

	got := m.Status()
	if got.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0 after recovery", got.ReconnectAttempts)
	}
	if got.FallbackActive {
		t.Error("FallbackActive = true after recovery")
	}
}

func TestManager_ReconnectFromFailedStopsFallback(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 1
	tr := &fakeTransport{failures: 1}
	m := NewManager(cfg, tr, nil)
	defer m.Disconnect()

	var pollMu sync.Mutex
	polls := 0
	m.SetFallback(func(ctx context.Context) error {
		pollMu.Lock()
		polls++
		pollMu.Unlock()
		return nil
	})

	rec := &statusRecorder{}
	m.OnStatusChange(rec.record)

	m.Connect("s")
	waitFor(t, time.Second, func() bool { return m.Status().State == StateFailed })

	// Transport recovers; caller forces a reconnect.
	m.Reconnect("")
	waitFor(t, time.Second, func() bool { return m.Status().State == StateConnected })

	if _, _, fallback := timersArmed(m); fallback {
		t.Error("fallback still armed after successful reconnect")
	}
	if m.Status().ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", m.Status().ReconnectAttempts)
	}

	// Every snapshot after the failed one must report fallback inactive.
	seenFailed := false
	for _, s := range rec.states() {
		if s == StateFailed {
			seenFailed = true
		}
	}
	if !seenFailed {
		t.Fatal("never observed failed state")
	}
	if last := rec.last(); last.FallbackActive {
		t.Error("FallbackActive = true in latest snapshot")
	}

	// No poll may land after the fallback stopped. Let any in-flight
	// callback drain before sampling.
	time.Sleep(10 * time.Millisecond)
	pollMu.Lock()
	settled := polls
	pollMu.Unlock()
	time.Sleep(3 * cfg.FallbackInterval)
	pollMu.Lock()
	final := polls
	pollMu.Unlock()
	if final != settled {
		t.Errorf("polls grew from %d to %d after reconnect", settled, final)
	}
}

func TestManager_FallbackPollErrorsKeepPolling(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 1
	m := NewManager(cfg, &fakeTransport{failures: 1000}, nil)
	defer m.Disconnect()

	var pollMu sync.Mutex
	polls := 0
	m.SetFallback(func(ctx context.Context) error {
		pollMu.Lock()
		polls++
		pollMu.Unlock()
		return errors.New("api unreachable")
	})

	m.Connect("s")

	waitFor(t, 2*time.Second, func() bool {
		pollMu.Lock()
		defer pollMu.Unlock()
		return polls >= 3
	})
}

func TestManager_OpenTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 1
	cfg.OpenTimeout = 20 * time.Millisecond
	m := NewManager(cfg, &fakeTransport{block: true}, nil)
	defer m.Disconnect()

	m.Connect("s")
	waitFor(t, time.Second, func() bool { return m.Status().State == StateFailed })

	if got := m.Status().LastError; got == "" {
		t.Error("LastError empty after open timeout")
	}
}

func TestManager_RemembersSubjectAcrossRetries(t *testing.T) {
	tr := &fakeTransport{failures: 2}
	m := NewManager(fastConfig(), tr, nil)
	defer m.Disconnect()

	m.Connect("school-42")
	waitFor(t, time.Second, func() bool { return m.Status().State == StateConnected })

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.subjects) < 3 {
		t.Fatalf("opens = %d, want >= 3", len(tr.subjects))
	}
	for i, s := range tr.subjects {
		if s != "school-42" {
			t.Errorf("open[%d] subject = %q, want school-42", i, s)
		}
	}
}

func TestManager_StatusSubscriberImmediateAndUnsubscribe(t *testing.T) {
	m := NewManager(fastConfig(), &fakeTransport{}, nil)
	defer m.Disconnect()

	rec := &statusRecorder{}
	unsub := m.OnStatusChange(rec.record)

	if rec.count() != 1 {
		t.Fatalf("immediate callbacks = %d, want 1", rec.count())
	}
	if got := rec.last().State; got != StateDisconnected {
		t.Errorf("immediate snapshot state = %v, want disconnected", got)
	}

	unsub()
	unsub() // harmless

	m.Connect("s")
	waitFor(t, time.Second, func() bool { return m.Status().State == StateConnected })

	if rec.count() != 1 {
		t.Errorf("callbacks after unsubscribe = %d, want 1", rec.count())
	}
}

func TestManager_PanickingSubscriberIsIsolated(t *testing.T) {
	m := NewManager(fastConfig(), &fakeTransport{}, nil)
	defer m.Disconnect()

	m.OnStatusChange(func(Status) { panic("subscriber bug") })
	rec := &statusRecorder{}
	m.OnStatusChange(rec.record)

	m.Connect("s")
	waitFor(t, time.Second, func() bool { return rec.last().State == StateConnected })
}

func TestManager_DisconnectInsideStatusCallback(t *testing.T) {
	m := NewManager(fastConfig(), &fakeTransport{}, nil)

	rec := &statusRecorder{}
	m.OnStatusChange(func(s Status) {
		rec.record(s)
		if s.State == StateConnected {
			m.Disconnect()
		}
	})

	m.Connect("s")
	waitFor(t, time.Second, func() bool { return rec.last().State == StateDisconnected })

	states := rec.states()
	want := []State{StateDisconnected, StateConnecting, StateConnected, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("status sequence = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("status[%d] = %v, want %v", i, states[i], want[i])
		}
	}

	if reconnect, heartbeat, fallback := timersArmed(m); reconnect || heartbeat || fallback {
		t.Error("timers still armed after reentrant disconnect")
	}
}

func TestManager_MessagesDeliveredInOrder(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(fastConfig(), tr, nil)
	defer m.Disconnect()

	var msgMu sync.Mutex
	var got []string
	unsub := m.OnMessage(func(ev Event) {
		msgMu.Lock()
		got = append(got, string(ev.Data))
		msgMu.Unlock()
	})

	m.Connect("s")
	waitFor(t, time.Second, func() bool { return m.Status().State == StateConnected })

	ch := tr.lastChannel()
	want := []string{"n1", "n2", "n3", "n4", "n5"}
	for _, w := range want {
		ch.emit(w)
	}

	waitFor(t, time.Second, func() bool {
		msgMu.Lock()
		defer msgMu.Unlock()
		return len(got) == len(want)
	})

	msgMu.Lock()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	msgMu.Unlock()

	unsub()
	ch.emit("late")
	time.Sleep(20 * time.Millisecond)

	msgMu.Lock()
	if len(got) != len(want) {
		t.Errorf("messages after unsubscribe = %d, want %d", len(got), len(want))
	}
	msgMu.Unlock()
}

func TestManager_DisconnectReleasesPumpGoroutine(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(fastConfig(), tr, nil)

	before := runtime.NumGoroutine()

	const cycles = 50
	for i := 0; i < cycles; i++ {
		m.Connect("school-42")
		waitFor(t, time.Second, func() bool { return m.Status().State == StateConnected })
		m.Disconnect()
	}

	// Stopped pumps and async channel closes need a moment to unwind. If a
	// pump outlived its cycle we would sit ~one goroutine above baseline per
	// cycle and never come back down.
	waitFor(t, time.Second, func() bool {
		return runtime.NumGoroutine() <= before+3
	})
}
