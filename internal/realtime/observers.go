package realtime

import (
	"context"
	"fmt"
)

// Subscriber bookkeeping and broadcast plumbing. Callbacks run outside the
// manager lock and are isolated from each other: a panicking subscriber is
// logged and the remaining subscribers still receive the delivery.

type statusSub struct {
	id int
	fn StatusFunc
}

type messageSub struct {
	id int
	fn MessageFunc
}

// OnStatusChange registers fn for status snapshots and synchronously
// delivers the current one. The returned func unsubscribes; calling it more
// than once is harmless.
func (m *Manager) OnStatusChange(fn StatusFunc) func() {
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.statusSubs = append(m.statusSubs, statusSub{id: id, fn: fn})
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.invokeStatus(fn, snap)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.statusSubs {
			if s.id == id {
				m.statusSubs = append(m.statusSubs[:i], m.statusSubs[i+1:]...)
				return
			}
		}
	}
}

// OnMessage registers fn for payload events. The returned func
// unsubscribes.
func (m *Manager) OnMessage(fn MessageFunc) func() {
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.messageSubs = append(m.messageSubs, messageSub{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.messageSubs {
			if s.id == id {
				m.messageSubs = append(m.messageSubs[:i], m.messageSubs[i+1:]...)
				return
			}
		}
	}
}

// SetFallback registers the refresh callback used by the fallback poller.
// Registering replaces any previous callback; it never starts or stops
// polling on its own.
func (m *Manager) SetFallback(fn RefreshFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
}

// emitLocked queues the current snapshot and drains the queue in order.
// Called with mu held. The first caller becomes the drainer and releases mu
// around each delivery, so a subscriber calling Disconnect (or anything
// else on the manager) reenters cleanly and its own transition is emitted
// after the in-flight one.
func (m *Manager) emitLocked() {
	m.pendingStatus = append(m.pendingStatus, m.snapshotLocked())
	if m.emitting {
		return
	}
	m.emitting = true

	for len(m.pendingStatus) > 0 {
		snap := m.pendingStatus[0]
		m.pendingStatus = m.pendingStatus[1:]

		subs := make([]statusSub, len(m.statusSubs))
		copy(subs, m.statusSubs)

		m.mu.Unlock()
		for _, s := range subs {
			m.invokeStatus(s.fn, snap)
		}
		m.mu.Lock()
	}

	m.emitting = false
}

func (m *Manager) invokeStatus(fn StatusFunc, snap Status) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("status subscriber panicked", "panic", r)
		}
	}()
	fn(snap)
}

func (m *Manager) invokeMessage(fn MessageFunc, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("message subscriber panicked", "panic", r)
		}
	}()
	fn(ev)
}

func (m *Manager) invokeRefresh(fn RefreshFunc, ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn(ctx)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("refresh callback panicked: %v", e.value)
}
