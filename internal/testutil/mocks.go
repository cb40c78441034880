// Package testutil provides test doubles shared across packages: a
// deterministic clock and a synchronous in-memory event bus.
package testutil

import (
	"sync"
	"time"

	"github.com/krittin/examscan/internal/clock"
	"github.com/krittin/examscan/internal/domain"
	"github.com/krittin/examscan/internal/eventbus"
)

// =============================================================================
// MockClock - Testable time abstraction
// =============================================================================

// MockClock implements clock.Clock for testing, providing deterministic control
// over time-based behavior.
type MockClock struct {
	mu           sync.Mutex
	now          time.Time
	pendingFuncs []pendingFunc
}

type pendingFunc struct {
	executeAt time.Time
	fn        func()
	stopped   bool
}

// MockTimer implements clock.Timer for testing.
type MockTimer struct {
	clock *MockClock
	index int
}

// Compile-time assertion that MockClock implements clock.Clock
var _ clock.Clock = (*MockClock)(nil)

// NewMockClock creates a new MockClock with the current time as initial value.
func NewMockClock() *MockClock {
	return &MockClock{
		now: time.Now(),
	}
}

// NewMockClockAt creates a new MockClock with a specific initial time.
func NewMockClockAt(t time.Time) *MockClock {
	return &MockClock{
		now: t,
	}
}

// Now returns the mock's current time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// SetNow sets the mock's current time without triggering pending functions.
func (m *MockClock) SetNow(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// AfterFunc schedules f to be called after duration d.
// Returns a Timer that can be used to cancel the call.
func (m *MockClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	executeAt := m.now.Add(d)
	index := len(m.pendingFuncs)
	m.pendingFuncs = append(m.pendingFuncs, pendingFunc{
		executeAt: executeAt,
		fn:        f,
		stopped:   false,
	})

	return &MockTimer{clock: m, index: index}
}

// Advance moves time forward by the given duration and executes any functions
// whose scheduled time has passed. Returns the number of functions executed.
func (m *MockClock) Advance(d time.Duration) int {
	m.mu.Lock()
	newTime := m.now.Add(d)
	m.now = newTime

	// Collect functions to execute (those that haven't been stopped and are due)
	var toExecute []func()
	for i := range m.pendingFuncs {
		pf := &m.pendingFuncs[i]
		if !pf.stopped && !pf.executeAt.After(newTime) {
			toExecute = append(toExecute, pf.fn)
			pf.stopped = true // Mark as executed
		}
	}
	m.mu.Unlock()

	// Execute outside the lock to avoid deadlocks
	for _, fn := range toExecute {
		fn()
	}
	return len(toExecute)
}

// PendingCount returns the number of scheduled, not-yet-fired functions.
func (m *MockClock) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for i := range m.pendingFuncs {
		if !m.pendingFuncs[i].stopped {
			n++
		}
	}
	return n
}

// Stop prevents the timer's function from running. Returns true if the
// call was stopped before firing.
func (t *MockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.index < len(t.clock.pendingFuncs) && !t.clock.pendingFuncs[t.index].stopped {
		t.clock.pendingFuncs[t.index].stopped = true
		return true
	}
	return false
}

// =============================================================================
// MockBus - Synchronous in-memory event bus
// =============================================================================

// MockBus implements eventbus.Publisher with synchronous dispatch and no
// persistence, so tests observe handler effects immediately after Publish.
type MockBus struct {
	mu        sync.Mutex
	published []domain.Event
	handlers  map[domain.EventType][]func(domain.Event)
}

var _ eventbus.Publisher = (*MockBus)(nil)

func NewMockBus() *MockBus {
	return &MockBus{
		handlers: make(map[domain.EventType][]func(domain.Event)),
	}
}

// Publish records the event and runs every matching handler on the
// caller's goroutine before returning.
func (b *MockBus) Publish(event domain.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	b.mu.Lock()
	b.published = append(b.published, event)
	handlers := append([]func(domain.Event){}, b.handlers[event.EventType]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (b *MockBus) Subscribe(handler func(domain.Event), types ...domain.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.handlers[t] = append(b.handlers[t], handler)
	}
}

// Published returns a snapshot of everything published so far.
func (b *MockBus) Published() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Event{}, b.published...)
}

// PublishedOfType filters the published events by type.
func (b *MockBus) PublishedOfType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.Event
	for _, e := range b.published {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}
