package mock

import (
	"sync"
	"time"
)

// Epoch is the instant test clocks start at unless told otherwise. Fixed
// so token expiry, refresh thresholds and confirmation windows reproduce.
var Epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Clock matches the single-method clock interfaces declared by the confirm,
// oauth and session packages.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// MockClock is a Clock that only moves when a test moves it. It never runs
// backwards, matching how expiry checks treat wall time.
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMockClock returns a clock stopped at start, or at Epoch if start is zero.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = Epoch
	}
	return &MockClock{now: start}
}

func (m *MockClock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (m *MockClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// AdvanceTo moves the clock to t if t is later than the current time.
func (m *MockClock) AdvanceTo(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.After(m.now) {
		m.now = t
	}
}

// AdvancePast moves the clock to the first instant after deadline, the
// earliest time at which a token expiring at deadline is expired.
func (m *MockClock) AdvancePast(deadline time.Time) {
	m.AdvanceTo(deadline.Add(time.Nanosecond))
}
