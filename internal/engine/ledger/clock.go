package ledger

import (
	"sync"
	"time"
)

// Clock supplies wall time. The engine turns it into strictly increasing
// transaction timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock starts the clock at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t.UTC()}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed; the engine still
// never hands out a timestamp earlier than one it already issued.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// monotonic wraps a Clock so consecutive calls never return equal or
// decreasing values. Steps are one microsecond to survive Postgres rounding.
type monotonic struct {
	mu    sync.Mutex
	clock Clock
	last  time.Time
}

func (m *monotonic) next() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now().UTC().Truncate(time.Microsecond)
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now
	return now
}
