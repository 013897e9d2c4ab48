package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall time every test Clock starts at unless told otherwise.
var Epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// Clock is a manually advanced clock for tests.
//
// It provides both a wall time (Now) for session expiry and audit
// timestamps, and a monotonic sequence (Next) that satisfies
// patterns.Sequencer so rule insertion order is reproducible.
//
// Unlike the engine's clock, Clock can be reset for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
	seq int64
}

// NewClock creates a clock at Epoch with sequence 0.
//
// The first call to Next() returns 1.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// NewClockAt creates a clock at the given wall time.
func NewClockAt(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current wall time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the wall time forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Next increments and returns the next sequence number.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset returns the clock to Epoch and sequence 0.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
	c.seq = 0
}
