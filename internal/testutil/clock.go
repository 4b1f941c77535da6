package testutil

import (
	"sync"
	"time"
)

// Clock is a time source that only moves when told to
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at 2026-05-01 10:00 UTC
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
