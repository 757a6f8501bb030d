package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of every test clock.
var Epoch = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// FixedClock always reports the same instant.
//
// Thread-safety: stateless and safe for concurrent use.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed time.
func (c FixedClock) Now() time.Time { return c.T }

// StepClock is a thread-safe clock that advances by a fixed step on every
// call, so consecutive timestamps are distinct and reproducible.
//
// Unlike FixedClock, StepClock can be reset for test reuse.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	n     int64
}

// NewStepClock creates a clock whose first Now() returns start.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{start: start, step: step}
}

// Now returns start + n*step and increments n.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Calls returns how many times Now has been called.
func (c *StepClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock so the next Now() returns start again.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
