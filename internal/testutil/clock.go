package testutil

import (
	"sync"
	"time"
)

// DeterministicClock provides a thread-safe monotonic logical clock for tests.
//
// It satisfies queue.Clock, so enqueuedAt values in tests are 1, 2, 3, ...
// and golden blobs stay byte-identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{seq: 0}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Observe moves the clock forward to v if it is behind.
func (c *DeterministicClock) Observe(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v > c.seq {
		c.seq = v
	}
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// FakeTime is a settable wall clock. Now returns the current value;
// Advance moves it forward.
type FakeTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeTime creates a FakeTime starting at t.
func NewFakeTime(t time.Time) *FakeTime {
	return &FakeTime{now: t}
}

// Now returns the current fake time.
func (f *FakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake time forward by d.
func (f *FakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
