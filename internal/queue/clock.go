package queue

import (
	"sync/atomic"
	"time"
)

// Clock stamps enqueuedAt values.
type Clock interface {
	// Next returns a value strictly greater than every value returned before.
	Next() int64
	// Observe moves the clock past v. Used after loading persisted items so
	// new items never sort before old ones.
	Observe(v int64)
}

// MonotonicClock reads wall time in unix milliseconds but never repeats or
// goes backwards: when the wall clock stalls or steps back, it continues
// from the last value plus one.
//
// Thread-safety: MonotonicClock is safe for concurrent use (atomic CAS).
type MonotonicClock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewMonotonicClock creates a clock reading time.Now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

// Next returns the next timestamp.
func (c *MonotonicClock) Next() int64 {
	for {
		prev := c.last.Load()
		next := c.now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Observe raises the clock floor to v.
func (c *MonotonicClock) Observe(v int64) {
	for {
		prev := c.last.Load()
		if v <= prev || c.last.CompareAndSwap(prev, v) {
			return
		}
	}
}
