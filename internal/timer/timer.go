// Package timer provides the millisecond timestamps used by the controller.
//
// The host supplies a monotonic millisecond clock; the controller never reads
// wall-clock time itself. Timestamps wrap at 2^32 ms (about 49 days) and all
// comparisons go through Elapsed, which is wrap-safe.
package timer

import "time"

// Time is a monotonic millisecond timestamp supplied by the host.
type Time uint32

// Elapsed returns the milliseconds from since to now.
func Elapsed(now, since Time) uint32 {
	return uint32(now - since)
}

// Reached reports whether at least d milliseconds have passed since start.
func Reached(now, start Time, d uint32) bool {
	return Elapsed(now, start) >= d
}

// Clock produces Time values from a monotonic source.
type Clock interface {
	Now() Time
}

// MonotonicClock derives Time from time.Since of a fixed origin.
type MonotonicClock struct {
	origin time.Time
}

// NewMonotonicClock returns a clock whose zero is the moment of creation.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{origin: time.Now()}
}

// Now returns the milliseconds since the clock was created.
func (c *MonotonicClock) Now() Time {
	return Time(time.Since(c.origin).Milliseconds())
}

// ManualClock is a settable clock for tests and trace replay.
type ManualClock struct {
	now Time
}

// Now returns the current manual time.
func (c *ManualClock) Now() Time { return c.now }

// Set moves the clock to t.
func (c *ManualClock) Set(t Time) { c.now = t }

// Advance moves the clock forward by ms.
func (c *ManualClock) Advance(ms uint32) Time {
	c.now += Time(ms)
	return c.now
}
