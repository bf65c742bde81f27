// Package clock provides a wrapping millisecond counter and interval timers
// that stay correct when the counter overflows.
package clock

import (
	"sync"
	"time"
)

// Clock is a monotonically increasing millisecond counter that wraps at 2^32.
type Clock interface {
	Millis() uint32
}

// System counts milliseconds on the monotonic clock since it was created.
type System struct {
	start time.Time
}

// NewSystem creates a System clock starting at zero.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// Millis returns the milliseconds elapsed since the clock was created,
// truncated to 32 bits.
func (s *System) Millis() uint32 {
	return uint32(time.Since(s.start).Milliseconds())
}

// Elapsed returns the milliseconds between since and now. Unsigned
// subtraction keeps the result correct across a single wraparound.
func Elapsed(now, since uint32) uint32 {
	return now - since
}

// Interval fires once every Period.
type Interval struct {
	Period time.Duration

	last  uint32
	armed bool
}

// NewInterval creates an interval that is due immediately.
func NewInterval(period time.Duration) *Interval {
	return &Interval{Period: period}
}

// Due reports whether Period has elapsed since the last Reset. An interval
// that was never reset is always due.
func (i *Interval) Due(now uint32) bool {
	if !i.armed {
		return true
	}
	return Elapsed(now, i.last) >= millis(i.Period)
}

// Reset starts a new period at now.
func (i *Interval) Reset(now uint32) {
	i.last = now
	i.armed = true
}

// Throttle limits how often an action may be attempted.
type Throttle struct {
	Period time.Duration

	last  uint32
	armed bool
}

// NewThrottle creates a throttle admitting one attempt per period.
func NewThrottle(period time.Duration) *Throttle {
	return &Throttle{Period: period}
}

// Allow reports whether an attempt may be made at now and, if so, records it.
// The first attempt after Clear is always admitted.
func (t *Throttle) Allow(now uint32) bool {
	if t.armed && Elapsed(now, t.last) < millis(t.Period) {
		return false
	}
	t.last = now
	t.armed = true
	return true
}

// Clear forgets the last attempt so that the next one is admitted at once.
func (t *Throttle) Clear() {
	t.armed = false
}

func millis(d time.Duration) uint32 {
	return uint32(d.Milliseconds())
}

// Fake is a manually driven Clock for tests.
type Fake struct {
	mu  sync.Mutex
	now uint32
}

// NewFake creates a fake clock reading start.
func NewFake(start uint32) *Fake {
	return &Fake{now: start}
}

// Millis returns the current fake time.
func (f *Fake) Millis() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward, wrapping at 2^32.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += millis(d)
	f.mu.Unlock()
}

// Set moves the clock to ms.
func (f *Fake) Set(ms uint32) {
	f.mu.Lock()
	f.now = ms
	f.mu.Unlock()
}

var _ Clock = (*System)(nil)
var _ Clock = (*Fake)(nil)
