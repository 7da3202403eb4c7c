package visibility

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending deferred action that can be cancelled.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was already stopped.
	Stop() bool
}

// Clock provides the current time and deferred execution.
// It is injected so tests can drive timers deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the wall-clock implementation backed by the time package.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FakeClock is a manually advanced Clock for tests.
// Due timers fire on the goroutine that calls Advance, in deadline order.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	seq      int
	f        func()
	stopped  bool
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once the clock has been advanced by d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer whose deadline
// falls within the window. Each timer observes Now() equal to its deadline.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		t := c.nextDueLocked(target)
		if t == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = t.deadline
		c.removeLocked(t)
		c.mu.Unlock()

		// Timers may schedule or stop other timers, so the lock is released.
		t.f()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Fire runs the callback of a timer that was already stopped, simulating a
// fire that was queued before cancellation took effect.
func (c *FakeClock) Fire(t Timer) {
	ft, ok := t.(*fakeTimer)
	if !ok {
		return
	}
	ft.f()
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
		return nil
	}
	return c.timers[0]
}

func (c *FakeClock) removeLocked(t *fakeTimer) {
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped {
		return false
	}
	t.stopped = true
	for _, other := range t.clock.timers {
		if other == t {
			t.clock.removeLocked(t)
			return true
		}
	}
	return false
}
