/*
Package clock abstracts wall-clock time so scheduled work can be tested
deterministically.

USAGE:
  c := clock.Real{}
  h := c.AfterFunc(time.Minute, fn)
  h.Stop()

  // In tests
  fake := clock.NewFake(time.Date(2024, 4, 8, 10, 0, 0, 0, time.UTC))
  fake.AfterFunc(time.Hour, fn)
  fake.Advance(time.Hour) // runs fn synchronously
*/
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and cancellable delayed calls.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Handle
}

// Handle cancels a scheduled call. Stop reports whether the call was
// prevented from running.
type Handle interface {
	Stop() bool
}

// =============================================================================
// REAL CLOCK
// =============================================================================

// Real delegates to the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Handle { return time.AfterFunc(d, f) }

// =============================================================================
// FAKE CLOCK - Manually advanced, for tests
// =============================================================================

// Fake only moves when Advance or Set is called. Due callbacks run
// synchronously on the calling goroutine, in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	id  int
	at  time.Time
	fn  func()
	clk *Fake
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now, timers: make(map[int]*fakeTimer)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{id: f.seq, at: f.now.Add(d), fn: fn, clk: f}
	f.timers[t.id] = t
	return t
}

// Pending returns the number of scheduled calls that have not run.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Advance moves the clock forward by d and runs every callback that became due.
func (f *Fake) Advance(d time.Duration) {
	f.Set(f.Now().Add(d))
}

// Set moves the clock to t and runs every callback due at or before t, in
// deadline order. Each callback sees the clock at its own deadline, so calls
// it schedules are relative to that instant and run too if due by t.
func (f *Fake) Set(t time.Time) {
	for {
		next := f.popDue(t)
		if next == nil {
			break
		}
		next.fn()
	}

	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// popDue removes the earliest timer due at or before until and moves the
// clock to its deadline.
func (f *Fake) popDue(until time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	var next *fakeTimer
	for _, t := range f.timers {
		if t.at.After(until) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.id < next.id) {
			next = t
		}
	}
	if next == nil {
		return nil
	}
	delete(f.timers, next.id)
	if next.at.After(f.now) {
		f.now = next.at
	}
	return next
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if _, ok := t.clk.timers[t.id]; !ok {
		return false
	}
	delete(t.clk.timers, t.id)
	return true
}
