package economy_test

import (
	"sync"
	"time"

	"github.com/warp/points-engine/economy"
)

// fakeTime is a Clock and Scheduler whose time only moves when the
// test advances it. Timers fire from Advance, on the caller's
// goroutine, so expiry tests are fully deterministic.
type fakeTime struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline  time.Time
	fn        func()
	fired     bool
	cancelled bool
}

func newFakeTime(start time.Time) *fakeTime {
	return &fakeTime{now: start}
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) After(d time.Duration, fn func()) economy.CancelTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{deadline: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if t.fired || t.cancelled {
			return false
		}
		t.cancelled = true
		return true
	}
}

// Advance moves the clock and fires every due timer.
func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	var due []func()
	for _, t := range f.timers {
		if !t.fired && !t.cancelled && !t.deadline.After(f.now) {
			t.fired = true
			due = append(due, t.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

// AdvanceClockOnly moves the clock without firing timers, simulating
// a process that slept through its deadlines.
func (f *fakeTime) AdvanceClockOnly(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
