/*
clock.go - Time and timer ports

PURPOSE:
  The engine never reads the wall clock or arms OS timers directly.
  Both go through small ports so tests can drive time deterministically,
  which is critical for exemption-expiry tests.

PORTS:
  Clock:     Now() - current instant
  Scheduler: After(d, fn) - invoke fn once after d elapses, cancellable

SEE ALSO:
  - exemption.go: The only consumer of Scheduler
*/
package economy

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// CancelTimer stops a pending scheduled callback. Returns true if the
// callback was prevented from running, false if it already fired or was
// already cancelled.
type CancelTimer func() bool

// Scheduler arms a one-shot deferred callback. It is not a blocking
// wait; fn runs on the scheduler's own goroutine when d elapses.
type Scheduler interface {
	After(d time.Duration, fn func()) CancelTimer
}

// SystemScheduler uses time.AfterFunc.
type SystemScheduler struct{}

func (SystemScheduler) After(d time.Duration, fn func()) CancelTimer {
	t := time.AfterFunc(d, fn)
	return t.Stop
}
