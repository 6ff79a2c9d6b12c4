/*
exemption.go - Earned-time window lifecycle

PURPOSE:
  Holds the currently-active earned-time window per child, schedules
  expiry on a wall-clock timer, supports extension and a configurable
  stacking policy, and invokes a caller-supplied callback exactly once
  at expiry. The callback is how the shield/enforcement collaborator
  learns it must re-apply blocking.

STATE MACHINE (per child):
  Idle -> Active -> (Expired | Cancelled); Active -> Active via extend.

EXACTLY-ONCE EXPIRY:
  Cancellation and expiry are mutually exclusive outcomes for a given
  window. The active map is the arbiter: whichever path removes the
  entry under the mutex wins, and the losing path observes the removal
  and does nothing. Lazy eviction (a timer that never fired, e.g.
  after an abrupt process exit) also routes through the same removal,
  so the callback still fires exactly once.

DURABILITY:
  Only the deadline survives a restart, not the timer or the callback.
  RestoreFromPersistence re-arms timers for unexpired windows; the
  owning process must re-register callbacks with SetExpiryCallback.
  Persistence failures are swallowed (logged): the manager degrades to
  ephemeral in-memory operation rather than failing a redemption.

SEE ALSO:
  - clock.go: Clock and Scheduler ports (fakeable in tests)
  - redemption.go: Produces the windows started here
*/
package economy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ExpiryCallback is invoked exactly once when a window expires.
type ExpiryCallback func(childID ChildID)

type activeExemption struct {
	window   EarnedTimeWindow
	onExpiry ExpiryCallback
	cancel   CancelTimer
}

// ExemptionManager owns all active windows. One logical window per
// child; what happens to a second request is the caller's decision,
// guided by CanStartExemption.
type ExemptionManager struct {
	mu     sync.Mutex
	clock  Clock
	sched  Scheduler
	store  WindowStore // nil = ephemeral
	log    zerolog.Logger
	active map[ChildID]*activeExemption
}

func NewExemptionManager(clock Clock, sched Scheduler, store WindowStore, log zerolog.Logger) *ExemptionManager {
	return &ExemptionManager{
		clock:  clock,
		sched:  sched,
		store:  store,
		log:    log.With().Str("component", "exemption").Logger(),
		active: make(map[ChildID]*activeExemption),
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// StartExemption stores the window and schedules its expiry. Any
// existing window for the child is displaced: its timer is cancelled
// and it will never fire. A window that is already expired fires the
// callback synchronously and stores nothing.
func (m *ExemptionManager) StartExemption(ctx context.Context, w EarnedTimeWindow, onExpiry ExpiryCallback) {
	m.mu.Lock()
	if old, ok := m.active[w.ChildID]; ok {
		old.cancel()
		delete(m.active, w.ChildID)
	}

	remaining := w.Remaining(m.clock.Now())
	if remaining == 0 {
		m.persistLocked(ctx)
		m.mu.Unlock()
		windowsExpired.Inc()
		if onExpiry != nil {
			onExpiry(w.ChildID)
		}
		return
	}

	e := &activeExemption{window: w, onExpiry: onExpiry}
	e.cancel = m.sched.After(remaining, func() { m.expire(w.ChildID, w.ID) })
	m.active[w.ChildID] = e
	m.persistLocked(ctx)
	m.mu.Unlock()
}

// ExtendExemption grows the child's active window:
// newDuration = min(current + additional, maxTotalMinutes minutes),
// preserving the original start. The expiry timer is rescheduled for
// the new remaining time. Returns nil if the child has no active
// window.
func (m *ExemptionManager) ExtendExemption(ctx context.Context, childID ChildID, additional time.Duration, maxTotalMinutes int) *EarnedTimeWindow {
	m.mu.Lock()
	e, ok := m.active[childID]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	maxTotal := time.Duration(maxTotalMinutes) * time.Minute
	newDuration := e.window.Duration + additional
	if newDuration > maxTotal {
		newDuration = maxTotal
	}
	e.window.Duration = newDuration

	e.cancel()
	w := e.window
	e.cancel = m.sched.After(w.Remaining(m.clock.Now()), func() { m.expire(childID, w.ID) })
	m.persistLocked(ctx)
	m.mu.Unlock()
	return &w
}

// CancelExemption removes the child's window without firing its
// callback. Idempotent; a racing in-flight expiry that has not yet
// claimed the entry is suppressed.
func (m *ExemptionManager) CancelExemption(ctx context.Context, childID ChildID) bool {
	m.mu.Lock()
	e, ok := m.active[childID]
	if ok {
		e.cancel()
		delete(m.active, childID)
		m.persistLocked(ctx)
	}
	m.mu.Unlock()

	if ok {
		windowsCancelled.Inc()
	}
	return ok
}

// expire is the timer path. The map lookup under the mutex makes
// expiry and cancellation mutually exclusive: if the entry is gone or
// belongs to a replacement window, this firing is stale.
func (m *ExemptionManager) expire(childID ChildID, windowID WindowID) {
	m.mu.Lock()
	e, ok := m.active[childID]
	if !ok || e.window.ID != windowID {
		m.mu.Unlock()
		return
	}
	delete(m.active, childID)
	m.persistLocked(context.Background())
	cb := e.onExpiry
	m.mu.Unlock()

	windowsExpired.Inc()
	if cb != nil {
		cb(childID)
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// ActiveWindow returns the child's window, or nil. A stored window
// whose deadline has passed without the timer firing is evicted here,
// and its callback fires - this covers timers lost to an abrupt
// process exit or a suspended scheduler.
func (m *ExemptionManager) ActiveWindow(childID ChildID) *EarnedTimeWindow {
	m.mu.Lock()
	e, ok := m.active[childID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if e.window.Expired(m.clock.Now()) {
		e.cancel()
		delete(m.active, childID)
		m.persistLocked(context.Background())
		cb := e.onExpiry
		m.mu.Unlock()

		windowsExpired.Inc()
		if cb != nil {
			cb(childID)
		}
		return nil
	}
	w := e.window
	m.mu.Unlock()
	return &w
}

// CanStartExemption consults the stacking policy: block refuses while
// a window is active; replace, extend, and queue all permit (how the
// new window's duration is built is the caller's concern).
func (m *ExemptionManager) CanStartExemption(childID ChildID, policy StackingPolicy) bool {
	if policy != StackingBlock {
		return true
	}
	return m.ActiveWindow(childID) == nil
}

// ActiveChildren returns every child with a live window.
func (m *ExemptionManager) ActiveChildren() []ChildID {
	m.mu.Lock()
	out := make([]ChildID, 0, len(m.active))
	for c := range m.active {
		out = append(out, c)
	}
	m.mu.Unlock()
	return out
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// RestoreFromPersistence reloads windows from the store, skipping any
// already expired. Restored windows have NO expiry callback until the
// owning process re-registers one with SetExpiryCallback; only the
// deadline is durable, not the timer.
func (m *ExemptionManager) RestoreFromPersistence(ctx context.Context) {
	if m.store == nil {
		return
	}
	ws, err := m.store.LoadWindows(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("window restore failed; starting empty")
		return
	}

	m.mu.Lock()
	now := m.clock.Now()
	for _, w := range ws {
		if w.Expired(now) {
			continue
		}
		w := w
		e := &activeExemption{window: w}
		e.cancel = m.sched.After(w.Remaining(now), func() { m.expire(w.ChildID, w.ID) })
		m.active[w.ChildID] = e
	}
	m.mu.Unlock()
}

// SetExpiryCallback attaches a callback to an already-active window
// (typically one restored from persistence). Returns false if the
// child has no active window.
func (m *ExemptionManager) SetExpiryCallback(childID ChildID, cb ExpiryCallback) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[childID]
	if !ok {
		return false
	}
	e.onExpiry = cb
	return true
}

// persistLocked snapshots all active windows to the store.
// Best-effort: failures are logged and swallowed. Callers hold m.mu.
func (m *ExemptionManager) persistLocked(ctx context.Context) {
	if m.store == nil {
		return
	}
	ws := make([]EarnedTimeWindow, 0, len(m.active))
	for _, e := range m.active {
		ws = append(ws, e.window)
	}
	if err := m.store.SaveWindows(ctx, ws); err != nil {
		m.log.Warn().Err(err).Msg("window persistence failed; continuing in memory")
	}
}
