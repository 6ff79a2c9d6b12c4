/*
accrual.go - Session tracking and idle-discounted point accrual

PURPOSE:
  Tracks one active usage session per (child, app) key and, when a
  session ends, converts its effective duration into ledger points,
  subject to a per-child and per-child+app daily cap.

IDLE DISCOUNT:
  Activity heartbeats (UpdateActivity) prove the child is actually
  engaged. A session whose heartbeats stopped is penalized for the
  trailing idle gap; a session that never received a heartbeat at all
  is assumed continuously active - the conservative default for short
  sessions where no monitor bothered to tick.

DAILY CAPS:
  The engine keeps a calendar-day-keyed accumulator per child and per
  child+app. Day rollover is implicit: a new day is simply a new map
  key, no rollover job required.

SESSION OWNERSHIP:
  Starting a new session for a key that already has an active session
  abandons the old one without reconciling it - no points are awarded
  for the abandoned session. Callers must end sessions explicitly.
  This mirrors the upstream product behavior and is deliberate; do not
  "fix" it by merging.

FAILURE SEMANTICS:
  No operation here errors. Querying a key with no active session
  returns an absence value.

SEE ALSO:
  - ledger.go: Where accrued points land
  - types.go: PointsConfiguration, UsageSession
*/
package economy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const dayLayout = "2006-01-02"

type sessionKey struct {
	Child ChildID
	App   AppID
}

type dayKey struct {
	Child ChildID
	App   AppID // empty = child-level accumulator
	Day   string
}

// AccrualEngine owns all active sessions and the daily accumulators.
type AccrualEngine struct {
	mu     sync.Mutex
	ledger *Ledger
	log    zerolog.Logger
	active map[sessionKey]UsageSession
	daily  map[dayKey]int
}

func NewAccrualEngine(ledger *Ledger, log zerolog.Logger) *AccrualEngine {
	return &AccrualEngine{
		ledger: ledger,
		log:    log.With().Str("component", "accrual").Logger(),
		active: make(map[sessionKey]UsageSession),
		daily:  make(map[dayKey]int),
	}
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// StartSession creates and registers an active session keyed by
// (child, app). Any previous active session for that key is abandoned:
// it is overwritten without reconciliation and earns nothing.
func (a *AccrualEngine) StartSession(childID ChildID, appID AppID, at time.Time) UsageSession {
	s := UsageSession{
		ChildID:      childID,
		AppID:        appID,
		Start:        at,
		LastActivity: at,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	k := sessionKey{Child: childID, App: appID}
	if old, ok := a.active[k]; ok {
		a.log.Warn().
			Str("child_id", string(childID)).
			Str("app_id", string(appID)).
			Time("abandoned_start", old.Start).
			Msg("new session started over an active one; old session abandoned unreconciled")
	}
	a.active[k] = s
	return s
}

// UpdateActivity records a heartbeat: bumps LastActivity and
// re-registers the session under its key.
func (a *AccrualEngine) UpdateActivity(s UsageSession, at time.Time) UsageSession {
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.active[sessionKey{Child: s.ChildID, App: s.AppID}] = s
	return s
}

// ActiveSession returns the registered session for (child, app), if any.
func (a *AccrualEngine) ActiveSession(childID ChildID, appID AppID) (UsageSession, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.active[sessionKey{Child: childID, App: appID}]
	return s, ok
}

// EndSession finalizes the session at the given instant, converts its
// effective duration to points, applies the daily caps, removes it
// from the active set, and credits the capped points to the ledger.
// Returns the ended session and the points actually earned.
func (a *AccrualEngine) EndSession(ctx context.Context, s UsageSession, cfg PointsConfiguration, at time.Time) (UsageSession, int) {
	if at.Before(s.Start) {
		at = s.Start
	}
	s.End = at

	computed := CalculatePoints(s, cfg, at)

	a.mu.Lock()
	k := sessionKey{Child: s.ChildID, App: s.AppID}
	// Only deregister if the registered session is this one; a newer
	// session for the same key must not be evicted.
	if reg, ok := a.active[k]; ok && reg.Start.Equal(s.Start) {
		delete(a.active, k)
	}
	earned := a.applyDailyCapsLocked(s.ChildID, s.AppID, computed, cfg.DailyCapPoints, at)
	a.mu.Unlock()

	if earned > 0 {
		a.ledger.RecordAccrual(ctx, s.ChildID, s.AppID, earned, at)
	}
	return s, earned
}

// =============================================================================
// POINT CALCULATION
// =============================================================================

// EffectiveDuration computes how much of the session counts toward
// accrual, after the idle discount.
//
// Active session: if now is more than IdleTimeout past the last
// heartbeat, the duration freezes at the last known activity;
// otherwise it runs to now.
//
// Completed session: the trailing-gap check applies only if at least
// one heartbeat advanced LastActivity past Start. A session with no
// heartbeats counts in full.
func EffectiveDuration(s UsageSession, cfg PointsConfiguration, now time.Time) time.Duration {
	if !s.Ended() {
		if now.Sub(s.LastActivity) > cfg.IdleTimeout {
			return s.LastActivity.Sub(s.Start)
		}
		return now.Sub(s.Start)
	}

	if s.HadHeartbeat() && s.End.Sub(s.LastActivity) > cfg.IdleTimeout {
		return s.LastActivity.Sub(s.Start)
	}
	return s.End.Sub(s.Start)
}

// CalculatePoints converts the session's effective duration into whole
// points: floor(effectiveMinutes * rate), floored at 0.
func CalculatePoints(s UsageSession, cfg PointsConfiguration, now time.Time) int {
	return PointsForDuration(EffectiveDuration(s, cfg, now), cfg.PointsPerMinute)
}

// =============================================================================
// DAILY CAPS
// =============================================================================

// applyDailyCapsLocked caps computed points against the child-level
// accumulator and, when an app is set, the per-app accumulator, then
// records the capped amount in both. Callers hold a.mu.
func (a *AccrualEngine) applyDailyCapsLocked(childID ChildID, appID AppID, computed, cap int, at time.Time) int {
	day := at.Format(dayLayout)
	childKey := dayKey{Child: childID, Day: day}

	earned := computed
	if room := cap - a.daily[childKey]; room < earned {
		earned = room
	}
	if appID != "" {
		appKey := dayKey{Child: childID, App: appID, Day: day}
		if room := cap - a.daily[appKey]; room < earned {
			earned = room
		}
		if earned < 0 {
			earned = 0
		}
		a.daily[appKey] += earned
	}
	if earned < 0 {
		earned = 0
	}
	a.daily[childKey] += earned
	return earned
}

// TodayPoints returns the child's capped accrual total for the
// calendar day containing at.
func (a *AccrualEngine) TodayPoints(childID ChildID, at time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.daily[dayKey{Child: childID, Day: at.Format(dayLayout)}]
}

// TodayPointsForApp returns the per-app accrual total for the day.
func (a *AccrualEngine) TodayPointsForApp(childID ChildID, appID AppID, at time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.daily[dayKey{Child: childID, App: appID, Day: at.Format(dayLayout)}]
}

// CanAccruePoints reports whether the child still has daily-cap room.
func (a *AccrualEngine) CanAccruePoints(childID ChildID, cfg PointsConfiguration, at time.Time) bool {
	return a.TodayPoints(childID, at) < cfg.DailyCapPoints
}
