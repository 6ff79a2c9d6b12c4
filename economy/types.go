/*
Package economy provides the core points-economy engine.

PURPOSE:
  This package converts measured app-usage time into a spendable currency,
  and spendable currency into time-boxed access grants. A child accrues
  points by using designated apps and redeems points for temporary
  unblocking of other apps.

KEY CONCEPTS IN THIS FILE (types.go):
  - ChildID/AppID: Opaque string-backed identifiers
  - PointsConfiguration: Accrual rate, idle timeout, daily cap
  - UsageSession: One continuous engagement interval
  - LedgerEntry: An immutable record of a balance change
  - EarnedTimeWindow: A time-boxed access grant bought with points
  - RedemptionConfiguration: Spend limits and rate
  - StackingPolicy: What happens when a grant is requested mid-grant

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified, only appended
  2. Derived balances: Balance is always a fold over entries, never stored
  3. Precision: decimal.Decimal for rate math, no floating-point drift
  4. Explicit time: All operations take the clock as input; nothing
     reads time.Now() outside the Clock port

SEE ALSO:
  - ledger.go: Append-only entry log and balance queries
  - accrual.go: Session tracking and idle-discounted accrual
  - redemption.go: Spend validation and per-app allocation
  - exemption.go: Earned-time window lifecycle
*/
package economy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ChildID identifies a child account. Opaque; equality by string value.
type ChildID string

// AppID identifies an application (bundle identifier or package name).
// Opaque; equality by string value.
type AppID string

type EntryID string
type WindowID string

// =============================================================================
// ACCRUAL CONFIGURATION
// =============================================================================

// PointsConfiguration governs how usage time converts into points.
// Immutable; one instance may apply globally or be overridden per app.
type PointsConfiguration struct {
	// PointsPerMinute is the accrual rate. Must be > 0.
	PointsPerMinute int

	// DailyCapPoints is the maximum points accruable per calendar day.
	// Applied per child, and independently per child+app.
	DailyCapPoints int

	// IdleTimeout is how long a session may go without a heartbeat
	// before the trailing gap stops counting.
	IdleTimeout time.Duration
}

// =============================================================================
// USAGE SESSION
// =============================================================================

// UsageSession represents one continuous engagement interval with an app.
// Owned exclusively by the AccrualEngine while active; becomes an immutable
// historical value once ended.
//
// INVARIANTS:
//   - LastActivity >= Start
//   - once ended, End >= Start
type UsageSession struct {
	ChildID      ChildID
	AppID        AppID // empty = not attributed to a specific app
	Start        time.Time
	End          time.Time // zero until the session ends
	LastActivity time.Time
}

// Ended reports whether the session has been finalized.
func (s UsageSession) Ended() bool { return !s.End.IsZero() }

// HadHeartbeat reports whether activity was ever recorded after start.
// A session that never received a heartbeat is assumed continuously
// active (conservative default for short sessions).
func (s UsageSession) HadHeartbeat() bool { return s.LastActivity.After(s.Start) }

// =============================================================================
// LEDGER ENTRY - Atomic change to a child's point balance
// =============================================================================

type EntryType string

const (
	EntryAccrual    EntryType = "accrual"    // Points earned from usage
	EntryRedemption EntryType = "redemption" // Points spent on a time window (always negative)
	EntryAdjustment EntryType = "adjustment" // Manual correction (may be negative)
)

// LedgerEntry is an immutable record of a single balance change.
// Entries are append-only; no entry is ever mutated or deleted.
type LedgerEntry struct {
	ID        EntryID   `json:"id"`
	ChildID   ChildID   `json:"child_id"`
	AppID     AppID     `json:"app_id,omitempty"`
	Type      EntryType `json:"type"`
	Amount    int       `json:"amount"` // signed; redemptions are negative
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// EARNED TIME WINDOW
// =============================================================================

// EarnedTimeWindow is a time-boxed access grant during which shielded
// apps are accessible. Created on redemption, optionally extended,
// destroyed on expiry or explicit cancellation.
type EarnedTimeWindow struct {
	ID       WindowID      `json:"id"`
	ChildID  ChildID       `json:"child_id"`
	Duration time.Duration `json:"duration"`
	Start    time.Time     `json:"start"`
}

// EndTime is when the window closes.
func (w EarnedTimeWindow) EndTime() time.Time { return w.Start.Add(w.Duration) }

// Remaining returns how much of the window is left at the given instant,
// floored at zero.
func (w EarnedTimeWindow) Remaining(now time.Time) time.Duration {
	r := w.EndTime().Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether the window has fully elapsed at the given instant.
func (w EarnedTimeWindow) Expired(now time.Time) bool { return w.Remaining(now) == 0 }

// =============================================================================
// REDEMPTION CONFIGURATION
// =============================================================================

// RedemptionConfiguration governs how points convert back into minutes
// and what spend sizes are acceptable.
type RedemptionConfiguration struct {
	PointsPerMinute     int
	MinRedemptionPoints int
	MaxRedemptionPoints int
	MaxTotalMinutes     int
}

// =============================================================================
// STACKING POLICY
// =============================================================================

// StackingPolicy governs behavior when a new window is requested while
// one is already active. The manager only enforces StackingBlock; the
// replace/extend/queue distinction is a caller-level decision about how
// to construct the new window's duration.
type StackingPolicy string

const (
	StackingReplace StackingPolicy = "replace"
	StackingExtend  StackingPolicy = "extend"
	StackingQueue   StackingPolicy = "queue"
	StackingBlock   StackingPolicy = "block"
)

// =============================================================================
// RATE CONVERSION - decimal to avoid float drift on the two hot sites
// =============================================================================

// PointsForDuration converts an effective usage duration into whole
// points at the given rate: floor(minutes * rate), never negative.
func PointsForDuration(d time.Duration, pointsPerMinute int) int {
	if d <= 0 || pointsPerMinute <= 0 {
		return 0
	}
	minutes := decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(int64(time.Minute)))
	points := minutes.Mul(decimal.NewFromInt(int64(pointsPerMinute)))
	return int(points.IntPart())
}

// DurationForPoints converts a point spend into granted time:
// (points / rate) minutes. PointsPerMinute must be > 0; this is a
// configuration precondition, not runtime-checked here.
func DurationForPoints(points, pointsPerMinute int) time.Duration {
	minutes := decimal.NewFromInt(int64(points)).Div(decimal.NewFromInt(int64(pointsPerMinute)))
	seconds := minutes.Mul(decimal.NewFromInt(60))
	return time.Duration(seconds.IntPart()) * time.Second
}

// MinutesForPoints returns how many whole minutes a spend buys.
func MinutesForPoints(points, pointsPerMinute int) int {
	return points / pointsPerMinute
}

// PointsNeededForMinutes returns the cost of a desired number of minutes.
func PointsNeededForMinutes(minutes, pointsPerMinute int) int {
	return minutes * pointsPerMinute
}
