/*
redemption.go - Spend validation and per-app allocation

PURPOSE:
  Turns a requested point spend into ledger redemption entries and an
  earned-time window. Validation and allocation run inside the ledger
  write lock, so two racing redemptions can never both observe the
  pre-spend balance as sufficient.

VALIDATION ORDER:
  1. points >= MinRedemptionPoints   (ErrBelowMinimum)
  2. points <= MaxRedemptionPoints   (ErrAboveMaximum)
  3. child has ledger history         (ErrChildNotFound)
  4. balance >= points                (InsufficientBalanceError)
  Balance is the per-app sub-balance when SourceApp is set, the total
  balance otherwise.

ALLOCATION (total-balance spends):
  Greedy: consume from the largest positive per-app sub-balance first,
  ties broken by AppID ascending so the split is reproducible. Whatever
  the positive sub-balances cannot cover comes out of the unattributed
  balance. A remainder past that indicates a stale balance read; it is
  absorbed into the unattributed bucket and flagged as a
  data-consistency warning, never silently dropped.

  One redemption entry is written per non-zero bucket, all stamped
  with the same timestamp. No per-app sub-balance is ever driven
  negative by an allocation.

SEE ALSO:
  - ledger.go: Locking discipline, entry persistence
  - exemption.go: Where the returned window is started
*/
package economy

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RewardUsageRecorder is an external bookkeeping hook (usage-stats
// collaborator), invoked after a successful redemption with a reward
// app. Not a ledger concern.
type RewardUsageRecorder func(childID ChildID, appID AppID, points int)

// RedeemRequest describes one spend.
type RedeemRequest struct {
	ChildID ChildID
	Points  int
	Config  RedemptionConfiguration

	// SourceApp, when set, validates and deducts the spend from that
	// app's sub-balance instead of the total balance.
	SourceApp AppID

	// RewardApp, when set, is reported to the reward usage recorder.
	// It does not affect which balance is spent.
	RewardApp AppID
}

// RedemptionEngine validates spends and writes redemption entries.
type RedemptionEngine struct {
	ledger   *Ledger
	clock    Clock
	log      zerolog.Logger
	recorder RewardUsageRecorder // optional
}

func NewRedemptionEngine(ledger *Ledger, clock Clock, log zerolog.Logger) *RedemptionEngine {
	return &RedemptionEngine{
		ledger: ledger,
		clock:  clock,
		log:    log.With().Str("component", "redemption").Logger(),
	}
}

// SetRewardUsageRecorder registers the post-redemption bookkeeping hook.
func (r *RedemptionEngine) SetRewardUsageRecorder(rec RewardUsageRecorder) { r.recorder = rec }

// =============================================================================
// VALIDATION
// =============================================================================

// CanRedeem checks whether a spend would succeed. Pure query, no side
// effects. Returns the balance the spend was validated against.
// sourceApp == "" validates the total balance.
func (r *RedemptionEngine) CanRedeem(childID ChildID, points int, cfg RedemptionConfiguration, sourceApp AppID) (int, error) {
	l := r.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()
	return r.validateLocked(childID, points, cfg, sourceApp)
}

// validateLocked applies the ordered validation rules. Callers hold
// the ledger lock (read or write).
func (r *RedemptionEngine) validateLocked(childID ChildID, points int, cfg RedemptionConfiguration, sourceApp AppID) (int, error) {
	if points < cfg.MinRedemptionPoints {
		return 0, ErrBelowMinimum
	}
	if points > cfg.MaxRedemptionPoints {
		return 0, ErrAboveMaximum
	}
	if len(r.ledger.entries[childID]) == 0 {
		return 0, ErrChildNotFound
	}

	var balance int
	if sourceApp != "" {
		for _, e := range r.ledger.entries[childID] {
			if e.AppID == sourceApp {
				balance += e.Amount
			}
		}
	} else {
		balance = r.ledger.balanceLocked(childID)
	}
	if balance < points {
		return balance, &InsufficientBalanceError{
			ChildID:   childID,
			AppID:     sourceApp,
			Available: balance,
			Requested: points,
		}
	}
	return balance, nil
}

// =============================================================================
// REDEMPTION
// =============================================================================

// Redeem validates the spend, writes the redemption entries, and
// returns the earned-time window. The window is NOT started here;
// hand it to the ExemptionManager.
func (r *RedemptionEngine) Redeem(ctx context.Context, req RedeemRequest) (EarnedTimeWindow, error) {
	l := r.ledger
	now := r.clock.Now()

	l.mu.Lock()
	if _, err := r.validateLocked(req.ChildID, req.Points, req.Config, req.SourceApp); err != nil {
		l.mu.Unlock()
		redemptions.WithLabelValues(outcomeLabel(err)).Inc()
		return EarnedTimeWindow{}, err
	}

	var entries []LedgerEntry
	if req.SourceApp != "" {
		entries = []LedgerEntry{
			l.newEntry(req.ChildID, req.SourceApp, EntryRedemption, -req.Points, now),
		}
	} else {
		entries = r.allocateLocked(req.ChildID, req.Points, now)
	}
	l.appendBatchLocked(ctx, entries)
	l.mu.Unlock()

	for _, e := range entries {
		l.audit.Redemption(e)
	}
	redemptions.WithLabelValues("ok").Inc()

	w := EarnedTimeWindow{
		ID:       WindowID(uuid.NewString()),
		ChildID:  req.ChildID,
		Duration: DurationForPoints(req.Points, req.Config.PointsPerMinute),
		Start:    now,
	}

	if r.recorder != nil && req.RewardApp != "" {
		r.recorder(req.ChildID, req.RewardApp, req.Points)
	}
	return w, nil
}

// allocateLocked splits a total-balance spend into per-bucket
// redemption entries. Callers hold the ledger write lock.
func (r *RedemptionEngine) allocateLocked(childID ChildID, points int, at time.Time) []LedgerEntry {
	l := r.ledger
	balances := l.balancesLocked(childID)

	// Largest balance first; AppID ascending as the deterministic
	// tie-break.
	apps := make([]AppID, 0, len(balances))
	for app, b := range balances {
		if b > 0 {
			apps = append(apps, app)
		}
	}
	sort.Slice(apps, func(i, j int) bool {
		if balances[apps[i]] != balances[apps[j]] {
			return balances[apps[i]] > balances[apps[j]]
		}
		return apps[i] < apps[j]
	})

	var entries []LedgerEntry
	remaining := points
	for _, app := range apps {
		if remaining == 0 {
			break
		}
		take := balances[app]
		if take > remaining {
			take = remaining
		}
		entries = append(entries, l.newEntry(childID, app, EntryRedemption, -take, at))
		remaining -= take
	}

	if remaining > 0 {
		unattributed := l.balanceLocked(childID)
		for _, b := range balances {
			unattributed -= b
		}
		if remaining > unattributed {
			// Stale balance read: a concurrent write moved the
			// sub-balances between check and allocate. Absorb into
			// the unattributed bucket rather than lose points.
			r.log.Warn().
				Str("child_id", string(childID)).
				Int("remainder", remaining).
				Int("unattributed", unattributed).
				Msg("allocation remainder exceeds unattributed balance; absorbing (data-consistency warning)")
			allocationFallbacks.Inc()
		}
		entries = append(entries, l.newEntry(childID, "", EntryRedemption, -remaining, at))
	}
	return entries
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case err == ErrBelowMinimum:
		return "below_minimum"
	case err == ErrAboveMaximum:
		return "above_maximum"
	case err == ErrChildNotFound:
		return "child_not_found"
	default:
		return "insufficient_balance"
	}
}
