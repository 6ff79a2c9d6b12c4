/*
ledger.go - Append-only points ledger

PURPOSE:
  The Ledger is the single source of truth for "how many points does
  this child have". Every accrual, redemption, and adjustment is an
  immutable entry; balance is always a fold over entries - there is no
  separate balance field that can drift out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. CONSERVATION: Balance(child) == sum of per-app balances plus the
     unattributed balance, at all times.
  3. SINGLE WRITER: Every mutation runs under the write lock; readers
     may run concurrently with each other but never with a writer.
     Redemption's check-then-append runs entirely inside that lock,
     so two racing redemptions cannot both observe the pre-spend
     balance (see redemption.go).

PERSISTENCE:
  Write-through: every mutating call reaches the Store before the
  in-memory state is published. A store with no data yields an empty
  ledger at startup, not an error.

CORRECTIONS:
  Mistakes are fixed with adjustment entries (negative for claw-backs),
  never by editing history.

SEE ALSO:
  - store.go: Persistence port
  - redemption.go: Atomic validate-and-allocate on top of this ledger
*/
package economy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger holds the per-child entry log. All mutations funnel through a
// single write lock; the entry slices are owned exclusively by the
// Ledger and only copies escape.
type Ledger struct {
	mu      sync.RWMutex
	store   Store
	audit   Auditor
	clock   Clock
	log     zerolog.Logger
	entries map[ChildID][]LedgerEntry // insertion order
}

// NewLedger loads all existing entries from the store. A missing or
// empty store is an empty ledger.
func NewLedger(ctx context.Context, store Store, audit Auditor, clock Clock, log zerolog.Logger) (*Ledger, error) {
	l := &Ledger{
		store:   store,
		audit:   audit,
		clock:   clock,
		log:     log.With().Str("component", "ledger").Logger(),
		entries: make(map[ChildID][]LedgerEntry),
	}

	children, err := store.Children(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		es, err := store.LoadByChild(ctx, c)
		if err != nil {
			return nil, err
		}
		l.entries[c] = es
	}
	return l, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// RecordAccrual appends a positive accrual entry.
func (l *Ledger) RecordAccrual(ctx context.Context, childID ChildID, appID AppID, points int, at time.Time) LedgerEntry {
	e := l.newEntry(childID, appID, EntryAccrual, points, at)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(ctx, e)
	pointsAccrued.Add(float64(points))
	return e
}

// RecordRedemption appends a redemption entry. The amount is stored
// negative regardless of the caller's sign.
func (l *Ledger) RecordRedemption(ctx context.Context, childID ChildID, appID AppID, points int, at time.Time) LedgerEntry {
	if points < 0 {
		points = -points
	}
	e := l.newEntry(childID, appID, EntryRedemption, -points, at)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(ctx, e)
	l.audit.Redemption(e)
	return e
}

// RecordAdjustment appends a manual correction. The reason travels on
// the audit side-channel, not in the entry.
func (l *Ledger) RecordAdjustment(ctx context.Context, childID ChildID, appID AppID, points int, at time.Time, reason string) LedgerEntry {
	e := l.newEntry(childID, appID, EntryAdjustment, points, at)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(ctx, e)
	l.audit.Adjustment(e, reason)
	return e
}

func (l *Ledger) newEntry(childID ChildID, appID AppID, t EntryType, amount int, at time.Time) LedgerEntry {
	return LedgerEntry{
		ID:        EntryID(uuid.NewString()),
		ChildID:   childID,
		AppID:     appID,
		Type:      t,
		Amount:    amount,
		Timestamp: at,
	}
}

// appendLocked publishes in memory and writes through to the store.
// Persistence failures are logged and absorbed: the ledger prefers
// availability over hard failure on a local I/O hiccup, accepting
// possible loss of the entry on crash. Callers hold the write lock.
func (l *Ledger) appendLocked(ctx context.Context, e LedgerEntry) {
	l.entries[e.ChildID] = append(l.entries[e.ChildID], e)
	if err := l.store.Append(ctx, e); err != nil {
		l.log.Error().Err(err).Str("child_id", string(e.ChildID)).Str("entry_id", string(e.ID)).
			Msg("ledger write-through failed; entry kept in memory only")
	}
}

// appendBatchLocked is appendLocked for multi-entry spends. Callers
// hold the write lock.
func (l *Ledger) appendBatchLocked(ctx context.Context, es []LedgerEntry) {
	for _, e := range es {
		l.entries[e.ChildID] = append(l.entries[e.ChildID], e)
	}
	if err := l.store.AppendBatch(ctx, es); err != nil {
		l.log.Error().Err(err).Int("entries", len(es)).
			Msg("ledger batch write-through failed; entries kept in memory only")
	}
}

// =============================================================================
// BALANCE QUERIES - Pure folds over entries
// =============================================================================

// Balance returns the child's total balance across all entries.
func (l *Ledger) Balance(childID ChildID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(childID)
}

func (l *Ledger) balanceLocked(childID ChildID) int {
	total := 0
	for _, e := range l.entries[childID] {
		total += e.Amount
	}
	return total
}

// BalanceForApp returns the portion of the balance attributed to appID.
func (l *Ledger) BalanceForApp(childID ChildID, appID AppID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, e := range l.entries[childID] {
		if e.AppID == appID {
			total += e.Amount
		}
	}
	return total
}

// Balances returns per-app balances across all apps with any entries.
// Entries with no app are excluded; their sum is the unattributed
// balance (Balance minus the sum of this map).
func (l *Ledger) Balances(childID ChildID) map[AppID]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balancesLocked(childID)
}

func (l *Ledger) balancesLocked(childID ChildID) map[AppID]int {
	out := make(map[AppID]int)
	for _, e := range l.entries[childID] {
		if e.AppID != "" {
			out[e.AppID] += e.Amount
		}
	}
	return out
}

// Known reports whether the child has any ledger history.
func (l *Ledger) Known(childID ChildID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries[childID]) > 0
}

// Children returns every child with at least one entry.
func (l *Ledger) Children() []ChildID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ChildID, 0, len(l.entries))
	for c := range l.entries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// ENTRY QUERIES - Sorted newest-first for display
// =============================================================================

// Entries returns the child's entries sorted by timestamp descending.
// limit <= 0 means no limit; otherwise truncates to the most recent N.
func (l *Ledger) Entries(childID ChildID, limit int) []LedgerEntry {
	l.mu.RLock()
	es := make([]LedgerEntry, len(l.entries[childID]))
	copy(es, l.entries[childID])
	l.mu.RUnlock()

	sortNewestFirst(es)
	if limit > 0 && len(es) > limit {
		es = es[:limit]
	}
	return es
}

// EntriesInRange returns entries with from <= Timestamp <= to, sorted
// by timestamp descending.
func (l *Ledger) EntriesInRange(childID ChildID, from, to time.Time) []LedgerEntry {
	l.mu.RLock()
	var es []LedgerEntry
	for _, e := range l.entries[childID] {
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			es = append(es, e)
		}
	}
	l.mu.RUnlock()

	sortNewestFirst(es)
	return es
}

func sortNewestFirst(es []LedgerEntry) {
	sort.SliceStable(es, func(i, j int) bool {
		return es[i].Timestamp.After(es[j].Timestamp)
	})
}
