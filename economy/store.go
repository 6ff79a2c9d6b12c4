/*
store.go - Persistence ports for ledger entries and exemption windows

PURPOSE:
  Defines the interface between the engine and durable storage. The
  engine writes through on every mutation and loads at startup; beyond
  that it never depends on storage behavior.

KEY INTERFACES:
  Store:       Append-only ledger entry persistence
  WindowStore: Active exemption window snapshots

APPEND-ONLY CONTRACT:
  Store has no Update or Delete for entries. Corrections are made via
  adjustment entries, never edits.

FAILURE SEMANTICS:
  WindowStore failures are best-effort: the exemption manager logs and
  degrades to ephemeral in-memory operation rather than failing a
  redemption. Store failures on append are surfaced to the caller.

IMPLEMENTATIONS:
  - economy/store: in-memory (testing/dev)
  - store/sqlite:  SQLite-backed production store
  - store/file:    JSON file per concern

SEE ALSO:
  - ledger.go: Higher-level interface using Store
  - exemption.go: Uses WindowStore
*/
package economy

import "context"

// Store persists ledger entries. APPEND-ONLY: no Update, no Delete.
type Store interface {
	// Append persists one entry. This and AppendBatch are the ONLY
	// write operations.
	Append(ctx context.Context, e LedgerEntry) error

	// AppendBatch persists multiple entries atomically. Either all
	// succeed or none do. Used by redemption, which may touch several
	// per-app buckets in one spend.
	AppendBatch(ctx context.Context, es []LedgerEntry) error

	// LoadByChild returns all entries for a child in insertion order.
	// A child with no history returns an empty slice, not an error.
	LoadByChild(ctx context.Context, childID ChildID) ([]LedgerEntry, error)

	// Children returns every child with at least one entry.
	Children(ctx context.Context) ([]ChildID, error)
}

// WindowStore persists the set of active exemption windows as a typed
// blob. Loading from an empty store returns no windows, not an error.
type WindowStore interface {
	SaveWindows(ctx context.Context, ws []EarnedTimeWindow) error
	LoadWindows(ctx context.Context) ([]EarnedTimeWindow, error)
}
