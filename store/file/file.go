/*
Package file persists engine state as JSON, one file per concern:
ledger.json holds the ordered entry list, windows.json the active
exemption windows.

PURPOSE:
  The simplest durable backend: every mutation rewrites the whole file
  through an atomic rename. Suited to the on-device deployment where a
  ledger is a few thousand entries at most.

FORWARD COMPATIBILITY:
  Records are plain JSON objects; unknown fields are ignored on load,
  so adding optional fields never breaks older data.

FAILURE SEMANTICS:
  A missing file is an empty store, not an error. Write errors are
  surfaced to the caller (the ledger and exemption manager decide to
  absorb them).

SEE ALSO:
  - economy/store.go: Port definitions
  - store/sqlite: The indexed alternative
*/
package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/warp/points-engine/economy"
)

const (
	ledgerFile  = "ledger.json"
	windowsFile = "windows.json"
)

// Store keeps the full ledger in memory and rewrites the backing file
// on every mutation.
type Store struct {
	mu      sync.Mutex
	dir     string
	entries []economy.LedgerEntry
}

// New opens (or creates) a file store rooted at dir. Missing files
// load as empty state.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{dir: dir}
	if err := readJSON(filepath.Join(dir, ledgerFile), &s.entries); err != nil {
		return nil, err
	}
	return s, nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (s *Store) Append(_ context.Context, e economy.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.flushLocked()
}

func (s *Store) AppendBatch(_ context.Context, es []economy.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.entries)
	s.entries = append(s.entries, es...)
	if err := s.flushLocked(); err != nil {
		s.entries = s.entries[:before]
		return err
	}
	return nil
}

func (s *Store) LoadByChild(_ context.Context, childID economy.ChildID) ([]economy.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []economy.LedgerEntry
	for _, e := range s.entries {
		if e.ChildID == childID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Children(_ context.Context) ([]economy.ChildID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[economy.ChildID]bool)
	var out []economy.ChildID
	for _, e := range s.entries {
		if !seen[e.ChildID] {
			seen[e.ChildID] = true
			out = append(out, e.ChildID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) flushLocked() error {
	return writeJSON(filepath.Join(s.dir, ledgerFile), s.entries)
}

// =============================================================================
// EXEMPTION WINDOWS
// =============================================================================

func (s *Store) SaveWindows(_ context.Context, ws []economy.EarnedTimeWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.dir, windowsFile), ws)
}

func (s *Store) LoadWindows(_ context.Context) ([]economy.EarnedTimeWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ws []economy.EarnedTimeWindow
	if err := readJSON(filepath.Join(s.dir, windowsFile), &ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// =============================================================================
// JSON HELPERS
// =============================================================================

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON writes via a temp file and rename so a crash mid-write
// never leaves a truncated state file.
func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var (
	_ economy.Store       = (*Store)(nil)
	_ economy.WindowStore = (*Store)(nil)
)
