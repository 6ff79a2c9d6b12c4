// Package store provides in-memory implementations of the persistence
// ports, for tests and development.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/warp/points-engine/economy"
)

// =============================================================================
// MEMORY STORE - Ledger entries + windows, no durability
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries map[economy.ChildID][]economy.LedgerEntry
	windows []economy.EarnedTimeWindow

	// FailWrites makes every mutation error, for exercising the
	// absorb-persistence-failures paths.
	FailWrites bool
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[economy.ChildID][]economy.LedgerEntry)}
}

var errWriteFailure = errors.New("simulated write failure")

func (m *Memory) Append(_ context.Context, e economy.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errWriteFailure
	}
	m.entries[e.ChildID] = append(m.entries[e.ChildID], e)
	return nil
}

func (m *Memory) AppendBatch(_ context.Context, es []economy.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errWriteFailure
	}
	for _, e := range es {
		m.entries[e.ChildID] = append(m.entries[e.ChildID], e)
	}
	return nil
}

func (m *Memory) LoadByChild(_ context.Context, childID economy.ChildID) ([]economy.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]economy.LedgerEntry, len(m.entries[childID]))
	copy(out, m.entries[childID])
	return out, nil
}

func (m *Memory) Children(_ context.Context) ([]economy.ChildID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]economy.ChildID, 0, len(m.entries))
	for c := range m.entries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) SaveWindows(_ context.Context, ws []economy.EarnedTimeWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errWriteFailure
	}
	m.windows = append([]economy.EarnedTimeWindow{}, ws...)
	return nil
}

func (m *Memory) LoadWindows(_ context.Context) ([]economy.EarnedTimeWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]economy.EarnedTimeWindow{}, m.windows...), nil
}

var (
	_ economy.Store       = (*Memory)(nil)
	_ economy.WindowStore = (*Memory)(nil)
)
