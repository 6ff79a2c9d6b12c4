package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/economy"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "points.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStore_AppendAndLoad(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, st.Append(ctx, economy.LedgerEntry{
		ID: "e1", ChildID: "child-1", AppID: "app-a",
		Type: economy.EntryAccrual, Amount: 40, Timestamp: ts,
	}))
	require.NoError(t, st.Append(ctx, economy.LedgerEntry{
		ID: "e2", ChildID: "child-1",
		Type: economy.EntryRedemption, Amount: -10, Timestamp: ts.Add(time.Minute),
	}))

	es, err := st.LoadByChild(ctx, "child-1")
	require.NoError(t, err)
	require.Len(t, es, 2)

	// insertion order preserved, timestamps round-trip
	assert.Equal(t, economy.EntryID("e1"), es[0].ID)
	assert.Equal(t, economy.AppID("app-a"), es[0].AppID)
	assert.True(t, es[0].Timestamp.Equal(ts))
	assert.Equal(t, -10, es[1].Amount)

	children, err := st.Children(ctx)
	require.NoError(t, err)
	assert.Equal(t, []economy.ChildID{"child-1"}, children)
}

func TestSQLiteStore_AppendBatchIsAtomic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	require.NoError(t, st.Append(ctx, economy.LedgerEntry{
		ID: "dup", ChildID: "child-1", Type: economy.EntryAccrual, Amount: 1, Timestamp: ts,
	}))

	// WHEN a batch contains a conflicting primary key
	err := st.AppendBatch(ctx, []economy.LedgerEntry{
		{ID: "e2", ChildID: "child-1", Type: economy.EntryAccrual, Amount: 2, Timestamp: ts},
		{ID: "dup", ChildID: "child-1", Type: economy.EntryAccrual, Amount: 3, Timestamp: ts},
	})
	require.Error(t, err)

	// THEN nothing from the batch was persisted
	es, lerr := st.LoadByChild(ctx, "child-1")
	require.NoError(t, lerr)
	assert.Len(t, es, 1)
}

func TestSQLiteStore_WindowSnapshotRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, st.SaveWindows(ctx, []economy.EarnedTimeWindow{
		{ID: "w1", ChildID: "child-1", Duration: 5 * time.Minute, Start: ts},
	}))
	// a later save replaces the snapshot
	require.NoError(t, st.SaveWindows(ctx, []economy.EarnedTimeWindow{
		{ID: "w2", ChildID: "child-1", Duration: 7 * time.Minute, Start: ts},
	}))

	ws, err := st.LoadWindows(ctx)
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, economy.WindowID("w2"), ws[0].ID)
	assert.Equal(t, 7*time.Minute, ws[0].Duration)
	assert.True(t, ws[0].Start.Equal(ts))
}
