package economy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/economy"
	"github.com/warp/points-engine/economy/store"
)

var testRedemptionCfg = economy.RedemptionConfiguration{
	PointsPerMinute:     10,
	MinRedemptionPoints: 10,
	MaxRedemptionPoints: 500,
	MaxTotalMinutes:     120,
}

func newTestRedemption(t *testing.T) (*economy.RedemptionEngine, *economy.Ledger, *fakeTime) {
	t.Helper()
	ft := newFakeTime(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := newTestLedger(t, store.NewMemory())
	return economy.NewRedemptionEngine(l, ft, zerolog.Nop()), l, ft
}

func TestRedeem_RoundTrip(t *testing.T) {
	// GIVEN a child with 100 points
	ctx := context.Background()
	r, l, ft := newTestRedemption(t)
	l.RecordAccrual(ctx, "child-1", "", 100, ft.Now())

	// WHEN redeeming 50 points at 10 points/minute
	w, err := r.Redeem(ctx, economy.RedeemRequest{
		ChildID: "child-1",
		Points:  50,
		Config:  testRedemptionCfg,
	})

	// THEN a 5-minute window starting now is produced
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, w.Duration)
	assert.True(t, w.Start.Equal(ft.Now()))
	assert.NotEmpty(t, w.ID)

	// AND the balance dropped by exactly the spend
	assert.Equal(t, 50, l.Balance("child-1"))
}

func TestRedeem_ValidationOrder(t *testing.T) {
	ctx := context.Background()
	r, l, ft := newTestRedemption(t)
	l.RecordAccrual(ctx, "child-1", "", 30, ft.Now())

	tests := []struct {
		name    string
		childID economy.ChildID
		points  int
		wantErr error
	}{
		{"below minimum", "child-1", 5, economy.ErrBelowMinimum},
		{"above maximum", "child-1", 600, economy.ErrAboveMaximum},
		{"unknown child", "ghost", 20, economy.ErrChildNotFound},
		{"insufficient balance", "child-1", 40, economy.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Redeem(ctx, economy.RedeemRequest{
				ChildID: tt.childID,
				Points:  tt.points,
				Config:  testRedemptionCfg,
			})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, economy.IsRedemptionRejected(err))
		})
	}

	// size checks outrank the child lookup: an unknown child with an
	// undersized spend reports the size problem
	_, err := r.Redeem(ctx, economy.RedeemRequest{ChildID: "ghost", Points: 5, Config: testRedemptionCfg})
	assert.ErrorIs(t, err, economy.ErrBelowMinimum)

	// AND rejected spends leave the ledger untouched
	assert.Equal(t, 30, l.Balance("child-1"))
	assert.Len(t, l.Entries("child-1", 0), 1)
}

func TestRedeem_InsufficientBalanceCarriesDetails(t *testing.T) {
	ctx := context.Background()
	r, l, ft := newTestRedemption(t)
	l.RecordAccrual(ctx, "child-1", "", 30, ft.Now())

	_, err := r.Redeem(ctx, economy.RedeemRequest{ChildID: "child-1", Points: 45, Config: testRedemptionCfg})

	var ibe *economy.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, 30, ibe.Available)
	assert.Equal(t, 45, ibe.Requested)
}

func TestRedeem_GreedyAllocationIsDeterministic(t *testing.T) {
	// GIVEN per-app balances A=30, B=20
	ctx := context.Background()
	r, l, ft := newTestRedemption(t)
	l.RecordAccrual(ctx, "child-1", "app-a", 30, ft.Now())
	l.RecordAccrual(ctx, "child-1", "app-b", 20, ft.Now())

	// WHEN redeeming 40 against the total balance
	_, err := r.Redeem(ctx, economy.RedeemRequest{ChildID: "child-1", Points: 40, Config: testRedemptionCfg})
	require.NoError(t, err)

	// THEN the spend drains the largest balance first: (-30, A), (-10, B)
	assert.Equal(t, 0, l.BalanceForApp("child-1", "app-a"))
	assert.Equal(t, 10, l.BalanceForApp("child-1", "app-b"))
	assert.Equal(t, 10, l.Balance("child-1"))

	es := l.Entries("child-1", 0)
	var redemptionEntries []economy.LedgerEntry
	for _, e := range es {
		if e.Type == economy.EntryRedemption {
			redemptionEntries = append(redemptionEntries, e)
		}
	}
	require.Len(t, redemptionEntries, 2)
	// all stamped with the same instant
	assert.True(t, redemptionEntries[0].Timestamp.Equal(redemptionEntries[1].Timestamp))
}

func TestRedeem_AllocationTieBreaksByAppID(t *testing.T) {
	// GIVEN equal per-app balances
	ctx := context.Background()
	r, l, ft := newTestRedemption(t)
	l.RecordAccrual(ctx, "child-1", "app-b", 20, ft.Now())
	l.RecordAccrual(ctx, "child-1", "app-a", 20, ft.Now())

	// WHEN the spend cannot cover both
	_, err := r.Redeem(ctx, economy.RedeemRequest{ChildID: "child-1", Points: 30, Config: testRedemptionCfg})
	require.NoError(t, err)

	// THEN the lexically-smaller app is drained first
	assert.Equal(t, 0, l.BalanceForApp("child-1", "app-a"))
	assert.Equal(t, 10, l.BalanceForApp("child-1", "app-b"))
}

func TestRedeem_SpillsIntoUnattributed(t *testing.T) {
	// GIVEN 20 attributed and 30 unattributed points
	ctx := context.Background()
	r, l, ft := newTestRedemption(t)
	l.RecordAccrual(ctx, "child-1", "app-a", 20, ft.Now())
	l.RecordAccrual(ctx, "child-1", "", 30, ft.Now())

	// WHEN redeeming more than the attributed balances cover
	_, err := r.Redeem(ctx, economy.RedeemRequest{ChildID: "child-1", Points: 35, Config: testRedemptionCfg})
	require.NoError(t, err)

	// THEN the remainder comes out of the unattributed bucket and no
	// per-app balance goes negative
	assert.Equal(t, 0, l.BalanceForApp("child-1", "app-a"))
	assert.Equal(t, 15, l.Balance("child-1"))
	for app, b := range l.Balances("child-1") {
		assert.GreaterOrEqual(t, b, 0, "app %s driven negative", app)
	}
}

func TestRedeem_SourceAppSpendsOnlyThatBalance(t *testing.T) {
	// GIVEN balances in two apps
	ctx := context.Background()
	r, l, ft := newTestRedemption(t)
	l.RecordAccrual(ctx, "child-1", "app-a", 50, ft.Now())
	l.RecordAccrual(ctx, "child-1", "app-b", 50, ft.Now())

	// WHEN redeeming against app-a explicitly
	_, err := r.Redeem(ctx, economy.RedeemRequest{
		ChildID:   "child-1",
		Points:    30,
		Config:    testRedemptionCfg,
		SourceApp: "app-a",
	})
	require.NoError(t, err)

	// THEN only app-a is deducted
	assert.Equal(t, 20, l.BalanceForApp("child-1", "app-a"))
	assert.Equal(t, 50, l.BalanceForApp("child-1", "app-b"))

	// AND a spend exceeding the app's sub-balance is rejected even
	// though the total would cover it
	_, err = r.Redeem(ctx, economy.RedeemRequest{
		ChildID:   "child-1",
		Points:    30,
		Config:    testRedemptionCfg,
		SourceApp: "app-a",
	})
	var ibe *economy.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, economy.AppID("app-a"), ibe.AppID)
	assert.Equal(t, 20, ibe.Available)
}

func TestCanRedeem_PureQuery(t *testing.T) {
	ctx := context.Background()
	r, l, ft := newTestRedemption(t)
	l.RecordAccrual(ctx, "child-1", "", 100, ft.Now())

	balance, err := r.CanRedeem("child-1", 50, testRedemptionCfg, "")
	assert.NoError(t, err)
	assert.Equal(t, 100, balance)

	// no entries were written by the check
	assert.Len(t, l.Entries("child-1", 0), 1)
	assert.Equal(t, 100, l.Balance("child-1"))

	_, err = r.CanRedeem("child-1", 200, testRedemptionCfg, "")
	assert.ErrorIs(t, err, economy.ErrInsufficientBalance)
}

func TestRedeem_RewardUsageRecorderHook(t *testing.T) {
	ctx := context.Background()
	r, l, ft := newTestRedemption(t)
	l.RecordAccrual(ctx, "child-1", "", 100, ft.Now())

	var gotChild economy.ChildID
	var gotApp economy.AppID
	var gotPoints int
	r.SetRewardUsageRecorder(func(childID economy.ChildID, appID economy.AppID, points int) {
		gotChild, gotApp, gotPoints = childID, appID, points
	})

	// a redemption without a reward app does not invoke the hook
	_, err := r.Redeem(ctx, economy.RedeemRequest{ChildID: "child-1", Points: 20, Config: testRedemptionCfg})
	require.NoError(t, err)
	assert.Empty(t, gotChild)

	// a redemption with one does
	_, err = r.Redeem(ctx, economy.RedeemRequest{
		ChildID:   "child-1",
		Points:    30,
		Config:    testRedemptionCfg,
		RewardApp: "app-game",
	})
	require.NoError(t, err)
	assert.Equal(t, economy.ChildID("child-1"), gotChild)
	assert.Equal(t, economy.AppID("app-game"), gotApp)
	assert.Equal(t, 30, gotPoints)
}

func TestRedeem_ConcurrentSpendsCannotOverdraw(t *testing.T) {
	// GIVEN a balance that covers only one of two identical spends
	ctx := context.Background()
	r, l, ft := newTestRedemption(t)
	l.RecordAccrual(ctx, "child-1", "", 60, ft.Now())

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := r.Redeem(ctx, economy.RedeemRequest{ChildID: "child-1", Points: 40, Config: testRedemptionCfg})
			results <- err
		}()
	}

	var failures int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			assert.True(t, errors.Is(err, economy.ErrInsufficientBalance))
			failures++
		}
	}

	// THEN exactly one spend won and the balance never went negative
	assert.Equal(t, 1, failures)
	assert.Equal(t, 20, l.Balance("child-1"))
}
