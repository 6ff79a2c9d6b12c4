package economy_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/warp/points-engine/economy"
	"github.com/warp/points-engine/economy/store"
)

var testPointsCfg = economy.PointsConfiguration{
	PointsPerMinute: 2,
	DailyCapPoints:  50,
	IdleTimeout:     60 * time.Second,
}

func newTestAccrual(t *testing.T) (*economy.AccrualEngine, *economy.Ledger) {
	t.Helper()
	l := newTestLedger(t, store.NewMemory())
	return economy.NewAccrualEngine(l, zerolog.Nop()), l
}

func TestEffectiveDuration_IdleDiscountOnCompletedSession(t *testing.T) {
	// GIVEN a session with a heartbeat at t=30s that then went idle
	// until t=600s, against a 60s idle timeout
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := economy.UsageSession{
		ChildID:      "child-1",
		Start:        start,
		LastActivity: start.Add(30 * time.Second),
		End:          start.Add(600 * time.Second),
	}

	// THEN only the time up to the last heartbeat counts
	assert.Equal(t, 30*time.Second, economy.EffectiveDuration(s, testPointsCfg, s.End))
}

func TestEffectiveDuration_NoHeartbeatCountsInFull(t *testing.T) {
	// GIVEN a 120s session that never received a heartbeat
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := economy.UsageSession{
		ChildID:      "child-1",
		Start:        start,
		LastActivity: start,
		End:          start.Add(120 * time.Second),
	}

	// THEN the idle discount does not apply, even though the trailing
	// gap exceeds the timeout
	assert.Equal(t, 120*time.Second, economy.EffectiveDuration(s, testPointsCfg, s.End))
}

func TestEffectiveDuration_ActiveSessionFreezesWhenIdle(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := economy.UsageSession{
		ChildID:      "child-1",
		Start:        start,
		LastActivity: start.Add(2 * time.Minute),
	}

	// WHEN observed within the idle timeout, the session runs to now
	now := start.Add(2*time.Minute + 30*time.Second)
	assert.Equal(t, 2*time.Minute+30*time.Second, economy.EffectiveDuration(s, testPointsCfg, now))

	// WHEN observed past the idle timeout, it freezes at the heartbeat
	now = start.Add(10 * time.Minute)
	assert.Equal(t, 2*time.Minute, economy.EffectiveDuration(s, testPointsCfg, now))
}

func TestCalculatePoints_FlooredAndNonNegative(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := economy.UsageSession{ChildID: "c", Start: start, LastActivity: start, End: start.Add(90 * time.Second)}

	// 1.5 minutes at 2/min floors to 3 points
	assert.Equal(t, 3, economy.CalculatePoints(s, testPointsCfg, s.End))

	// a zero-length session earns nothing
	s.End = start
	assert.Equal(t, 0, economy.CalculatePoints(s, testPointsCfg, s.End))
}

func TestAccrual_EndSessionCreditsLedger(t *testing.T) {
	// GIVEN a 10-minute fully-active session
	ctx := context.Background()
	a, l := newTestAccrual(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	s := a.StartSession("child-1", "app-a", start)
	s = a.UpdateActivity(s, start.Add(10*time.Minute))

	// WHEN the session ends
	_, earned := a.EndSession(ctx, s, testPointsCfg, start.Add(10*time.Minute))

	// THEN 20 points land in the ledger, attributed to the app
	assert.Equal(t, 20, earned)
	assert.Equal(t, 20, l.Balance("child-1"))
	assert.Equal(t, 20, l.BalanceForApp("child-1", "app-a"))
	assert.Equal(t, 20, a.TodayPoints("child-1", start))

	// AND the session is no longer active
	_, ok := a.ActiveSession("child-1", "app-a")
	assert.False(t, ok)
}

func TestAccrual_DailyCapIsMonotoneAndNeverExceeded(t *testing.T) {
	// GIVEN a 50-point daily cap and repeated 10-minute sessions
	// (20 points each at 2/min)
	ctx := context.Background()
	a, l := newTestAccrual(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	var earnedSeq []int
	for i := 0; i < 4; i++ {
		s := a.StartSession("child-1", "", at)
		end := at.Add(10 * time.Minute)
		_, earned := a.EndSession(ctx, s, testPointsCfg, end)
		earnedSeq = append(earnedSeq, earned)
		at = end
	}

	// THEN accrual degrades to the remaining cap room, then to zero
	assert.Equal(t, []int{20, 20, 10, 0}, earnedSeq)
	assert.Equal(t, 50, a.TodayPoints("child-1", at))
	assert.Equal(t, 50, l.Balance("child-1"))
	assert.False(t, a.CanAccruePoints("child-1", testPointsCfg, at))

	// AND a new calendar day opens fresh cap room
	nextDay := at.Add(24 * time.Hour)
	assert.True(t, a.CanAccruePoints("child-1", testPointsCfg, nextDay))
	assert.Equal(t, 0, a.TodayPoints("child-1", nextDay))
}

func TestAccrual_PerAppAccumulatorTracksCappedPoints(t *testing.T) {
	// GIVEN a child who already earned 40 points in app-a today
	ctx := context.Background()
	a, _ := newTestAccrual(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	cfg := testPointsCfg
	cfg.DailyCapPoints = 40

	s := a.StartSession("child-1", "app-a", at)
	_, earned := a.EndSession(ctx, s, cfg, at.Add(20*time.Minute))
	assert.Equal(t, 40, earned)

	// WHEN more app-a usage ends the same day
	s = a.StartSession("child-1", "app-a", at.Add(20*time.Minute))
	_, earned = a.EndSession(ctx, s, cfg, at.Add(30*time.Minute))

	// THEN the cap blocks it and the per-app accumulator reflects the
	// capped total
	assert.Equal(t, 0, earned)
	assert.Equal(t, 40, a.TodayPointsForApp("child-1", "app-a", at))
}

func TestAccrual_RestartAbandonsOldSession(t *testing.T) {
	// GIVEN an active session for (child, app)
	ctx := context.Background()
	a, l := newTestAccrual(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	old := a.StartSession("child-1", "app-a", start)

	// WHEN a new session starts for the same key
	fresh := a.StartSession("child-1", "app-a", start.Add(5*time.Minute))

	// THEN the registered session is the new one
	reg, ok := a.ActiveSession("child-1", "app-a")
	assert.True(t, ok)
	assert.True(t, reg.Start.Equal(fresh.Start))

	// AND ending the abandoned session does not evict the new one,
	// though it still earns its own points
	a.EndSession(ctx, old, testPointsCfg, start.Add(2*time.Minute))
	_, ok = a.ActiveSession("child-1", "app-a")
	assert.True(t, ok)
	assert.Equal(t, 4, l.Balance("child-1"))
}

func TestAccrual_EndBeforeStartClampsToStart(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAccrual(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	s := a.StartSession("child-1", "app-a", start)
	ended, earned := a.EndSession(ctx, s, testPointsCfg, start.Add(-time.Minute))

	assert.True(t, ended.End.Equal(start))
	assert.Equal(t, 0, earned)
}
