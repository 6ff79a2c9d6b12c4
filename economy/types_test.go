package economy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/points-engine/economy"
)

func TestRateConversion(t *testing.T) {
	// partial minutes floor
	assert.Equal(t, 3, economy.PointsForDuration(90*time.Second, 2))
	assert.Equal(t, 0, economy.PointsForDuration(59*time.Second, 1))
	assert.Equal(t, 0, economy.PointsForDuration(-time.Minute, 2))
	assert.Equal(t, 0, economy.PointsForDuration(time.Minute, 0))

	// spends that do not divide evenly still grant partial minutes
	assert.Equal(t, 5*time.Minute, economy.DurationForPoints(50, 10))
	assert.Equal(t, 2*time.Minute+30*time.Second, economy.DurationForPoints(25, 10))

	assert.Equal(t, 2, economy.MinutesForPoints(25, 10))
	assert.Equal(t, 50, economy.PointsNeededForMinutes(5, 10))
}

func TestEarnedTimeWindow_Remaining(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := economy.EarnedTimeWindow{ID: "w1", ChildID: "c1", Duration: 10 * time.Minute, Start: start}

	assert.True(t, w.EndTime().Equal(start.Add(10*time.Minute)))
	assert.Equal(t, 10*time.Minute, w.Remaining(start))
	assert.Equal(t, 4*time.Minute, w.Remaining(start.Add(6*time.Minute)))
	assert.Equal(t, time.Duration(0), w.Remaining(start.Add(time.Hour)))
	assert.False(t, w.Expired(start.Add(9*time.Minute)))
	assert.True(t, w.Expired(start.Add(10*time.Minute)))
}
