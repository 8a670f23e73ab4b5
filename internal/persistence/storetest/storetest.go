// Package storetest holds the behavioural checks every Store backend must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/heartstream/internal/domain"
)

// Factory returns a fresh, empty store for one sub-test.
type Factory func(t *testing.T) domain.Store

var base = time.Date(2025, time.October, 27, 7, 0, 0, 0, time.UTC)

// Run exercises the full Store contract against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("EmptyStats", func(t *testing.T) { testEmptyStats(t, open(t)) })
	t.Run("Samples", func(t *testing.T) { testSamples(t, open(t)) })
	t.Run("RecentOrdering", func(t *testing.T) { testRecentOrdering(t, open(t)) })
	t.Run("DeviceTypeCounts", func(t *testing.T) { testDeviceTypeCounts(t, open(t)) })
	t.Run("ActivityRoundTrip", func(t *testing.T) { testActivityRoundTrip(t, open(t)) })
	t.Run("ListActivities", func(t *testing.T) { testListActivities(t, open(t)) })
	t.Run("DeleteActivity", func(t *testing.T) { testDeleteActivity(t, open(t)) })
}

func ptr[T any](v T) *T { return &v }

func sampleAt(hr int, deviceType string, ts time.Time) domain.Sample {
	return domain.Sample{
		DeviceID:    "COOSPO",
		DeviceType:  deviceType,
		HeartRate:   hr,
		RRIntervals: []float64{},
		Timestamp:   ts,
	}
}

func testEmptyStats(t *testing.T, store domain.Store) {
	ctx := context.Background()
	got, err := store.QueryStats(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, domain.Stats{}, got)

	recent, err := store.QueryRecent(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, recent)

	counts, err := store.DeviceTypeCounts(ctx)
	require.NoError(t, err)
	require.Empty(t, counts)
}

func testSamples(t *testing.T, store domain.Store) {
	ctx := context.Background()

	first := sampleAt(60, "heartRateBand", base)
	first.RRIntervals = []float64{976.56, 1000}
	first.Latitude = ptr(45.4642)
	first.Longitude = ptr(9.19)
	require.NoError(t, store.InsertSample(ctx, first))
	require.NoError(t, store.InsertSample(ctx, sampleAt(80, "heartRateBand", base.Add(30*time.Minute))))
	require.NoError(t, store.InsertSample(ctx, sampleAt(100, "armband", base.Add(90*time.Minute))))

	all, err := store.QueryStats(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 3, all.Count)
	require.Equal(t, 60, all.Min)
	require.Equal(t, 100, all.Max)
	require.InDelta(t, 80.0, all.Avg, 1e-9)

	lastHour, err := store.QueryStats(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, lastHour.Count)
	require.Equal(t, 80, lastHour.Min)
	require.InDelta(t, 90.0, lastHour.Avg, 1e-9)

	recent, err := store.QueryRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	got := recent[0]
	require.Equal(t, 60, got.HeartRate)
	require.Equal(t, "COOSPO", got.DeviceID)
	require.Equal(t, "heartRateBand", got.DeviceType)
	require.Equal(t, []float64{976.56, 1000}, got.RRIntervals)
	require.NotNil(t, got.Latitude)
	require.InDelta(t, 45.4642, *got.Latitude, 1e-9)
	require.InDelta(t, 9.19, *got.Longitude, 1e-9)
	require.True(t, base.Equal(got.Timestamp), "timestamp %s", got.Timestamp)

	require.Nil(t, recent[1].Latitude)
	require.NotNil(t, recent[1].RRIntervals)
}

func testRecentOrdering(t *testing.T, store domain.Store) {
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, store.InsertSample(ctx, sampleAt(60+i, "unknown", base.Add(time.Duration(i)*time.Second))))
	}

	recent, err := store.QueryRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, 63, recent[0].HeartRate)
	require.Equal(t, 64, recent[1].HeartRate)
	require.Equal(t, 65, recent[2].HeartRate)

	all, err := store.QueryRecent(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 6)
}

func testDeviceTypeCounts(t *testing.T, store domain.Store) {
	ctx := context.Background()
	for i, deviceType := range []string{"heartRateBand", "armband", "heartRateBand", "unknown", "heartRateBand"} {
		require.NoError(t, store.InsertSample(ctx, sampleAt(70, deviceType, base.Add(time.Duration(i)*time.Second))))
	}

	counts, err := store.DeviceTypeCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.DeviceTypeCount{
		{DeviceType: "armband", Count: 1},
		{DeviceType: "heartRateBand", Count: 3},
		{DeviceType: "unknown", Count: 1},
	}, counts)
}

func testActivityRoundTrip(t *testing.T, store domain.Store) {
	ctx := context.Background()

	act := domain.Activity{ID: "act-1", DeviceID: "watch-1", StartTime: base, Status: domain.ActivityStatusActive}
	require.NoError(t, store.SaveActivity(ctx, act))

	for i := 0; i < 3; i++ {
		wp := domain.Waypoint{
			ActivityID: act.ID,
			Sequence:   i,
			Latitude:   45.0 + float64(i)*0.001,
			Longitude:  7.0,
			Timestamp:  base.Add(time.Duration(i+1) * time.Second),
		}
		if i != 1 {
			wp.HeartRate = ptr(120 + i)
		}
		require.NoError(t, store.AppendWaypoint(ctx, wp))
	}

	stored, waypoints, err := store.GetActivity(ctx, act.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ActivityStatusActive, stored.Status)
	require.Nil(t, stored.EndTime)
	require.True(t, base.Equal(stored.StartTime))
	require.Len(t, waypoints, 3)
	for i, wp := range waypoints {
		require.Equal(t, i, wp.Sequence)
		require.Equal(t, act.ID, wp.ActivityID)
		require.True(t, base.Add(time.Duration(i+1)*time.Second).Equal(wp.Timestamp))
	}
	require.Nil(t, waypoints[1].HeartRate)
	require.Equal(t, 122, *waypoints[2].HeartRate)

	end := base.Add(45 * time.Minute)
	act.Status = domain.ActivityStatusCompleted
	act.EndTime = &end
	act.DistanceKM = 7.25
	act.AvgSpeed = 6.2
	act.AvgHeartRate = 121
	act.MinHeartRate = 120
	act.MaxHeartRate = 122
	act.Calories = 507.5
	act.DurationMinutes = 45
	require.NoError(t, store.SaveActivity(ctx, act))

	stored, _, err = store.GetActivity(ctx, act.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ActivityStatusCompleted, stored.Status)
	require.NotNil(t, stored.EndTime)
	require.True(t, end.Equal(*stored.EndTime))
	require.InDelta(t, 7.25, stored.DistanceKM, 1e-9)
	require.InDelta(t, 6.2, stored.AvgSpeed, 1e-9)
	require.InDelta(t, 121.0, stored.AvgHeartRate, 1e-9)
	require.Equal(t, 120, stored.MinHeartRate)
	require.Equal(t, 122, stored.MaxHeartRate)
	require.InDelta(t, 507.5, stored.Calories, 1e-9)
	require.InDelta(t, 45.0, stored.DurationMinutes, 1e-9)

	_, _, err = store.GetActivity(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.Error(t, store.AppendWaypoint(ctx, domain.Waypoint{ActivityID: "missing", Timestamp: base}))
}

func testListActivities(t *testing.T, store domain.Store) {
	ctx := context.Background()
	acts := []domain.Activity{
		{ID: "a", DeviceID: "watch-1", StartTime: base, Status: domain.ActivityStatusCompleted},
		{ID: "b", DeviceID: "watch-2", StartTime: base.Add(time.Hour), Status: domain.ActivityStatusCompleted},
		{ID: "c", DeviceID: "watch-1", StartTime: base.Add(2 * time.Hour), Status: domain.ActivityStatusActive},
	}
	for _, act := range acts {
		require.NoError(t, store.SaveActivity(ctx, act))
	}

	all, err := store.ListActivities(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, ids(all))

	mine, err := store.ListActivities(ctx, "watch-1")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a"}, ids(mine))
}

func testDeleteActivity(t *testing.T, store domain.Store) {
	ctx := context.Background()
	act := domain.Activity{ID: "gone", DeviceID: "watch-1", StartTime: base, Status: domain.ActivityStatusActive}
	require.NoError(t, store.SaveActivity(ctx, act))
	require.NoError(t, store.AppendWaypoint(ctx, domain.Waypoint{ActivityID: act.ID, Latitude: 1, Longitude: 1, Timestamp: base}))

	require.NoError(t, store.DeleteActivity(ctx, act.ID))
	_, _, err := store.GetActivity(ctx, act.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, store.DeleteActivity(ctx, act.ID), domain.ErrNotFound)

	// the id can be reused with no waypoints left behind
	require.NoError(t, store.SaveActivity(ctx, act))
	_, waypoints, err := store.GetActivity(ctx, act.ID)
	require.NoError(t, err)
	require.Empty(t, waypoints)
}

func ids(acts []domain.Activity) []string {
	out := make([]string, 0, len(acts))
	for _, act := range acts {
		out = append(out, act.ID)
	}
	return out
}
