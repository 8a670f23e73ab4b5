package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/heartstream/internal/activity"
	"example.com/heartstream/internal/domain"
	"example.com/heartstream/internal/persistence/memory"
	"example.com/heartstream/internal/stats"
)

var base = time.Date(2025, time.October, 27, 7, 0, 0, 0, time.UTC)

type stepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.next
	c.next = c.next.Add(c.step)
	return ts
}

type fixture struct {
	mux     *http.ServeMux
	tracker *activity.Tracker
	window  *stats.Window
	store   *memory.Store
}

func newFixture(t *testing.T, withStore bool) *fixture {
	t.Helper()
	clock := &stepClock{next: base, step: time.Minute}
	f := &fixture{
		tracker: activity.NewTracker(activity.WithClock(clock.now)),
		window:  stats.NewWindow(10),
		store:   memory.New(0),
	}

	opts := []Option{
		WithSubscriberCount(func() int { return 3 }),
		WithClock(func() time.Time { return base.Add(2 * time.Hour) }),
	}
	if withStore {
		opts = append(opts, WithSampleStore(f.store))
	}
	f.mux = http.NewServeMux()
	NewHandler(f.tracker, f.window, opts...).RegisterRoutes(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rr)["type"]
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) completedActivity(t *testing.T, deviceID string) string {
	t.Helper()
	created := decode[CreateActivityResponse](t, f.do(t, http.MethodPost, "/v1/activities", CreateActivityRequest{DeviceID: deviceID}))
	rr := f.do(t, http.MethodPost, "/v1/activities/"+created.ActivityID+"/stop", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return created.ActivityID
}

func TestActivityLifecycle(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, http.MethodPost, "/v1/activities", CreateActivityRequest{DeviceID: "watch"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[CreateActivityResponse](t, rr)
	require.NotEmpty(t, created.ActivityID)
	require.Equal(t, "active", created.Status)
	require.Equal(t, "watch", created.DeviceID)

	path := "/v1/activities/" + created.ActivityID
	rr = f.do(t, http.MethodPost, path+"/waypoints", AddWaypointRequest{Latitude: ptr(45.0), Longitude: ptr(9.0), HeartRate: ptr(120)})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	first := decode[WaypointView](t, rr)
	require.Equal(t, 0, first.Sequence)

	rr = f.do(t, http.MethodPost, path+"/waypoints", AddWaypointRequest{Latitude: ptr(45.01), Longitude: ptr(9.0), HeartRate: ptr(140)})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodPost, path+"/stop", StopActivityRequest{})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	summary := decode[ActivityView](t, rr)
	require.Equal(t, "completed", summary.Status)
	require.NotNil(t, summary.EndTime)
	require.InDelta(t, 1.112, summary.DistanceKM, 0.01)
	require.InDelta(t, 130.0, summary.AvgHeartRate, 1e-9)
	require.Equal(t, 120, summary.MinHeartRate)
	require.Equal(t, 140, summary.MaxHeartRate)
	require.InDelta(t, summary.DistanceKM*activity.CaloriesPerKM, summary.Calories, 1e-9)

	rr = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	detail := decode[ActivityDetailView](t, rr)
	require.Equal(t, created.ActivityID, detail.ActivityID)
	require.Len(t, detail.Waypoints, 2)
	require.Equal(t, 1, detail.Waypoints[1].Sequence)

	rr = f.do(t, http.MethodGet, "/v1/activities", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decode[ListActivitiesResponse](t, rr).Items, 1)

	rr = f.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "not_found", errorType(t, rr))
}

func TestCreateActivityDefaultsDevice(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, http.MethodPost, "/v1/activities", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, domain.DefaultDeviceID, decode[CreateActivityResponse](t, rr).DeviceID)
}

func TestStopWithSuppliedCalories(t *testing.T) {
	f := newFixture(t, false)
	created := decode[CreateActivityResponse](t, f.do(t, http.MethodPost, "/v1/activities", nil))

	rr := f.do(t, http.MethodPost, "/v1/activities/"+created.ActivityID+"/stop", StopActivityRequest{Calories: ptr(412.5)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	summary := decode[ActivityView](t, rr)
	require.InDelta(t, 412.5, summary.Calories, 1e-9)
	require.Zero(t, summary.DistanceKM)
	require.Zero(t, summary.AvgSpeed)
}

func TestActivityErrorMapping(t *testing.T) {
	f := newFixture(t, false)
	active := decode[CreateActivityResponse](t, f.do(t, http.MethodPost, "/v1/activities", nil)).ActivityID
	stopped := f.completedActivity(t, "watch")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"waypoint unknown activity", http.MethodPost, "/v1/activities/missing/waypoints", AddWaypointRequest{Latitude: ptr(1.0), Longitude: ptr(1.0)}, http.StatusNotFound, "not_found"},
		{"waypoint on completed activity", http.MethodPost, "/v1/activities/" + stopped + "/waypoints", AddWaypointRequest{Latitude: ptr(1.0), Longitude: ptr(1.0)}, http.StatusConflict, "invalid_state"},
		{"waypoint missing latitude", http.MethodPost, "/v1/activities/" + active + "/waypoints", AddWaypointRequest{Longitude: ptr(1.0)}, http.StatusBadRequest, "validation_failed"},
		{"waypoint latitude out of range", http.MethodPost, "/v1/activities/" + active + "/waypoints", AddWaypointRequest{Latitude: ptr(91.0), Longitude: ptr(1.0)}, http.StatusBadRequest, "validation_failed"},
		{"waypoint malformed body", http.MethodPost, "/v1/activities/" + active + "/waypoints", "{not json", http.StatusBadRequest, "validation_failed"},
		{"stop negative calories", http.MethodPost, "/v1/activities/" + active + "/stop", StopActivityRequest{Calories: ptr(-1.0)}, http.StatusBadRequest, "validation_failed"},
		{"stop twice", http.MethodPost, "/v1/activities/" + stopped + "/stop", nil, http.StatusConflict, "invalid_state"},
		{"stop unknown", http.MethodPost, "/v1/activities/missing/stop", nil, http.StatusNotFound, "not_found"},
		{"delete unknown", http.MethodDelete, "/v1/activities/missing", nil, http.StatusNotFound, "not_found"},
		{"collection method", http.MethodPut, "/v1/activities", nil, http.StatusMethodNotAllowed, "method_not_allowed"},
		{"item method", http.MethodPatch, "/v1/activities/" + active, nil, http.StatusMethodNotAllowed, "method_not_allowed"},
		{"stop method", http.MethodGet, "/v1/activities/" + active + "/stop", nil, http.StatusMethodNotAllowed, "method_not_allowed"},
		{"unknown subresource", http.MethodGet, "/v1/activities/" + active + "/laps", nil, http.StatusNotFound, "not_found"},
		{"missing id", http.MethodGet, "/v1/activities/", nil, http.StatusBadRequest, "validation_failed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			require.Equal(t, tc.code, errorType(t, rr))
		})
	}
}

func TestListActivitiesPaginates(t *testing.T) {
	f := newFixture(t, false)
	ids := []string{
		f.completedActivity(t, "watch"),
		f.completedActivity(t, "watch"),
		f.completedActivity(t, "watch"),
		f.completedActivity(t, "bike"),
	}
	// An active activity is never listed.
	f.do(t, http.MethodPost, "/v1/activities", CreateActivityRequest{DeviceID: "watch"})

	rr := f.do(t, http.MethodGet, "/v1/activities?device_id=watch&limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[ListActivitiesResponse](t, rr)
	require.Len(t, page.Items, 2)
	require.Equal(t, ids[2], page.Items[0].ActivityID)
	require.Equal(t, ids[1], page.Items[1].ActivityID)
	require.NotEmpty(t, page.NextCursor)

	rr = f.do(t, http.MethodGet, "/v1/activities?device_id=watch&limit=2&cursor="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page = decode[ListActivitiesResponse](t, rr)
	require.Len(t, page.Items, 1)
	require.Equal(t, ids[0], page.Items[0].ActivityID)
	require.Empty(t, page.NextCursor)

	rr = f.do(t, http.MethodGet, "/v1/activities", nil)
	require.Len(t, decode[ListActivitiesResponse](t, rr).Items, 4)

	rr = f.do(t, http.MethodGet, "/v1/activities?cursor=%25%25%25", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/activities?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLiveStats(t *testing.T) {
	f := newFixture(t, false)
	for _, hr := range []int{60, 80, 100} {
		f.window.Add(domain.Sample{HeartRate: hr, Timestamp: base})
	}

	rr := f.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[StatsResponse](t, rr)
	require.Equal(t, "live", resp.Source)
	require.Equal(t, 3, resp.Count)
	require.Equal(t, 60, resp.Min)
	require.Equal(t, 100, resp.Max)
	require.InDelta(t, 80.0, resp.Avg, 1e-9)
	require.Equal(t, 3, resp.Subscribers)

	rr = f.do(t, http.MethodPost, "/v1/stats", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestWindowedStatsUseStore(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	// The handler clock reads base+2h, so only the last two samples fall in a 1h window.
	require.NoError(t, f.store.InsertSample(ctx, domain.Sample{DeviceType: "unknown", HeartRate: 50, Timestamp: base}))
	require.NoError(t, f.store.InsertSample(ctx, domain.Sample{DeviceType: "unknown", HeartRate: 90, Timestamp: base.Add(70 * time.Minute)}))
	require.NoError(t, f.store.InsertSample(ctx, domain.Sample{DeviceType: "armband", HeartRate: 110, Timestamp: base.Add(100 * time.Minute)}))

	rr := f.do(t, http.MethodGet, "/v1/stats?window=1h", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[StatsResponse](t, rr)
	require.Equal(t, "store", resp.Source)
	require.Equal(t, "1h0m0s", resp.Window)
	require.Equal(t, 2, resp.Count)
	require.InDelta(t, 100.0, resp.Avg, 1e-9)

	rr = f.do(t, http.MethodGet, "/v1/stats?window=soon", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/devices", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	devices := decode[DevicesResponse](t, rr)
	require.Equal(t, []domain.DeviceTypeCount{{DeviceType: "armband", Count: 1}, {DeviceType: "unknown", Count: 2}}, devices.Items)

	rr = f.do(t, http.MethodGet, "/v1/samples/recent?limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	recent := decode[map[string][]map[string]any](t, rr)["items"]
	require.Len(t, recent, 2)
	require.EqualValues(t, 90, recent[0]["heart_rate"])
	require.EqualValues(t, 110, recent[1]["heart_rate"])
}

func TestStoreQueriesWithoutStore(t *testing.T) {
	f := newFixture(t, false)
	f.window.Add(domain.Sample{HeartRate: 70, Timestamp: base})
	f.window.Add(domain.Sample{HeartRate: 75, Timestamp: base.Add(time.Second)})

	rr := f.do(t, http.MethodGet, "/v1/stats?window=1h", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "store_unavailable", errorType(t, rr))

	rr = f.do(t, http.MethodGet, "/v1/devices", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/samples/recent", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	recent := decode[map[string][]map[string]any](t, rr)["items"]
	require.Len(t, recent, 2)
	require.Equal(t, "sample", recent[0]["type"])

	rr = f.do(t, http.MethodGet, "/v1/samples/recent?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	rr := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}
