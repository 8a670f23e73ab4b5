// Package activity tracks GPS activities from start to completion.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/heartstream/internal/domain"
	"example.com/heartstream/internal/observability"
)

// EventSink receives activity events as they happen. Calls for one activity are
// serialised in sequence order with the completion last; implementations must
// not block or call back into the Tracker.
type EventSink interface {
	WaypointAdded(ctx context.Context, waypoint domain.Waypoint)
	ActivityCompleted(ctx context.Context, activity domain.Activity)
}

// WaypointInput is a GPS fix submitted for an active activity.
type WaypointInput struct {
	Latitude  *float64
	Longitude *float64
	HeartRate *int
}

// Option configures optional behaviour for the Tracker.
type Option func(*Tracker)

// WithStore enables write-through persistence.
func WithStore(store domain.ActivityStore) Option {
	return func(t *Tracker) {
		t.store = store
	}
}

// WithEventSink sets the receiver of waypoint and completion events.
func WithEventSink(sink EventSink) Option {
	return func(t *Tracker) {
		t.sink = sink
	}
}

// WithLogger overrides the logger used to report store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

type record struct {
	activity  domain.Activity
	waypoints []domain.Waypoint
	// emit is taken before t.mu is released and held across the sink call, so
	// events for one activity reach the sink in the order they were applied.
	emit sync.Mutex
}

// Tracker owns the activity table. All methods are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*record

	store  domain.ActivityStore
	sink   EventSink
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker constructs a Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		records: make(map[string]*record),
		logger:  slog.Default().With("component", "activity"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start opens a new active activity for deviceID.
func (t *Tracker) Start(ctx context.Context, deviceID string) domain.Activity {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		deviceID = domain.DefaultDeviceID
	}

	act := domain.Activity{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		StartTime: t.now().UTC(),
		Status:    domain.ActivityStatusActive,
	}

	t.mu.Lock()
	t.records[act.ID] = &record{activity: act}
	t.mu.Unlock()

	observability.RecordActivity("started")
	t.persist(ctx, "save_activity", act.ID, func(s domain.ActivityStore) error {
		return s.SaveActivity(ctx, act)
	})
	return act
}

// AddWaypoint appends a GPS fix to an active activity.
func (t *Tracker) AddWaypoint(ctx context.Context, id string, in WaypointInput) (domain.Waypoint, error) {
	if in.Latitude == nil || in.Longitude == nil {
		return domain.Waypoint{}, fmt.Errorf("%w: latitude and longitude are required", domain.ErrInvalidArgument)
	}
	lat, lon := *in.Latitude, *in.Longitude
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return domain.Waypoint{}, fmt.Errorf("%w: latitude %v out of range", domain.ErrInvalidArgument, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return domain.Waypoint{}, fmt.Errorf("%w: longitude %v out of range", domain.ErrInvalidArgument, lon)
	}

	var hr *int
	if in.HeartRate != nil {
		v := *in.HeartRate
		hr = &v
	}

	t.mu.Lock()
	rec, err := t.activeLocked(id)
	if err != nil {
		t.mu.Unlock()
		return domain.Waypoint{}, err
	}
	ts := t.now().UTC()
	if n := len(rec.waypoints); n > 0 {
		if last := rec.waypoints[n-1].Timestamp; !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
	}
	wp := domain.Waypoint{
		ActivityID: id,
		Sequence:   len(rec.waypoints),
		Latitude:   lat,
		Longitude:  lon,
		HeartRate:  hr,
		Timestamp:  ts,
	}
	rec.waypoints = append(rec.waypoints, wp)
	rec.emit.Lock()
	t.mu.Unlock()

	if t.sink != nil {
		t.sink.WaypointAdded(ctx, wp)
	}
	rec.emit.Unlock()
	t.persist(ctx, "append_waypoint", id, func(s domain.ActivityStore) error {
		return s.AppendWaypoint(ctx, wp)
	})
	return wp, nil
}

// Stop completes an active activity and returns its summary. calories, when
// non-nil, replaces the distance based estimate.
func (t *Tracker) Stop(ctx context.Context, id string, calories *float64) (domain.Activity, error) {
	if calories != nil && (math.IsNaN(*calories) || *calories < 0) {
		return domain.Activity{}, fmt.Errorf("%w: calories must be >= 0", domain.ErrInvalidArgument)
	}

	t.mu.Lock()
	rec, err := t.activeLocked(id)
	if err != nil {
		t.mu.Unlock()
		return domain.Activity{}, err
	}
	end := t.now().UTC()
	if end.Before(rec.activity.StartTime) {
		end = rec.activity.StartTime
	}
	summarize(&rec.activity, rec.waypoints, end, calories)
	act := rec.activity
	rec.emit.Lock()
	t.mu.Unlock()

	if t.sink != nil {
		t.sink.ActivityCompleted(ctx, act)
	}
	rec.emit.Unlock()

	observability.RecordActivity("completed")
	t.persist(ctx, "save_activity", id, func(s domain.ActivityStore) error {
		return s.SaveActivity(ctx, act)
	})
	return act, nil
}

// Get returns the activity and a copy of its waypoints in append order.
func (t *Tracker) Get(id string) (domain.Activity, []domain.Waypoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return domain.Activity{}, nil, fmt.Errorf("activity %s: %w", id, domain.ErrNotFound)
	}
	waypoints := make([]domain.Waypoint, len(rec.waypoints))
	copy(waypoints, rec.waypoints)
	return rec.activity, waypoints, nil
}

// List returns completed activities, most recent first. An empty deviceID matches every device.
func (t *Tracker) List(deviceID string) []domain.Activity {
	t.mu.Lock()
	out := make([]domain.Activity, 0, len(t.records))
	for _, rec := range t.records {
		if !rec.activity.Completed() {
			continue
		}
		if deviceID != "" && rec.activity.DeviceID != deviceID {
			continue
		}
		out = append(out, rec.activity)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Delete removes an activity and its waypoints. Unknown ids fail with domain.ErrNotFound.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	if _, ok := t.records[id]; !ok {
		t.mu.Unlock()
		return fmt.Errorf("activity %s: %w", id, domain.ErrNotFound)
	}
	delete(t.records, id)
	t.mu.Unlock()

	observability.RecordActivity("deleted")
	t.persist(ctx, "delete_activity", id, func(s domain.ActivityStore) error {
		return s.DeleteActivity(ctx, id)
	})
	return nil
}

// Restore loads persisted activities into the table and reports how many were added.
// Activities already present in memory are left untouched.
func (t *Tracker) Restore(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	activities, err := t.store.ListActivities(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list activities: %w", err)
	}

	restored := 0
	for _, act := range activities {
		stored, waypoints, err := t.store.GetActivity(ctx, act.ID)
		if err != nil {
			return restored, fmt.Errorf("load activity %s: %w", act.ID, err)
		}
		t.mu.Lock()
		if _, exists := t.records[stored.ID]; !exists {
			t.records[stored.ID] = &record{activity: *stored, waypoints: waypoints}
			restored++
		}
		t.mu.Unlock()
	}
	return restored, nil
}

func (t *Tracker) activeLocked(id string) (*record, error) {
	rec, ok := t.records[id]
	if !ok {
		return nil, fmt.Errorf("activity %s: %w", id, domain.ErrNotFound)
	}
	if rec.activity.Completed() {
		return nil, fmt.Errorf("activity %s is %s: %w", id, rec.activity.Status, domain.ErrInvalidState)
	}
	return rec, nil
}

func (t *Tracker) persist(ctx context.Context, op, id string, fn func(domain.ActivityStore) error) {
	if t.store == nil {
		return
	}
	if err := fn(t.store); err != nil {
		observability.RecordPersistenceFailure(op)
		t.logger.Error("activity store write failed", "operation", op, "activity_id", id, "error", err)
	}
}
