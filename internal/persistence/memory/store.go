// Package memory implements an in-process Store used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/heartstream/internal/domain"
)

// DefaultMaxSamples bounds the sample history when no limit is configured.
const DefaultMaxSamples = 10000

// Store keeps samples, activities and waypoints in memory. Sample history is
// bounded; the oldest samples are discarded first.
type Store struct {
	mu         sync.RWMutex
	maxSamples int
	samples    []domain.Sample
	activities map[string]domain.Activity
	waypoints  map[string][]domain.Waypoint
}

// New constructs a Store retaining at most maxSamples samples.
func New(maxSamples int) *Store {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Store{
		maxSamples: maxSamples,
		activities: make(map[string]domain.Activity),
		waypoints:  make(map[string][]domain.Waypoint),
	}
}

func (s *Store) InsertSample(_ context.Context, sample domain.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample.RRIntervals = append([]float64{}, sample.RRIntervals...)
	s.samples = append(s.samples, sample)
	if over := len(s.samples) - s.maxSamples; over > 0 {
		s.samples = append(s.samples[:0:0], s.samples[over:]...)
	}
	return nil
}

func (s *Store) QueryStats(_ context.Context, since time.Time) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out domain.Stats
	sum := 0
	for _, sample := range s.samples {
		if !sample.Accepted() || sample.Timestamp.Before(since) {
			continue
		}
		if out.Count == 0 || sample.HeartRate < out.Min {
			out.Min = sample.HeartRate
		}
		if sample.HeartRate > out.Max {
			out.Max = sample.HeartRate
		}
		sum += sample.HeartRate
		out.Count++
	}
	if out.Count > 0 {
		out.Avg = float64(sum) / float64(out.Count)
	}
	return out, nil
}

func (s *Store) QueryRecent(_ context.Context, limit int) ([]domain.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return []domain.Sample{}, nil
	}
	if limit > len(s.samples) {
		limit = len(s.samples)
	}
	out := make([]domain.Sample, limit)
	copy(out, s.samples[len(s.samples)-limit:])
	return out, nil
}

func (s *Store) DeviceTypeCounts(_ context.Context) ([]domain.DeviceTypeCount, error) {
	s.mu.RLock()
	counts := make(map[string]int)
	for _, sample := range s.samples {
		counts[sample.DeviceType]++
	}
	s.mu.RUnlock()

	out := make([]domain.DeviceTypeCount, 0, len(counts))
	for deviceType, n := range counts {
		out = append(out, domain.DeviceTypeCount{DeviceType: deviceType, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceType < out[j].DeviceType })
	return out, nil
}

func (s *Store) SaveActivity(_ context.Context, activity domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[activity.ID] = activity
	return nil
}

func (s *Store) AppendWaypoint(_ context.Context, waypoint domain.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activities[waypoint.ActivityID]; !ok {
		return fmt.Errorf("activity %s: %w", waypoint.ActivityID, domain.ErrNotFound)
	}
	list := s.waypoints[waypoint.ActivityID]
	for i := range list {
		if list[i].Sequence == waypoint.Sequence {
			list[i] = waypoint
			return nil
		}
	}
	list = append(list, waypoint)
	sort.Slice(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })
	s.waypoints[waypoint.ActivityID] = list
	return nil
}

func (s *Store) GetActivity(_ context.Context, id string) (*domain.Activity, []domain.Waypoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	act, ok := s.activities[id]
	if !ok {
		return nil, nil, fmt.Errorf("activity %s: %w", id, domain.ErrNotFound)
	}
	waypoints := make([]domain.Waypoint, len(s.waypoints[id]))
	copy(waypoints, s.waypoints[id])
	return &act, waypoints, nil
}

func (s *Store) ListActivities(_ context.Context, deviceID string) ([]domain.Activity, error) {
	s.mu.RLock()
	out := make([]domain.Activity, 0, len(s.activities))
	for _, act := range s.activities {
		if deviceID == "" || act.DeviceID == deviceID {
			out = append(out, act)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteActivity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activities[id]; !ok {
		return fmt.Errorf("activity %s: %w", id, domain.ErrNotFound)
	}
	delete(s.activities, id)
	delete(s.waypoints, id)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
