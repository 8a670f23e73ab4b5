// Package events defines the JSON payloads pushed to subscribers and exported to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/heartstream/internal/domain"
)

// Event type discriminators carried in the "type" field.
const (
	TypeSample            = "sample"
	TypeWaypoint          = "waypoint"
	TypeStats             = "stats"
	TypeActivityCompleted = "activity_completed"
)

// Sample is broadcast for every accepted heart-rate reading.
type Sample struct {
	Type        string    `json:"type"`
	HeartRate   int       `json:"heart_rate"`
	RRIntervals []float64 `json:"rr_intervals"`
	Timestamp   time.Time `json:"timestamp"`
	DeviceType  string    `json:"device_type"`
	DeviceID    string    `json:"device_id"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
}

// NewSample converts a domain sample into its wire event.
func NewSample(s domain.Sample) Sample {
	rr := s.RRIntervals
	if rr == nil {
		rr = []float64{}
	}
	return Sample{
		Type:        TypeSample,
		HeartRate:   s.HeartRate,
		RRIntervals: rr,
		Timestamp:   s.Timestamp.UTC(),
		DeviceType:  s.DeviceType,
		DeviceID:    s.DeviceID,
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
	}
}

// Domain converts the event back into a sample.
func (e Sample) Domain() domain.Sample {
	rr := e.RRIntervals
	if rr == nil {
		rr = []float64{}
	}
	return domain.Sample{
		DeviceID:    e.DeviceID,
		DeviceType:  e.DeviceType,
		HeartRate:   e.HeartRate,
		RRIntervals: rr,
		Latitude:    e.Latitude,
		Longitude:   e.Longitude,
		Timestamp:   e.Timestamp,
	}
}

// Waypoint is broadcast when a GPS fix is appended to an activity.
type Waypoint struct {
	Type       string    `json:"type"`
	ActivityID string    `json:"activity_id"`
	Sequence   int       `json:"sequence"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	HeartRate  *int      `json:"heart_rate"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewWaypoint converts a domain waypoint into its wire event.
func NewWaypoint(wp domain.Waypoint) Waypoint {
	return Waypoint{
		Type:       TypeWaypoint,
		ActivityID: wp.ActivityID,
		Sequence:   wp.Sequence,
		Latitude:   wp.Latitude,
		Longitude:  wp.Longitude,
		HeartRate:  wp.HeartRate,
		Timestamp:  wp.Timestamp.UTC(),
	}
}

// Stats is the periodic summary of the live window.
type Stats struct {
	Type        string  `json:"type"`
	Avg         float64 `json:"avg"`
	Min         int     `json:"min"`
	Max         int     `json:"max"`
	Count       int     `json:"count"`
	Subscribers int     `json:"subscribers"`
}

// NewStats builds a stats event.
func NewStats(s domain.Stats, subscribers int) Stats {
	return Stats{
		Type:        TypeStats,
		Avg:         s.Avg,
		Min:         s.Min,
		Max:         s.Max,
		Count:       s.Count,
		Subscribers: subscribers,
	}
}

// ActivityCompleted carries the summary of a stopped activity.
type ActivityCompleted struct {
	Type            string    `json:"type"`
	ActivityID      string    `json:"activity_id"`
	DeviceID        string    `json:"device_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DistanceKM      float64   `json:"distance_km"`
	AvgSpeed        float64   `json:"avg_speed"`
	AvgHeartRate    float64   `json:"avg_heart_rate"`
	MinHeartRate    int       `json:"min_heart_rate"`
	MaxHeartRate    int       `json:"max_heart_rate"`
	Calories        float64   `json:"calories"`
	DurationMinutes float64   `json:"duration_minutes"`
}

// NewActivityCompleted converts a completed activity into its wire event.
func NewActivityCompleted(act domain.Activity) ActivityCompleted {
	evt := ActivityCompleted{
		Type:            TypeActivityCompleted,
		ActivityID:      act.ID,
		DeviceID:        act.DeviceID,
		StartTime:       act.StartTime.UTC(),
		DistanceKM:      act.DistanceKM,
		AvgSpeed:        act.AvgSpeed,
		AvgHeartRate:    act.AvgHeartRate,
		MinHeartRate:    act.MinHeartRate,
		MaxHeartRate:    act.MaxHeartRate,
		Calories:        act.Calories,
		DurationMinutes: act.DurationMinutes,
	}
	if act.EndTime != nil {
		evt.EndTime = act.EndTime.UTC()
	}
	return evt
}

// Encode marshals an event for the wire.
func Encode(evt any) ([]byte, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return body, nil
}

// DecodeSample parses a sample event, rejecting payloads of any other type.
func DecodeSample(body []byte) (Sample, error) {
	var evt Sample
	if err := json.Unmarshal(body, &evt); err != nil {
		return Sample{}, fmt.Errorf("decode sample event: %w", err)
	}
	if evt.Type != TypeSample {
		return Sample{}, fmt.Errorf("decode sample event: unexpected type %q", evt.Type)
	}
	return evt, nil
}

// Domain converts the event back into a completed activity.
func (e ActivityCompleted) Domain() domain.Activity {
	act := domain.Activity{
		ID:              e.ActivityID,
		DeviceID:        e.DeviceID,
		StartTime:       e.StartTime.UTC(),
		Status:          domain.ActivityStatusCompleted,
		DistanceKM:      e.DistanceKM,
		AvgSpeed:        e.AvgSpeed,
		AvgHeartRate:    e.AvgHeartRate,
		MinHeartRate:    e.MinHeartRate,
		MaxHeartRate:    e.MaxHeartRate,
		Calories:        e.Calories,
		DurationMinutes: e.DurationMinutes,
	}
	if !e.EndTime.IsZero() {
		end := e.EndTime.UTC()
		act.EndTime = &end
	}
	return act
}

// DecodeActivityCompleted parses an activity summary event.
func DecodeActivityCompleted(body []byte) (ActivityCompleted, error) {
	var evt ActivityCompleted
	if err := json.Unmarshal(body, &evt); err != nil {
		return ActivityCompleted{}, fmt.Errorf("decode activity event: %w", err)
	}
	if evt.Type != TypeActivityCompleted {
		return ActivityCompleted{}, fmt.Errorf("decode activity event: unexpected type %q", evt.Type)
	}
	if evt.ActivityID == "" {
		return ActivityCompleted{}, fmt.Errorf("decode activity event: missing activity_id")
	}
	return evt, nil
}

// PeekType returns the "type" discriminator of an encoded event.
func PeekType(body []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "", fmt.Errorf("decode event type: %w", err)
	}
	if head.Type == "" {
		return "", fmt.Errorf("decode event type: missing type")
	}
	return head.Type, nil
}
