package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/heartstream/internal/domain"
)

func TestSampleEventShape(t *testing.T) {
	ts := time.Date(2025, time.October, 27, 9, 30, 0, 0, time.UTC)
	body, err := Encode(NewSample(domain.Sample{
		DeviceID:   "COOSPO",
		DeviceType: "unknown",
		HeartRate:  70,
		Timestamp:  ts,
	}))
	require.NoError(t, err)
	require.JSONEq(t, `{
		"type": "sample",
		"heart_rate": 70,
		"rr_intervals": [],
		"timestamp": "2025-10-27T09:30:00Z",
		"device_type": "unknown",
		"device_id": "COOSPO"
	}`, string(body))
}

func TestSampleEventCarriesCoordinates(t *testing.T) {
	lat, lon := 45.46, 9.19
	evt := NewSample(domain.Sample{HeartRate: 80, Latitude: &lat, Longitude: &lon, RRIntervals: []float64{800}})
	body, err := Encode(evt)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	require.Equal(t, 45.46, raw["latitude"])
	require.Equal(t, 9.19, raw["longitude"])

	decoded, err := DecodeSample(body)
	require.NoError(t, err)
	back := decoded.Domain()
	require.Equal(t, 80, back.HeartRate)
	require.Equal(t, []float64{800}, back.RRIntervals)
	require.Equal(t, lat, *back.Latitude)
}

func TestDecodeSampleRejectsOtherTypes(t *testing.T) {
	_, err := DecodeSample([]byte(`{"type":"stats","avg":1}`))
	require.Error(t, err)

	_, err = DecodeSample([]byte(`not json`))
	require.Error(t, err)
}

func TestWaypointEventKeepsNullHeartRate(t *testing.T) {
	body, err := Encode(NewWaypoint(domain.Waypoint{ActivityID: "a1", Latitude: 1, Longitude: 2}))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	require.Equal(t, TypeWaypoint, raw["type"])
	require.Contains(t, raw, "heart_rate")
	require.Nil(t, raw["heart_rate"])
}

func TestActivityCompletedEvent(t *testing.T) {
	start := time.Date(2025, time.October, 27, 7, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)
	evt := NewActivityCompleted(domain.Activity{
		ID:              "a1",
		DeviceID:        "watch-1",
		StartTime:       start,
		EndTime:         &end,
		Status:          domain.ActivityStatusCompleted,
		DistanceKM:      7.5,
		AvgSpeed:        6,
		Calories:        525,
		DurationMinutes: 45,
	})
	require.Equal(t, TypeActivityCompleted, evt.Type)
	require.Equal(t, end, evt.EndTime)
	require.Equal(t, 525.0, evt.Calories)
}

func TestActivityCompletedRoundTripsToDomain(t *testing.T) {
	start := time.Date(2025, time.October, 27, 7, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)
	act := domain.Activity{
		ID:              "act-1",
		DeviceID:        "watch",
		StartTime:       start,
		EndTime:         &end,
		Status:          domain.ActivityStatusCompleted,
		DistanceKM:      7.5,
		AvgSpeed:        6,
		AvgHeartRate:    142.5,
		MinHeartRate:    101,
		MaxHeartRate:    171,
		Calories:        525,
		DurationMinutes: 45,
	}

	body, err := Encode(NewActivityCompleted(act))
	require.NoError(t, err)

	kind, err := PeekType(body)
	require.NoError(t, err)
	require.Equal(t, TypeActivityCompleted, kind)

	evt, err := DecodeActivityCompleted(body)
	require.NoError(t, err)
	got := evt.Domain()
	require.True(t, end.Equal(*got.EndTime))
	got.EndTime = act.EndTime
	require.Equal(t, act, got)
}

func TestPeekTypeRejectsUntypedPayloads(t *testing.T) {
	_, err := PeekType([]byte(`{"heart_rate":70}`))
	require.Error(t, err)

	_, err = PeekType([]byte(`not json`))
	require.Error(t, err)

	_, err = DecodeActivityCompleted([]byte(`{"type":"sample"}`))
	require.Error(t, err)
}
