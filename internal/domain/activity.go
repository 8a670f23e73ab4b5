package domain

import "time"

// ActivityStatus is the lifecycle state of an activity.
type ActivityStatus string

const (
	ActivityStatusActive    ActivityStatus = "active"
	ActivityStatusCompleted ActivityStatus = "completed"
)

// Activity is a GPS-tracked workout owned by one device.
type Activity struct {
	ID              string
	DeviceID        string
	StartTime       time.Time
	EndTime         *time.Time
	Status          ActivityStatus
	DistanceKM      float64
	AvgSpeed        float64 // minutes per km
	AvgHeartRate    float64
	MinHeartRate    int
	MaxHeartRate    int
	Calories        float64
	DurationMinutes float64
}

// Completed reports whether the activity has been stopped.
func (a Activity) Completed() bool {
	return a.Status == ActivityStatusCompleted
}

// Waypoint is a GPS fix appended to an active activity.
type Waypoint struct {
	ActivityID string
	Sequence   int
	Latitude   float64
	Longitude  float64
	HeartRate  *int
	Timestamp  time.Time
}

// Cursor marks a position in a most-recent-first activity listing.
type Cursor struct {
	StartedAt time.Time
	ID        string
}
