package domain

import (
	"context"
	"time"
)

// SampleStore persists accepted samples and answers aggregate queries over them.
type SampleStore interface {
	InsertSample(ctx context.Context, sample Sample) error
	QueryStats(ctx context.Context, since time.Time) (Stats, error)
	QueryRecent(ctx context.Context, limit int) ([]Sample, error)
	DeviceTypeCounts(ctx context.Context) ([]DeviceTypeCount, error)
}

// ActivityStore persists activities and their waypoints.
type ActivityStore interface {
	SaveActivity(ctx context.Context, activity Activity) error
	AppendWaypoint(ctx context.Context, waypoint Waypoint) error
	GetActivity(ctx context.Context, id string) (*Activity, []Waypoint, error)
	ListActivities(ctx context.Context, deviceID string) ([]Activity, error)
	DeleteActivity(ctx context.Context, id string) error
}

// Store is the full persistence contract consumed by the service.
type Store interface {
	SampleStore
	ActivityStore
	Close() error
}
