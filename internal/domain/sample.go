package domain

import "time"

const (
	// DefaultDeviceType tags samples whose producer did not say what it is.
	DefaultDeviceType = "unknown"
	// DefaultDeviceID identifies unlabeled legacy producers.
	DefaultDeviceID = "COOSPO"
)

// Sample is one decoded heart-rate reading from a producer.
type Sample struct {
	DeviceID    string
	DeviceType  string
	HeartRate   int
	RRIntervals []float64 // milliseconds, in arrival order
	Latitude    *float64
	Longitude   *float64
	Timestamp   time.Time
}

// Accepted reports whether the sample may be stored or broadcast.
func (s Sample) Accepted() bool {
	return s.HeartRate > 0
}

// Stats summarises heart rate over a set of samples.
type Stats struct {
	Avg   float64 `json:"avg"`
	Min   int     `json:"min"`
	Max   int     `json:"max"`
	Count int     `json:"count"`
}

// DeviceTypeCount is the number of stored samples per device type.
type DeviceTypeCount struct {
	DeviceType string `json:"device_type"`
	Count      int    `json:"count"`
}
