// Package observability exposes the Prometheus collectors and logger setup shared by the service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	samplesAcceptedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "ingest",
		Name:      "samples_accepted_total",
		Help:      "Number of decoded samples with a positive heart rate, by device type.",
	}, []string{"device_type"})

	samplesDroppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "ingest",
		Name:      "samples_dropped_total",
		Help:      "Number of producer messages that did not yield an accepted sample, by reason.",
	}, []string{"reason"})

	connectionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "ingest",
		Name:      "connections_total",
		Help:      "Number of WebSocket connections classified, by role.",
	}, []string{"role"})

	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "heartstream",
		Subsystem: "broadcast",
		Name:      "subscribers",
		Help:      "Number of live subscribers.",
	})

	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "broadcast",
		Name:      "deliveries_total",
		Help:      "Number of events written to subscribers.",
	})

	deliveryFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "broadcast",
		Name:      "delivery_failures_total",
		Help:      "Number of subscriber writes that failed and evicted the subscriber.",
	})

	persistenceFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "persistence",
		Name:      "failures_total",
		Help:      "Number of store writes that failed or were shed, by operation.",
	}, []string{"operation"})

	activityCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "activity",
		Name:      "transitions_total",
		Help:      "Number of activity lifecycle transitions, by event.",
	}, []string{"event"})

	samplePersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "heartstream",
		Subsystem: "persistence",
		Name:      "last_sample_persisted_timestamp_seconds",
		Help:      "Timestamp of the most recent sample written to the store.",
	})
)

func init() {
	prometheus.MustRegister(
		samplesAcceptedCounter,
		samplesDroppedCounter,
		connectionsCounter,
		subscribersGauge,
		deliveredCounter,
		deliveryFailedCounter,
		persistenceFailureCounter,
		activityCounter,
		samplePersistGauge,
	)
}

// Drop reasons reported by RecordSampleDropped.
const (
	DropDecodeError   = "decode_error"
	DropZeroHeartRate = "zero_heart_rate"
)

// RecordSampleAccepted counts a sample that entered the live path.
func RecordSampleAccepted(deviceType string) {
	samplesAcceptedCounter.WithLabelValues(deviceType).Inc()
}

// RecordSampleDropped counts a producer message that produced no sample.
func RecordSampleDropped(reason string) {
	samplesDroppedCounter.WithLabelValues(reason).Inc()
}

// RecordConnection counts a classified connection.
func RecordConnection(role string) {
	connectionsCounter.WithLabelValues(role).Inc()
}

// SetSubscribers publishes the current subscriber count.
func SetSubscribers(n int) {
	subscribersGauge.Set(float64(n))
}

// RecordDeliveries counts subscriber writes that landed and those that failed.
func RecordDeliveries(delivered, failed int) {
	if delivered > 0 {
		deliveredCounter.Add(float64(delivered))
	}
	if failed > 0 {
		deliveryFailedCounter.Add(float64(failed))
	}
}

// RecordPersistenceFailure counts a store write that did not land.
func RecordPersistenceFailure(operation string) {
	persistenceFailureCounter.WithLabelValues(operation).Inc()
}

// RecordActivity counts an activity lifecycle event such as "started" or "completed".
func RecordActivity(event string) {
	activityCounter.WithLabelValues(event).Inc()
}

// PersistenceFailures returns the collector for tests.
func PersistenceFailures(operation string) prometheus.Counter {
	return persistenceFailureCounter.WithLabelValues(operation)
}

// SamplesDropped returns the collector for tests.
func SamplesDropped(reason string) prometheus.Counter {
	return samplesDroppedCounter.WithLabelValues(reason)
}

// DeliveryFailures returns the collector for tests.
func DeliveryFailures() prometheus.Counter {
	return deliveryFailedCounter
}

// RecordSamplePersisted updates the persistence watermark gauge.
func RecordSamplePersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	samplePersistGauge.Set(float64(ts.Unix()))
}

// SamplePersistWatermark exposes the persistence watermark for assertions.
func SamplePersistWatermark() prometheus.Gauge {
	return samplePersistGauge
}
