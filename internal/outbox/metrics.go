package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Number of events successfully published to Kafka.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Number of events whose Kafka write failed.",
	})

	droppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "outbox",
		Name:      "events_dropped_total",
		Help:      "Number of events shed because the export queue was full.",
	})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "heartstream",
		Subsystem: "outbox",
		Name:      "queue_depth",
		Help:      "Events waiting in the export queue.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "heartstream",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent delivering one export batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, droppedCounter, queueDepth, batchDuration)
}
