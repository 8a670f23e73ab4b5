package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Number of Kafka messages successfully handled.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and event type.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Number of messages without a readable event type, per topic.",
	}, []string{"topic"})

	ignoredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heartstream",
		Subsystem: "consumer",
		Name:      "events_ignored_total",
		Help:      "Events acknowledged without being archived, by event type.",
	}, []string{"event_type"})

	endToEndLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "heartstream",
		Subsystem: "consumer",
		Name:      "end_to_end_lag_seconds",
		Help:      "Delay between an event being produced and archived.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, ignoredCounter, endToEndLag)
}

func recordProcessed(msg Message, now time.Time) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		endToEndLag.WithLabelValues(msg.Topic).Observe(max(now.Sub(msg.Timestamp).Seconds(), 0))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordIgnored(eventType string) {
	ignoredCounter.WithLabelValues(eventType).Inc()
}
