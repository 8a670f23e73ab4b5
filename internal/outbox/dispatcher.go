// Package outbox exports telemetry events to Kafka off the ingest path.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DefaultQueueSize     = 4096
	DefaultBatchSize     = 100
	DefaultFlushInterval = 500 * time.Millisecond
	defaultWriteTimeout  = 10 * time.Second
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// Message is one queued event.
type Message struct {
	Topic string
	Key   string
	Value []byte
	Time  time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithQueueSize bounds the number of events waiting for export.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithBatchSize sets how many events trigger an immediate flush.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithFlushInterval sets the longest an event waits before a partial batch is flushed.
func WithFlushInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.flushInterval = interval
		}
	}
}

// WithWriteTimeout bounds a single Kafka write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.writeTimeout = timeout
		}
	}
}

// Dispatcher buffers events in a bounded queue and delivers them to Kafka in
// per-topic batches. Enqueue never blocks; a full queue sheds the event.
type Dispatcher struct {
	producer         messageWriter
	logger           *slog.Logger
	queue            chan Message
	queueSize        int
	batchSize        int
	flushInterval    time.Duration
	writeTimeout     time.Duration
	now              func() time.Time
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(producer messageWriter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		producer:         producer,
		logger:           slog.Default().With("component", "outbox"),
		queueSize:        DefaultQueueSize,
		batchSize:        DefaultBatchSize,
		flushInterval:    DefaultFlushInterval,
		writeTimeout:     defaultWriteTimeout,
		now:              func() time.Time { return time.Now().UTC() },
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan Message, d.queueSize)
	return d
}

// Enqueue queues value for topic. It reports false when the queue is full.
func (d *Dispatcher) Enqueue(topic, key string, value []byte) bool {
	msg := Message{Topic: topic, Key: key, Value: value, Time: d.now()}
	select {
	case d.queue <- msg:
		queueDepth.Inc()
		return true
	default:
		droppedCounter.Inc()
		return false
	}
}

// Start runs the delivery loop until ctx is cancelled, then flushes what is
// still queued. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.flushInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	batch := make([]Message, 0, d.batchSize)
	for {
		select {
		case <-ctx.Done():
			d.drain(batch)
			return
		case msg := <-d.queue:
			queueDepth.Dec()
			batch = append(batch, msg)
			if len(batch) >= d.batchSize {
				d.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				d.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// Wait waits until the dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) drain(batch []Message) {
	ctx := context.Background()
	for {
		select {
		case msg := <-d.queue:
			queueDepth.Dec()
			batch = append(batch, msg)
			if len(batch) >= d.batchSize {
				d.flush(ctx, batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				d.flush(ctx, batch)
			}
			return
		}
	}
}

func (d *Dispatcher) flush(ctx context.Context, batch []Message) {
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	order := make([]string, 0, 2)
	byTopic := make(map[string][]kafka.Message)
	for _, msg := range batch {
		if _, ok := byTopic[msg.Topic]; !ok {
			order = append(order, msg.Topic)
		}
		byTopic[msg.Topic] = append(byTopic[msg.Topic], kafka.Message{
			Key:   []byte(msg.Key),
			Value: msg.Value,
			Time:  msg.Time,
		})
	}

	for _, topic := range order {
		records := byTopic[topic]
		writeCtx, cancel := context.WithTimeout(ctx, d.writeTimeout)
		err := d.producer.WriteMessages(writeCtx, topic, records...)
		cancel()
		if err != nil {
			failedCounter.Add(float64(len(records)))
			if !errors.Is(err, context.Canceled) {
				d.logger.Warn("export batch failed", "topic", topic, "events", len(records), "err", err)
			}
			continue
		}
		deliveredCounter.Add(float64(len(records)))
	}
}
