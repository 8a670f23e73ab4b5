// Package ingest classifies WebSocket connections and drives samples through the live pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"example.com/heartstream/internal/broadcast"
	"example.com/heartstream/internal/decoder"
	"example.com/heartstream/internal/domain"
	"example.com/heartstream/internal/events"
	"example.com/heartstream/internal/observability"
	"example.com/heartstream/internal/stats"
)

// Connection roles.
const (
	RoleProducer   = "producer"
	RoleSubscriber = "subscriber"
)

const (
	// DefaultSentinel is the first message a dashboard sends to declare itself a subscriber.
	DefaultSentinel        = "dashboard"
	defaultClassifyTimeout = 2 * time.Second
	defaultPersistQueue    = 1024
	defaultWriteTimeout    = 5 * time.Second
	drainTimeout           = 5 * time.Second
)

// Conn is a bidirectional message connection. ReadMessage must honour ctx and
// return its error once ctx is done.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, payload []byte) error
	Close() error
}

// Exporter queues encoded events for asynchronous export. It reports false when
// the event was shed.
type Exporter interface {
	Enqueue(topic, key string, value []byte) bool
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClassifyTimeout sets how long a new connection may stay silent before it is
// treated as a subscriber.
func WithClassifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.classifyTimeout = d
		}
	}
}

// WithSentinel overrides the subscriber handshake token.
func WithSentinel(token string) Option {
	return func(s *Service) {
		if token != "" {
			s.sentinel = token
		}
	}
}

// WithEcho controls whether producers receive their own sample events.
func WithEcho(enabled bool) Option {
	return func(s *Service) {
		s.echo = enabled
	}
}

// WithWriteTimeout bounds echo writes to producers.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithStore persists accepted samples through a bounded queue of queueSize entries.
func WithStore(store domain.SampleStore, queueSize int) Option {
	return func(s *Service) {
		if queueSize <= 0 {
			queueSize = defaultPersistQueue
		}
		s.store = store
		s.queue = make(chan domain.Sample, queueSize)
	}
}

// WithExporter forwards sample events to sampleTopic and activity events to activityTopic.
func WithExporter(exporter Exporter, sampleTopic, activityTopic string) Option {
	return func(s *Service) {
		s.exporter = exporter
		s.sampleTopic = sampleTopic
		s.activityTopic = activityTopic
	}
}

// WithClock overrides the time source used to stamp samples.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service is the ingestion orchestrator.
type Service struct {
	window      *stats.Window
	broadcaster *broadcast.Broadcaster

	store domain.SampleStore
	queue chan domain.Sample

	exporter      Exporter
	sampleTopic   string
	activityTopic string

	classifyTimeout time.Duration
	sentinel        string
	echo            bool
	writeTimeout    time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// NewService constructs a Service feeding window and broadcaster.
func NewService(window *stats.Window, broadcaster *broadcast.Broadcaster, opts ...Option) *Service {
	s := &Service{
		window:          window,
		broadcaster:     broadcaster,
		classifyTimeout: defaultClassifyTimeout,
		sentinel:        DefaultSentinel,
		echo:            true,
		writeTimeout:    defaultWriteTimeout,
		logger:          slog.Default().With("component", "ingest"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleConnection serves conn until it closes or ctx is cancelled. The connection
// is closed on return.
func (s *Service) HandleConnection(ctx context.Context, conn Conn) {
	defer conn.Close()

	role, first, err := s.classify(ctx, conn)
	if err != nil {
		s.logger.Debug("connection closed before classification", "error", err)
		return
	}
	observability.RecordConnection(role)

	switch role {
	case RoleSubscriber:
		s.serveSubscriber(ctx, conn)
	default:
		s.serveProducer(ctx, conn, first)
	}
}

func (s *Service) classify(ctx context.Context, conn Conn) (string, []byte, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.classifyTimeout)
	defer cancel()

	msg, err := conn.ReadMessage(readCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return RoleSubscriber, nil, nil
		}
		return "", nil, err
	}
	if strings.TrimSpace(string(msg)) == s.sentinel {
		return RoleSubscriber, nil, nil
	}
	return RoleProducer, msg, nil
}

func (s *Service) serveSubscriber(ctx context.Context, conn Conn) {
	sub, err := s.broadcaster.Subscribe(ctx, conn)
	if err != nil {
		s.logger.Warn("subscribe failed", "error", err)
		return
	}
	defer s.broadcaster.Unsubscribe(sub)

	// Subscribers only listen; reading surfaces the close.
	for {
		if _, err := conn.ReadMessage(ctx); err != nil {
			return
		}
	}
}

func (s *Service) serveProducer(ctx context.Context, conn Conn, first []byte) {
	s.logger.Info("producer connected")
	defer s.logger.Info("producer disconnected")

	msg := first
	for {
		s.handleProducerMessage(ctx, conn, msg)

		var err error
		msg, err = conn.ReadMessage(ctx)
		if err != nil {
			return
		}
	}
}

func (s *Service) handleProducerMessage(ctx context.Context, conn Conn, raw []byte) {
	sample, payload, err := s.process(ctx, raw)
	if err != nil {
		s.logger.Warn("producer message rejected", "error", err)
		return
	}
	if sample == nil || !s.echo {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := conn.WriteMessage(writeCtx, payload); err != nil {
		s.logger.Debug("echo to producer failed", "error", err)
	}
}

// ProcessMessage decodes one producer message and, when it carries a positive heart
// rate, publishes, persists and exports it. A nil sample with a nil error means the
// reading was dropped by policy.
func (s *Service) ProcessMessage(ctx context.Context, raw []byte) (*domain.Sample, error) {
	sample, _, err := s.process(ctx, raw)
	return sample, err
}

func (s *Service) process(ctx context.Context, raw []byte) (*domain.Sample, []byte, error) {
	msg := decoder.ParseMessage(raw)
	reading, err := msg.Decode()
	if err != nil {
		observability.RecordSampleDropped(observability.DropDecodeError)
		return nil, nil, fmt.Errorf("decode %s message: %w", msg.Kind, err)
	}
	if reading.HeartRate <= 0 {
		observability.RecordSampleDropped(observability.DropZeroHeartRate)
		s.logger.Debug("sample without heart rate dropped", "device_id", msg.DeviceID, "device_type", msg.DeviceType)
		return nil, nil, nil
	}

	sample := domain.Sample{
		DeviceID:    msg.DeviceID,
		DeviceType:  msg.DeviceType,
		HeartRate:   reading.HeartRate,
		RRIntervals: reading.RRIntervals,
		Latitude:    msg.Latitude,
		Longitude:   msg.Longitude,
		Timestamp:   s.now().UTC(),
	}
	payload, err := events.Encode(events.NewSample(sample))
	if err != nil {
		return nil, nil, err
	}

	result := s.broadcaster.PublishWith(ctx, payload, func() {
		s.window.Add(sample)
	})
	observability.RecordSampleAccepted(sample.DeviceType)
	s.logger.Debug("sample accepted",
		"heart_rate", sample.HeartRate,
		"device_type", sample.DeviceType,
		"device_id", sample.DeviceID,
		"delivered", result.Delivered,
		"failed", result.Failed,
	)

	s.enqueuePersist(sample)
	s.export(s.sampleTopic, sample.DeviceID, payload)
	return &sample, payload, nil
}

// BroadcastStats publishes a summary of the live window to every subscriber.
func (s *Service) BroadcastStats(ctx context.Context) broadcast.PublishResult {
	payload, err := events.Encode(events.NewStats(s.window.Stats(), s.broadcaster.Count()))
	if err != nil {
		s.logger.Error("encode stats event", "error", err)
		return broadcast.PublishResult{}
	}
	return s.broadcaster.Publish(ctx, payload)
}

// WaypointAdded broadcasts and exports a waypoint event.
func (s *Service) WaypointAdded(ctx context.Context, wp domain.Waypoint) {
	payload, err := events.Encode(events.NewWaypoint(wp))
	if err != nil {
		s.logger.Error("encode waypoint event", "error", err)
		return
	}
	s.broadcaster.Publish(ctx, payload)
	s.export(s.activityTopic, wp.ActivityID, payload)
}

// ActivityCompleted broadcasts and exports an activity summary.
func (s *Service) ActivityCompleted(ctx context.Context, act domain.Activity) {
	payload, err := events.Encode(events.NewActivityCompleted(act))
	if err != nil {
		s.logger.Error("encode activity event", "error", err)
		return
	}
	s.broadcaster.Publish(ctx, payload)
	s.export(s.activityTopic, act.ID, payload)
}

// Run drains the persistence queue until ctx is cancelled, then flushes what is
// left with a short grace period.
func (s *Service) Run(ctx context.Context) error {
	if s.store == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			s.drain(ctx)
			return ctx.Err()
		case sample := <-s.queue:
			s.persist(ctx, sample)
		}
	}
}

func (s *Service) drain(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	for {
		select {
		case sample := <-s.queue:
			s.persist(flushCtx, sample)
		default:
			return
		}
	}
}

func (s *Service) persist(ctx context.Context, sample domain.Sample) {
	if err := s.store.InsertSample(ctx, sample); err != nil {
		observability.RecordPersistenceFailure("insert_sample")
		s.logger.Error("sample store write failed", "device_id", sample.DeviceID, "error", err)
		return
	}
	observability.RecordSamplePersisted(sample.Timestamp)
}

func (s *Service) enqueuePersist(sample domain.Sample) {
	if s.store == nil {
		return
	}
	select {
	case s.queue <- sample:
	default:
		observability.RecordPersistenceFailure("insert_sample")
		s.logger.Warn("persistence queue full, sample not stored", "device_id", sample.DeviceID)
	}
}

func (s *Service) export(topic, key string, payload []byte) {
	if s.exporter == nil || topic == "" {
		return
	}
	if !s.exporter.Enqueue(topic, key, payload) {
		s.logger.Debug("export queue full, event shed", "topic", topic)
	}
}
