// Package broadcast fans live events out to subscriber connections.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/heartstream/internal/domain"
	"example.com/heartstream/internal/events"
	"example.com/heartstream/internal/observability"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("broadcast: closed")

// ErrQueueFull is the drop cause for a subscriber that fell too far behind.
var ErrQueueFull = errors.New("broadcast: subscriber queue full")

const (
	defaultSendTimeout = 5 * time.Second
	defaultBacklogSize = 50
	defaultQueueSize   = 256
)

// Conn is the write side of a subscriber connection.
type Conn interface {
	WriteMessage(ctx context.Context, payload []byte) error
	Close() error
}

// BacklogSource supplies the recent samples replayed to new subscribers, oldest first.
type BacklogSource interface {
	Recent(limit int) []domain.Sample
}

// Subscriber is a registered live connection. Events reach it through a bounded
// queue drained by its own writer goroutine.
type Subscriber struct {
	ID          uuid.UUID
	ConnectedAt time.Time

	conn      Conn
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscriber) close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// PublishResult reports the outcome of one fan-out. Delivered counts subscribers
// that accepted the event into their queue; Failed counts those dropped for it.
type PublishResult struct {
	Delivered int
	Failed    int
}

// Option configures optional behaviour for the Broadcaster.
type Option func(*Broadcaster)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// WithSendTimeout bounds each write to a single subscriber.
func WithSendTimeout(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.sendTimeout = d
		}
	}
}

// WithQueueSize sets how many live events may wait for one subscriber before it is dropped.
func WithQueueSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithBacklog replays up to size recent samples from src to each new subscriber.
func WithBacklog(src BacklogSource, size int) Option {
	return func(b *Broadcaster) {
		b.backlog = src
		b.backlogSize = size
	}
}

// Broadcaster owns the live subscriber set.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscriber
	closed bool

	backlog     BacklogSource
	backlogSize int
	queueSize   int
	sendTimeout time.Duration
	logger      *slog.Logger
}

// New constructs a Broadcaster.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:        make(map[uuid.UUID]*Subscriber),
		backlogSize: defaultBacklogSize,
		queueSize:   defaultQueueSize,
		sendTimeout: defaultSendTimeout,
		logger:      slog.Default().With("component", "broadcast"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers conn and waits until the backlog has been written to it.
// Live events published meanwhile queue behind the backlog. If the backlog cannot
// be written the subscriber is dropped and the error returned.
func (b *Broadcaster) Subscribe(ctx context.Context, conn Conn) (*Subscriber, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	var backlog [][]byte
	if b.backlog != nil && b.backlogSize > 0 {
		for _, sample := range b.backlog.Recent(b.backlogSize) {
			payload, err := events.Encode(events.NewSample(sample))
			if err != nil {
				continue
			}
			backlog = append(backlog, payload)
		}
	}
	sub := &Subscriber{
		ID:          uuid.New(),
		ConnectedAt: time.Now().UTC(),
		conn:        conn,
		queue:       make(chan []byte, b.queueSize+len(backlog)),
		done:        make(chan struct{}),
	}
	for _, payload := range backlog {
		sub.queue <- payload
	}
	b.subs[sub.ID] = sub
	count := len(b.subs)
	b.mu.Unlock()

	observability.SetSubscribers(count)
	b.logger.Info("subscriber connected", "subscriber", sub.ID, "subscribers", count, "backlog", len(backlog))

	ready := make(chan error, 1)
	go b.writeLoop(sub, len(backlog), ready)

	var err error
	select {
	case err = <-ready:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		b.drop(sub, err)
		return nil, fmt.Errorf("send backlog: %w", err)
	}
	return sub, nil
}

// Publish delivers payload to every current subscriber.
func (b *Broadcaster) Publish(ctx context.Context, payload []byte) PublishResult {
	return b.PublishWith(ctx, payload, nil)
}

// PublishWith runs record while holding the subscriber lock and queues payload for
// every subscriber under that same lock. A subscriber registering concurrently
// therefore sees the recorded sample either in its backlog or live, never both.
// It never waits on a connection; a subscriber whose queue is full is dropped.
func (b *Broadcaster) PublishWith(_ context.Context, payload []byte, record func()) PublishResult {
	var result PublishResult
	var lagging []*Subscriber

	b.mu.Lock()
	if record != nil {
		record()
	}
	for _, sub := range b.subs {
		select {
		case sub.queue <- payload:
			result.Delivered++
		default:
			lagging = append(lagging, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range lagging {
		result.Failed++
		b.drop(sub, ErrQueueFull)
	}
	if result.Failed > 0 {
		observability.RecordDeliveries(0, result.Failed)
	}
	return result
}

// Unsubscribe removes sub and closes its connection. It is safe to call more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	if b.remove(sub) {
		b.logger.Info("subscriber disconnected", "subscriber", sub.ID)
	}
	_ = sub.close()
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscriber and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[uuid.UUID]*Subscriber)
	b.mu.Unlock()

	observability.SetSubscribers(0)
	for _, sub := range subs {
		_ = sub.close()
	}
}

// writeLoop drains sub's queue until the subscriber is closed. The first backlog
// writes are reported on ready; later write failures drop the subscriber.
func (b *Broadcaster) writeLoop(sub *Subscriber, backlog int, ready chan<- error) {
	if backlog == 0 {
		ready <- nil
		ready = nil
	}
	for {
		select {
		case <-sub.done:
			if ready != nil {
				ready <- ErrClosed
			}
			return
		case payload := <-sub.queue:
			err := b.write(sub, payload)
			if ready != nil {
				if err != nil {
					ready <- err
					return
				}
				if backlog--; backlog == 0 {
					ready <- nil
					ready = nil
				}
				continue
			}
			if err != nil {
				observability.RecordDeliveries(0, 1)
				b.drop(sub, err)
				return
			}
			observability.RecordDeliveries(1, 0)
		}
	}
}

func (b *Broadcaster) write(sub *Subscriber, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
	defer cancel()
	return sub.conn.WriteMessage(ctx, payload)
}

func (b *Broadcaster) drop(sub *Subscriber, cause error) {
	if b.remove(sub) {
		b.logger.Warn("subscriber dropped", "subscriber", sub.ID, "error", cause)
	}
	_ = sub.close()
}

func (b *Broadcaster) remove(sub *Subscriber) bool {
	b.mu.Lock()
	_, ok := b.subs[sub.ID]
	if ok {
		delete(b.subs, sub.ID)
	}
	count := len(b.subs)
	b.mu.Unlock()

	if ok {
		observability.SetSubscribers(count)
	}
	return ok
}
