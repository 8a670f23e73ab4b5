package consumer

import (
	"context"

	"example.com/heartstream/internal/domain"
	"example.com/heartstream/internal/events"
)

// Archive is the subset of the store the consumer writes to.
type Archive interface {
	InsertSample(ctx context.Context, sample domain.Sample) error
	SaveActivity(ctx context.Context, activity domain.Activity) error
}

// PersistenceHandler archives exported samples and completed activity summaries.
// Other event types are acknowledged without being stored.
type PersistenceHandler struct {
	store Archive
}

// NewPersistenceHandler constructs a handler backed by the provided store.
func NewPersistenceHandler(store Archive) *PersistenceHandler {
	return &PersistenceHandler{store: store}
}

// Handle stores the event payload.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case events.TypeSample:
		evt, err := events.DecodeSample(msg.Payload)
		if err != nil {
			return err
		}
		sample := evt.Domain()
		if !sample.Accepted() {
			return nil
		}
		return h.store.InsertSample(ctx, sample)
	case events.TypeActivityCompleted:
		evt, err := events.DecodeActivityCompleted(msg.Payload)
		if err != nil {
			return err
		}
		return h.store.SaveActivity(ctx, evt.Domain())
	default:
		recordIgnored(msg.EventType)
		return nil
	}
}
