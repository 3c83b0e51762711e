package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event is any domain event with a name identifier.
type Event interface {
	EventName() string
}

// Handler processes a published event.
type Handler func(ctx context.Context, e Event) error

// Publisher publishes events to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber registers handlers for event names.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}

// Decoder restores a persisted event payload.
type Decoder func(payload []byte) (Event, error)

// Envelope is the durable form of an event.
type Envelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func NewEnvelope(id string, e Event) (Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("outbox: encode %s: %w", e.EventName(), err)
	}
	return Envelope{
		ID:         id,
		Name:       e.EventName(),
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}
