package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a job lifecycle event. It doubles as the AMQP routing key.
type Type string

// Job lifecycle event types
const (
	JobEnqueued  Type = "job.enqueued"
	JobSucceeded Type = "job.succeeded"
	JobFailed    Type = "job.failed"
)

// JobEvent announces a change to a job. Events are notifications only; the
// job store remains the source of truth for status.
type JobEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type  Type      `json:"type"`
	JobID uuid.UUID `json:"job_id"`
	Kind  string    `json:"kind"`

	// Detail carries the error detail for job.failed events.
	Detail string `json:"detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewJobEvent creates a JobEvent stamped with a fresh ID and the current time.
func NewJobEvent(eventType Type, jobID uuid.UUID, kind string) *JobEvent {
	return &JobEvent{
		ID:        uuid.New(),
		Type:      eventType,
		JobID:     jobID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *JobEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *JobEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *JobEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *JobEvent) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *JobEvent) error { return nil }
