package job

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrJobNotFound is returned when no job has the requested ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrIllegalTransition is returned when a status change would break the
	// pending -> running -> succeeded|failed lifecycle.
	ErrIllegalTransition = errors.New("illegal job status transition")

	// ErrNotOwner is returned when a worker tries to finish a job claimed by
	// another worker.
	ErrNotOwner = errors.New("job is claimed by another worker")

	// ErrUnknownKind is returned for a job kind without a registered handler.
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrInvalidPayload is returned when a job payload fails validation.
	ErrInvalidPayload = errors.New("invalid job payload")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	ID   uuid.UUID
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

// Unwrap lets errors.Is(err, ErrIllegalTransition) match.
func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// ExplainMiss turns a conditional update that matched no row into the error
// the caller should see. current is the job as it is now, or nil if it does
// not exist. to is StatusRunning for a lease renewal.
func ExplainMiss(id uuid.UUID, current *Job, workerID string, to Status) error {
	if current == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	renewal := to == StatusRunning
	if current.Status != StatusRunning || (!renewal && !current.Status.CanTransitionTo(to)) {
		return &TransitionError{ID: id, From: current.Status, To: to}
	}
	if current.ClaimedBy != workerID {
		return fmt.Errorf("%w: job %s is held by %q", ErrNotOwner, id, current.ClaimedBy)
	}
	// The row changed between the update and the lookup.
	return &TransitionError{ID: id, From: current.Status, To: to}
}
