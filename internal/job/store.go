package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status Status
	Kind   string
	// Limit caps the number of jobs returned; 0 means DefaultListLimit.
	Limit int
}

// List limits
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// EffectiveLimit clamps f.Limit into [1, MaxListLimit].
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

// LeaseExpiredDetail is the error detail written to jobs reaped by FailExpired.
const LeaseExpiredDetail = "lease expired"

// Store is the sole authority on job status. Every state change goes through
// one of its methods, and each method is atomic.
type Store interface {
	// Enqueue creates a pending job and returns it.
	Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*Job, error)

	// ClaimNext moves the oldest pending job to running on behalf of workerID
	// and returns it. It returns (nil, nil) when nothing is pending. Concurrent
	// callers never receive the same job.
	ClaimNext(ctx context.Context, workerID string) (*Job, error)

	// Complete moves a running job claimed by workerID to succeeded.
	Complete(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage) error

	// Fail moves a running job claimed by workerID to failed.
	Fail(ctx context.Context, id uuid.UUID, workerID string, detail string) error

	// Get returns the job with the given ID or ErrJobNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Job, error)

	// List returns jobs newest first.
	List(ctx context.Context, f Filter) ([]*Job, error)

	// Heartbeat renews the lease of a running job claimed by workerID by
	// bumping its UpdatedAt.
	Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error

	// FailExpired fails every running job not updated within lease and
	// returns the jobs it failed.
	FailExpired(ctx context.Context, lease time.Duration) ([]*Job, error)
}
