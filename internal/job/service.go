package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/enrich/internal/events"
	"github.com/phrazzld/enrich/internal/metrics"
)

// Service is the entry point for callers that enqueue and poll jobs.
type Service struct {
	store    Store
	registry *Registry
	emitter  events.EventEmitter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewService creates a Service. emitter and m may be nil.
func NewService(store Store, registry *Registry, emitter events.EventEmitter, m *metrics.Metrics, logger *slog.Logger) *Service {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Service{
		store:    store,
		registry: registry,
		emitter:  emitter,
		metrics:  m,
		logger:   logger.With("component", "job_service"),
	}
}

// Enqueue validates the payload for kind, stores a pending job and announces
// it. It returns as soon as the job is stored.
func (s *Service) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*Job, error) {
	h, err := s.registry.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if err := h.ValidatePayload(payload); err != nil {
		if !errors.Is(err, ErrInvalidPayload) {
			err = fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return nil, err
	}

	j, err := s.store.Enqueue(ctx, kind, payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	s.metrics.JobEnqueued(kind)
	s.logger.Info("job enqueued", "job_id", j.ID, "job_kind", kind)

	if err := s.emitter.EmitEvent(ctx, events.NewJobEvent(events.JobEnqueued, j.ID, kind)); err != nil {
		s.logger.Warn("failed to announce enqueued job", "job_id", j.ID, "error", err)
	}
	return j, nil
}

// Get returns the job with the given ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.store.Get(ctx, id)
}

// List returns jobs matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]*Job, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("unknown job status %q", f.Status)
	}
	return s.store.List(ctx, f)
}

// Kinds lists the job kinds that can be enqueued.
func (s *Service) Kinds() []string {
	return s.registry.Kinds()
}
