package job_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/phrazzld/enrich/internal/events"
	"github.com/phrazzld/enrich/internal/generation"
	"github.com/phrazzld/enrich/internal/job"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// funcHandler is a Handler assembled from functions.
type funcHandler struct {
	kind     string
	validate func(json.RawMessage) error
	handle   func(context.Context, *job.Job) (json.RawMessage, error)
}

func (h *funcHandler) Kind() string { return h.kind }

func (h *funcHandler) ValidatePayload(p json.RawMessage) error {
	if h.validate == nil {
		return nil
	}
	return h.validate(p)
}

func (h *funcHandler) Handle(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	return h.handle(ctx, j)
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []*events.JobEvent
}

func (r *recorder) HandleEvent(_ context.Context, e *events.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last() *events.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

// researchClient answers DeepResearchCall from a scripted list of responses.
type researchClient struct {
	mu        sync.Mutex
	responses []func(generation.ResearchRequest) (json.RawMessage, error)
	requests  []generation.ResearchRequest
}

func (c *researchClient) StructuredCall(context.Context, generation.StructuredRequest) (json.RawMessage, error) {
	panic("unexpected structured call")
}

func (c *researchClient) DeepResearchCall(_ context.Context, req generation.ResearchRequest) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	n := len(c.requests) - 1
	if n >= len(c.responses) {
		n = len(c.responses) - 1
	}
	return c.responses[n](req)
}

func (c *researchClient) calls() []generation.ResearchRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]generation.ResearchRequest(nil), c.requests...)
}

func reply(body string) func(generation.ResearchRequest) (json.RawMessage, error) {
	return func(generation.ResearchRequest) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	}
}

func replyErr(err error) func(generation.ResearchRequest) (json.RawMessage, error) {
	return func(generation.ResearchRequest) (json.RawMessage, error) {
		return nil, err
	}
}
