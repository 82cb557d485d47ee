package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/enrich/internal/api/middleware"
	"github.com/phrazzld/enrich/internal/api/shared"
	"github.com/phrazzld/enrich/internal/dispatch"
	"github.com/phrazzld/enrich/internal/job"
	"github.com/phrazzld/enrich/internal/schema"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoHandler accepts payloads with a non-empty text field.
type echoHandler struct{}

func (echoHandler) Kind() string { return "echo" }

func (echoHandler) ValidatePayload(p json.RawMessage) error {
	var v struct {
		Text string `json:"text" validate:"required,max=10"`
	}
	return job.DecodePayload(p, &v)
}

func (echoHandler) Handle(_ context.Context, j *job.Job) (json.RawMessage, error) {
	return j.Payload, nil
}

// fakeDispatcher returns canned results and records what it was asked to do.
type fakeDispatcher struct {
	results []dispatch.Result
	cells   []dispatch.TranslatedCell
	err     error

	task      dispatch.Task
	items     []string
	translate dispatch.TranslateRequest
	opts      int
}

func (f *fakeDispatcher) ProcessBatches(_ context.Context, task dispatch.Task, items []string, opts ...dispatch.Option) ([]dispatch.Result, error) {
	f.task, f.items, f.opts = task, items, len(opts)
	return f.results, f.err
}

func (f *fakeDispatcher) Translate(_ context.Context, req dispatch.TranslateRequest, opts ...dispatch.Option) ([]dispatch.TranslatedCell, error) {
	f.translate, f.opts = req, len(opts)
	return f.cells, f.err
}

type testServer struct {
	router     http.Handler
	store      *job.MemoryStore
	service    *job.Service
	dispatcher *fakeDispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := job.NewMemoryStore()
	svc := job.NewService(store, job.NewRegistry(echoHandler{}), nil, nil, discardLogger())
	fd := &fakeDispatcher{}

	jobs := NewJobHandler(svc, discardLogger())
	batches := NewBatchHandler(fd, schema.NewRegistry(), discardLogger())

	r := chi.NewRouter()
	r.Use(middleware.NewTraceMiddleware(discardLogger()))
	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", jobs.Enqueue)
		r.Get("/jobs", jobs.List)
		r.Get("/jobs/kinds", jobs.Kinds)
		r.Get("/jobs/{id}", jobs.Get)
		r.Post("/batch/classify", batches.Classify)
		r.Post("/batch/enrich", batches.Enrich)
		r.Post("/batch/translate", batches.Translate)
	})
	return &testServer{router: r, store: store, service: svc, dispatcher: fd}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) shared.ErrorResponse {
	t.Helper()
	resp := decodeBody[shared.ErrorResponse](t, w)
	require.NotEmpty(t, resp.TraceID)
	return resp
}
