package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/enrich/internal/generation"
)

// fakeClient answers research and structured calls from functions and
// records every request.
type fakeClient struct {
	mu         sync.Mutex
	research   func(req generation.ResearchRequest) (json.RawMessage, error)
	structured func(req generation.StructuredRequest) (json.RawMessage, error)

	researchCalls   []generation.ResearchRequest
	structuredCalls []generation.StructuredRequest
}

func (f *fakeClient) DeepResearchCall(_ context.Context, req generation.ResearchRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.researchCalls = append(f.researchCalls, req)
	fn := f.research
	f.mu.Unlock()
	return fn(req)
}

func (f *fakeClient) StructuredCall(_ context.Context, req generation.StructuredRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.structuredCalls = append(f.structuredCalls, req)
	fn := f.structured
	f.mu.Unlock()
	if fn == nil {
		return nil, generation.NewFatalError("fake", 400, fmt.Errorf("no structured reply configured"))
	}
	return fn(req)
}

func (f *fakeClient) prompts(task string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.researchCalls {
		if r.Task == task {
			out = append(out, r.Prompt)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		CountryConcurrency: 2,
		Policy: generation.RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
		},
	}
}

func newTestFinder(c generation.Client) *Finder {
	return NewFinder(c, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// companies renders a company_search_result answer.
func companies(names ...string) json.RawMessage {
	list := make([]map[string]any, 0, len(names))
	for _, n := range names {
		list = append(list, map[string]any{"name": n, "country": "XX"})
	}
	raw, _ := json.Marshal(map[string]any{"search_strategy": "web", "companies": list})
	return raw
}

func fatal(msg string) error {
	return generation.NewFatalError("fake", 400, fmt.Errorf("%s", msg))
}

func countryOf(req generation.ResearchRequest) string {
	if req.Location != nil {
		return req.Location.Country
	}
	return ""
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
