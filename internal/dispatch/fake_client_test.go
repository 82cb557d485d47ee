package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/enrich/internal/generation"
	"github.com/phrazzld/enrich/internal/schema"
)

// fakeClient answers structured calls by echoing every input back as a
// record, with hooks for delays and injected failures. It tracks the number
// of concurrently running calls.
type fakeClient struct {
	// delay returns how long a call for the batch starting with first should take.
	delay func(first string) time.Duration
	// fail may return an error for the given call number (1-based per batch).
	fail func(first string, attempt int) error
	// mutate may rewrite the response body for the given batch.
	mutate func(first string, attempt int, body map[string]any)
	// record builds the item record for one input text.
	record func(text string) map[string]any

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32

	mu       sync.Mutex
	attempts map[string]int
	prompts  []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{attempts: make(map[string]int)}
}

func (f *fakeClient) StructuredCall(ctx context.Context, req generation.StructuredRequest) (json.RawMessage, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if cur <= peak || f.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}

	inputs, err := parseInputs(req.Prompt)
	if err != nil {
		return nil, err
	}
	first := ""
	if len(inputs) > 0 {
		first = inputs[0].Text
	}

	f.mu.Lock()
	f.attempts[first]++
	attempt := f.attempts[first]
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(first)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(first, attempt); err != nil {
			return nil, err
		}
	}

	results := make([]any, 0, len(inputs))
	for _, in := range inputs {
		rec := map[string]any{"label": "L:" + in.Text}
		if f.record != nil {
			rec = f.record(in.Text)
		}
		rec[schema.BatchIndexField] = in.Index
		results = append(results, rec)
	}
	body := map[string]any{schema.BatchResultsField: results}
	if f.mutate != nil {
		f.mutate(first, attempt, body)
	}
	return json.Marshal(body)
}

func (f *fakeClient) DeepResearchCall(ctx context.Context, req generation.ResearchRequest) (json.RawMessage, error) {
	return nil, errors.New("not used by the dispatcher")
}

func (f *fakeClient) attemptsFor(first string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[first]
}

func (f *fakeClient) allPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func parseInputs(prompt string) ([]promptInput, error) {
	_, after, ok := strings.Cut(prompt, "Inputs:\n")
	if !ok {
		return nil, fmt.Errorf("prompt has no inputs section")
	}
	var inputs []promptInput
	if err := json.NewDecoder(strings.NewReader(after)).Decode(&inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	return inputs, nil
}

func labelTask() Task {
	return Task{
		Name:        "label",
		Instruction: "Label every input.",
		Schema: &schema.Schema{
			Name:   "label",
			Fields: []schema.Field{{Name: "label", Type: schema.TypeString, Required: true}},
		},
	}
}

func fastRetry(attempts int) generation.RetryPolicy {
	return generation.RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func makeItems(n int) []string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf("item-%03d", i)
	}
	return items
}
