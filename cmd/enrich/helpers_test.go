package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/phrazzld/enrich/internal/config"
	"github.com/phrazzld/enrich/internal/generation"
	"github.com/phrazzld/enrich/internal/metrics"
	"github.com/phrazzld/enrich/internal/schema"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubClient labels every opinion "praise" and answers research calls with
// a fixed postulation.
type stubClient struct{}

func (stubClient) StructuredCall(_ context.Context, req generation.StructuredRequest) (json.RawMessage, error) {
	_, after, ok := strings.Cut(req.Prompt, "Inputs:\n")
	if !ok {
		return nil, errors.New("prompt has no inputs section")
	}
	var inputs []struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	}
	if err := json.NewDecoder(strings.NewReader(after)).Decode(&inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}

	results := make([]map[string]any, 0, len(inputs))
	for _, in := range inputs {
		results = append(results, map[string]any{
			schema.BatchIndexField: in.Index,
			"category":             "praise",
			"confidence":           0.9,
			"rationale":            "Positive wording: " + in.Text,
		})
	}
	return json.Marshal(map[string]any{schema.BatchResultsField: results})
}

func (stubClient) DeepResearchCall(_ context.Context, _ generation.ResearchRequest) (json.RawMessage, error) {
	return json.RawMessage(`{
		"title": "Batteries",
		"postulation": "Solid state cells reach cars by 2030",
		"rationale": "Pilot lines are scaling",
		"sources": [{"title": "Report", "url": "https://example.com/report"}],
		"confidence": 0.6
	}`), nil
}

// memoryConfig loads the defaults with the in-memory job store.
func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ENRICH_LLM_GEMINI_API_KEY", "test-api-key")
	t.Setenv("ENRICH_DATABASE_DRIVER", config.DriverMemory)
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *application {
	t.Helper()
	app, err := buildApplication(context.Background(), cfg, discardLogger(), stubClient{}, metrics.New())
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app
}

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}
