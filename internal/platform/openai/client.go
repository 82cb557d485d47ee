// Package openai implements generation.Client against the OpenAI HTTP API
// and compatible servers.
//
// Structured calls use /chat/completions with a json_schema response format.
// Deep research calls use the Responses API with the web_search_preview tool.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/enrich/internal/config"
	"github.com/phrazzld/enrich/internal/generation"
	"github.com/phrazzld/enrich/internal/metrics"
	"github.com/phrazzld/enrich/internal/schema"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.openai.com/v1"

const (
	providerName = "openai"

	callStructured = "structured"
	callResearch   = "research"

	researchInstruction = "You are a market research analyst assistant. Research the question online " +
		"and answer with a structured response."
	maxResearchTokens = 64000
	maxErrorBody      = 4096
)

// Client calls an OpenAI-compatible API. It is safe for concurrent use.
type Client struct {
	baseURL       string
	apiKey        string
	model         string
	researchModel string
	httpClient    *http.Client
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

var _ generation.Client = (*Client)(nil)

// NewClient creates a client from the LLM configuration. A nil httpClient
// gets one with the configured request timeout.
func NewClient(cfg config.LLMConfig, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	baseURL := strings.TrimRight(cfg.OpenAIBaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	research := cfg.ResearchModelName
	if research == "" {
		research = cfg.ModelName
	}

	return &Client{
		baseURL:       baseURL,
		apiKey:        cfg.OpenAIAPIKey,
		model:         cfg.ModelName,
		researchModel: research,
		httpClient:    httpClient,
		metrics:       m,
		logger:        logger.With("component", "openai_client"),
	}, nil
}

// StructuredCall sends the prompt to /chat/completions and returns the JSON
// message content.
func (c *Client) StructuredCall(ctx context.Context, req generation.StructuredRequest) (json.RawMessage, error) {
	messages := make([]chatMessage, 0, 2)
	if req.Instruction != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.Instruction})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchemaSpec{Name: schemaName(req.Schema), Schema: jsonSchema(req.Schema)},
		},
	}

	var resp chatResponse
	err := c.post(ctx, "/chat/completions", body, &resp)
	if err == nil {
		err = chatError(&resp)
	}
	c.metrics.ProviderCall(providerName, callStructured, err)
	if err != nil {
		c.logFailure(ctx, callStructured, req.Task, err)
		return nil, err
	}
	return json.RawMessage(strings.TrimSpace(resp.Choices[0].Message.Content)), nil
}

// DeepResearchCall runs a web-search grounded request through the Responses API.
func (c *Client) DeepResearchCall(ctx context.Context, req generation.ResearchRequest) (json.RawMessage, error) {
	instructions := req.Instruction
	if instructions == "" {
		instructions = researchInstruction
	}

	tool := webSearch{Type: "web_search_preview", SearchContextSize: "high"}
	if loc := req.Location; loc != nil {
		tool.UserLocation = &userLocation{Type: "approximate", Country: loc.Country, City: loc.City, Region: loc.City}
		instructions += fmt.Sprintf(" The answer should focus on %s.", loc.Country)
	}

	body := responsesRequest{
		Model:           c.researchModel,
		Instructions:    instructions,
		Input:           req.Prompt,
		Tools:           []webSearch{tool},
		MaxOutputTokens: maxResearchTokens,
	}
	if req.Schema != nil {
		body.Text = &textOptions{Format: textFormat{
			Type:   "json_schema",
			Name:   schemaName(req.Schema),
			Schema: jsonSchema(req.Schema),
		}}
	}

	var resp responsesResponse
	var text string
	err := c.post(ctx, "/responses", body, &resp)
	if err == nil {
		text, err = outputText(&resp)
	}
	c.metrics.ProviderCall(providerName, callResearch, err)
	if err != nil {
		c.logFailure(ctx, callResearch, req.Task, err)
		return nil, err
	}
	return json.RawMessage(strings.TrimSpace(text)), nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", generation.ErrProviderFatal, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return generation.NewFatalError(providerName, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return generation.NewTransientError(providerName, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(resp.StatusCode, raw)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", generation.ErrInvalidResponse, err)
	}

	c.logger.DebugContext(ctx, "openai call succeeded",
		"path", path,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *Client) logFailure(ctx context.Context, call, task string, err error) {
	c.logger.WarnContext(ctx, "openai call failed",
		"call", call,
		"task", task,
		"transient", generation.IsTransient(err),
		"error", err)
}

// statusError classifies a non-200 response. Rate limits and server errors
// are transient, except for an exhausted quota.
func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		msg = env.Error.Message
		if env.Error.Code == "insufficient_quota" {
			return generation.NewFatalError(providerName, code, errors.New(msg))
		}
	}
	err := fmt.Errorf("HTTP %d: %s", code, msg)
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return generation.NewTransientError(providerName, code, err)
	default:
		return generation.NewFatalError(providerName, code, err)
	}
}

func chatError(resp *chatResponse) error {
	if resp.Error != nil {
		return generation.NewFatalError(providerName, 0, fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Message))
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: no choices", generation.ErrInvalidResponse)
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" || choice.FinishReason == "content_filter" {
		return fmt.Errorf("%w: %s", generation.ErrContentBlocked, choice.Message.Refusal)
	}
	if choice.FinishReason == "length" {
		return fmt.Errorf("%w: answer truncated at the token limit", generation.ErrInvalidResponse)
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return fmt.Errorf("%w: empty message content", generation.ErrInvalidResponse)
	}
	return nil
}

// outputText concatenates the output_text parts of the message items.
func outputText(resp *responsesResponse) (string, error) {
	if resp.Error != nil {
		return "", generation.NewFatalError(providerName, 0, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message))
	}
	if resp.Status == "incomplete" {
		reason := ""
		if resp.IncompleteDetails != nil {
			reason = resp.IncompleteDetails.Reason
		}
		if reason == "content_filter" {
			return "", fmt.Errorf("%w: response incomplete (%s)", generation.ErrContentBlocked, reason)
		}
		return "", fmt.Errorf("%w: response incomplete (%s)", generation.ErrInvalidResponse, reason)
	}

	var sb strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			switch part.Type {
			case "output_text":
				sb.WriteString(part.Text)
			case "refusal":
				return "", fmt.Errorf("%w: %s", generation.ErrContentBlocked, part.Refusal)
			}
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("%w: no output text", generation.ErrInvalidResponse)
	}
	return sb.String(), nil
}

func schemaName(s *schema.Schema) string {
	if s == nil || s.Name == "" {
		return "response"
	}
	return s.Name
}

func jsonSchema(s *schema.Schema) map[string]any {
	if s == nil {
		return map[string]any{"type": "object"}
	}
	return s.JSONSchema()
}
