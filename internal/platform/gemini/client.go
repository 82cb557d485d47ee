package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/enrich/internal/config"
	"github.com/phrazzld/enrich/internal/generation"
	"github.com/phrazzld/enrich/internal/metrics"
	"google.golang.org/genai"
)

const (
	callStructured = "structured"
	callResearch   = "research"

	defaultTemperature float32 = 0.2
)

// contentGenerator is the subset of *genai.Models the client calls.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Client calls Gemini models. It is safe for concurrent use.
type Client struct {
	models        contentGenerator
	model         string
	researchModel string
	timeout       time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

var _ generation.Client = (*Client)(nil)

// NewClient creates a Gemini client from the LLM configuration.
func NewClient(ctx context.Context, cfg config.LLMConfig, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newClient(gc.Models, cfg, m, logger), nil
}

func newClient(models contentGenerator, cfg config.LLMConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	research := cfg.ResearchModelName
	if research == "" {
		research = cfg.ModelName
	}
	return &Client{
		models:        models,
		model:         cfg.ModelName,
		researchModel: research,
		timeout:       cfg.RequestTimeout,
		metrics:       m,
		logger:        logger.With("component", "gemini_client"),
	}
}

// StructuredCall asks the model for JSON constrained by the request schema.
func (c *Client) StructuredCall(ctx context.Context, req generation.StructuredRequest) (json.RawMessage, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(defaultTemperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(req.Schema),
	}
	if req.Instruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Instruction, genai.RoleUser)
	}

	text, err := c.generate(ctx, callStructured, req.Task, c.model, req.Prompt, cfg)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(extractJSON(text)), nil
}

// DeepResearchCall grounds the answer in Google Search results.
func (c *Client) DeepResearchCall(ctx context.Context, req generation.ResearchRequest) (json.RawMessage, error) {
	prompt, err := renderResearchPrompt(req)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(defaultTemperature),
		Tools:       []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	if req.Instruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Instruction, genai.RoleUser)
	}

	text, err := c.generate(ctx, callResearch, req.Task, c.researchModel, prompt, cfg)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(extractJSON(text)), nil
}

func (c *Client) generate(
	ctx context.Context,
	call, task, model, prompt string,
	cfg *genai.GenerateContentConfig,
) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: empty prompt", generation.ErrProviderFatal)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	var text string
	resp, err := c.models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		err = mapError(err)
	} else if err = checkResponse(resp); err == nil {
		text = resp.Text()
		if strings.TrimSpace(text) == "" {
			err = fmt.Errorf("%w: empty text", generation.ErrInvalidResponse)
		}
	}
	c.metrics.ProviderCall(providerName, call, err)

	if err != nil {
		c.logger.WarnContext(ctx, "gemini call failed",
			"call", call,
			"task", task,
			"model", model,
			"transient", generation.IsTransient(err),
			"error", err)
		return "", err
	}

	c.logger.DebugContext(ctx, "gemini call succeeded",
		"call", call,
		"task", task,
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_length", len(text))
	return text, nil
}
