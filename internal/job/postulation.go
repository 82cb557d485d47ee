package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/enrich/internal/generation"
	"github.com/phrazzld/enrich/internal/schema"
)

// KindPostulation is the job kind for narrative postulation research.
const KindPostulation = "postulation"

const postulationInstruction = `You are a research analyst. Investigate the subject you are given using current, ` +
	`reputable sources. Identify where the public narrative around it is heading and state that as a single ` +
	`postulation. Support it with a rationale and cite every source you relied on with its title and URL. ` +
	`Rate your confidence between 0 and 1.`

// PostulationPayload is the input of a postulation job. At least one of
// Topic, ArticleURL or ArticleText must be set.
type PostulationPayload struct {
	Topic       string `json:"topic,omitempty"        validate:"required_without_all=ArticleURL ArticleText,max=500"`
	ArticleURL  string `json:"article_url,omitempty"  validate:"omitempty,url"`
	ArticleText string `json:"article_text,omitempty" validate:"max=100000"`
}

func (p PostulationPayload) prompt() string {
	var b strings.Builder
	if p.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", p.Topic)
	}
	if p.ArticleURL != "" {
		fmt.Fprintf(&b, "Article URL: %s\n", p.ArticleURL)
	}
	if p.ArticleText != "" {
		fmt.Fprintf(&b, "Article:\n%s\n", p.ArticleText)
	}
	b.WriteString("\nProduce a narrative postulation for the subject above.")
	return b.String()
}

// PostulationHandler runs postulation jobs through the provider's deep
// research capability.
type PostulationHandler struct {
	client generation.Client
	policy generation.RetryPolicy
	schema *schema.Schema
	logger *slog.Logger
}

// NewPostulationHandler creates a PostulationHandler.
func NewPostulationHandler(client generation.Client, policy generation.RetryPolicy, logger *slog.Logger) *PostulationHandler {
	return &PostulationHandler{
		client: client,
		policy: policy,
		schema: schema.NarrativePostulation(),
		logger: logger.With("component", "postulation_handler"),
	}
}

// Kind implements Handler.
func (h *PostulationHandler) Kind() string { return KindPostulation }

// ValidatePayload implements Handler.
func (h *PostulationHandler) ValidatePayload(payload json.RawMessage) error {
	var p PostulationPayload
	return DecodePayload(payload, &p)
}

// Handle implements Handler. Responses that fail schema validation are
// retried with the issues appended to the prompt.
func (h *PostulationHandler) Handle(ctx context.Context, j *Job) (json.RawMessage, error) {
	var p PostulationPayload
	if err := DecodePayload(j.Payload, &p); err != nil {
		return nil, err
	}

	base := p.prompt()
	var (
		record schema.Record
		repair error
	)
	attempts, err := h.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		prompt := base
		if repair != nil {
			prompt += "\n\nYour previous response was rejected: " + repair.Error()
		}
		raw, err := h.client.DeepResearchCall(ctx, generation.ResearchRequest{
			Task:        KindPostulation,
			Instruction: postulationInstruction,
			Prompt:      prompt,
			Schema:      h.schema,
		})
		if err != nil {
			h.logger.Warn("research call failed", "job_id", j.ID, "attempt", attempt, "error", err)
			return err
		}
		rec, err := schema.Validate(h.schema, raw)
		if err != nil {
			h.logger.Warn("research response rejected", "job_id", j.ID, "attempt", attempt, "error", err)
			repair = err
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postulation research failed after %d attempt(s): %w", attempts, err)
	}
	return record.JSON()
}
