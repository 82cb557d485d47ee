package generation

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/enrich/internal/schema"
)

// StructuredRequest asks the provider for a single JSON document matching Schema.
type StructuredRequest struct {
	// Task names the enrichment task, used for logging and metrics.
	Task string
	// Instruction is sent as the system instruction.
	Instruction string
	// Prompt carries the user content, including the items of a batch.
	Prompt string
	Schema *schema.Schema
}

// ResearchRequest asks the provider for a researched long-form answer.
// Providers that support it ground the answer in live web search.
type ResearchRequest struct {
	Task        string
	Instruction string
	Prompt      string
	Schema      *schema.Schema

	// Location biases web search toward a place. Nil means no preference.
	Location *Location
}

// Location is a search locality hint.
type Location struct {
	// Country is an ISO 3166-1 alpha-2 code.
	Country string
	City    string
}

// Client is the capability set the core consumes from an AI provider.
//
// Both calls return the raw JSON the provider produced. Callers validate it
// against the request schema. Errors should be classifiable with IsTransient
// and IsFatal.
type Client interface {
	StructuredCall(ctx context.Context, req StructuredRequest) (json.RawMessage, error)
	DeepResearchCall(ctx context.Context, req ResearchRequest) (json.RawMessage, error)
}
