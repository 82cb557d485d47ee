package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/enrich/internal/schema"
)

// Company is one company returned by a search.
type Company struct {
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	Country     string `json:"country,omitempty"`
	Industry    string `json:"industry,omitempty"`
	Size        string `json:"size,omitempty"`
	Founded     string `json:"founded,omitempty"`
}

type searchResult struct {
	SearchStrategy string    `json:"search_strategy"`
	Companies      []Company `json:"companies"`
}

// CapabilityProfile is what a seed company was found to do.
type CapabilityProfile struct {
	Description             string   `json:"description"`
	ProductsAndServicesInfo string   `json:"products_and_services_info"`
	ExtractionReasoning     string   `json:"extraction_reasoning"`
	Capabilities            []string `json:"identified_capabilities"`
}

// Refinement narrows a second search pass.
type Refinement struct {
	RelevantCompanies []string `json:"relevant_companies"`
	AdditionalQuery   string   `json:"additional_query"`
}

// decodeRecord converts a validated record into its typed form.
func decodeRecord(rec schema.Record, v any) error {
	raw, err := rec.JSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// dedupe keeps the first company per case-insensitive name and drops
// unnamed entries.
func dedupe(companies []Company) []Company {
	seen := make(map[string]struct{}, len(companies))
	out := make([]Company, 0, len(companies))
	for _, c := range companies {
		key := nameKey(c.Name)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
