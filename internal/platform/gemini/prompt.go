package gemini

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/enrich/internal/generation"
)

const researchTemplate = `{{.Prompt}}
{{- with .Location}}

Focus your web research on {{if .City}}{{.City}}, {{end}}{{.Country}}.
{{- end}}
{{- if .Schema}}

Answer with a single JSON document and nothing else. It must match this JSON Schema:
{{.Schema}}
{{- end}}
`

var researchPrompt = template.Must(template.New("research").Parse(researchTemplate))

type researchData struct {
	Prompt   string
	Location *generation.Location
	Schema   string
}

// renderResearchPrompt builds the user content for a deep research call.
func renderResearchPrompt(req generation.ResearchRequest) (string, error) {
	data := researchData{
		Prompt:   req.Prompt,
		Location: req.Location,
	}
	if req.Schema != nil {
		doc, err := json.MarshalIndent(req.Schema.JSONSchema(), "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to render schema %q: %w", req.Schema.Name, err)
		}
		data.Schema = string(doc)
	}

	var buf bytes.Buffer
	if err := researchPrompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute research prompt template: %w", err)
	}
	return buf.String(), nil
}

// extractJSON returns the JSON document inside a model answer, dropping a
// surrounding markdown code fence or leading prose.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = ""
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		return strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") {
		return s
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
