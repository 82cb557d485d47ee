package gemini

import (
	"testing"

	"github.com/phrazzld/enrich/internal/generation"
	"github.com/phrazzld/enrich/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestRenderResearchPrompt(t *testing.T) {
	t.Parallel()

	t.Run("prompt only", func(t *testing.T) {
		out, err := renderResearchPrompt(generation.ResearchRequest{Prompt: "Explain the merger."})
		require.NoError(t, err)
		assert.Equal(t, "Explain the merger.\n", out)
	})

	t.Run("location without city", func(t *testing.T) {
		out, err := renderResearchPrompt(generation.ResearchRequest{
			Prompt:   "p",
			Location: &generation.Location{Country: "SG"},
		})
		require.NoError(t, err)
		assert.Contains(t, out, "Focus your web research on SG.")
	})

	t.Run("schema", func(t *testing.T) {
		out, err := renderResearchPrompt(generation.ResearchRequest{
			Prompt: "p",
			Schema: schema.NarrativePostulation(),
		})
		require.NoError(t, err)
		assert.Contains(t, out, "must match this JSON Schema")
		assert.Contains(t, out, `"postulation"`)
	})
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", ` {"a":1} `, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```\n", `{"a":1}`},
		{"prose around", "Sure! {\"a\":{\"b\":2}} Hope this helps.", `{"a":{"b":2}}`},
		{"no json", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestToGenaiSchema(t *testing.T) {
	t.Parallel()

	assert.Nil(t, toGenaiSchema(nil))

	s := toGenaiSchema(schema.NarrativePostulation())
	require.NotNil(t, s)
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, []string{"title", "postulation", "rationale", "sources", "confidence"}, s.PropertyOrdering)
	assert.ElementsMatch(t, schema.NarrativePostulation().RequiredNames(), s.Required)

	conf := s.Properties["confidence"]
	require.NotNil(t, conf)
	assert.Equal(t, genai.TypeNumber, conf.Type)
	require.NotNil(t, conf.Minimum)
	require.NotNil(t, conf.Maximum)
	assert.Equal(t, 0.0, *conf.Minimum)
	assert.Equal(t, 1.0, *conf.Maximum)

	sources := s.Properties["sources"]
	require.NotNil(t, sources)
	assert.Equal(t, genai.TypeArray, sources.Type)
	require.NotNil(t, sources.Items)
	assert.Equal(t, genai.TypeObject, sources.Items.Type)
	assert.Contains(t, sources.Items.Properties, "url")

	enum := toGenaiSchema(schema.OpinionClassification([]string{"a", "b"})).Properties["category"]
	assert.Equal(t, "enum", enum.Format)
	assert.Equal(t, []string{"a", "b"}, enum.Enum)
}
