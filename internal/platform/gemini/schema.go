package gemini

import (
	"github.com/phrazzld/enrich/internal/schema"
	"google.golang.org/genai"
)

// toGenaiSchema converts a response schema to Gemini's OpenAPI subset.
// Property ordering follows declaration order so the model emits fields in a
// predictable sequence.
func toGenaiSchema(s *schema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	return objectSchema(s.Description, s.Fields)
}

func objectSchema(description string, fields []schema.Field) *genai.Schema {
	out := &genai.Schema{
		Type:             genai.TypeObject,
		Description:      description,
		Properties:       make(map[string]*genai.Schema, len(fields)),
		PropertyOrdering: make([]string, 0, len(fields)),
	}
	for _, f := range fields {
		out.Properties[f.Name] = fieldSchema(f)
		out.PropertyOrdering = append(out.PropertyOrdering, f.Name)
		if f.Required {
			out.Required = append(out.Required, f.Name)
		}
	}
	return out
}

func fieldSchema(f schema.Field) *genai.Schema {
	if f.Type == schema.TypeObject {
		return objectSchema(f.Description, f.Fields)
	}

	out := &genai.Schema{
		Type:        genaiType(f.Type),
		Description: f.Description,
		Minimum:     f.Min,
		Maximum:     f.Max,
	}
	if len(f.Enum) > 0 {
		out.Format = "enum"
		out.Enum = append([]string(nil), f.Enum...)
	}
	if f.MinItems != nil {
		out.MinItems = genai.Ptr(int64(*f.MinItems))
	}
	if f.MaxItems != nil {
		out.MaxItems = genai.Ptr(int64(*f.MaxItems))
	}
	if f.Type == schema.TypeArray && f.Items != nil {
		out.Items = fieldSchema(*f.Items)
	}
	if !f.Required {
		out.Nullable = genai.Ptr(true)
	}
	return out
}

func genaiType(t schema.FieldType) genai.Type {
	switch t {
	case schema.TypeString:
		return genai.TypeString
	case schema.TypeNumber:
		return genai.TypeNumber
	case schema.TypeInteger:
		return genai.TypeInteger
	case schema.TypeBoolean:
		return genai.TypeBoolean
	case schema.TypeArray:
		return genai.TypeArray
	case schema.TypeObject:
		return genai.TypeObject
	}
	return genai.TypeUnspecified
}
