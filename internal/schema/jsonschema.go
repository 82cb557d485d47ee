package schema

// JSONSchema renders s as a JSON Schema document suitable for providers that
// accept a response_format schema.
func (s *Schema) JSONSchema() map[string]any {
	return objectSchema(s.Description, s.Fields, s.Strict)
}

func objectSchema(description string, fields []Field, strict bool) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f.Name] = fieldSchema(f)
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if description != "" {
		out["description"] = description
	}
	if req := requiredNames(fields); len(req) > 0 {
		out["required"] = req
	}
	if strict {
		out["additionalProperties"] = false
	}
	return out
}

func fieldSchema(f Field) map[string]any {
	if f.Type == TypeObject {
		return objectSchema(f.Description, f.Fields, false)
	}
	out := map[string]any{"type": string(f.Type)}
	if f.Description != "" {
		out["description"] = f.Description
	}
	if len(f.Enum) > 0 {
		out["enum"] = f.Enum
	}
	if f.Min != nil {
		out["minimum"] = *f.Min
	}
	if f.Max != nil {
		out["maximum"] = *f.Max
	}
	if f.MinItems != nil {
		out["minItems"] = *f.MinItems
	}
	if f.MaxItems != nil {
		out["maxItems"] = *f.MaxItems
	}
	if f.Type == TypeArray && f.Items != nil {
		out["items"] = fieldSchema(*f.Items)
	}
	return out
}
