package schema

import (
	"fmt"
	"strings"
)

// FieldType is the JSON type a field value must have.
type FieldType string

// Supported field types
const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// Field declares one named value in a structured response.
type Field struct {
	Name        string    `yaml:"name" json:"name"`
	Type        FieldType `yaml:"type" json:"type"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool      `yaml:"required,omitempty" json:"required,omitempty"`

	// Enum restricts string values to a fixed set.
	Enum []string `yaml:"enum,omitempty" json:"enum,omitempty"`

	// Min and Max bound number and integer values (inclusive).
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// MinItems and MaxItems bound array lengths.
	MinItems *int `yaml:"min_items,omitempty" json:"min_items,omitempty"`
	MaxItems *int `yaml:"max_items,omitempty" json:"max_items,omitempty"`

	// Items describes array elements. Its Name is ignored.
	Items *Field `yaml:"items,omitempty" json:"items,omitempty"`

	// Fields describes the members of an object.
	Fields []Field `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Schema is the declarative shape of one structured result.
type Schema struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      []Field `yaml:"fields" json:"fields"`

	// Strict rejects fields that are not declared.
	Strict bool `yaml:"strict,omitempty" json:"strict,omitempty"`
}

// Field returns the declared field with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RequiredNames lists the names of required top-level fields in declaration order.
func (s *Schema) RequiredNames() []string {
	return requiredNames(s.Fields)
}

func requiredNames(fields []Field) []string {
	var names []string
	for _, f := range fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// Check verifies that the schema itself is well formed.
func (s *Schema) Check() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: schema name is required", ErrInvalidSchema)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: schema %s declares no fields", ErrInvalidSchema, s.Name)
	}
	return checkFields(s.Name, s.Fields)
}

func checkFields(path string, fields []Field) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("%w: %s has a field without a name", ErrInvalidSchema, path)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: %s declares %q twice", ErrInvalidSchema, path, f.Name)
		}
		seen[f.Name] = struct{}{}
		if err := checkField(path+"."+f.Name, f); err != nil {
			return err
		}
	}
	return nil
}

func checkField(path string, f Field) error {
	if !f.Type.Valid() {
		return fmt.Errorf("%w: %s has unsupported type %q", ErrInvalidSchema, path, f.Type)
	}
	if len(f.Enum) > 0 && f.Type != TypeString {
		return fmt.Errorf("%w: %s declares enum on a non-string field", ErrInvalidSchema, path)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("%w: %s has min greater than max", ErrInvalidSchema, path)
	}
	switch f.Type {
	case TypeArray:
		if f.Items == nil {
			return fmt.Errorf("%w: %s is an array without items", ErrInvalidSchema, path)
		}
		return checkField(path+"[]", *f.Items)
	case TypeObject:
		if len(f.Fields) == 0 {
			return fmt.Errorf("%w: %s is an object without fields", ErrInvalidSchema, path)
		}
		return checkFields(path, f.Fields)
	}
	return nil
}

// BatchIndexField is the envelope field that carries an item's position inside a batch.
const BatchIndexField = "index"

// BatchResultsField is the envelope field holding per-item records.
const BatchResultsField = "results"

// BatchEnvelope wraps an item schema so that a single provider call can
// return one record per batch member:
//
//	{"results": [{"index": 0, ...item fields}, ...]}
func BatchEnvelope(item *Schema) *Schema {
	members := make([]Field, 0, len(item.Fields)+1)
	members = append(members, Field{
		Name:        BatchIndexField,
		Type:        TypeInteger,
		Required:    true,
		Description: "Zero-based position of the input this record answers",
		Min:         Float(0),
	})
	members = append(members, item.Fields...)

	return &Schema{
		Name:        item.Name + "_batch",
		Description: "One record per input item. " + item.Description,
		Fields: []Field{{
			Name:     BatchResultsField,
			Type:     TypeArray,
			Required: true,
			Items: &Field{
				Type:   TypeObject,
				Fields: members,
			},
		}},
	}
}

// Float returns a pointer to v, for constraint literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for constraint literals.
func Int(v int) *int { return &v }
