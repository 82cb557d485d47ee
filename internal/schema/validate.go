package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// Record is a decoded structured result keyed by field name.
type Record map[string]any

// String returns the string value of a field, or "" if absent or not a string.
func (r Record) String(name string) string {
	s, _ := r[name].(string)
	return s
}

// Float returns the numeric value of a field.
func (r Record) Float(name string) (float64, bool) {
	return toFloat(r[name])
}

// Int returns the integer value of a field.
func (r Record) Int(name string) (int, bool) {
	f, ok := toFloat(r[name])
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// Strings returns a string array field; non-string elements are skipped.
func (r Record) Strings(name string) []string {
	arr, ok := r[name].([]any)
	if !ok {
		if ss, ok := r[name].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Records returns an array-of-objects field as records.
func (r Record) Records(name string) []Record {
	arr, ok := r[name].([]any)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(arr))
	for _, v := range arr {
		if obj, ok := asObject(v); ok {
			out = append(out, obj)
		}
	}
	return out
}

// JSON encodes the record.
func (r Record) JSON() (json.RawMessage, error) {
	return json.Marshal(r)
}

// Validate decodes raw JSON and checks it against s.
//
// On success the decoded record is returned unchanged. On failure the error is
// a *ValidationError listing every issue found.
func Validate(s *Schema, raw []byte) (Record, error) {
	trimmed := bytes.TrimSpace(raw)
	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, &ValidationError{
			Schema: s.Name,
			Issues: []Issue{{Code: IssueMalformedJSON, Message: err.Error()}},
		}
	}
	obj, ok := asObject(decoded)
	if !ok {
		return nil, &ValidationError{
			Schema: s.Name,
			Issues: []Issue{{Code: IssueWrongType, Message: "expected a JSON object at the top level"}},
		}
	}
	if err := s.ValidateValue(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// ValidateValue checks an already decoded record. It never modifies rec, so
// validating a record previously returned by Validate always succeeds.
func (s *Schema) ValidateValue(rec map[string]any) error {
	v := validator{strict: s.Strict}
	v.object("", s.Fields, rec)
	if len(v.issues) > 0 {
		return &ValidationError{Schema: s.Name, Issues: v.issues}
	}
	return nil
}

type validator struct {
	strict bool
	issues []Issue
}

func (v *validator) add(path string, code IssueCode, format string, args ...any) {
	v.issues = append(v.issues, Issue{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func (v *validator) object(path string, fields []Field, obj map[string]any) {
	for _, f := range fields {
		p := join(path, f.Name)
		val, present := obj[f.Name]
		if !present || val == nil {
			if f.Required {
				v.add(p, IssueMissingField, "required field is missing")
			}
			continue
		}
		v.value(p, f, val)
	}
	if !v.strict {
		return
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !slices.ContainsFunc(fields, func(f Field) bool { return f.Name == k }) {
			v.add(join(path, k), IssueUnknownField, "field is not declared")
		}
	}
}

func (v *validator) value(path string, f Field, val any) {
	switch f.Type {
	case TypeString:
		s, ok := val.(string)
		if !ok {
			v.add(path, IssueWrongType, "expected string, got %s", typeName(val))
			return
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
			v.add(path, IssueConstraint, "%q is not one of %v", s, f.Enum)
		}
	case TypeNumber, TypeInteger:
		n, ok := toFloat(val)
		if !ok {
			v.add(path, IssueWrongType, "expected %s, got %s", f.Type, typeName(val))
			return
		}
		if f.Type == TypeInteger && n != math.Trunc(n) {
			v.add(path, IssueWrongType, "expected integer, got %s", strconv.FormatFloat(n, 'g', -1, 64))
			return
		}
		if f.Min != nil && n < *f.Min {
			v.add(path, IssueConstraint, "%v is below minimum %v", n, *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			v.add(path, IssueConstraint, "%v is above maximum %v", n, *f.Max)
		}
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			v.add(path, IssueWrongType, "expected boolean, got %s", typeName(val))
		}
	case TypeArray:
		arr, ok := asArray(val)
		if !ok {
			v.add(path, IssueWrongType, "expected array, got %s", typeName(val))
			return
		}
		if f.MinItems != nil && len(arr) < *f.MinItems {
			v.add(path, IssueConstraint, "has %d items, minimum is %d", len(arr), *f.MinItems)
		}
		if f.MaxItems != nil && len(arr) > *f.MaxItems {
			v.add(path, IssueConstraint, "has %d items, maximum is %d", len(arr), *f.MaxItems)
		}
		if f.Items == nil {
			return
		}
		for i, elem := range arr {
			p := fmt.Sprintf("%s[%d]", path, i)
			if elem == nil {
				v.add(p, IssueWrongType, "expected %s, got null", f.Items.Type)
				continue
			}
			v.value(p, *f.Items, elem)
		}
	case TypeObject:
		obj, ok := asObject(val)
		if !ok {
			v.add(path, IssueWrongType, "expected object, got %s", typeName(val))
			return
		}
		v.object(path, f.Fields, obj)
	}
}

func asObject(val any) (map[string]any, bool) {
	switch o := val.(type) {
	case map[string]any:
		return o, true
	case Record:
		return o, true
	}
	return nil, false
}

func asArray(val any) ([]any, bool) {
	switch a := val.(type) {
	case []any:
		return a, true
	case []string:
		out := make([]any, len(a))
		for i, s := range a {
			out[i] = s
		}
		return out, true
	case []Record:
		out := make([]any, len(a))
		for i, r := range a {
			out[i] = r
		}
		return out, true
	}
	return nil, false
}

// toFloat accepts Go numeric kinds only; numeric strings are not numbers.
func toFloat(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func typeName(val any) string {
	switch val.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case []any, []string, []Record:
		return "array"
	case map[string]any, Record:
		return "object"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", val)
}
