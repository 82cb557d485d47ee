package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is matched by every *ValidationError via errors.Is.
	ErrValidation = errors.New("structured response failed validation")

	// ErrInvalidSchema indicates the schema declaration itself is malformed.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrUnknownSchema is returned when a schema name is not registered.
	ErrUnknownSchema = errors.New("unknown schema")
)

// IssueCode classifies a single validation problem.
type IssueCode string

// Validation issue codes
const (
	IssueMissingField  IssueCode = "missing_field"
	IssueWrongType     IssueCode = "wrong_type"
	IssueConstraint    IssueCode = "constraint"
	IssueUnknownField  IssueCode = "unknown_field"
	IssueMalformedJSON IssueCode = "malformed_json"
)

// Issue is one reason a value did not satisfy its schema.
type Issue struct {
	Path    string    `json:"path"`
	Code    IssueCode `json:"code"`
	Message string    `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return fmt.Sprintf("%s: %s", i.Code, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Path, i.Code, i.Message)
}

// ValidationError reports every issue found while validating a response.
type ValidationError struct {
	Schema string
	Issues []Issue
}

// maxIssuesInMessage bounds the error string; Issues always holds the full list.
const maxIssuesInMessage = 5

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema %s: %d validation issue(s)", e.Schema, len(e.Issues))
	for i, issue := range e.Issues {
		if i == maxIssuesInMessage {
			fmt.Fprintf(&b, "; and %d more", len(e.Issues)-i)
			break
		}
		b.WriteString("; ")
		b.WriteString(issue.String())
	}
	return b.String()
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// HasCode reports whether any issue carries the given code.
func (e *ValidationError) HasCode(code IssueCode) bool {
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}
