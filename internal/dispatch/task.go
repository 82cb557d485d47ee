package dispatch

import (
	"fmt"
	"strings"

	"github.com/phrazzld/enrich/internal/schema"
)

// Task describes one kind of enrichment: what the model is told to do and the
// shape each item's answer must take.
type Task struct {
	Name        string
	Instruction string
	Schema      *schema.Schema
}

func (t Task) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: task name is required", ErrInvalidOptions)
	}
	if t.Schema == nil {
		return fmt.Errorf("%w: task %s has no schema", ErrInvalidOptions, t.Name)
	}
	if err := t.Schema.Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// OpinionTask classifies user opinions into the given categories.
func OpinionTask(categories []string) Task {
	instruction := "You classify user opinions and feedback. For every input choose the single best category, " +
		"estimate your confidence between 0 and 1 and give a short rationale."
	if len(categories) > 0 {
		instruction += " Allowed categories: " + strings.Join(categories, ", ") + "."
	}
	return Task{
		Name:        schema.OpinionClassificationName,
		Instruction: instruction,
		Schema:      schema.OpinionClassification(categories),
	}
}

// CompanyProfileTask enriches company names with a short profile.
func CompanyProfileTask() Task {
	return Task{
		Name: schema.CompanyProfileName,
		Instruction: "You are a market research analyst. For every company name, identify the company and " +
			"describe its industry, headquarters country and business. If the company cannot be identified " +
			"with certainty, give your best guess and a low confidence.",
		Schema: schema.CompanyProfile(),
	}
}

// TranslationTask translates text into targetLanguage.
func TranslationTask(targetLanguage string) Task {
	return Task{
		Name: schema.TranslationName,
		Instruction: fmt.Sprintf("You are a professional translator. Translate every input into %s. "+
			"Preserve meaning, tone and formatting. Do not add explanations.", targetLanguage),
		Schema: schema.Translation(),
	}
}

// CustomTask wraps a schema loaded at runtime.
func CustomTask(s *schema.Schema, instruction string) Task {
	if instruction == "" {
		instruction = s.Description
	}
	return Task{Name: s.Name, Instruction: instruction, Schema: s}
}
