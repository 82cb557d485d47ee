// Package gemini implements generation.Client on top of Google's Gemini API.
//
// Structured calls use Gemini's controlled generation: the request schema is
// converted to a genai.Schema and the model must answer with
// application/json. Deep research calls enable the Google Search tool, which
// Gemini does not allow together with a response schema, so the JSON Schema
// is rendered into the prompt instead and the JSON document is extracted from
// the text answer.
//
// API failures are classified for the retry policy: rate limits, server
// errors and deadlines are transient; rejected requests, authentication
// failures and safety blocks are fatal.
package gemini
