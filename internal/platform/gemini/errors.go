package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/enrich/internal/generation"
	"google.golang.org/genai"
)

const providerName = "gemini"

// mapError classifies a GenerateContent failure.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return generation.NewTransientError(providerName, 0, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyAPIError(*apiErrPtr)
	}

	// Transport failures without a status are worth another attempt.
	return generation.NewTransientError(providerName, 0, err)
}

func classifyAPIError(e genai.APIError) error {
	err := fmt.Errorf("%s: %s", e.Status, e.Message)
	// A spent daily quota answers 429 like a per-minute limit but will not
	// recover within any retry budget.
	if e.Code == http.StatusTooManyRequests && dailyQuotaExhausted(e) {
		return generation.NewFatalError(providerName, e.Code, fmt.Errorf("daily quota exhausted: %w", err))
	}
	return classifyStatus(e.Code, err)
}

// dailyQuotaExhausted looks for a per-day quota in the QuotaFailure details
// of a RESOURCE_EXHAUSTED error, falling back to the message text.
func dailyQuotaExhausted(e genai.APIError) bool {
	for _, detail := range e.Details {
		violations, _ := detail["violations"].([]any)
		for _, v := range violations {
			violation, _ := v.(map[string]any)
			if id, _ := violation["quotaId"].(string); strings.Contains(id, "PerDay") {
				return true
			}
		}
	}
	return strings.Contains(strings.ToLower(e.Message), "per day")
}

func classifyStatus(code int, err error) error {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return generation.NewTransientError(providerName, code, err)
	default:
		return generation.NewFatalError(providerName, code, err)
	}
}

// checkResponse rejects responses that carry no usable answer.
func checkResponse(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" &&
		fb.BlockReason != genai.BlockedReasonUnspecified {
		return fmt.Errorf("%w: prompt blocked (%s) %s",
			generation.ErrContentBlocked, fb.BlockReason, fb.BlockReasonMessage)
	}
	if len(resp.Candidates) == 0 {
		return fmt.Errorf("%w: no candidates", generation.ErrInvalidResponse)
	}
	switch reason := resp.Candidates[0].FinishReason; reason {
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent,
		genai.FinishReasonSPII:
		return fmt.Errorf("%w: finish reason %s", generation.ErrContentBlocked, reason)
	case genai.FinishReasonMaxTokens:
		return fmt.Errorf("%w: answer truncated at the token limit", generation.ErrInvalidResponse)
	}
	if resp.Candidates[0].Content == nil {
		return fmt.Errorf("%w: empty candidate content", generation.ErrInvalidResponse)
	}
	return nil
}
