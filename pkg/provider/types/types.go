package types

import (
	"fmt"
	"strings"
)

// Detail levels understood by vision endpoints.
const (
	DetailLow  = "low"
	DetailHigh = "high"
)

// FinishReasonContentFilter is the normalized finish reason for safety-filtered completions.
const FinishReasonContentFilter = "content_filter"

// VisionRequest describes one outbound call to a vision-capable model.
type VisionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Image        []byte
	MediaType    string
	DataURL      string
	Detail       string
	MaxTokens    int
}

// VisionResponse is the normalized provider reply. Text is empty when the model produced nothing usable.
type VisionResponse struct {
	Text         string
	FinishReason string
	Model        string
	Usage        *TokenUsage
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	ReasoningTokens int64
	CacheReadTokens int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 &&
		u.CacheReadTokens == 0
}

// NormalizeFinishReason maps provider spellings ("content-filter", "CONTENT_FILTER") to one form.
func NormalizeFinishReason(reason string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(reason)), "-", "_")
}

// RequestError carries the structured parts of a failed provider call.
type RequestError struct {
	Provider   string
	StatusCode int
	Code       string
	Err        error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}

	return fmt.Sprintf("%s request failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}
