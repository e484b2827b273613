package types

import (
	"errors"
	"testing"
)

func TestNormalizeFinishReason(t *testing.T) {
	tests := map[string]string{
		"content_filter":   FinishReasonContentFilter,
		"content-filter":   FinishReasonContentFilter,
		" CONTENT_FILTER ": FinishReasonContentFilter,
		"stop":             "stop",
		"":                 "",
	}

	for input, want := range tests {
		if got := NormalizeFinishReason(input); got != want {
			t.Fatalf("NormalizeFinishReason(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRequestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := error(&RequestError{Provider: "openai", StatusCode: 429, Err: inner})

	if !errors.Is(err, inner) {
		t.Fatal("expected RequestError to unwrap to inner error")
	}
	if got := err.Error(); got != "openai request failed (status 429): boom" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestTokenUsageIsZero(t *testing.T) {
	if !(TokenUsage{}).IsZero() {
		t.Fatal("expected zero usage")
	}
	if (TokenUsage{OutputTokens: 1}).IsZero() {
		t.Fatal("expected non-zero usage")
	}
}
