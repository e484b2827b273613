package vision

import (
	"strings"
	"testing"
)

func TestLoadPrompts(t *testing.T) {
	prompts, err := LoadPrompts()
	if err != nil {
		t.Fatalf("LoadPrompts error: %v", err)
	}

	if !strings.Contains(prompts.System, "архитектор") {
		t.Fatalf("system prompt = %q", prompts.System)
	}
	if !strings.Contains(prompts.Primary, "Архитектурная оценка: X/10") {
		t.Fatal("primary prompt is missing the score line")
	}
	if prompts.Fallback == "" || len(prompts.Fallback) >= len(prompts.Primary) {
		t.Fatal("fallback prompt should be shorter than primary")
	}
}

func TestLoadTemplateMissing(t *testing.T) {
	if _, err := loadTemplate("missing"); err == nil {
		t.Fatal("expected error for missing template")
	}
}
