package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"archcritic/pkg/config"
	providertypes "archcritic/pkg/provider/types"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := &config.Config{}
	_, err := New(cfg)
	if err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestNewUsesConfiguredAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-test")

	cfg := &config.Config{}
	cfg.Providers.OpenAI.APIKeyEnv = "TEST_OPENAI_API_KEY"

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client == nil {
		t.Fatal("expected client")
	}
}

func TestNewFallsBackToDefaultAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")
	t.Setenv("TEST_OPENAI_API_KEY", "")

	cfg := &config.Config{}
	cfg.Providers.OpenAI.APIKeyEnv = "TEST_OPENAI_API_KEY"

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client == nil {
		t.Fatal("expected client")
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "gpt-4o-mini", want: "gpt-4o-mini"},
		{name: "openai prefix", input: "openai/gpt-4o", want: "gpt-4o"},
		{name: "other provider", input: "anthropic/claude", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeModel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("normalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompleteSendsImageAndParsesChoice(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
		  "id": "chatcmpl-1",
		  "object": "chat.completion",
		  "created": 1,
		  "model": "gpt-4o-mini-2024-07-18",
		  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  Оценка: 7/10  "}}],
		  "usage": {"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120}
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Complete(context.Background(), providertypes.VisionRequest{
		Model:        "openai/gpt-4o-mini",
		SystemPrompt: "system",
		UserPrompt:   "describe",
		DataURL:      "data:image/jpeg;base64,AAAA",
		Detail:       providertypes.DetailLow,
		MaxTokens:    450,
	})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	if resp.Text != "Оценка: 7/10" {
		t.Fatalf("text = %q, want trimmed content", resp.Text)
	}
	if resp.FinishReason != "stop" {
		t.Fatalf("finish reason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 120 {
		t.Fatalf("usage = %+v, want total 120", resp.Usage)
	}

	if captured["model"] != "gpt-4o-mini" {
		t.Fatalf("request model = %v, want gpt-4o-mini", captured["model"])
	}
	raw, _ := json.Marshal(captured["messages"])
	if !strings.Contains(string(raw), `"detail":"low"`) || !strings.Contains(string(raw), "data:image/jpeg;base64,AAAA") {
		t.Fatalf("messages = %s, want image part with low detail", raw)
	}
}

func TestCompleteWrapsAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error": {"message": "Country, region, or territory not supported", "type": "request_forbidden", "code": "unsupported_country_region_territory"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Complete(context.Background(), providertypes.VisionRequest{
		Model:   "gpt-4o-mini",
		DataURL: "data:image/jpeg;base64,AAAA",
	})
	if err == nil {
		t.Fatal("expected error for forbidden response")
	}

	var requestErr *providertypes.RequestError
	if !errors.As(err, &requestErr) {
		t.Fatalf("error = %T, want *RequestError", err)
	}
	if requestErr.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", requestErr.StatusCode)
	}
}

func TestCompleteRequiresDataURL(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")
	if _, err := client.Complete(context.Background(), providertypes.VisionRequest{Model: "gpt-4o"}); err == nil {
		t.Fatal("expected error without data url")
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := &config.Config{}
	cfg.Providers.OpenAI.BaseURL = baseURL
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	return client
}
