package fantasy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"archcritic/pkg/config"
	providertypes "archcritic/pkg/provider/types"
)

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

// Client routes vision requests through fantasy's provider-agnostic language model API.
//
// Fantasy has no per-image detail switch, so VisionRequest.Detail is ignored here.
type Client struct {
	provider       languageModelProvider
	requestTimeout time.Duration
	healthModelID  string
}

func New(cfg *config.Config) (*Client, error) {
	apiKey := resolveAPIKey(cfg.Providers.OpenAI)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set")
	}

	modelID, err := normalizeOpenAIModel(cfg.Vision.Model)
	if err != nil {
		return nil, err
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.Providers.OpenAI.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Providers.OpenAI.Organization); organization != "" {
		providerOptions = append(providerOptions, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Providers.OpenAI.Project); project != "" {
		providerOptions = append(providerOptions, provideropenai.WithProject(project))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	return &Client{
		provider:       fantasyProvider,
		requestTimeout: time.Duration(cfg.Providers.OpenAI.RequestTimeoutSeconds) * time.Second,
		healthModelID:  modelID,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.provider.LanguageModel(ctx, c.healthModelID); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

func (c *Client) Complete(ctx context.Context, req providertypes.VisionRequest) (providertypes.VisionResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	modelID, err := normalizeOpenAIModel(req.Model)
	if err != nil {
		return providertypes.VisionResponse{}, err
	}
	if len(req.Image) == 0 {
		return providertypes.VisionResponse{}, errors.New("image is required")
	}

	languageModel, err := c.provider.LanguageModel(ctx, modelID)
	if err != nil {
		return providertypes.VisionResponse{}, fmt.Errorf("resolve language model: %w", err)
	}

	call := core.Call{Prompt: buildPrompt(req)}
	if req.MaxTokens > 0 {
		maxTokens := int64(req.MaxTokens)
		call.MaxOutputTokens = &maxTokens
	}

	result, err := languageModel.Generate(ctx, call)
	if err != nil {
		return providertypes.VisionResponse{}, wrapGenerateError(err)
	}

	response := providertypes.VisionResponse{Model: modelID}
	if result == nil {
		return response, nil
	}

	response.Text = extractText(result.Content)
	response.FinishReason = providertypes.NormalizeFinishReason(string(result.FinishReason))

	usage := providertypes.TokenUsage{
		InputTokens:     result.Usage.InputTokens,
		OutputTokens:    result.Usage.OutputTokens,
		TotalTokens:     result.Usage.TotalTokens,
		ReasoningTokens: result.Usage.ReasoningTokens,
		CacheReadTokens: result.Usage.CacheReadTokens,
	}
	if !usage.IsZero() {
		response.Usage = &usage
	}

	return response, nil
}

// wrapGenerateError keeps the HTTP status and the API error code that fantasy folds into a
// ProviderError, so retry classification sees the same facts as the direct openai client.
func wrapGenerateError(err error) error {
	requestErr := &providertypes.RequestError{Provider: "fantasy", Err: err}

	var providerErr *core.ProviderError
	if errors.As(err, &providerErr) {
		requestErr.StatusCode = providerErr.StatusCode
		requestErr.Code = errorCode(providerErr.ResponseBody)
	}

	return requestErr
}

// errorCode reads error.code from a dumped HTTP response. The dump may carry the status line
// and headers ahead of the JSON body.
func errorCode(dump []byte) string {
	body := dump
	if _, rest, found := bytes.Cut(dump, []byte("\r\n\r\n")); found {
		body = rest
	}

	var payload struct {
		Error struct {
			Code any `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		return ""
	}

	switch code := payload.Error.Code.(type) {
	case string:
		return code
	case float64:
		return fmt.Sprintf("%.0f", code)
	default:
		return ""
	}
}

func buildPrompt(req providertypes.VisionRequest) core.Prompt {
	prompt := make(core.Prompt, 0, 2)
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		prompt = append(prompt, core.Message{
			Role:    core.MessageRoleSystem,
			Content: []core.MessagePart{core.TextPart{Text: system}},
		})
	}

	prompt = append(prompt, core.Message{
		Role: core.MessageRoleUser,
		Content: []core.MessagePart{
			core.TextPart{Text: strings.TrimSpace(req.UserPrompt)},
			core.FilePart{
				Filename:  "building" + extensionFor(req.MediaType),
				Data:      req.Image,
				MediaType: req.MediaType,
			},
		},
	})

	return prompt
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func normalizeOpenAIModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by fantasy openai provider", providerID)
	}

	return modelID, nil
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
