package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"archcritic/pkg/config"
	providertypes "archcritic/pkg/provider/types"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const providerName = "openai"

// Client sends vision requests through the chat completions API.
type Client struct {
	client         osdk.Client
	requestTimeout time.Duration
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Providers.OpenAI
	apiKey := resolveAPIKey(providerCfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	// Retries are owned by the analyzer's backoff policy.
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	requestTimeout := time.Duration(providerCfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		requestTimeout: requestTimeout,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("provider request started")

	if _, err := c.client.Models.List(ctx); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", wrapError(err))
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

// Complete sends one system + text + image chat completion. An empty Text with a nil error
// means the model answered without usable content.
func (c *Client) Complete(ctx context.Context, req providertypes.VisionRequest) (providertypes.VisionResponse, error) {
	model, err := normalizeModel(req.Model)
	if err != nil {
		return providertypes.VisionResponse{}, err
	}
	if strings.TrimSpace(req.DataURL) == "" {
		return providertypes.VisionResponse{}, errors.New("image data url is required")
	}

	params := osdk.ChatCompletionNewParams{
		Model: model,
		Messages: []osdk.ChatCompletionMessageParamUnion{
			osdk.SystemMessage(req.SystemPrompt),
			osdk.UserMessage([]osdk.ChatCompletionContentPartUnionParam{
				osdk.TextContentPart(req.UserPrompt),
				osdk.ImageContentPart(osdk.ChatCompletionContentPartImageImageURLParam{
					URL:    req.DataURL,
					Detail: req.Detail,
				}),
			}),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = osdk.Int(int64(req.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return providertypes.VisionResponse{}, wrapError(err)
	}

	response := providertypes.VisionResponse{Model: model}
	if completion == nil || len(completion.Choices) == 0 {
		return response, nil
	}

	choice := completion.Choices[0]
	response.Text = strings.TrimSpace(choice.Message.Content)
	response.FinishReason = providertypes.NormalizeFinishReason(string(choice.FinishReason))
	if completion.Model != "" {
		response.Model = completion.Model
	}

	usage := providertypes.TokenUsage{
		InputTokens:     completion.Usage.PromptTokens,
		OutputTokens:    completion.Usage.CompletionTokens,
		TotalTokens:     completion.Usage.TotalTokens,
		ReasoningTokens: completion.Usage.CompletionTokensDetails.ReasoningTokens,
		CacheReadTokens: completion.Usage.PromptTokensDetails.CachedTokens,
	}
	if !usage.IsZero() {
		response.Usage = &usage
	}

	return response, nil
}

// wrapError lifts SDK API errors into RequestError so callers can classify by status and code.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *osdk.Error
	if errors.As(err, &apiErr) {
		return &providertypes.RequestError{
			Provider:   providerName,
			StatusCode: apiErr.StatusCode,
			Code:       strings.TrimSpace(apiErr.Code),
			Err:        err,
		}
	}

	return err
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.openai")
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

func normalizeModel(model string) (string, error) {
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
	if providerID != providerName {
		return "", fmt.Errorf("model provider %q is not supported by openai provider", providerID)
	}

	return modelID, nil
}
