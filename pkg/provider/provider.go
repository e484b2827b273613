package provider

import (
	"context"
	"fmt"
	"log/slog"

	"archcritic/pkg/config"
	providerfantasy "archcritic/pkg/provider/fantasy"
	provideropenai "archcritic/pkg/provider/openai"
	providertypes "archcritic/pkg/provider/types"
)

// Client is a vision-capable model endpoint.
type Client interface {
	Health(ctx context.Context) error
	Complete(ctx context.Context, req providertypes.VisionRequest) (providertypes.VisionResponse, error)
}

func New(cfg *config.Config) (Client, error) {
	providerID := cfg.Vision.Provider
	if providerID == "" {
		providerID = config.ProviderOpenAI
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case config.ProviderOpenAI:
		return provideropenai.New(cfg)
	case config.ProviderFantasy:
		return providerfantasy.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
