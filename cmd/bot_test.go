package cmd

import (
	"context"
	"testing"

	channelpkg "archcritic/pkg/channel"
	"archcritic/pkg/config"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Handler) error { return nil }

func TestEnabledAdaptersRequiresAtLeastOneChannel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := enabledAdapters(cfg, nil); err == nil {
		t.Fatal("expected error when no channels are enabled")
	}
}

func TestEnabledAdaptersRequiresTelegramToken(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Channels.Telegram.Enabled = true
	if _, err := enabledAdapters(cfg, nil); err == nil {
		t.Fatal("expected error when telegram token is missing")
	}

	cfg.Channels.Telegram.Token = "123:abc"
	adapters, err := enabledAdapters(cfg, nil)
	if err != nil {
		t.Fatalf("enabledAdapters error: %v", err)
	}
	if got := enabledChannelNames(adapters); got != telegramChannelName {
		t.Fatalf("enabledChannelNames = %q, want %q", got, telegramChannelName)
	}
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "telegram"}, testAdapter{name: "slack"}}
	if got := enabledChannelNames(adapters); got != "telegram,slack" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "telegram,slack")
	}
}
