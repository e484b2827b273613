package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"archcritic/pkg/channel"
	"archcritic/pkg/channel/telegram"
	"archcritic/pkg/config"
	"archcritic/pkg/gateway"
	"archcritic/pkg/logger"
	"archcritic/pkg/provider"
	"archcritic/pkg/quota"
)

const telegramChannelName = "telegram"

var botCmd = &cobra.Command{
	Use:     "bot",
	Aliases: []string{"gateway"},
	Short:   "Run the Telegram bot",
	Long:    "Runs the architectural critic bot on the enabled channels with health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, closer, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		defer closer.Close()
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.bot")

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Bot configuration invalid", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		redisClient, err := openRedis(runCtx, cfg)
		if err != nil {
			log.Error("Failed to connect to redis", "error", err)
			return
		}
		defer closeRedis(redisClient)

		client, err := provider.New(cfg)
		if err != nil {
			log.Error("Failed to initialize provider", "error", err)
			return
		}

		analyzer, err := newAnalyzer(cfg, client, cmdable(redisClient))
		if err != nil {
			log.Error("Failed to initialize analyzer", "error", err)
			return
		}

		keys, err := quota.FromConfig(cfg.Quota, cmdable(redisClient))
		if err != nil {
			log.Error("Failed to open key store", "error", err)
			return
		}

		svc, err := gateway.NewService(cfg, gateway.Dependencies{
			Provider: client,
			Analyzer: analyzer,
			Keys:     keys,
		}, adapters, log)
		if err != nil {
			log.Error("Failed to initialize bot service", "error", err)
			return
		}

		log.Info("Bot started",
			"channels", enabledChannelNames(adapters),
			"provider", cfg.Vision.Provider,
			"model", cfg.Vision.Model,
			"quota_backend", cfg.Quota.Backend,
			"cache_backend", cfg.Cache.Backend,
		)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Bot runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(botCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
