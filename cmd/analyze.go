package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"archcritic/pkg/config"
	"archcritic/pkg/logger"
	"archcritic/pkg/provider"
	"archcritic/pkg/ui/analyze"
	"archcritic/pkg/vision"
)

var (
	analyzePlain   bool
	analyzeVerbose bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Critique a local building photo",
	Long:  "Loads configuration, connects to the configured vision provider, and prints a critique for one local image file.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := strings.TrimSpace(args[0])
		raw, err := readImageFile(path)
		if err != nil {
			fmt.Printf("failed to read image: %v\n", err)
			return
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}
		if !analyzeVerbose {
			cfg.Logging.Level = "error"
		}

		appLogger, closer, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		defer closer.Close()
		slog.SetDefault(appLogger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		redisClient, err := openRedis(ctx, cfg)
		if err != nil {
			fmt.Printf("failed to connect to redis: %v\n", err)
			return
		}
		defer closeRedis(redisClient)

		client, err := provider.New(cfg)
		if err != nil {
			fmt.Printf("failed to initialize provider: %v\n", err)
			return
		}

		analyzer, err := newAnalyzer(cfg, client, cmdable(redisClient))
		if err != nil {
			fmt.Printf("failed to initialize analyzer: %v\n", err)
			return
		}

		analyzeFn := func(ctx context.Context) (vision.Result, error) {
			return analyzer.AnalyzeDetailed(ctx, raw)
		}

		if analyzePlain {
			_, _ = analyze.RunPlain(ctx, cmd.OutOrStdout(), analyzeFn)
			return
		}

		if _, err := analyze.Run(ctx, analyzeFn, analyze.Info{
			FileName: filepath.Base(path),
			Bytes:    len(raw),
			Provider: cfg.Vision.Provider,
			Model:    cfg.Vision.Model,
		}); err != nil && vision.KindOf(err) == vision.KindUnclassified && !errors.Is(err, context.Canceled) {
			fmt.Printf("analysis failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzePlain, "plain", false, "print the critique without the terminal UI")
	analyzeCmd.Flags().BoolVarP(&analyzeVerbose, "verbose", "v", false, "keep configured log level")
}

func readImageFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("image path is required")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return os.ReadFile(path)
}
