package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"archcritic/pkg/config"
	"archcritic/pkg/quota"
)

var (
	keysCount int
	keysQuota int
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage access keys",
	Long:  "Generates and inspects the quota keys users send to the bot before uploading photos.",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate limited access keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeyStore(cmd, func(ctx context.Context, cfg *config.Config, store quota.Store) error {
			perKey := keysQuota
			if perKey <= 0 {
				perKey = cfg.Quota.DefaultQuota
			}
			return generateKeys(ctx, store, cmd.OutOrStdout(), keysCount, perKey)
		})
	},
}

var keysUnlimitedCmd = &cobra.Command{
	Use:   "unlimited",
	Short: "Generate one unlimited access key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeyStore(cmd, func(ctx context.Context, _ *config.Config, store quota.Store) error {
			key, err := store.GenerateUnlimited(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		})
	},
}

var keysShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show the remaining quota of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeyStore(cmd, func(ctx context.Context, _ *config.Config, store quota.Store) error {
			return showKey(ctx, store, cmd.OutOrStdout(), args[0])
		})
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd, keysUnlimitedCmd, keysShowCmd)
	keysGenerateCmd.Flags().IntVarP(&keysCount, "count", "n", 20, "number of keys to generate")
	keysGenerateCmd.Flags().IntVarP(&keysQuota, "quota", "q", 0, "analyses per key (defaults to quota.default_quota)")
}

func withKeyStore(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, store quota.Store) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	redisClient, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRedis(redisClient)

	store, err := quota.FromConfig(cfg.Quota, cmdable(redisClient))
	if err != nil {
		return err
	}

	return fn(ctx, cfg, store)
}

func generateKeys(ctx context.Context, store quota.Store, out io.Writer, count int, perKey int) error {
	keys, err := store.Generate(ctx, count, perKey)
	if err != nil {
		return err
	}

	for _, key := range keys {
		fmt.Fprintln(out, key)
	}

	return nil
}

func showKey(ctx context.Context, store quota.Store, out io.Writer, key string) error {
	info, err := store.Get(ctx, strings.TrimSpace(key))
	if err != nil {
		return err
	}

	remaining := fmt.Sprintf("%d", info.Remaining)
	if info.Unlimited() {
		remaining = "unlimited"
	}

	fmt.Fprintf(out, "key:       %s\n", info.Key)
	fmt.Fprintf(out, "remaining: %s\n", remaining)
	fmt.Fprintf(out, "created:   %s\n", info.Created().UTC().Format(time.RFC3339))
	return nil
}
