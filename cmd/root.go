package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "archcritic",
	Short: "Architectural critic Telegram bot",
	Long:  "archcritic reviews photos of buildings with a vision model. Access is granted through quota keys.",
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
