package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "comms-cli",
	Short: "Conversation ingestion and emergency intelligence pipeline",
	Long:  "Syncs customer messages from the provider, threads them into conversations, extracts structured details, classifies emergencies and routes incidents to responders.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
