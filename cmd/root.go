package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "campaignfin",
	Short: "FEC campaign-finance warehouse and lookup service",
	Long:  "Fetches FEC bulk files, builds per-cycle candidate, committee and finance tables, and serves candidate lookups and identity matches.",
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
