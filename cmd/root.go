package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/partmaster/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "partmaster",
	Short: "Consolidate part records from upstream systems into one master table",
	Long:  "Loads part exports from SAP, Vault, PowerBI, PO, and Invoice systems, cleans and merges them by part number, and upserts the result into a schema-evolving part master table.",
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
