package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/partmaster/internal/monitoring"
)

var refreshStrict bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Load every source directory, merge by part number, and upsert the part master",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("strict") {
			cfg.Refresh.Strict = refreshStrict
		}

		env, err := initPipeline(ctx, cfg, "refresh")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Refresh(ctx)
		monitoring.NewAlerter(cfg.Monitoring).Notify(ctx, res, err)
		if res != nil {
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
		}
		return err
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshStrict, "strict", false, "fail when no records are loaded")
	rootCmd.AddCommand(refreshCmd)
}
