package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/partmaster/internal/partstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the part master table if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), cfg, func(st partstore.Store) error {
			n, err := st.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "table %s ready (%d rows)\n", cfg.Store.Table, n)
			return nil
		})
	},
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Delete duplicate part numbers and restore the unique constraint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), cfg, func(st partstore.Store) error {
			n, err := st.Dedupe(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d duplicate rows\n", n)
			return nil
		})
	},
}

var partCmd = &cobra.Command{
	Use:   "part PART_NUMBER",
	Short: "Print one part master row as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), cfg, func(st partstore.Store) error {
			rec, err := st.Get(cmd.Context(), args[0])
			if eris.Is(err, partstore.ErrNotFound) {
				return eris.Errorf("part %q not found", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec.Strings())
		})
	},
}

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "List the part master columns",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), cfg, func(st partstore.Store) error {
			cols, err := st.Columns(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, c := range cols {
				fmt.Fprintf(w, "%s\t%s\n", c.Name, c.Type)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, dedupeCmd, partCmd, columnsCmd)
}
