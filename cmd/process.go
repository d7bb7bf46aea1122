package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/partmaster/internal/export"
	"github.com/sells-group/partmaster/internal/source"
)

var (
	processOut    string
	processNoSave bool
)

var processCmd = &cobra.Command{
	Use:   "process FILE...",
	Short: "Clean and merge the given files into a spreadsheet without touching source directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if processNoSave {
			cfg.Upload.SaveToDB = false
		}

		uploads, err := readUploads(args)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, cfg, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.ProcessUploads(ctx, uploads)
		if err != nil {
			return err
		}

		out := outputPath(processOut, cfg.Output.Dir, res.Filename)
		if err := export.SaveBytes(out, res.Data); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "wrote %d parts to %s\n", res.Merged, out)
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warn)
		}
		if cfg.Upload.SaveToDB {
			fmt.Fprintf(w, "saved %d of %d rows\n", res.Saved, res.Attempted)
		}
		return nil
	},
}

func readUploads(paths []string) ([]source.Upload, error) {
	uploads := make([]source.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", p)
		}
		uploads = append(uploads, source.Upload{Name: filepath.Base(p), Data: data})
	}
	return uploads, nil
}

// outputPath picks where the artifact goes: --out if given (a directory if
// it ends in a separator or already is one), else the output directory.
func outputPath(out, dir, filename string) string {
	if out == "" {
		return filepath.Join(dir, filename)
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, filename)
	}
	if os.IsPathSeparator(out[len(out)-1]) {
		return filepath.Join(out, filename)
	}
	return out
}

func init() {
	processCmd.Flags().StringVar(&processOut, "out", "", "output file or directory (default output.dir)")
	processCmd.Flags().BoolVar(&processNoSave, "no-save", false, "do not write merged rows to the store")
	rootCmd.AddCommand(processCmd)
}
