package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmaster/internal/cleanse"
	"github.com/sells-group/partmaster/internal/config"
	"github.com/sells-group/partmaster/internal/partstore"
	"github.com/sells-group/partmaster/internal/source"
)

// testConfig returns a config rooted in a temp dir with SAP and Vault sources.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = filepath.Join(base, "parts.db")
	cfg.Store.BatchSize = 1000
	cfg.Sources = []source.SourceDir{
		{System: "SAP", Dir: filepath.Join(base, "data", "SAP")},
		{System: "Vault", Dir: filepath.Join(base, "data", "Vault")},
	}
	cfg.Load.Concurrency = 2
	cfg.Output.Dir = filepath.Join(base, "output")
	cfg.Output.SnapshotName = "snapshot.xlsx"
	cfg.Upload.RequiredColumns = []string{"part_number", "description"}
	cfg.Upload.SaveToDB = true
	return cfg
}

func writeSource(t *testing.T, cfg *config.Config, system, name, content string) {
	t.Helper()
	for _, d := range cfg.Sources {
		if d.System == system {
			require.NoError(t, os.MkdirAll(d.Dir, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(d.Dir, name), []byte(content), 0o644))
			return
		}
	}
	t.Fatalf("no source dir for %s", system)
}

func openStore(t *testing.T, cfg *config.Config) *partstore.SQLiteStore {
	t.Helper()
	st, err := partstore.NewSQLite(cfg.Store)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestPipeline(t *testing.T, cfg *config.Config, st partstore.Store) *Pipeline {
	t.Helper()
	return New(cfg, st, source.NewFileLoader(""), cleanse.New(cleanse.DefaultRules(), nil))
}

func getPart(t *testing.T, st partstore.Store, pn string) map[string]string {
	t.Helper()
	rec, err := st.Get(context.Background(), pn)
	require.NoError(t, err)
	return rec.Strings()
}
