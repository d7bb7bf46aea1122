//go:build !integration

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmaster/internal/export"
)

// cliEnv points the CLI at a sqlite database and source tree in a temp dir.
func cliEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("DATABASE_URL", "")
	t.Setenv("PARTMASTER_STORE_DRIVER", "sqlite")
	t.Setenv("PARTMASTER_STORE_DATABASE_URL", filepath.Join(dir, "parts.db"))
	t.Setenv("PARTMASTER_LOG_LEVEL", "error")

	processOut, processNoSave, refreshStrict, servePort = "", false, false, 0
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCLI_RefreshThenQuery(t *testing.T) {
	dir := cliEnv(t)
	writeFile(t, filepath.Join(dir, "data", "SAP", "sap.csv"), "Material No,Description\nP-1,Bracket\n")
	writeFile(t, filepath.Join(dir, "data", "Vault", "vault.csv"), "part_number,description,cost\nP-1,Bracket v2,4\n")

	out, err := execute(t, "refresh")
	require.NoError(t, err, out)

	var res struct {
		Merged   int    `json:"merged"`
		Written  int    `json:"written"`
		Snapshot string `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, 1, res.Written)
	assert.FileExists(t, res.Snapshot)

	out, err = execute(t, "part", "P-1")
	require.NoError(t, err, out)
	var row map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &row))
	assert.Equal(t, "Bracket", row["description"])
	assert.Equal(t, "4", row["cost"])
	assert.Equal(t, "SAP:sap.csv,Vault:vault.csv", row["sources"])

	out, err = execute(t, "columns")
	require.NoError(t, err, out)
	assert.Contains(t, out, "cost\ttext")

	_, err = execute(t, "part", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCLI_RefreshStrictWithNoData(t *testing.T) {
	cliEnv(t)

	_, err := execute(t, "refresh", "--strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}

func TestCLI_ProcessWritesArtifact(t *testing.T) {
	dir := cliEnv(t)
	in := filepath.Join(dir, "in.csv")
	writeFile(t, in, "part_number,cost\nP-1,3\nP-1,\nP-2,5\n")
	outPath := filepath.Join(dir, "merged.xlsx")

	out, err := execute(t, "process", in, "--out", outPath, "--no-save")
	require.NoError(t, err, out)
	assert.Contains(t, out, "wrote 2 parts")
	assert.Contains(t, out, `required column "description" is missing`)
	assert.NotContains(t, out, "saved")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	recs, err := export.ReadXLSX(data)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestCLI_MigrateAndDedupe(t *testing.T) {
	cliEnv(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "table part_master ready (0 rows)")

	out, err = execute(t, "dedupe")
	require.NoError(t, err, out)
	assert.Contains(t, out, "removed 0 duplicate rows")
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join("output", "f.xlsx"), outputPath("", "output", "f.xlsx"))
	assert.Equal(t, filepath.Join(dir, "f.xlsx"), outputPath(dir, "output", "f.xlsx"))
	assert.Equal(t, filepath.Join("new", "f.xlsx"), outputPath("new"+string(os.PathSeparator), "output", "f.xlsx"))
	assert.Equal(t, "x.xlsx", outputPath("x.xlsx", "output", "f.xlsx"))
}

func TestReadUploads_MissingFile(t *testing.T) {
	_, err := readUploads([]string{filepath.Join(t.TempDir(), "nope.csv")})
	require.Error(t, err)
}
