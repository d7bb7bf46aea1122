// Package source reads upstream export files (CSV, XLSX, JSON, ZIP) into raw
// part records.
package source

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/partmaster/internal/record"
)

// Loader reads one file into raw records. Provenance is left to the caller.
type Loader interface {
	Load(ctx context.Context, path string) ([]record.Raw, error)
}

// FileLoader dispatches on file extension.
type FileLoader struct {
	// Charset names the encoding assumed for CSV files that are not valid
	// UTF-8 (e.g. "windows-1252"). Empty means windows-1252.
	Charset string
}

// NewFileLoader returns a FileLoader with the given CSV fallback charset.
func NewFileLoader(charset string) *FileLoader {
	return &FileLoader{Charset: charset}
}

// Load implements Loader.
func (l *FileLoader) Load(ctx context.Context, path string) ([]record.Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", path)
	}
	return l.Parse(ctx, filepath.Base(path), data)
}

// Parse reads an in-memory file. name selects the format by extension.
func (l *FileLoader) Parse(ctx context.Context, name string, data []byte) ([]record.Raw, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv", ".txt", ".tsv":
		return l.parseCSV(ctx, bytes.NewReader(data))
	case ".xlsx", ".xlsm":
		return parseXLSX(data)
	case ".json":
		return parseJSON(ctx, bytes.NewReader(data))
	case ".zip":
		return l.parseZIP(ctx, data)
	default:
		return nil, eris.Errorf("source: unsupported file type %q for %s", ext, name)
	}
}

// Supported reports whether name has an extension the loader understands.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".tsv", ".xlsx", ".xlsm", ".json", ".zip":
		return true
	}
	return false
}

// tableToRaws converts a header row plus data rows into raw records. Blank
// rows are skipped, short rows are padded with nulls, and cells under blank
// headers are dropped. Duplicate headers get a numeric suffix.
func tableToRaws(header []string, rows [][]string) []record.Raw {
	names := uniqueHeaders(header)
	out := make([]record.Raw, 0, len(rows))
	for _, row := range rows {
		if blankRow(row) {
			continue
		}
		fields := make(map[string]any, len(names))
		for i, name := range names {
			if name == "" {
				continue
			}
			if i < len(row) {
				fields[name] = row[i]
			} else {
				fields[name] = nil
			}
		}
		out = append(out, record.Raw{Fields: fields})
	}
	return out
}

func uniqueHeaders(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			continue
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = h + "_" + strconv.Itoa(n)
		}
		out[i] = h
	}
	return out
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
