// Package export writes merged part records to spreadsheet artifacts and
// reads them back.
package export

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/partmaster/internal/merge"
	"github.com/sells-group/partmaster/internal/record"
	"github.com/sells-group/partmaster/internal/source"
)

// SheetName is the worksheet every artifact is written to.
const SheetName = "Parts"

// ContentType is the MIME type of an XLSX artifact.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Columns returns the artifact column order for recs: part_number, then
// sources, then every other field sorted by name.
func Columns(recs []record.Record) []string {
	seen := map[string]bool{}
	for _, r := range recs {
		for k := range r {
			seen[k] = true
		}
	}
	cols := []string{record.PartNumber}
	if seen[record.Sources] {
		cols = append(cols, record.Sources)
	}
	var rest []string
	for k := range seen {
		if k == record.PartNumber || k == record.Sources {
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

// WriteXLSX writes recs as a single-sheet workbook with a header row. Null
// values are written as empty cells. A nil cols uses Columns(recs).
func WriteXLSX(w io.Writer, recs []record.Record, cols []string) error {
	if cols == nil {
		cols = Columns(recs)
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range cols {
		header.AddCell().SetString(c)
	}
	for _, r := range recs {
		row := sheet.AddRow()
		for _, c := range cols {
			cell := row.AddCell()
			if v := r.Get(c); v.Valid() {
				cell.SetString(v.String())
			}
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

// XLSXBytes renders recs to an in-memory workbook.
func XLSXBytes(recs []record.Record, cols []string) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, recs, cols); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveXLSX writes recs to path, creating parent directories. The file is
// written to a temporary name first and renamed so readers never see a
// partial workbook.
func SaveXLSX(path string, recs []record.Record, cols []string) error {
	data, err := XLSXBytes(recs, cols)
	if err != nil {
		return err
	}
	return SaveBytes(path, data)
}

// SaveBytes atomically writes an already rendered artifact to path.
func SaveBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "export: create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.xlsx")
	if err != nil {
		return eris.Wrap(err, "export: create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrap(err, "export: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "export: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "export: rename to %s", path)
	}
	return nil
}

// ReadXLSX parses an artifact produced by WriteXLSX. Empty cells read back
// as null; columns with a blank header are ignored.
func ReadXLSX(data []byte) ([]record.Record, error) {
	rows, err := source.ReadXLSX(data, source.XLSXOptions{SheetName: SheetName})
	if err != nil {
		rows, err = source.ReadXLSX(data, source.XLSXOptions{})
		if err != nil {
			return nil, eris.Wrap(err, "export: read workbook")
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	out := make([]record.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(record.Record, len(header))
		empty := true
		for i, name := range header {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			v := record.Null()
			if i < len(row) {
				v = record.SanitizeString(row[i])
			}
			if v.Valid() {
				empty = false
			}
			rec[name] = v
		}
		if empty {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// SelectColumns returns copies of recs restricted to the wanted columns that
// exist in at least one record, preserving the order of wanted. Unknown
// names are reported separately.
func SelectColumns(recs []record.Record, wanted []string) ([]record.Record, []string, []string) {
	present := map[string]bool{}
	for _, r := range recs {
		for k := range r {
			present[k] = true
		}
	}

	var cols, unknown []string
	seen := map[string]bool{}
	for _, w := range wanted {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		if present[w] {
			cols = append(cols, w)
		} else {
			unknown = append(unknown, w)
		}
	}

	out := make([]record.Record, len(recs))
	for i, r := range recs {
		sel := make(record.Record, len(cols))
		for _, c := range cols {
			sel[c] = r.Get(c)
		}
		out[i] = sel
	}
	return out, cols, unknown
}

// SourcesMultiline puts each provenance token on its own line for display.
func SourcesMultiline(s string) string {
	return strings.Join(merge.SplitList(s), ",\n")
}
