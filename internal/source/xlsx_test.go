package source

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestReadXLSX_Basic(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Name", "Age", "City"},
			{"Alice", "30", "NYC"},
		},
	})

	rows, err := ReadXLSX(data, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Name", "Age", "City"}, rows[0])
	assert.Equal(t, []string{"Alice", "30", "NYC"}, rows[1])
}

func TestReadXLSX_SheetName(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{
		"First":  {{"a", "b"}},
		"Second": {{"x", "y"}, {"1", "2"}},
	})

	rows, err := ReadXLSX(data, XLSXOptions{SheetName: "Second"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"x", "y"}, rows[0])
}

func TestReadXLSX_SheetNameNotFound(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	_, err := ReadXLSX(data, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadXLSX_SheetIndexOutOfRange(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	_, err := ReadXLSX(data, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSX_InvalidData(t *testing.T) {
	_, err := ReadXLSX([]byte("not a workbook"), XLSXOptions{})
	require.Error(t, err)
}

func TestParseXLSX_HeaderRow(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"", ""},
			{"Part Number", "Description"},
			{"P-1", "Bracket"},
			{"P-2", ""},
		},
	})

	rows := parse(t, "vault.xlsx", string(data))
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]any{"Part Number": "P-1", "Description": "Bracket"}, rows[0])
	assert.Equal(t, "P-2", rows[1]["Part Number"])
}
