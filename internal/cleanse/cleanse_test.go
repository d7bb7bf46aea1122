package cleanse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmaster/internal/record"
)

func raw(system string, fields map[string]any) record.Raw {
	return record.Raw{Fields: fields, SourceSystem: system, SourceFile: system + ".csv"}
}

func TestClean_DropsRecordsWithoutPartNumber(t *testing.T) {
	c := New(DefaultRules(), nil)
	out, stats := c.Clean([]record.Raw{
		raw("SAP", map[string]any{"part_number": " A1 ", "cost": "5"}),
		raw("SAP", map[string]any{"part_number": "nan", "cost": "6"}),
		raw("SAP", map[string]any{"part_number": nil}),
		raw("SAP", map[string]any{"cost": "7"}),
	})

	assert.Equal(t, Stats{In: 4, Out: 1, Dropped: 3}, stats)
	require.Len(t, out, 1)
	assert.Equal(t, "A1", out[0].PartNumber().String())
	assert.Equal(t, "SAP", out[0].Get(record.SourceSystem).String())
	assert.Equal(t, "SAP.csv", out[0].Get(record.SourceFile).String())
}

func TestClean_HeaderAliases(t *testing.T) {
	c := New(DefaultRules(), nil)
	out, _ := c.Clean([]record.Raw{
		raw("SAP", map[string]any{"Material #": "M-100", "Material Description": "hex bolt"}),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "M-100", out[0].PartNumber().String())
	assert.Equal(t, "hex bolt", out[0].Get("description").String())
	assert.False(t, out[0].Has("material_no"))
}

func TestClean_PartHeaderAlias(t *testing.T) {
	c := New(DefaultRules(), nil)
	out, _ := c.Clean([]record.Raw{
		raw("Invoice", map[string]any{"Part": "INV-7", "Material": "steel"}),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "INV-7", out[0].PartNumber().String())
	assert.Equal(t, "steel", out[0].Get("material").String(), "material is a field, not an identifier")
	assert.False(t, out[0].Has("part"))
}

func TestClean_AliasKeepsExplicitCanonicalField(t *testing.T) {
	c := New(DefaultRules(), nil)
	out, _ := c.Clean([]record.Raw{
		raw("Vault", map[string]any{"Part Number": "P-1", "Material #": "M-1"}),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "P-1", out[0].PartNumber().String())
	assert.Equal(t, "M-1", out[0].Get("material_no").String())
}

func TestClean_FieldRules(t *testing.T) {
	c := New(DefaultRules(), nil)
	out, _ := c.Clean([]record.Raw{
		raw("PO", map[string]any{
			"part_number":    "ab-1",
			"Vendor Code":    " ab 12 ",
			"currency":       "usd",
			"description":    "hex   bolt\t m10",
			"commodity_code": "12345.0",
		}),
	})
	require.Len(t, out, 1)
	rec := out[0]
	assert.Equal(t, "ab-1", rec.PartNumber().String(), "part number is not case folded")
	assert.Equal(t, "AB12", rec.Get("vendor_code").String())
	assert.Equal(t, "USD", rec.Get("currency").String())
	assert.Equal(t, "hex bolt m10", rec.Get("description").String())
	assert.Equal(t, "12345", rec.Get("commodity_code").String())
}

func TestClean_HeaderCollisionFirstNonNullWins(t *testing.T) {
	c := New(DefaultRules(), nil)
	out, _ := c.Clean([]record.Raw{
		raw("BI", map[string]any{"part_number": "X", "Cost": "", "cost": "9"}),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "9", out[0].Get("cost").String())
}

type fixedEnricher record.Record

func (f fixedEnricher) Enrich(record.Record) record.Record { return record.Record(f) }

func TestClean_EnrichmentIsAdditiveOnly(t *testing.T) {
	c := New(DefaultRules(), fixedEnricher{
		"material":    record.String("STEEL"),
		"spec_grade":  record.String("A36"),
		"part_number": record.String("HIJACK"),
		"empty":       record.Null(),
	})
	out, _ := c.Clean([]record.Raw{
		raw("SAP", map[string]any{"part_number": "A", "material": "Brass"}),
	})
	require.Len(t, out, 1)
	rec := out[0]
	assert.Equal(t, "A", rec.PartNumber().String())
	assert.Equal(t, "Brass", rec.Get("material").String())
	assert.Equal(t, "A36", rec.Get("spec_grade").String())
	_, ok := rec["empty"]
	assert.False(t, ok)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
aliases:
  "Article No": part_number
upper:
  - bin_location
code:
  - vendor_code
`), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, "part_number", rules.Aliases["article_no"])
	assert.Contains(t, rules.Upper, "bin_location")
	assert.Equal(t, "part_number", rules.Aliases["material_no"], "defaults survive")

	c := New(rules, nil)
	out, _ := c.Clean([]record.Raw{raw("SAP", map[string]any{"Article No": "Z9", "bin_location": "a-01"})})
	require.Len(t, out, 1)
	assert.Equal(t, "Z9", out[0].PartNumber().String())
	assert.Equal(t, "A-01", out[0].Get("bin_location").String())
}

func TestLoadRules_Errors(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aliases: [1, 2"), 0o600))
	_, err = LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse rules")

	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}
