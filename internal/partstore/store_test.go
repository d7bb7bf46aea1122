package partstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmaster/internal/record"
)

func rec(kv ...string) record.Record {
	r := make(record.Record)
	for i := 0; i+1 < len(kv); i += 2 {
		r[kv[i]] = record.SanitizeString(kv[i+1])
	}
	return r
}

func TestPrepareBatch(t *testing.T) {
	b := prepareBatch([]record.Record{
		rec("part_number", "A", "cost", " 5 ", "id", "99", "updated_at", "yesterday"),
		rec("cost", "6"),
		rec("part_number", "nan", "cost", "7"),
		rec("part_number", "B", "vendor_name", "Acme"),
		rec("part_number", "A", "cost", "8"),
	})

	assert.Equal(t, UpsertResult{Attempted: 5, Skipped: 2, Duplicates: 1}, b.result)
	assert.Equal(t, []string{"cost", "vendor_name"}, b.columns)
	require.Len(t, b.rows, 2)
	assert.Equal(t, "A", b.rows[0].PartNumber().String())
	assert.Equal(t, "8", b.rows[0].Get("cost").String(), "last duplicate wins")
	_, hasID := b.rows[0]["id"]
	assert.False(t, hasID)
	assert.Equal(t, []any{"B", nil, "Acme"}, args(b.rows[1], b.columns))
}

func TestPrepareBatch_SanitizesUnsanitizedValues(t *testing.T) {
	b := prepareBatch([]record.Record{
		{"part_number": record.String("  A  "), "cost": record.String("NULL")},
	})
	require.Len(t, b.rows, 1)
	assert.Equal(t, []any{"A", nil}, args(b.rows[0], b.columns))
}

func TestFromDB(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 5, time.FixedZone("x", 3600))
	assert.Equal(t, "2026-03-01T11:00:00.000000005Z", fromDB(ts).String())
	assert.Equal(t, "7", fromDB(int64(7)).String())
	assert.Equal(t, "abc", fromDB([]byte(" abc ")).String())
	assert.False(t, fromDB(nil).Valid())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestOpen_RequiresURL(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "sqlite"})
	require.Error(t, err)
	_, err = Open(context.Background(), Config{Driver: "postgres"})
	require.Error(t, err)
}
