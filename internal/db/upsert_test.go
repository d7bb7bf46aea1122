package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "part_master",
		Columns:      []string{"part_number", "cost"},
		ConflictKeys: []string{"part_number"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "part_master",
		ConflictKeys: []string{"part_number"},
	}, [][]any{{"A", "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "part_master",
		Columns: []string{"part_number", "cost"},
	}, [][]any{{"A", "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock := newMockPool(t)
	cols := []string{"part_number", "cost"}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_part_master" ON COMMIT DROP AS SELECT "part_number", "cost" FROM "part_master" WITH NO DATA`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_part_master"}, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "part_master" \("part_number", "cost"\) SELECT "part_number", "cost" FROM "_tmp_upsert_part_master" ON CONFLICT \("part_number"\) DO UPDATE SET "cost" = EXCLUDED."cost", "updated_at" = now\(\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`DROP TABLE "_tmp_upsert_part_master"`).
		WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "part_master",
		Columns:      cols,
		ConflictKeys: []string{"part_number"},
		TouchCols:    []string{"updated_at"},
	}, [][]any{{"A", "1"}, {"B", nil}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyErrorRollsBack(t *testing.T) {
	mock := newMockPool(t)
	cols := []string{"part_number"}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_part_master"}, cols).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "part_master",
		Columns:      cols,
		ConflictKeys: []string{"part_number"},
	}, [][]any{{"A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for part_master")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_BeginError(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	_, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "part_master",
		Columns:      []string{"part_number"},
		ConflictKeys: []string{"part_number"},
	}, [][]any{{"A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestUpsertSQL_DoNothing(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "public.part_master",
		Columns:      []string{"part_number"},
		ConflictKeys: []string{"part_number"},
	}, "_tmp")
	assert.Equal(t, `INSERT INTO "public"."part_master" ("part_number") SELECT "part_number" FROM "_tmp" ON CONFLICT ("part_number") DO NOTHING`, sql)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.part_master", `"public"."part_master"`},
		{`odd"name`, `"odd""name"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"part_number", "GR Amount", "cost"})
	assert.Equal(t, `"part_number", "GR Amount", "cost"`, result)
}
