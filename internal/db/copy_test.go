package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "part_master", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectCopyFrom(pgx.Identifier{"part_master"}, []string{"part_number", "cost"}).WillReturnResult(3)

	rows := [][]any{{"A", "1"}, {"B", "2"}, {"C", nil}}
	n, err := CopyFrom(context.Background(), mock, "part_master", []string{"part_number", "cost"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectCopyFrom(pgx.Identifier{"staging", "part_master"}, []string{"part_number"}).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "staging.part_master", []string{"part_number"}, [][]any{{"A"}})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectCopyFrom(pgx.Identifier{"part_master"}, []string{"a"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err := CopyFrom(context.Background(), mock, "part_master", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO part_master")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, pgx.Identifier{"part_master"}, Identifier("part_master"))
	assert.Equal(t, pgx.Identifier{"public", "part_master"}, Identifier("public.part_master"))
}
