package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/partmaster/internal/partstore"
	"github.com/sells-group/partmaster/internal/record"
	"github.com/sells-group/partmaster/internal/schema"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Columns(ctx context.Context) ([]schema.Column, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schema.Column), args.Error(1)
}

func (m *mockStore) EnsureColumns(ctx context.Context, names []string) ([]string, error) {
	args := m.Called(ctx, names)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockStore) Upsert(ctx context.Context, recs []record.Record) (partstore.UpsertResult, error) {
	args := m.Called(ctx, recs)
	return args.Get(0).(partstore.UpsertResult), args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, partNumber string) (record.Record, error) {
	args := m.Called(ctx, partNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(record.Record), args.Error(1)
}

func (m *mockStore) List(ctx context.Context, limit, offset int) ([]record.Record, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]record.Record), args.Error(1)
}

func (m *mockStore) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) Dedupe(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

var _ partstore.Store = (*mockStore)(nil)
