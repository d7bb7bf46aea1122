// Package partstore persists merged part records into a wide table whose
// column set grows as new fields appear.
package partstore

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/partmaster/internal/record"
	"github.com/sells-group/partmaster/internal/resilience"
	"github.com/sells-group/partmaster/internal/schema"
)

// ErrNotFound is returned by Get when no row has the part number.
var ErrNotFound = eris.New("partstore: part not found")

// DefaultTable is the part master table name.
const DefaultTable = "part_master"

// Store is the schema-evolving part master table. Upsert is safe to call from
// independent pipeline runs concurrently: column creation is idempotent and
// each Upsert call commits atomically.
type Store interface {
	// Migrate creates the table if it does not exist and loads its columns.
	Migrate(ctx context.Context) error
	// Columns reloads the column registry from the database catalog.
	Columns(ctx context.Context) ([]schema.Column, error)
	// EnsureColumns adds a nullable text column for each name that is not yet
	// a column. It returns the names this call found missing.
	EnsureColumns(ctx context.Context, names []string) ([]string, error)
	// Upsert writes recs in one transaction, inserting unseen part numbers
	// and overwriting the batch's columns of existing rows.
	Upsert(ctx context.Context, recs []record.Record) (UpsertResult, error)
	// Get returns the row for partNumber or ErrNotFound.
	Get(ctx context.Context, partNumber string) (record.Record, error)
	// List returns rows ordered by part number.
	List(ctx context.Context, limit, offset int) ([]record.Record, error)
	// Count returns the number of rows.
	Count(ctx context.Context) (int64, error)
	// Dedupe deletes duplicate part numbers, keeping the lowest id, and
	// re-asserts the unique constraint. It returns the rows deleted.
	Dedupe(ctx context.Context) (int64, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string                   `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string                   `yaml:"database_url" mapstructure:"database_url"`
	Table       string                   `yaml:"table" mapstructure:"table"`
	MaxConns    int32                    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32                    `yaml:"min_conns" mapstructure:"min_conns"`
	BatchSize   int                      `yaml:"batch_size" mapstructure:"batch_size"`
	Retry       resilience.RetrySettings `yaml:"retry" mapstructure:"retry"`
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		return NewPostgres(ctx, cfg)
	case "sqlite":
		return NewSQLite(cfg)
	default:
		return nil, eris.Errorf("partstore: unknown driver %q", cfg.Driver)
	}
}

// UpsertResult reports what an Upsert did.
type UpsertResult struct {
	Attempted    int      `json:"attempted"`
	Written      int      `json:"written"`
	Skipped      int      `json:"skipped"`
	Duplicates   int      `json:"duplicates"`
	AddedColumns []string `json:"added_columns,omitempty"`
}

// batch is an Upsert input after sanitizing and deduplication.
type batch struct {
	rows    []record.Record
	columns []string // dynamic columns written, sorted
	result  UpsertResult
}

// prepareBatch sanitizes every value, skips records without a usable part
// number, and keeps only the last record per part number since one statement
// cannot touch a row twice. Reserved fields and names that cannot be columns
// are not written.
func prepareBatch(recs []record.Record) batch {
	b := batch{result: UpsertResult{Attempted: len(recs)}}
	index := make(map[string]int, len(recs))
	fields := make(map[string]bool)

	for _, r := range recs {
		pn := record.Sanitize(r.PartNumber())
		if !pn.Valid() {
			b.result.Skipped++
			continue
		}

		clean := make(record.Record, len(r))
		for name, v := range r {
			if record.Reserved(name) {
				continue
			}
			if err := schema.ValidIdentifier(name); err != nil {
				zap.L().Warn("partstore: skipping field", zap.String("field", name), zap.Error(err))
				continue
			}
			clean[name] = record.Sanitize(v)
			fields[name] = true
		}
		clean[record.PartNumber] = pn

		if i, dup := index[pn.String()]; dup {
			b.rows[i] = clean
			b.result.Duplicates++
			continue
		}
		index[pn.String()] = len(b.rows)
		b.rows = append(b.rows, clean)
	}

	for name := range fields {
		b.columns = append(b.columns, name)
	}
	sort.Strings(b.columns)
	return b
}

// args returns the row's values for part_number followed by columns.
func args(r record.Record, columns []string) []any {
	out := make([]any, 0, len(columns)+1)
	out = append(out, r.PartNumber().SQL())
	for _, c := range columns {
		out = append(out, r.Get(c).SQL())
	}
	return out
}

// fromDB converts a scanned column value to a record value.
func fromDB(v any) record.Value {
	switch x := v.(type) {
	case time.Time:
		return record.String(x.UTC().Format(time.RFC3339Nano))
	case []byte:
		return record.SanitizeString(string(x))
	default:
		return record.Sanitize(x)
	}
}
