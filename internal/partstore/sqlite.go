package partstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/partmaster/internal/record"
	"github.com/sells-group/partmaster/internal/resilience"
	"github.com/sells-group/partmaster/internal/schema"
)

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// SQLiteStore implements Store using modernc.org/sqlite. It is meant for
// local runs and tests; several processes may share one file.
type SQLiteStore struct {
	db       *sql.DB
	table    string
	registry *schema.Registry
	retry    resilience.RetryConfig
	now      func() time.Time
}

// NewSQLite opens the SQLite database at cfg.DatabaseURL (a file path or
// "file:" URI).
func NewSQLite(cfg Config) (*SQLiteStore, error) {
	if cfg.DatabaseURL == "" {
		return nil, eris.New("sqlite: database path is required")
	}
	conn, err := sql.Open("sqlite", sqliteDSN(cfg.DatabaseURL))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}

	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	retry := resilience.FromSettings(cfg.Retry)
	retry.OnRetry = resilience.RetryLogger("sqlite " + table)
	return &SQLiteStore{
		db:       conn,
		table:    table,
		registry: schema.NewRegistry(),
		retry:    retry,
		now:      time.Now,
	}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// quote returns name as a SQLite quoted identifier.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	part_number TEXT NOT NULL UNIQUE,
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, quote(s.table))

	err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, ddl)
		return err
	})
	if err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	_, err = s.Columns(ctx)
	return err
}

func (s *SQLiteStore) Columns(ctx context.Context) ([]schema.Column, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(s.table)))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: table info")
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var (
			cid      int
			name     string
			declType string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pk); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan table info")
		}
		cols = append(cols, schema.Column{Name: name, Type: sqliteColumnType(name, declType)})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate table info")
	}

	s.registry.Replace(cols)
	return s.registry.Columns(), nil
}

func sqliteColumnType(name, declType string) schema.ColumnType {
	switch {
	case name == record.ID:
		return schema.TypeSerial
	case strings.EqualFold(declType, "TIMESTAMP"), strings.EqualFold(declType, "DATETIME"):
		return schema.TypeTimestamp
	default:
		return schema.TypeText
	}
}

func (s *SQLiteStore) EnsureColumns(ctx context.Context, names []string) ([]string, error) {
	missing := s.registry.Missing(names)
	for _, name := range missing {
		if err := schema.ValidIdentifier(name); err != nil {
			return nil, err
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", quote(s.table), quote(name))

		err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
			_, err := s.db.ExecContext(ctx, ddl)
			// SQLite has no ADD COLUMN IF NOT EXISTS; losing the race to
			// another writer means the column is there.
			if err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column name") {
				return nil
			}
			return err
		})
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: add column %s", name)
		}
		s.registry.Add(name)
	}
	return missing, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, recs []record.Record) (UpsertResult, error) {
	b := prepareBatch(recs)
	if len(b.rows) == 0 {
		return b.result, nil
	}

	added, err := s.EnsureColumns(ctx, b.columns)
	if err != nil {
		return b.result, eris.Wrap(err, "sqlite: upsert")
	}
	b.result.AddedColumns = added

	stmt := s.upsertSQL(b.columns)
	err = resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.writeBatch(ctx, stmt, b)
	})
	if err != nil {
		return b.result, eris.Wrap(err, "sqlite: upsert")
	}
	b.result.Written = len(b.rows)
	return b.result, nil
}

func (s *SQLiteStore) upsertSQL(columns []string) string {
	cols := make([]string, 0, len(columns)+2)
	cols = append(cols, quote(record.PartNumber))
	for _, c := range columns {
		cols = append(cols, quote(c))
	}
	cols = append(cols, quote(record.UpdatedAt))

	sets := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
	}
	sets = append(sets, fmt.Sprintf("%s = excluded.%s", quote(record.UpdatedAt), quote(record.UpdatedAt)))

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		quote(s.table),
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		quote(record.PartNumber),
		strings.Join(sets, ", "),
	)
}

func (s *SQLiteStore) writeBatch(ctx context.Context, stmtSQL string, b batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	now := s.now().UTC().Format(time.RFC3339Nano)
	for _, r := range b.rows {
		if _, err := stmt.ExecContext(ctx, append(args(r, b.columns), now)...); err != nil {
			return eris.Wrapf(err, "sqlite: upsert part %s", r.PartNumber().String())
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) Get(ctx context.Context, partNumber string) (record.Record, error) {
	recs, err := s.query(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE part_number = ?", quote(s.table)),
		partNumber,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get part %s", partNumber)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]record.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	recs, err := s.query(ctx,
		fmt.Sprintf("SELECT * FROM %s ORDER BY part_number LIMIT ? OFFSET ?", quote(s.table)),
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list parts")
	}
	return recs, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, queryArgs ...any) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, queryArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []record.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(record.Record, len(cols))
		for i, c := range cols {
			r[c] = fromDB(vals[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", quote(s.table))).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count parts")
	}
	return n, nil
}

// Dedupe removes duplicates left by tables created without the UNIQUE
// constraint, then enforces uniqueness with an index since SQLite cannot add
// a constraint to an existing table.
func (s *SQLiteStore) Dedupe(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: dedupe: begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %[1]s WHERE id NOT IN (SELECT MIN(id) FROM %[1]s GROUP BY part_number)`, quote(s.table)))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: dedupe: delete duplicates")
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (part_number)`,
		quote(s.table+"_part_number_key"), quote(s.table))); err != nil {
		return 0, eris.Wrap(err, "sqlite: dedupe: unique index")
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: dedupe: commit")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
