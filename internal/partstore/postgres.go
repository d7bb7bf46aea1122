package partstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/partmaster/internal/db"
	"github.com/sells-group/partmaster/internal/record"
	"github.com/sells-group/partmaster/internal/resilience"
	"github.com/sells-group/partmaster/internal/schema"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool     db.Pool
	closeFn  func()
	table    string
	registry *schema.Registry
	retry    resilience.RetryConfig
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, cfg Config) (*PostgresStore, error) {
	if cfg.DatabaseURL == "" {
		return nil, eris.New("postgres: database url is required")
	}
	pgxCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		minConns = cfg.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	s := newPostgresStore(pool, cfg)
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresStore(pool db.Pool, cfg Config) *PostgresStore {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	retry := resilience.FromSettings(cfg.Retry)
	retry.OnRetry = resilience.RetryLogger("postgres " + table)
	return &PostgresStore{
		pool:     pool,
		table:    table,
		registry: schema.NewRegistry(),
		retry:    retry,
	}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) ident() string {
	return db.Identifier(s.table).Sanitize()
}

// unqualified returns the table name without a schema prefix.
func (s *PostgresStore) unqualified() string {
	id := db.Identifier(s.table)
	return id[len(id)-1]
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          SERIAL PRIMARY KEY,
	part_number TEXT NOT NULL UNIQUE,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.ident())

	// Two runs creating the table at once can collide on pg_type.
	err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, ddl)
		return err
	})
	if err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	_, err = s.Columns(ctx)
	return err
}

func (s *PostgresStore) Columns(ctx context.Context) ([]schema.Column, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1
		 ORDER BY ordinal_position`,
		s.unqualified(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list columns")
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, eris.Wrap(err, "postgres: scan column")
		}
		cols = append(cols, schema.Column{Name: name, Type: pgColumnType(name, dataType)})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate columns")
	}

	s.registry.Replace(cols)
	return s.registry.Columns(), nil
}

func pgColumnType(name, dataType string) schema.ColumnType {
	switch {
	case name == record.ID:
		return schema.TypeSerial
	case dataType == "timestamp with time zone" || dataType == "timestamp without time zone":
		return schema.TypeTimestamp
	default:
		return schema.TypeText
	}
}

func (s *PostgresStore) EnsureColumns(ctx context.Context, names []string) ([]string, error) {
	missing := s.registry.Missing(names)
	for _, name := range missing {
		if err := schema.ValidIdentifier(name); err != nil {
			return nil, err
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s TEXT",
			s.ident(), pgx.Identifier{name}.Sanitize())

		// IF NOT EXISTS is not race-free: a concurrent ADD of the same column
		// can still fail on the catalog's unique index. Retrying resolves it
		// because the second attempt sees the column.
		err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
			_, err := s.pool.Exec(ctx, ddl)
			return err
		})
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: add column %s", name)
		}
		s.registry.Add(name)
	}
	return missing, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, recs []record.Record) (UpsertResult, error) {
	b := prepareBatch(recs)
	if len(b.rows) == 0 {
		return b.result, nil
	}

	added, err := s.EnsureColumns(ctx, b.columns)
	if err != nil {
		return b.result, eris.Wrap(err, "postgres: upsert")
	}
	b.result.AddedColumns = added

	cfg := db.UpsertConfig{
		Table:        s.table,
		Columns:      append([]string{record.PartNumber}, b.columns...),
		ConflictKeys: []string{record.PartNumber},
		UpdateCols:   b.columns,
		TouchCols:    []string{record.UpdatedAt},
	}
	if cfg.UpdateCols == nil {
		cfg.UpdateCols = []string{}
	}
	rows := make([][]any, len(b.rows))
	for i, r := range b.rows {
		rows[i] = args(r, b.columns)
	}

	n, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (int64, error) {
		return db.BulkUpsert(ctx, s.pool, cfg, rows)
	})
	if err != nil {
		return b.result, eris.Wrap(err, "postgres: upsert")
	}
	b.result.Written = int(n)
	return b.result, nil
}

func (s *PostgresStore) Get(ctx context.Context, partNumber string) (record.Record, error) {
	recs, err := s.query(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE part_number = $1", s.ident()),
		partNumber,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get part %s", partNumber)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]record.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	recs, err := s.query(ctx,
		fmt.Sprintf("SELECT * FROM %s ORDER BY part_number LIMIT $1 OFFSET $2", s.ident()),
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list parts")
	}
	return recs, nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]record.Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []record.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		r := make(record.Record, len(fields))
		for i, fd := range fields {
			r[fd.Name] = fromDB(vals[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.ident())).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count parts")
	}
	return n, nil
}

func (s *PostgresStore) Dedupe(ctx context.Context) (int64, error) {
	constraint := pgx.Identifier{s.unqualified() + "_part_number_key"}.Sanitize()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: dedupe: begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %[1]s WHERE id NOT IN (SELECT MIN(id) FROM %[1]s GROUP BY part_number)`, s.ident()))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: dedupe: delete duplicates")
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s`, s.ident(), constraint)); err != nil {
		return 0, eris.Wrap(err, "postgres: dedupe: drop constraint")
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (part_number)`, s.ident(), constraint)); err != nil {
		return 0, eris.Wrap(err, "postgres: dedupe: add constraint")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: dedupe: commit")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
