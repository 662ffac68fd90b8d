// Package postgres implements storage.Store on pgx v5. Reads use the shared
// keyset queries with $n placeholders; event inserts go through COPY.
// Map columns are jsonb, list columns text[], timestamps timestamptz.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zeebo/errs"

	"backfill/internal/cursor"
	"backfill/internal/records"
	"backfill/internal/storage"
	"backfill/internal/storage/sqlgen"
	"backfill/internal/storage/sqlrow"
)

// Error is the error class of the Postgres backend.
var Error = errs.Class("postgres")

var dialect = sqlgen.Postgres

// Repository is a Postgres-backed storage.Store.
type Repository struct {
	pool   *pgxpool.Pool
	tables sqlgen.Tables
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg storage.Config) (*Repository, func(), error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}
	if cfg.User != "" {
		pcfg.ConnConfig.User = cfg.User
	}
	if cfg.Password != "" {
		pcfg.ConnConfig.Password = cfg.Password
	}
	if cfg.Database != "" {
		pcfg.ConnConfig.Database = cfg.Database
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, Error.Wrap(err)
	}
	return &Repository{pool: pool, tables: cfg.Tables.WithDefaults()}, pool.Close, nil
}

// Version implements storage.Source.
func (r *Repository) Version(ctx context.Context) (string, error) {
	var v string
	if err := r.pool.QueryRow(ctx, dialect.Version()).Scan(&v); err != nil {
		return "", Error.Wrap(err)
	}
	return v, nil
}

// VerifyTables implements storage.Source.
func (r *Repository) VerifyTables(ctx context.Context, tables ...string) error {
	for _, t := range tables {
		q, args := dialect.TableExists(t)
		var name string
		err := r.pool.QueryRow(ctx, q, args...).Scan(&name)
		if errors.Is(err, pgx.ErrNoRows) {
			return Error.New("table %q does not exist", t)
		}
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (r *Repository) each(ctx context.Context, q string, args []any, fn func(vals []any) error) error {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return Error.Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return Error.Wrap(err)
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	return Error.Wrap(rows.Err())
}

// LoadTraces implements storage.Source.
func (r *Repository) LoadTraces(ctx context.Context, partition string, fn func(*records.TraceRow) error) error {
	q, args, err := dialect.SelectTraces(r.tables, partition)
	if err != nil {
		return err
	}
	return r.each(ctx, q, args, func(vals []any) error {
		tr, err := sqlrow.Trace(records.TraceColumns, vals)
		if err != nil {
			return err
		}
		return fn(&tr)
	})
}

// LoadDatasetRunItems implements storage.Source.
func (r *Repository) LoadDatasetRunItems(ctx context.Context, fn func(projectID, traceID string) error) error {
	return r.each(ctx, dialect.SelectDatasetRunItems(r.tables), nil, func(vals []any) error {
		return fn(sqlrow.String(vals[0]), sqlrow.String(vals[1]))
	})
}

// CountObservations implements storage.Source.
func (r *Repository) CountObservations(ctx context.Context, partition string) (int64, error) {
	q, args, err := dialect.CountObservations(r.tables, partition)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, Error.Wrap(err)
	}
	return n, nil
}

// FetchObservations implements storage.Source.
func (r *Repository) FetchObservations(ctx context.Context, partition string, after cursor.Cursor, limit int) ([]records.Observation, error) {
	q, args, err := dialect.SelectObservations(r.tables, partition, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]records.Observation, 0, limit)
	err = r.each(ctx, q, args, func(vals []any) error {
		o, err := sqlrow.Observation(records.ObservationColumns, vals)
		if err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertEvents implements storage.Sink with COPY.
func (r *Repository) InsertEvents(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	conv := make([][]any, len(rows))
	for i, row := range rows {
		c := make([]any, len(row))
		for j, v := range row {
			c[j] = toCopyVal(v)
		}
		conv[i] = c
	}
	n, err := r.pool.CopyFrom(ctx, splitFQN(r.tables.Events), columns, pgx.CopyFromRows(conv))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return n, Error.New("copy into %s: %s (%s)", r.tables.Events, pgErr.Detail, pgErr.SQLState())
		}
		return n, Error.Wrap(fmt.Errorf("copy into %s: %w", r.tables.Events, err))
	}
	return n, nil
}

// toCopyVal narrows unsigned values to the signed Postgres integer types.
// Everything else is encoded by pgx directly.
func toCopyVal(v any) any {
	switch x := v.(type) {
	case *uint16:
		if x == nil {
			return nil
		}
		return int32(*x)
	case uint8:
		return int16(x)
	case uint64:
		return int64(x)
	}
	return v
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
