// Package sqldb implements storage.Store over database/sql for the
// relational backends (sqlite, mssql, mysql). Dialect differences live in
// sqlgen; value conversion lives in sqlrow. Inserts run as one transaction
// per batch with chunked multi-row INSERT statements.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"backfill/internal/cursor"
	"backfill/internal/records"
	"backfill/internal/storage/sqlgen"
	"backfill/internal/storage/sqlrow"
)

// Error is the error class of database/sql backends.
var Error = errs.Class("sqldb")

// maxParams bounds bind parameters per INSERT; SQL Server allows 2100.
const maxParams = 2000

// Config describes one database/sql store.
type Config struct {
	Driver  string
	DSN     string
	Dialect sqlgen.Dialect
	Tables  sqlgen.Tables

	// TimeLayout formats timestamps on insert for drivers without a native
	// timestamp type; empty passes time.Time through.
	TimeLayout string
}

// Store is a database/sql backed storage.Store.
type Store struct {
	db  *sql.DB
	cfg Config
}

// Open opens and pings a database/sql store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, Error.New("%s: DSN must not be empty", cfg.Dialect.Name)
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}
	return New(db, cfg), nil
}

// New wraps an already open handle.
func New(db *sql.DB, cfg Config) *Store {
	cfg.Tables = cfg.Tables.WithDefaults()
	return &Store{db: db, cfg: cfg}
}

// DB exposes the handle for schema setup.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the handle.
func (s *Store) Close() error { return Error.Wrap(s.db.Close()) }

// Version implements storage.Source.
func (s *Store) Version(ctx context.Context) (string, error) {
	var v string
	if err := s.db.QueryRowContext(ctx, s.cfg.Dialect.Version()).Scan(&v); err != nil {
		return "", Error.Wrap(err)
	}
	return v, nil
}

// VerifyTables implements storage.Source.
func (s *Store) VerifyTables(ctx context.Context, tables ...string) error {
	for _, t := range tables {
		q, args := s.cfg.Dialect.TableExists(t)
		var name string
		err := s.db.QueryRowContext(ctx, q, args...).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return Error.New("table %q does not exist", t)
		}
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// query runs q and hands every row, as raw driver values, to fn.
func (s *Store) query(ctx context.Context, q string, args []any, fn func(vals []any) error) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return Error.Wrap(err)
	}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Error.Wrap(err)
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	return Error.Wrap(rows.Err())
}

// LoadTraces implements storage.Source.
func (s *Store) LoadTraces(ctx context.Context, partition string, fn func(*records.TraceRow) error) error {
	q, args, err := s.cfg.Dialect.SelectTraces(s.cfg.Tables, partition)
	if err != nil {
		return err
	}
	return s.query(ctx, q, args, func(vals []any) error {
		tr, err := sqlrow.Trace(records.TraceColumns, vals)
		if err != nil {
			return err
		}
		return fn(&tr)
	})
}

// LoadDatasetRunItems implements storage.Source.
func (s *Store) LoadDatasetRunItems(ctx context.Context, fn func(projectID, traceID string) error) error {
	return s.query(ctx, s.cfg.Dialect.SelectDatasetRunItems(s.cfg.Tables), nil, func(vals []any) error {
		return fn(sqlrow.String(vals[0]), sqlrow.String(vals[1]))
	})
}

// CountObservations implements storage.Source.
func (s *Store) CountObservations(ctx context.Context, partition string) (int64, error) {
	q, args, err := s.cfg.Dialect.CountObservations(s.cfg.Tables, partition)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, Error.Wrap(err)
	}
	return n, nil
}

// FetchObservations implements storage.Source.
func (s *Store) FetchObservations(ctx context.Context, partition string, after cursor.Cursor, limit int) ([]records.Observation, error) {
	q, args, err := s.cfg.Dialect.SelectObservations(s.cfg.Tables, partition, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]records.Observation, 0, limit)
	err = s.query(ctx, q, args, func(vals []any) error {
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

// InsertEvents implements storage.Sink. All rows commit in one transaction.
func (s *Store) InsertEvents(ctx context.Context, columns []string, rows [][]any) (n int64, err error) {
	if len(columns) == 0 {
		return 0, Error.New("insert: columns must not be empty")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	per := maxParams / len(columns)
	if per < 1 {
		per = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errs.Combine(err, Error.Wrap(rerr))
		}
	}()

	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		chunk := rows[start:end]
		q, err := s.cfg.Dialect.Insert(s.cfg.Tables.Events, columns, len(chunk))
		if err != nil {
			return 0, Error.Wrap(err)
		}
		args := make([]any, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			if len(row) != len(columns) {
				return 0, Error.New("insert: row %d has %d values, want %d", start+i, len(row), len(columns))
			}
			for _, v := range row {
				ev, err := sqlrow.Encode(v, s.cfg.TimeLayout)
				if err != nil {
					return 0, err
				}
				args = append(args, ev)
			}
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, Error.Wrap(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, Error.Wrap(err)
	}
	return int64(len(rows)), nil
}
