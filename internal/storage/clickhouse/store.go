// Package clickhouse implements storage.Store on clickhouse-go. The read
// role streams with a bounded block size; the write role opens its own
// connection with async inserts that wait for the flush.
package clickhouse

import (
	"context"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"github.com/zeebo/errs"

	"backfill/internal/cursor"
	"backfill/internal/records"
	"backfill/internal/storage"
	"backfill/internal/storage/sqlgen"
)

// Error is the error class of the ClickHouse backend.
var Error = errs.Class("clickhouse")

var dialect = sqlgen.ClickHouse

// Store is a ClickHouse-backed storage.Store.
type Store struct {
	conn   driver.Conn
	tables sqlgen.Tables
}

// Options builds client options from cfg. DSN schemes http, https and
// clickhouse are accepted; User, Password and Database override the DSN.
func Options(cfg storage.Config) (*clickhouse.Options, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, Error.New("DSN must not be empty")
	}
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if cfg.User != "" {
		opts.Auth.Username = cfg.User
	}
	if cfg.Password != "" {
		opts.Auth.Password = cfg.Password
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	}
	if opts.Settings == nil {
		opts.Settings = clickhouse.Settings{}
	}
	switch cfg.Role {
	case storage.RoleWrite:
		opts.Settings["async_insert"] = 1
		opts.Settings["wait_for_async_insert"] = 1
	default:
		if cfg.BlockSize > 0 {
			opts.Settings["max_block_size"] = cfg.BlockSize
		}
		opts.Settings["max_execution_time"] = 0
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return opts, nil
}

// NewStore opens and pings a connection for cfg.
func NewStore(ctx context.Context, cfg storage.Config) (*Store, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, Error.Wrap(errs.Combine(err, conn.Close()))
	}
	return &Store{conn: conn, tables: cfg.Tables.WithDefaults()}, nil
}

// Close closes the connection.
func (s *Store) Close() error { return Error.Wrap(s.conn.Close()) }

// Version implements storage.Source.
func (s *Store) Version(ctx context.Context) (string, error) {
	var v string
	if err := s.conn.QueryRow(ctx, dialect.Version()).Scan(&v); err != nil {
		return "", Error.Wrap(err)
	}
	return v, nil
}

// VerifyTables implements storage.Source.
func (s *Store) VerifyTables(ctx context.Context, tables ...string) error {
	for _, t := range tables {
		q, args := dialect.TableExists(t)
		rows, err := s.conn.Query(ctx, q, args...)
		if err != nil {
			return Error.Wrap(err)
		}
		found := rows.Next()
		if err := errs.Combine(rows.Err(), rows.Close()); err != nil {
			return Error.Wrap(err)
		}
		if !found {
			return Error.New("table %q does not exist", t)
		}
	}
	return nil
}

// LoadTraces implements storage.Source.
func (s *Store) LoadTraces(ctx context.Context, partition string, fn func(*records.TraceRow) error) error {
	q, args, err := dialect.SelectTraces(s.tables, partition)
	if err != nil {
		return err
	}
	rows, err := s.conn.Query(ctx, q, args...)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tr records.TraceRow
		dest := make([]any, len(records.TraceColumns))
		for i, c := range records.TraceColumns {
			dest[i] = tr.Field(c)
		}
		if err := rows.Scan(dest...); err != nil {
			return Error.Wrap(err)
		}
		if err := fn(&tr); err != nil {
			return err
		}
	}
	return Error.Wrap(rows.Err())
}

// LoadDatasetRunItems implements storage.Source.
func (s *Store) LoadDatasetRunItems(ctx context.Context, fn func(projectID, traceID string) error) error {
	rows, err := s.conn.Query(ctx, dialect.SelectDatasetRunItems(s.tables))
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var projectID, traceID string
		if err := rows.Scan(&projectID, &traceID); err != nil {
			return Error.Wrap(err)
		}
		if err := fn(projectID, traceID); err != nil {
			return err
		}
	}
	return Error.Wrap(rows.Err())
}

// CountObservations implements storage.Source.
func (s *Store) CountObservations(ctx context.Context, partition string) (int64, error) {
	q, args, err := dialect.CountObservations(s.tables, partition)
	if err != nil {
		return 0, err
	}
	var n uint64
	if err := s.conn.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, Error.Wrap(err)
	}
	return int64(n), nil
}

// FetchObservations implements storage.Source.
func (s *Store) FetchObservations(ctx context.Context, partition string, after cursor.Cursor, limit int) ([]records.Observation, error) {
	q, args, err := dialect.SelectObservations(s.tables, partition, after, limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]records.Observation, 0, limit)
	for rows.Next() {
		var sc scanObservation
		dest := make([]any, len(records.ObservationColumns))
		for i, c := range records.ObservationColumns {
			dest[i] = sc.Field(c)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, sc.record())
	}
	return out, Error.Wrap(rows.Err())
}

// InsertEvents implements storage.Sink with a native batch.
func (s *Store) InsertEvents(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = dialect.Quote(c)
	}
	batch, err := s.conn.PrepareBatch(ctx,
		"INSERT INTO "+dialect.Quote(s.tables.Events)+" ("+strings.Join(cols, ", ")+")")
	if err != nil {
		return 0, Error.Wrap(err)
	}
	for _, row := range rows {
		if err := batch.Append(insertValues(row)...); err != nil {
			return 0, Error.Wrap(errs.Combine(err, batch.Abort()))
		}
	}
	if err := batch.Send(); err != nil {
		return 0, Error.Wrap(err)
	}
	return int64(len(rows)), nil
}

// insertValues adapts Go-native event values to ClickHouse column types:
// cost maps go to Map(String, Decimal) columns.
func insertValues(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if m, ok := v.(map[string]float64); ok {
			dm := make(map[string]decimal.Decimal, len(m))
			for k, f := range m {
				dm[k] = decimal.NewFromFloat(f)
			}
			out[i] = dm
			continue
		}
		out[i] = v
	}
	return out
}
