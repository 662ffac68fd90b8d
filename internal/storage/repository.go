// Package storage holds the backend-agnostic contracts of the backfill: a
// Source that reads traces and observations, a Sink that bulk-inserts events,
// a registry of backend factories, and the retrying batched Loader.
//
// Backends (clickhouse, postgres, sqlite, mssql, mysql) register themselves in
// init; import storage/all to enable every built-in backend.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/zeebo/errs"

	"backfill/internal/cursor"
	"backfill/internal/records"
	"backfill/internal/storage/sqlgen"
)

// Error is the error class for storage wiring failures.
var Error = errs.Class("storage")

// Role selects the session settings a store is opened with.
type Role string

const (
	// RoleRead opens a streaming read session.
	RoleRead Role = "read"
	// RoleWrite opens a separate insert session.
	RoleWrite Role = "write"
)

// Config carries everything a backend factory needs.
type Config struct {
	Kind   string
	DSN    string
	Role   Role
	Tables sqlgen.Tables

	// User, Password and Database override the DSN when set.
	User     string
	Password string
	Database string

	// BlockSize hints the read block size to backends that support it.
	BlockSize int

	// AutoCreate creates missing tables on backends that support it.
	AutoCreate bool
}

// Source reads the normalized source model.
type Source interface {
	// Version returns the server version; it doubles as a connection test.
	Version(ctx context.Context) (string, error)
	// VerifyTables fails when any of tables is missing.
	VerifyTables(ctx context.Context, tables ...string) error
	// LoadTraces calls fn for every non-deleted trace of partition.
	LoadTraces(ctx context.Context, partition string, fn func(*records.TraceRow) error) error
	// LoadDatasetRunItems calls fn for every distinct (project_id, trace_id)
	// pair of dataset run items.
	LoadDatasetRunItems(ctx context.Context, fn func(projectID, traceID string) error) error
	// CountObservations estimates the observations of partition.
	CountObservations(ctx context.Context, partition string) (int64, error)
	// FetchObservations returns up to limit observations strictly after c in
	// (project_id, type, date(start_time), id) order.
	FetchObservations(ctx context.Context, partition string, after cursor.Cursor, limit int) ([]records.Observation, error)
}

// Sink bulk-inserts rows aligned to columns into the events table.
type Sink interface {
	InsertEvents(ctx context.Context, columns []string, rows [][]any) (int64, error)
}

// Store is what a backend factory returns.
type Store interface {
	Source
	Sink
	Close() error
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a store of cfg.Kind with default table names filled in.
func New(ctx context.Context, cfg Config) (Store, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, Error.New("unsupported storage.kind=%s", cfg.Kind)
	}
	cfg.Tables = cfg.Tables.WithDefaults()
	if cfg.Role == "" {
		cfg.Role = RoleRead
	}
	return f(ctx, cfg)
}

// ListKinds returns a sorted snapshot of registered kinds.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
