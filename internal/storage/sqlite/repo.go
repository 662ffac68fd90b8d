// Package sqlite wires a SQLite-backed storage.Store into the storage
// factory. SQLite stores timestamps as UTC text and maps/lists as JSON text;
// it serves local dry runs, fixtures and end-to-end tests.
package sqlite

import (
	"context"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"backfill/internal/storage"
	"backfill/internal/storage/sqldb"
	"backfill/internal/storage/sqlgen"
)

// NewStore opens path or DSN with the modernc driver, e.g.
//
//	"file:backfill.db?cache=shared"
//	"file::memory:?cache=shared"
func NewStore(ctx context.Context, cfg storage.Config) (*sqldb.Store, error) {
	s, err := sqldb.Open(ctx, sqldb.Config{
		Driver:     "sqlite",
		DSN:        cfg.DSN,
		Dialect:    sqlgen.SQLite,
		Tables:     cfg.Tables,
		TimeLayout: sqlgen.SQLiteTimeLayout,
	})
	if err != nil {
		return nil, err
	}
	// A single connection keeps in-memory databases alive and serializes
	// writes the way SQLite expects.
	s.DB().SetMaxOpenConns(1)
	if cfg.AutoCreate {
		if err := EnsureSchema(ctx, s.DB(), cfg.Tables); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}
