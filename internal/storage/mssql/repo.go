// Package mssql wires a SQL Server storage.Store (go-mssqldb) into the
// storage factory. Maps and lists are nvarchar(max) JSON, timestamps
// datetime2 in UTC.
package mssql

import (
	"context"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver
	"github.com/microsoft/go-mssqldb/msdsn"
	"github.com/zeebo/errs"

	"backfill/internal/storage"
	"backfill/internal/storage/sqldb"
	"backfill/internal/storage/sqlgen"
)

// Error is the error class of the SQL Server backend.
var Error = errs.Class("mssql")

// NewStore validates the DSN and opens the store.
func NewStore(ctx context.Context, cfg storage.Config) (*sqldb.Store, error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, Error.Wrap(err)
	}
	return sqldb.Open(ctx, sqldb.Config{
		Driver:  "sqlserver",
		DSN:     cfg.DSN,
		Dialect: sqlgen.MSSQL,
		Tables:  cfg.Tables,
	})
}
