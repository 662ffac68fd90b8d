// Package mysql wires a MySQL storage.Store (go-sql-driver) into the storage
// factory. Maps and lists are JSON columns, timestamps DATETIME(6) in UTC.
package mysql

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/zeebo/errs"

	"backfill/internal/storage"
	"backfill/internal/storage/sqldb"
	"backfill/internal/storage/sqlgen"
)

// Error is the error class of the MySQL backend.
var Error = errs.Class("mysql")

// DSN normalizes cfg into a driver DSN with UTC time parsing and the
// credential overrides applied.
func DSN(cfg storage.Config) (string, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if cfg.User != "" {
		mc.User = cfg.User
	}
	if cfg.Password != "" {
		mc.Passwd = cfg.Password
	}
	if cfg.Database != "" {
		mc.DBName = cfg.Database
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}

// NewStore opens the store.
func NewStore(ctx context.Context, cfg storage.Config) (*sqldb.Store, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	return sqldb.Open(ctx, sqldb.Config{
		Driver:  "mysql",
		DSN:     dsn,
		Dialect: sqlgen.MySQL,
		Tables:  cfg.Tables,
	})
}
