// Package all wires all built-in storage backends into the storage factory.
//
// Importing it for side effects makes these kinds available to storage.New:
//
//   - "clickhouse" (backfill/internal/storage/clickhouse)
//   - "postgres"   (backfill/internal/storage/postgres)
//   - "sqlite"     (backfill/internal/storage/sqlite)
//   - "mssql"      (backfill/internal/storage/mssql)
//   - "mysql"      (backfill/internal/storage/mysql)
//
// A binary that needs only a subset can import those backends directly.
package all

import (
	_ "backfill/internal/storage/clickhouse"
	_ "backfill/internal/storage/mssql"
	_ "backfill/internal/storage/mysql"
	_ "backfill/internal/storage/postgres"
	_ "backfill/internal/storage/sqlite"
)
