package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"backfill/internal/records"
	"backfill/internal/storage/sqldb"
	"backfill/internal/storage/sqlgen"
)

var integerColumns = map[string]bool{
	"public":         true,
	"bookmarked":     true,
	"prompt_version": true,
	"event_bytes":    true,
	"is_deleted":     true,
}

func columnDefs(cols []string) []string {
	q := sqlgen.SQLite.Quote
	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		typ := "TEXT"
		if integerColumns[c] {
			typ = "INTEGER"
		}
		defs = append(defs, q(c)+" "+typ)
	}
	return defs
}

// EnsureSchema creates the source and destination tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB, tables sqlgen.Tables) error {
	t := tables.WithDefaults()
	q := sqlgen.SQLite.Quote
	deleted := q("is_deleted") + " INTEGER NOT NULL DEFAULT 0"

	traceCols := append(columnDefs(records.TraceColumns), q(t.TraceTimeColumn)+" TEXT", deleted)
	obsCols := append(columnDefs(records.ObservationColumns), deleted)

	stmts := []string{
		create(t.Traces, traceCols),
		create(t.Observations, obsCols),
		create(t.DatasetRunItems, []string{q("project_id") + " TEXT", q("trace_id") + " TEXT"}),
		create(t.Events, columnDefs(records.EventColumns)),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s, %s, %s)",
			q("idx_"+t.Observations+"_keyset"), q(t.Observations),
			q("project_id"), q("type"), q("start_time"), q("id")),
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return sqldb.Error.Wrap(err)
		}
	}
	return nil
}

func create(table string, defs []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlgen.SQLite.Quote(table), strings.Join(defs, ", "))
}
