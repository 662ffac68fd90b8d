// Package sqlitetest seeds throwaway SQLite databases with traces,
// observations and dataset run items for tests.
package sqlitetest

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"backfill/internal/records"
	"backfill/internal/storage"
	"backfill/internal/storage/sqldb"
	"backfill/internal/storage/sqlgen"
	"backfill/internal/storage/sqlite"
	"backfill/internal/storage/sqlrow"
)

// Open creates a fresh database file with the full schema. It is closed
// when the test ends.
func Open(t testing.TB) *sqldb.Store {
	t.Helper()
	return OpenPath(t, filepath.Join(t.TempDir(), "backfill.db"))
}

// OpenPath opens (creating if needed) the database at path.
func OpenPath(t testing.TB, path string) *sqldb.Store {
	t.Helper()
	s, err := sqlite.NewStore(context.Background(), storage.Config{
		Kind:       "sqlite",
		DSN:        "file:" + path,
		AutoCreate: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insert(t testing.TB, s *sqldb.Store, table string, cols []string, vals []any) {
	t.Helper()
	q := sqlgen.SQLite.Quote
	quoted := make([]string, len(cols))
	ph := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = q(c)
		ph[i] = "?"
		v, err := sqlrow.Encode(vals[i], sqlgen.SQLiteTimeLayout)
		if err != nil {
			t.Fatalf("encode %s: %v", c, err)
		}
		args[i] = v
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", q(table), strings.Join(quoted, ", "), strings.Join(ph, ", "))
	if _, err := s.DB().ExecContext(context.Background(), stmt, args...); err != nil {
		t.Fatalf("insert into %s: %v", table, err)
	}
}

type fielder interface{ Field(string) any }

func valuesOf(f fielder, cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = reflect.ValueOf(f.Field(c)).Elem().Interface()
	}
	return out
}

// AddTrace inserts tr with the given timestamp.
func AddTrace(t testing.TB, s *sqldb.Store, tr records.TraceRow, ts time.Time, deleted bool) {
	t.Helper()
	tables := sqlgen.DefaultTables()
	cols := append(append([]string{}, records.TraceColumns...), tables.TraceTimeColumn, "is_deleted")
	vals := append(valuesOf(&tr, records.TraceColumns), ts, deleted)
	insert(t, s, tables.Traces, cols, vals)
}

// AddObservation inserts o.
func AddObservation(t testing.TB, s *sqldb.Store, o records.Observation, deleted bool) {
	t.Helper()
	cols := append(append([]string{}, records.ObservationColumns...), "is_deleted")
	vals := append(valuesOf(&o, records.ObservationColumns), deleted)
	insert(t, s, sqlgen.DefaultTables().Observations, cols, vals)
}

// AddDatasetRunItem inserts a dataset run item reference.
func AddDatasetRunItem(t testing.TB, s *sqldb.Store, projectID, traceID string) {
	t.Helper()
	insert(t, s, sqlgen.DefaultTables().DatasetRunItems, []string{"project_id", "trace_id"}, []any{projectID, traceID})
}

// Event is the subset of an inserted event row tests assert on.
type Event struct {
	ProjectID         string
	TraceID           string
	SpanID            string
	ParentSpanID      string
	Bookmarked        bool
	UserID            string
	Source            string
	MetadataNames     []string
	MetadataRawValues []string
}

// Events returns all inserted events ordered by span id.
func Events(t testing.TB, s *sqldb.Store) []Event {
	t.Helper()
	rows, err := s.DB().QueryContext(context.Background(),
		`SELECT project_id, trace_id, span_id, parent_span_id, bookmarked, user_id, source,
			metadata_names, metadata_raw_values
		FROM events ORDER BY span_id`)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e            Event
			bookmarked   int64
			names, value string
		)
		if err := rows.Scan(&e.ProjectID, &e.TraceID, &e.SpanID, &e.ParentSpanID, &bookmarked,
			&e.UserID, &e.Source, &names, &value); err != nil {
			t.Fatalf("scan event: %v", err)
		}
		e.Bookmarked = bookmarked != 0
		if e.MetadataNames, err = sqlrow.StringList(names); err != nil {
			t.Fatalf("decode metadata_names: %v", err)
		}
		if e.MetadataRawValues, err = sqlrow.StringList(value); err != nil {
			t.Fatalf("decode metadata_raw_values: %v", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate events: %v", err)
	}
	return out
}
