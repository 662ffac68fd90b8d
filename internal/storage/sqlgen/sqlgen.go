// Package sqlgen builds the backfill's read and write statements for each
// supported SQL dialect. All backends share the same logical queries: a
// partition-scoped trace scan, a keyset page over observations ordered by
// (project_id, type, date(start_time), id), and a bulk insert into events.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"backfill/internal/cursor"
	"backfill/internal/partition"
	"backfill/internal/records"
)

// Error is the error class for statement construction.
var Error = errs.Class("sqlgen")

// Tables names the tables and partition columns a backfill reads and writes.
type Tables struct {
	Traces          string
	Observations    string
	Events          string
	DatasetRunItems string

	// TraceTimeColumn and ObservationTimeColumn bound a partition on
	// dialects without native partition ids.
	TraceTimeColumn       string
	ObservationTimeColumn string
}

// DefaultTables returns the standard table layout.
func DefaultTables() Tables {
	return Tables{
		Traces:                "traces",
		Observations:          "observations",
		Events:                "events",
		DatasetRunItems:       "dataset_run_items_rmt",
		TraceTimeColumn:       "timestamp",
		ObservationTimeColumn: "start_time",
	}
}

// WithDefaults fills empty names from DefaultTables.
func (t Tables) WithDefaults() Tables {
	d := DefaultTables()
	if t.Traces == "" {
		t.Traces = d.Traces
	}
	if t.Observations == "" {
		t.Observations = d.Observations
	}
	if t.Events == "" {
		t.Events = d.Events
	}
	if t.DatasetRunItems == "" {
		t.DatasetRunItems = d.DatasetRunItems
	}
	if t.TraceTimeColumn == "" {
		t.TraceTimeColumn = d.TraceTimeColumn
	}
	if t.ObservationTimeColumn == "" {
		t.ObservationTimeColumn = d.ObservationTimeColumn
	}
	return t
}

// Dialect captures the syntax differences between backends.
type Dialect struct {
	Name string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Quote quotes a single identifier.
	Quote func(ident string) string
	// DateOf truncates a timestamp expression to a date.
	DateOf func(expr string) string
	// DateParam converts a YYYY-MM-DD bind parameter to a date.
	DateParam func(ph string) string
	// Limit renders the row cap appended after ORDER BY.
	Limit func(n int) string
	// TimeParam converts a time bound to the driver's bind value.
	TimeParam func(t time.Time) any

	// PartitionID selects rows by the engine's native partition id instead
	// of a month range on the time column.
	PartitionID bool
	// NotDeleted is the soft-delete predicate column; empty disables it.
	NotDeleted string
}

func questionMark(int) string { return "?" }

func limitClause(n int) string { return "LIMIT " + strconv.Itoa(n) }

// ClickHouse is the dialect of the analytical store.
var ClickHouse = Dialect{
	Name:        "clickhouse",
	Placeholder: questionMark,
	Quote:       func(s string) string { return "`" + strings.ReplaceAll(s, "`", "\\`") + "`" },
	// Cursor dates are UTC days; the server or column timezone must not
	// shift a row into a neighbouring day.
	DateOf:      func(e string) string { return "toDate(" + e + ", 'UTC')" },
	DateParam:   func(ph string) string { return "toDate(" + ph + ")" },
	Limit:       limitClause,
	TimeParam:   func(t time.Time) any { return t },
	PartitionID: true,
	NotDeleted:  "is_deleted",
}

// Postgres is the pgx dialect.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Quote:       func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
	DateOf:      func(e string) string { return "(" + e + " AT TIME ZONE 'UTC')::date" },
	DateParam:   func(ph string) string { return ph + "::date" },
	Limit:       limitClause,
	TimeParam:   func(t time.Time) any { return t },
	NotDeleted:  "is_deleted",
}

// SQLite stores timestamps as UTC text "YYYY-MM-DD HH:MM:SS[.fff]".
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: questionMark,
	Quote:       func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
	DateOf:      func(e string) string { return "date(" + e + ")" },
	DateParam:   func(ph string) string { return "date(" + ph + ")" },
	Limit:       limitClause,
	TimeParam:   func(t time.Time) any { return t.UTC().Format(SQLiteTimeLayout) },
	NotDeleted:  "is_deleted",
}

// SQLiteTimeLayout is the text layout of SQLite timestamp columns.
const SQLiteTimeLayout = "2006-01-02 15:04:05.000"

// MSSQL is the go-mssqldb dialect.
var MSSQL = Dialect{
	Name:        "mssql",
	Placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
	Quote:       func(s string) string { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" },
	DateOf:      func(e string) string { return "CAST(" + e + " AS date)" },
	DateParam:   func(ph string) string { return "CAST(" + ph + " AS date)" },
	Limit:       func(n int) string { return "OFFSET 0 ROWS FETCH NEXT " + strconv.Itoa(n) + " ROWS ONLY" },
	TimeParam:   func(t time.Time) any { return t },
	NotDeleted:  "is_deleted",
}

// MySQL is the go-sql-driver dialect.
var MySQL = Dialect{
	Name:        "mysql",
	Placeholder: questionMark,
	Quote:       func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
	DateOf:      func(e string) string { return "DATE(" + e + ")" },
	DateParam:   func(ph string) string { return "CAST(" + ph + " AS DATE)" },
	Limit:       limitClause,
	TimeParam:   func(t time.Time) any { return t },
	NotDeleted:  "is_deleted",
}

// ByName returns the dialect registered under name.
func ByName(name string) (Dialect, error) {
	switch name {
	case "clickhouse":
		return ClickHouse, nil
	case "postgres":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	case "mssql":
		return MSSQL, nil
	case "mysql":
		return MySQL, nil
	}
	return Dialect{}, Error.New("unknown dialect %q", name)
}

// args accumulates bind values and hands out placeholders in order.
type args struct {
	d    Dialect
	vals []any
}

func (a *args) bind(v any) string {
	a.vals = append(a.vals, v)
	return a.d.Placeholder(len(a.vals))
}

func (d Dialect) columns(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = d.Quote(c)
	}
	return strings.Join(q, ", ")
}

// partitionPredicate scopes a table to partition p.
func (d Dialect) partitionPredicate(a *args, p, timeColumn string) (string, error) {
	lo, hi, err := partition.Bounds(p)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if d.PartitionID {
		return "_partition_id = " + a.bind(p), nil
	}
	col := d.Quote(timeColumn)
	return fmt.Sprintf("%s >= %s AND %s < %s", col, a.bind(d.TimeParam(lo)), col, a.bind(d.TimeParam(hi))), nil
}

func (d Dialect) where(a *args, p, timeColumn string) (string, error) {
	pred, err := d.partitionPredicate(a, p, timeColumn)
	if err != nil {
		return "", err
	}
	if d.NotDeleted != "" {
		pred += " AND " + d.Quote(d.NotDeleted) + " = 0"
	}
	return pred, nil
}

// SelectTraces returns the side-table scan of partition p.
func (d Dialect) SelectTraces(t Tables, p string) (string, []any, error) {
	a := &args{d: d}
	where, err := d.where(a, p, t.TraceTimeColumn)
	if err != nil {
		return "", nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		d.columns(records.TraceColumns), d.Quote(t.Traces), where)
	return q, a.vals, nil
}

// SelectDatasetRunItems returns the distinct (project_id, trace_id) pairs of
// dataset run items. The table is small and not partitioned.
func (d Dialect) SelectDatasetRunItems(t Tables) string {
	return fmt.Sprintf("SELECT DISTINCT %s, %s FROM %s",
		d.Quote("project_id"), d.Quote("trace_id"), d.Quote(t.DatasetRunItems))
}

// CountObservations returns the progress estimate query for partition p.
func (d Dialect) CountObservations(t Tables, p string) (string, []any, error) {
	a := &args{d: d}
	where, err := d.where(a, p, t.ObservationTimeColumn)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", d.Quote(t.Observations), where), a.vals, nil
}

// SelectObservations returns the keyset page of at most limit rows strictly
// after c. The minimum cursor applies no seek predicate. The seek predicate
// is the expanded form of the tuple comparison and compares the same date
// expression the rows are ordered by.
func (d Dialect) SelectObservations(t Tables, p string, c cursor.Cursor, limit int) (string, []any, error) {
	if limit <= 0 {
		return "", nil, Error.New("limit must be > 0, got %d", limit)
	}
	a := &args{d: d}
	where, err := d.where(a, p, t.ObservationTimeColumn)
	if err != nil {
		return "", nil, err
	}

	pid, typ, id := d.Quote("project_id"), d.Quote("type"), d.Quote("id")
	date := d.DateOf(d.Quote("start_time"))

	if !c.IsMin() {
		day := c.DateString()
		seek := []string{
			fmt.Sprintf("%s > %s", pid, a.bind(c.ProjectID)),
			fmt.Sprintf("(%s = %s AND %s > %s)", pid, a.bind(c.ProjectID), typ, a.bind(c.Type)),
			fmt.Sprintf("(%s = %s AND %s = %s AND %s > %s)",
				pid, a.bind(c.ProjectID), typ, a.bind(c.Type), date, d.DateParam(a.bind(day))),
			fmt.Sprintf("(%s = %s AND %s = %s AND %s = %s AND %s > %s)",
				pid, a.bind(c.ProjectID), typ, a.bind(c.Type), date, d.DateParam(a.bind(day)), id, a.bind(c.ID)),
		}
		where += " AND (" + strings.Join(seek, " OR ") + ")"
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s, %s, %s, %s %s",
		d.columns(records.ObservationColumns), d.Quote(t.Observations), where,
		pid, typ, date, id, d.Limit(limit))
	return q, a.vals, nil
}

// Insert returns a multi-row INSERT for rows rows of columns.
func (d Dialect) Insert(table string, columns []string, rows int) (string, error) {
	if len(columns) == 0 {
		return "", Error.New("insert: no columns")
	}
	if rows <= 0 {
		return "", Error.New("insert: rows must be > 0, got %d", rows)
	}
	a := &args{d: d}
	tuples := make([]string, rows)
	ph := make([]string, len(columns))
	for r := range tuples {
		for i := range ph {
			ph[i] = a.bind(nil)
		}
		tuples[r] = "(" + strings.Join(ph, ", ") + ")"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		d.Quote(table), d.columns(columns), strings.Join(tuples, ", ")), nil
}

// TableExists returns a query yielding one row when table exists.
func (d Dialect) TableExists(table string) (string, []any) {
	switch d.Name {
	case "clickhouse":
		return "SELECT name FROM system.tables WHERE database = currentDatabase() AND name = ?", []any{table}
	case "sqlite":
		return "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}
	case "mssql":
		return "SELECT name FROM sys.tables WHERE name = @p1", []any{table}
	case "postgres":
		return "SELECT table_name FROM information_schema.tables WHERE table_name = $1", []any{table}
	}
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", []any{table}
}

// Version returns the server version query.
func (d Dialect) Version() string {
	switch d.Name {
	case "sqlite":
		return "SELECT sqlite_version()"
	case "mssql":
		return "SELECT @@VERSION"
	}
	return "SELECT version()"
}
