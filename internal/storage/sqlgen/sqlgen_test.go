package sqlgen

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"backfill/internal/cursor"
)

var someCursor = cursor.Cursor{
	ProjectID: "p1",
	Type:      "SPAN",
	Date:      time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC),
	ID:        "obs-7",
}

func TestSelectObservationsFirstPageHasNoSeek(t *testing.T) {
	t.Parallel()

	q, args, err := ClickHouse.SelectObservations(DefaultTables(), "202511", cursor.Min(), 500)
	require.NoError(t, err)
	require.Equal(t, []any{"202511"}, args)
	require.Contains(t, q, "WHERE _partition_id = ? AND `is_deleted` = 0 ORDER BY")
	require.NotContains(t, q, " OR ")
	require.True(t, strings.HasSuffix(q, "ORDER BY `project_id`, `type`, toDate(`start_time`, 'UTC'), `id` LIMIT 500"), q)
}

func TestSelectObservationsSeekIsStrictAndDateConsistent(t *testing.T) {
	t.Parallel()

	q, args, err := ClickHouse.SelectObservations(DefaultTables(), "202511", someCursor, 10)
	require.NoError(t, err)
	require.Equal(t, []any{
		"202511",
		"p1",
		"p1", "SPAN",
		"p1", "SPAN", "2025-11-03",
		"p1", "SPAN", "2025-11-03", "obs-7",
	}, args)
	require.Contains(t, q, "`project_id` > ?")
	require.Contains(t, q, "toDate(`start_time`, 'UTC') > toDate(?)")
	require.Contains(t, q, "toDate(`start_time`, 'UTC') = toDate(?) AND `id` > ?")
	require.NotContains(t, q, "toDate(`start_time`)")
	require.NotContains(t, q, ">=")
	require.Equal(t, len(args), strings.Count(q, "?"))
}

func TestSelectObservationsPostgresNumbersPlaceholders(t *testing.T) {
	t.Parallel()

	q, args, err := Postgres.SelectObservations(DefaultTables(), "202511", someCursor, 10)
	require.NoError(t, err)
	require.Len(t, args, 12)
	require.Equal(t, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), args[0])
	require.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), args[1])
	require.Contains(t, q, `"start_time" >= $1 AND "start_time" < $2`)
	require.Contains(t, q, `"id" > $12`)
	require.Contains(t, q, `("start_time" AT TIME ZONE 'UTC')::date > $8::date`)
}

func TestSelectObservationsMSSQLLimit(t *testing.T) {
	t.Parallel()

	q, _, err := MSSQL.SelectObservations(DefaultTables(), "202511", cursor.Min(), 25)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(q, "OFFSET 0 ROWS FETCH NEXT 25 ROWS ONLY"), q)
	require.Contains(t, q, "[parent_observation_id]")

	tq, _, err := MSSQL.SelectTraces(DefaultTables(), "202511")
	require.NoError(t, err)
	require.Contains(t, tq, "[public]")
}

func TestSelectObservationsRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, _, err := SQLite.SelectObservations(DefaultTables(), "2025-11", cursor.Min(), 10)
	require.Error(t, err)
	_, _, err = SQLite.SelectObservations(DefaultTables(), "202511", cursor.Min(), 0)
	require.Error(t, err)
}

func TestSelectTracesSQLiteUsesTextBounds(t *testing.T) {
	t.Parallel()

	q, args, err := SQLite.SelectTraces(DefaultTables(), "202512")
	require.NoError(t, err)
	require.Equal(t, []any{"2025-12-01 00:00:00.000", "2026-01-01 00:00:00.000"}, args)
	require.Contains(t, q, `FROM "traces" WHERE "timestamp" >= ? AND "timestamp" < ? AND "is_deleted" = 0`)
}

func TestInsertPlaceholders(t *testing.T) {
	t.Parallel()

	q, err := MSSQL.Insert("events", []string{"a", "b"}, 2)
	require.NoError(t, err)
	require.Equal(t, "INSERT INTO [events] ([a], [b]) VALUES (@p1, @p2), (@p3, @p4)", q)

	_, err = MySQL.Insert("events", nil, 1)
	require.Error(t, err)
}

func TestByName(t *testing.T) {
	t.Parallel()

	for _, n := range []string{"clickhouse", "postgres", "sqlite", "mssql", "mysql"} {
		d, err := ByName(n)
		require.NoError(t, err)
		require.Equal(t, n, d.Name)
	}
	_, err := ByName("oracle")
	require.Error(t, err)
}
