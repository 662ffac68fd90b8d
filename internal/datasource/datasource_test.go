package datasource_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"backfill/internal/cursor"
	"backfill/internal/datasource"
	"backfill/internal/records"
	"backfill/internal/storage/sqldb"
	"backfill/internal/storage/sqlite/sqlitetest"
)

func seed(t *testing.T) (*sqldb.Store, []string) {
	t.Helper()
	s := sqlitetest.Open(t)
	base := time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	add := func(project, typ string, day int, id string, deleted bool) {
		sqlitetest.AddObservation(t, s, records.Observation{
			ProjectID: project,
			ID:        id,
			TraceID:   "trace1",
			Type:      typ,
			StartTime: base.AddDate(0, 0, day).Add(time.Duration(len(id)) * time.Minute),
		}, deleted)
		if !deleted {
			ids = append(ids, project+"/"+id)
		}
	}
	// Many ties on (project, type, date) so page boundaries land inside them.
	for i := 0; i < 7; i++ {
		add("p1", "GENERATION", 0, fmt.Sprintf("g%02d", i), false)
	}
	for i := 0; i < 4; i++ {
		add("p1", "SPAN", 2, fmt.Sprintf("s%02d", i), false)
	}
	add("p1", "SPAN", 2, "s99", true)
	add("p2", "EVENT", 5, "e00", false)
	add("p2", "SPAN", 1, "a00", false)

	// Outside the partition.
	sqlitetest.AddObservation(t, s, records.Observation{
		ProjectID: "p1", ID: "oct", TraceID: "trace1", Type: "SPAN",
		StartTime: base.AddDate(0, 0, -1),
	}, false)
	return s, ids
}

func TestReaderVisitsEveryRowOnceForAnyPageSize(t *testing.T) {
	t.Parallel()
	s, want := seed(t)

	for _, limit := range []int{1, 2, 3, 5, 13, 14, 100} {
		r, err := datasource.NewReader(s, "202511", limit)
		require.NoError(t, err)

		var (
			got   []string
			after = cursor.Min()
			pages int
		)
		for {
			page, err := r.Next(context.Background(), after)
			require.NoError(t, err)
			require.LessOrEqual(t, len(page), limit)
			for i := range page {
				c := cursor.Of(&page[i])
				require.Equal(t, 1, c.Compare(after), "limit=%d row %s not after cursor", limit, page[i].ID)
				after = c
				got = append(got, page[i].ProjectID+"/"+page[i].ID)
			}
			pages++
			if r.Last(page) {
				break
			}
		}
		require.Equal(t, want, got, "limit=%d", limit)
		require.Equal(t, len(want)/limit+1, pages, "limit=%d", limit)
	}
}

func TestReaderResumesStrictlyAfterCursor(t *testing.T) {
	t.Parallel()
	s, want := seed(t)
	r, err := datasource.NewReader(s, "202511", 100)
	require.NoError(t, err)

	all, err := r.Next(context.Background(), cursor.Min())
	require.NoError(t, err)
	require.Len(t, all, len(want))

	rest, err := r.Next(context.Background(), cursor.Of(&all[3]))
	require.NoError(t, err)
	require.Len(t, rest, len(want)-4)
	require.Equal(t, all[4].ID, rest[0].ID)
}

func TestReaderCount(t *testing.T) {
	t.Parallel()
	s, want := seed(t)
	r, err := datasource.NewReader(s, "202511", 10)
	require.NoError(t, err)

	n, err := r.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, len(want), n)
}

func TestNewReaderRejectsBadLimit(t *testing.T) {
	t.Parallel()
	s, _ := seed(t)
	_, err := datasource.NewReader(s, "202511", 0)
	require.True(t, datasource.Error.Has(err))
}
