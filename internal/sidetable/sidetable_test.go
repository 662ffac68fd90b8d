package sidetable_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"backfill/internal/cursor"
	"backfill/internal/records"
	"backfill/internal/sidetable"
	"backfill/internal/storage/sqlite/sqlitetest"
)

func strp(s string) *string { return &s }

func TestLoadNormalizesAndInjectsTags(t *testing.T) {
	t.Parallel()
	s := sqlitetest.Open(t)
	nov := time.Date(2025, time.November, 3, 10, 0, 0, 0, time.UTC)

	sqlitetest.AddTrace(t, s, records.TraceRow{
		ProjectID:  "project1",
		ID:         "trace1",
		UserID:     strp("user1"),
		Metadata:   map[string]string{"env": "prod"},
		Tags:       []string{"a", "b"},
		Bookmarked: true,
		Release:    strp("v1"),
	}, nov, false)
	sqlitetest.AddTrace(t, s, records.TraceRow{ProjectID: "project1", ID: "bare"}, nov, false)
	sqlitetest.AddTrace(t, s, records.TraceRow{ProjectID: "project1", ID: "gone"}, nov, true)
	sqlitetest.AddTrace(t, s, records.TraceRow{ProjectID: "project1", ID: "october"}, nov.AddDate(0, -1, 0), false)

	table, stats, err := sidetable.Load(context.Background(), s, "202511", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Rows)
	require.Len(t, table, 2)

	a, ok := table.Lookup("project1", "trace1")
	require.True(t, ok)
	require.Equal(t, "user1", a.UserID)
	require.Equal(t, "", a.SessionID)
	require.Equal(t, "v1", a.Release)
	require.True(t, a.Bookmarked)
	require.Equal(t, map[string]string{"env": "prod", sidetable.TagsKey: `["a","b"]`}, a.Metadata)

	bare, ok := table.Lookup("project1", "bare")
	require.True(t, ok)
	require.NotNil(t, bare.Metadata)
	require.Empty(t, bare.Metadata)
	require.NotContains(t, bare.Metadata, sidetable.TagsKey)

	_, ok = table.Lookup("project1", "gone")
	require.False(t, ok)
}

type failingSource struct{ err error }

func (f failingSource) Version(context.Context) (string, error)                  { return "", nil }
func (f failingSource) VerifyTables(context.Context, ...string) error            { return nil }
func (f failingSource) CountObservations(context.Context, string) (int64, error) { return 0, nil }

func (f failingSource) LoadTraces(ctx context.Context, _ string, fn func(*records.TraceRow) error) error {
	if err := fn(&records.TraceRow{ProjectID: "p", ID: "t"}); err != nil {
		return err
	}
	return f.err
}

func (f failingSource) LoadDatasetRunItems(context.Context, func(string, string) error) error {
	return f.err
}

func (f failingSource) FetchObservations(context.Context, string, cursor.Cursor, int) ([]records.Observation, error) {
	return nil, f.err
}

func TestLoadQueryErrorIsFatal(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection reset")

	table, _, err := sidetable.Load(context.Background(), failingSource{err: boom}, "202511", nil)
	require.Error(t, err)
	require.True(t, sidetable.Error.Has(err))
	require.ErrorIs(t, err, boom)
	require.Nil(t, table)
}

func TestExclusions(t *testing.T) {
	t.Parallel()
	s := sqlitetest.Open(t)
	sqlitetest.AddDatasetRunItem(t, s, "project1", "trace9")
	sqlitetest.AddDatasetRunItem(t, s, "project1", "trace9")
	sqlitetest.AddDatasetRunItem(t, s, "project2", "trace1")

	set, err := sidetable.LoadExclusions(context.Background(), s, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	require.True(t, set.Contains("project1", "trace9"))
	require.True(t, set.Contains("project2", "trace1"))
	require.False(t, set.Contains("project1", "trace1"))
	// The separator keeps concatenations distinct.
	require.False(t, set.Contains("project1trace", "9"))

	var none *sidetable.ExclusionSet
	require.False(t, none.Contains("project1", "trace9"))
	require.Zero(t, none.Len())
}

func TestExclusionsErrorIsFatal(t *testing.T) {
	t.Parallel()
	_, err := sidetable.LoadExclusions(context.Background(), failingSource{err: errors.New("no table")}, nil)
	require.True(t, sidetable.Error.Has(err))
}
