package sidetable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExclusionSetComparesFullKeysWithinBucket(t *testing.T) {
	t.Parallel()
	s := NewExclusionSet()
	s.Add("project1", "trace1")

	// Force a second pair into the bucket of a trace that was never added.
	h := exclusionHash("project1", "live")
	s.m[h] = append(s.m[h], Key{ProjectID: "project1", TraceID: "other"})

	require.False(t, s.Contains("project1", "live"))
	require.True(t, s.Contains("project1", "trace1"))

	s.Add("project1", "live")
	s.Add("project1", "live")
	require.True(t, s.Contains("project1", "live"))
	require.Len(t, s.m[h], 2)
	require.Equal(t, 2, s.Len())
}
