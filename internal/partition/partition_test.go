package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBounds(t *testing.T) {
	t.Parallel()

	lo, hi, err := Bounds("202512")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), lo)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), hi)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	for _, p := range []string{"", "2025", "2025-11", "20251", "2025111", "202513", "202500", "abcdef"} {
		require.Error(t, Validate(p), p)
		require.True(t, Error.Has(Validate(p)), p)
	}
	require.NoError(t, Validate("202511"))
}
