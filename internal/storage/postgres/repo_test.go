package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"backfill/internal/storage"
)

func TestPostgresRegistrationUsesHookAndClose(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	var (
		gotCfg storage.Config
		closed bool
		fake   = &Repository{}
	)
	newRepository = func(_ context.Context, cfg storage.Config) (*Repository, func(), error) {
		gotCfg = cfg
		return fake, func() { closed = true }, nil
	}

	st, err := storage.New(context.Background(), storage.Config{Kind: "postgres", DSN: "postgres://x", Role: storage.RoleWrite})
	require.NoError(t, err)
	require.Equal(t, storage.RoleWrite, gotCfg.Role)
	require.Equal(t, "observations", gotCfg.Tables.Observations)

	w, ok := st.(*wrappedRepo)
	require.True(t, ok)
	require.Same(t, fake, w.Repository)
	require.NoError(t, st.Close())
	require.True(t, closed)
}

func TestToCopyVal(t *testing.T) {
	t.Parallel()

	v := uint16(7)
	var nilV *uint16
	ts := time.Now()

	require.Equal(t, int32(7), toCopyVal(&v))
	require.Nil(t, toCopyVal(nilV))
	require.Equal(t, int16(1), toCopyVal(uint8(1)))
	require.Equal(t, int64(0), toCopyVal(uint64(0)))
	require.Equal(t, ts, toCopyVal(ts))
	require.Equal(t, map[string]uint64{"a": 1}, toCopyVal(map[string]uint64{"a": 1}))
}

func TestSplitFQN(t *testing.T) {
	t.Parallel()

	require.Equal(t, pgx.Identifier{"events"}, splitFQN("events"))
	require.Equal(t, pgx.Identifier{"analytics", "events"}, splitFQN("analytics.events"))
}
