package mysql

import (
	"testing"

	"github.com/stretchr/testify/require"

	"backfill/internal/storage"
)

func TestDSNAppliesOverridesAndUTC(t *testing.T) {
	t.Parallel()

	dsn, err := DSN(storage.Config{
		DSN:      "reader:old@tcp(db:3306)/legacy",
		User:     "backfill",
		Password: "s3cret",
		Database: "langfuse",
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "backfill:s3cret@tcp(db:3306)/langfuse")
	require.Contains(t, dsn, "parseTime=true")
}

func TestDSNRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := DSN(storage.Config{DSN: "not a dsn"})
	require.Error(t, err)
}
