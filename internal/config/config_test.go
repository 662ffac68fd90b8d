package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	b := Default()
	require.Equal(t, 10000, b.Runtime.BatchSize)
	require.Equal(t, 50000, b.Runtime.PageSize)
	require.Equal(t, 3, b.Runtime.MaxRetries)
	require.Equal(t, time.Second, b.BaseDelay())
	require.True(t, b.Runtime.ExcludeDatasetItems)
	require.Equal(t, "backfill_cursors.json", b.Cursor.File)
	require.Equal(t, "events", b.SQLTables().Events)
	require.Equal(t, "clickhouse://localhost:9000", b.DSN(b.Source))
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backfill.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"partition": "202511",
		"source": {"kind": "sqlite", "dsn": "file:src.db"},
		"runtime": {"batch_size": 500},
		"tables": {"events": "events_v2"}
	}`), 0o644))

	b, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "202511", b.Partition)
	require.Equal(t, "file:src.db", b.DSN(b.Source))
	require.Equal(t, 500, b.Runtime.BatchSize)
	require.Equal(t, 50000, b.Runtime.PageSize)
	require.Equal(t, "events_v2", b.SQLTables().Events)
	require.Equal(t, "observations", b.SQLTables().Observations)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backfill.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"runtime": {"batchsize": 1}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, Error.Has(err))
}

func TestApplyEnv(t *testing.T) {
	b := Default()
	err := b.ApplyEnv(env(map[string]string{
		"CLICKHOUSE_URL":        "clickhouse://ch:9000",
		"CLICKHOUSE_PASSWORD":   "secret",
		"CLICKHOUSE_DB":         "langfuse",
		"PARTITION":             "202510",
		"BATCH_SIZE":            "2000",
		"STREAM_BLOCK_SIZE":     "8000",
		"DRY_RUN":               "true",
		"MAX_RETRIES":           "5",
		"EXCLUDE_DATASET_ITEMS": "false",
		"CURSOR_FILE":           "/var/lib/backfill/cursors.json",
		"DEST_KIND":             "postgres",
		"DEST_DSN":              "postgres://localhost/events",
		"METRICS_BACKEND":       "datadog",
		"DD_AGENT_ADDR":         "dd:8125",
	}))
	require.NoError(t, err)
	require.Equal(t, "clickhouse://ch:9000", b.DSN(b.Source))
	require.Equal(t, "secret", b.ClickHouse.Password)
	require.Equal(t, "langfuse", b.ClickHouse.Database)
	require.Equal(t, "202510", b.Partition)
	require.Equal(t, 2000, b.Runtime.BatchSize)
	require.Equal(t, 8000, b.Runtime.PageSize)
	require.True(t, b.Runtime.DryRun)
	require.Equal(t, 5, b.Runtime.MaxRetries)
	require.False(t, b.Runtime.ExcludeDatasetItems)
	require.Equal(t, "/var/lib/backfill/cursors.json", b.Cursor.File)
	require.Equal(t, "postgres", b.Destination.Kind)
	require.Equal(t, "postgres://localhost/events", b.DSN(b.Destination))
	require.Equal(t, "datadog", b.Metrics.Backend)
	require.Equal(t, "dd:8125", b.Metrics.StatsdAddr)
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	b := Default()
	err := b.ApplyEnv(env(map[string]string{"BATCH_SIZE": "lots", "DRY_RUN": "maybe", "PAGE": "x"}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "BATCH_SIZE")
	require.Contains(t, err.Error(), "DRY_RUN")
	require.Equal(t, DefaultBatchSize, b.Runtime.BatchSize)
}

func TestValidateDefaultsNeedPartition(t *testing.T) {
	issues := Validate(Default())
	require.True(t, hasIssue(t, issues, SeverityError, "partition", "must not be empty"))
	require.Len(t, issues, 1)

	b := Default()
	b.Partition = "202511"
	require.Empty(t, Validate(b))
}

func TestValidateFindings(t *testing.T) {
	b := Default()
	b.Partition = "202513"
	b.Source = Storage{Kind: "oracle", DSN: "x"}
	b.Destination = Storage{Kind: "postgres", AutoCreate: true}
	b.Runtime.BatchSize = 0
	b.Runtime.PageSize = -1
	b.Runtime.MaxRetries = 0
	b.Cursor.File = " "
	b.Metrics.Backend = "pushgateway"
	b.Metrics.PushgatewayURL = "not a url"
	b.Log.Mode = "verbose"

	issues := Validate(b)
	require.True(t, HasErrors(issues))
	require.True(t, hasIssue(t, issues, SeverityError, "partition", "invalid month"))
	require.True(t, hasIssue(t, issues, SeverityError, "source.kind", "unsupported kind"))
	require.True(t, hasIssue(t, issues, SeverityError, "destination.dsn", "must not be empty"))
	require.True(t, hasIssue(t, issues, SeverityWarning, "destination.auto_create", "only supported by sqlite"))
	require.True(t, hasIssue(t, issues, SeverityError, "runtime.batch_size", "must be > 0"))
	require.True(t, hasIssue(t, issues, SeverityError, "runtime.page_size", "must be > 0"))
	require.True(t, hasIssue(t, issues, SeverityError, "runtime.max_retries", ">= 1"))
	require.True(t, hasIssue(t, issues, SeverityError, "cursor.file", "must not be empty"))
	require.True(t, hasIssue(t, issues, SeverityError, "metrics.pushgateway_url", "invalid URL"))
	require.True(t, hasIssue(t, issues, SeverityWarning, "log.mode", "unknown mode"))
}

func TestValidateWarnsOnSmallPages(t *testing.T) {
	b := Default()
	b.Partition = "202511"
	b.Runtime.PageSize = 100
	b.Runtime.BatchSize = 1000

	issues := Validate(b)
	require.False(t, HasErrors(issues))
	require.True(t, hasIssue(t, issues, SeverityWarning, "runtime.page_size", "never be full"))
}

func TestMarshalRedactsPassword(t *testing.T) {
	b := Default()
	b.ClickHouse.Password = "hunter2"
	out, err := Marshal(b)
	require.NoError(t, err)
	require.NotContains(t, string(out), "hunter2")
	require.Equal(t, "hunter2", b.ClickHouse.Password)
}
