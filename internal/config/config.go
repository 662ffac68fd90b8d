// Package config defines the JSON-serializable configuration of a backfill
// run and the 12-factor environment overrides applied on top of it.
//
// Precedence, lowest first: Default, the JSON file passed with --config, the
// environment (ApplyEnv), then CLI flags set by cmd/backfill.
//
// Example (trimmed):
//
//	{
//	  "partition":   "202511",
//	  "source":      { "kind": "clickhouse" },
//	  "destination": { "kind": "clickhouse" },
//	  "clickhouse":  { "url": "clickhouse://localhost:9000", "database": "default" },
//	  "runtime":     { "batch_size": 10000, "page_size": 50000, "max_retries": 3 },
//	  "cursor":      { "file": "backfill_cursors.json" }
//	}
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"backfill/internal/storage/sqlgen"
)

// Error is the error class of configuration loading.
var Error = errs.Class("config")

// Backfill is the top-level configuration object.
type Backfill struct {
	// Job labels metrics.
	Job string `json:"job"`

	// Partition is the YYYYMM month to backfill.
	Partition string `json:"partition"`

	// Source is where traces and observations are read from; Destination is
	// where events are written. They are always opened as separate sessions.
	Source      Storage `json:"source"`
	Destination Storage `json:"destination"`

	// ClickHouse fills DSN and credentials of clickhouse storages.
	ClickHouse ClickHouse `json:"clickhouse"`

	Tables  Tables  `json:"tables"`
	Runtime Runtime `json:"runtime"`
	Cursor  Cursor  `json:"cursor"`
	Metrics Metrics `json:"metrics"`
	Log     Log     `json:"log"`
}

// Storage selects a backend by kind.
type Storage struct {
	// Kind is one of clickhouse, postgres, sqlite, mssql, mysql.
	Kind string `json:"kind"`
	// DSN is the connection string; clickhouse falls back to ClickHouse.URL.
	DSN string `json:"dsn"`
	// AutoCreate creates missing tables where the backend supports it.
	AutoCreate bool `json:"auto_create"`
}

// ClickHouse holds the shared ClickHouse connection settings.
type ClickHouse struct {
	URL      string `json:"url"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// Tables overrides table and partition column names.
type Tables struct {
	Traces          string `json:"traces"`
	Observations    string `json:"observations"`
	Events          string `json:"events"`
	DatasetRunItems string `json:"dataset_run_items"`
}

// Runtime controls paging, batching and retries.
type Runtime struct {
	BatchSize           int  `json:"batch_size"`
	PageSize            int  `json:"page_size"`
	MaxRetries          int  `json:"max_retries"`
	BaseDelayMS         int  `json:"base_delay_ms"`
	DryRun              bool `json:"dry_run"`
	ExcludeDatasetItems bool `json:"exclude_dataset_items"`
	Progress            bool `json:"progress"`
}

// Cursor locates the checkpoint file.
type Cursor struct {
	File string `json:"file"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is one of "none", "pushgateway", "datadog".
	Backend        string `json:"backend"`
	PushgatewayURL string `json:"pushgateway_url"`
	StatsdAddr     string `json:"statsd_addr"`
}

// Log configures the process logger.
type Log struct {
	// Mode is "prod" (JSON) or "dev" (console).
	Mode    string `json:"mode"`
	Verbose bool   `json:"verbose"`
}

// Defaults.
const (
	DefaultBatchSize  = 10000
	DefaultPageSize   = 50000
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultCursorFile = "backfill_cursors.json"
)

// Default returns the configuration used when nothing overrides it.
func Default() Backfill {
	return Backfill{
		Job:         "backfill",
		Source:      Storage{Kind: "clickhouse"},
		Destination: Storage{Kind: "clickhouse"},
		ClickHouse:  ClickHouse{URL: "clickhouse://localhost:9000", User: "default", Database: "default"},
		Runtime: Runtime{
			BatchSize:           DefaultBatchSize,
			PageSize:            DefaultPageSize,
			MaxRetries:          DefaultMaxRetries,
			BaseDelayMS:         int(DefaultBaseDelay / time.Millisecond),
			ExcludeDatasetItems: true,
			Progress:            true,
		},
		Cursor:  Cursor{File: DefaultCursorFile},
		Metrics: Metrics{Backend: "none", PushgatewayURL: "http://localhost:9091", StatsdAddr: "127.0.0.1:8125"},
		Log:     Log{Mode: "prod"},
	}
}

// Load decodes the JSON file at path over Default. Unknown fields are
// rejected so typos surface instead of silently falling back.
func Load(path string) (Backfill, error) {
	b := Default()
	if path == "" {
		return b, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return b, Error.Wrap(err)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return b, Error.New("decode %s: %v", path, err)
	}
	return b, nil
}

// ApplyEnv overrides b from environment variables read through lookup
// (os.LookupEnv in production). Malformed numbers and booleans are errors.
func (b *Backfill) ApplyEnv(lookup func(string) (string, bool)) error {
	var group errs.Group
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			group.Add(Error.New("%s=%q is not an integer", key, v))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		t, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			group.Add(Error.New("%s=%q is not a boolean", key, v))
			return
		}
		*dst = t
	}

	str("CLICKHOUSE_URL", &b.ClickHouse.URL)
	str("CLICKHOUSE_USER", &b.ClickHouse.User)
	if v, ok := lookup("CLICKHOUSE_PASSWORD"); ok {
		b.ClickHouse.Password = v
	}
	str("CLICKHOUSE_DB", &b.ClickHouse.Database)
	str("PARTITION", &b.Partition)
	num("BATCH_SIZE", &b.Runtime.BatchSize)
	num("STREAM_BLOCK_SIZE", &b.Runtime.PageSize)
	num("MAX_RETRIES", &b.Runtime.MaxRetries)
	flag("DRY_RUN", &b.Runtime.DryRun)
	flag("EXCLUDE_DATASET_ITEMS", &b.Runtime.ExcludeDatasetItems)
	str("CURSOR_FILE", &b.Cursor.File)
	str("SOURCE_KIND", &b.Source.Kind)
	str("SOURCE_DSN", &b.Source.DSN)
	str("DEST_KIND", &b.Destination.Kind)
	str("DEST_DSN", &b.Destination.DSN)
	str("METRICS_BACKEND", &b.Metrics.Backend)
	str("PUSHGATEWAY_URL", &b.Metrics.PushgatewayURL)
	str("DD_AGENT_ADDR", &b.Metrics.StatsdAddr)
	return group.Err()
}

// BaseDelay returns the retry backoff base.
func (b Backfill) BaseDelay() time.Duration {
	return time.Duration(b.Runtime.BaseDelayMS) * time.Millisecond
}

// SQLTables returns the table layout with defaults filled in.
func (b Backfill) SQLTables() sqlgen.Tables {
	return sqlgen.Tables{
		Traces:          b.Tables.Traces,
		Observations:    b.Tables.Observations,
		Events:          b.Tables.Events,
		DatasetRunItems: b.Tables.DatasetRunItems,
	}.WithDefaults()
}

// DSN returns the effective DSN of s.
func (b Backfill) DSN(s Storage) string {
	if s.DSN == "" && s.Kind == "clickhouse" {
		return b.ClickHouse.URL
	}
	return s.DSN
}

// Marshal renders b as indented JSON with the password redacted.
func Marshal(b Backfill) ([]byte, error) {
	if b.ClickHouse.Password != "" {
		b.ClickHouse.Password = "******"
	}
	return json.MarshalIndent(b, "", "  ")
}
