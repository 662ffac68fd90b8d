package config

import (
	"fmt"
	"net/url"
	"strings"

	"backfill/internal/partition"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that is surfaced but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "runtime.batch_size").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue blocks execution.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// knownKinds are the storage backends built into cmd/backfill.
var knownKinds = map[string]bool{
	"clickhouse": true,
	"postgres":   true,
	"sqlite":     true,
	"mssql":      true,
	"mysql":      true,
}

// Validate performs static validation of b. It does not mutate b.
func Validate(b Backfill) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(b.Partition) == "" {
		add(SeverityError, "partition", "partition must not be empty (YYYYMM)")
	} else if err := partition.Validate(b.Partition); err != nil {
		add(SeverityError, "partition", "%v", err)
	}

	issues = append(issues, validateStorage(b, "source", b.Source)...)
	issues = append(issues, validateStorage(b, "destination", b.Destination)...)

	r := b.Runtime
	if r.BatchSize <= 0 {
		add(SeverityError, "runtime.batch_size", "must be > 0, got %d", r.BatchSize)
	}
	if r.PageSize <= 0 {
		add(SeverityError, "runtime.page_size", "must be > 0, got %d", r.PageSize)
	}
	if r.BatchSize > 0 && r.PageSize > 0 && r.PageSize < r.BatchSize {
		add(SeverityWarning, "runtime.page_size",
			"page size %d is smaller than batch size %d; batches will never be full", r.PageSize, r.BatchSize)
	}
	if r.MaxRetries <= 0 {
		add(SeverityError, "runtime.max_retries", "must be >= 1 (total insert attempts), got %d", r.MaxRetries)
	}
	if r.BaseDelayMS <= 0 {
		add(SeverityError, "runtime.base_delay_ms", "must be > 0, got %d", r.BaseDelayMS)
	}

	if strings.TrimSpace(b.Cursor.File) == "" {
		add(SeverityError, "cursor.file", "cursor file must not be empty")
	}

	switch b.Metrics.Backend {
	case "", "none":
	case "pushgateway":
		if u, err := url.Parse(b.Metrics.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			add(SeverityError, "metrics.pushgateway_url", "invalid URL %q", b.Metrics.PushgatewayURL)
		}
	case "datadog":
		if strings.TrimSpace(b.Metrics.StatsdAddr) == "" {
			add(SeverityError, "metrics.statsd_addr", "statsd address must not be empty")
		}
	default:
		add(SeverityWarning, "metrics.backend", "unknown backend %q; metrics will be disabled", b.Metrics.Backend)
	}

	switch b.Log.Mode {
	case "", "prod", "dev":
	default:
		add(SeverityWarning, "log.mode", "unknown mode %q; using prod", b.Log.Mode)
	}
	return issues
}

func validateStorage(b Backfill, path string, s Storage) []Issue {
	var issues []Issue
	kind := strings.TrimSpace(s.Kind)
	if kind == "" {
		return append(issues, Issue{Severity: SeverityError, Path: path + ".kind", Message: path + ".kind must not be empty"})
	}
	if !knownKinds[kind] {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".kind",
			Message:  fmt.Sprintf("unsupported kind %q", kind),
		})
	}
	if strings.TrimSpace(b.DSN(s)) == "" {
		issues = append(issues, Issue{Severity: SeverityError, Path: path + ".dsn", Message: "DSN must not be empty"})
	}
	if s.AutoCreate && kind != "sqlite" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     path + ".auto_create",
			Message:  fmt.Sprintf("auto_create is only supported by sqlite; ignored for %s", kind),
		})
	}
	return issues
}
