package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"backfill/internal/config"
	"backfill/internal/cursor"
	"backfill/internal/logger"
	"backfill/internal/metrics"
	"backfill/internal/metrics/datadog"
	"backfill/internal/metrics/prompush"
	"backfill/internal/pipeline"
	"backfill/internal/storage"
)

// Function variables used to introduce test seams.
var (
	newStoreFn  = storage.New
	newLoggerFn = logger.New
	runFn       = run
)

type runOptions struct {
	resetCursor bool
	stdout      io.Writer
	stderr      io.Writer
}

// run wires stores, checkpoints and metrics for one partition and executes
// the pipeline. The summary is printed whatever the outcome.
func run(ctx context.Context, cfg config.Backfill, opts runOptions) (err error) {
	log, err := newLoggerFn(cfg.Log.Mode, cfg.Log.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("run_id", uuid.NewString()), zap.String("partition", cfg.Partition))

	summary := pipeline.Summary{Partition: cfg.Partition, DryRun: cfg.Runtime.DryRun, State: pipeline.StateFailed}
	defer func() {
		if _, werr := summary.WriteTo(opts.stdout); werr != nil {
			log.Warn("summary not written", zap.Error(werr))
		}
	}()
	defer func() {
		// A cancellation that hit setup still exits as an interrupt.
		if err != nil && ctx.Err() != nil && !errors.Is(err, pipeline.ErrInterrupted) {
			err = fmt.Errorf("%w: %v", pipeline.ErrInterrupted, err)
			summary.State = pipeline.StateInterrupted
		}
	}()

	flush := setupMetrics(cfg, log)
	defer flush()

	cursors := cursor.NewFileStore(cfg.Cursor.File, log)
	unlock, err := cursors.LockPartition(cfg.Partition)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, unlock()) }()

	if opts.resetCursor {
		if err := cursors.Clear(cfg.Partition); err != nil {
			return err
		}
		log.Info("cursor reset", zap.String("file", cursors.Path()))
	}

	src, dst, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, src.Close(), dst.Close()) }()

	pcfg := pipeline.Config{
		Partition:           cfg.Partition,
		BatchSize:           cfg.Runtime.BatchSize,
		PageSize:            cfg.Runtime.PageSize,
		DryRun:              cfg.Runtime.DryRun,
		MaxRetries:          cfg.Runtime.MaxRetries,
		BaseDelay:           cfg.BaseDelay(),
		ExcludeDatasetItems: cfg.Runtime.ExcludeDatasetItems,
		Tables:              cfg.SQLTables(),
	}
	if cfg.Runtime.Progress {
		pcfg.Progress = opts.stderr
	}

	p, err := pipeline.New(pcfg, src, dst, cursors, log)
	if err != nil {
		return err
	}
	summary, err = p.Run(ctx)
	return err
}

// openStores opens the read and write sessions. They are always separate
// stores, even when both point at the same database.
func openStores(ctx context.Context, cfg config.Backfill, log *zap.Logger) (src, dst storage.Store, err error) {
	tables := cfg.SQLTables()
	open := func(s config.Storage, role storage.Role) (storage.Store, error) {
		dsn := cfg.DSN(s)
		log.Info("connecting",
			zap.String("kind", s.Kind),
			zap.String("role", string(role)),
			zap.String("dsn", logger.RedactDSN(dsn)))
		return newStoreFn(ctx, storage.Config{
			Kind:       s.Kind,
			DSN:        dsn,
			Role:       role,
			Tables:     tables,
			User:       clickhouseOnly(s, cfg.ClickHouse.User),
			Password:   clickhouseOnly(s, cfg.ClickHouse.Password),
			Database:   clickhouseOnly(s, cfg.ClickHouse.Database),
			BlockSize:  cfg.Runtime.PageSize,
			AutoCreate: s.AutoCreate,
		})
	}

	src, err = open(cfg.Source, storage.RoleRead)
	if err != nil {
		return nil, nil, err
	}
	dst, err = open(cfg.Destination, storage.RoleWrite)
	if err != nil {
		return nil, nil, errs.Combine(err, src.Close())
	}
	return src, dst, nil
}

func clickhouseOnly(s config.Storage, v string) string {
	if s.Kind != "clickhouse" {
		return ""
	}
	return v
}

// setupMetrics installs the configured metrics backend and returns its
// flush. Backend failures fall back to the nop backend.
func setupMetrics(cfg config.Backfill, log *zap.Logger) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch cfg.Metrics.Backend {
	case "pushgateway":
		b, err = prompush.NewBackend(cfg.Job, cfg.Partition, cfg.Metrics.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.Metrics.StatsdAddr,
			Namespace:  cfg.Job + ".",
			GlobalTags: []string{"partition:" + cfg.Partition},
		})
	case "", "none":
		log.Debug("metrics disabled")
		return func() {}
	default:
		log.Warn("unknown metrics backend; metrics disabled", zap.String("backend", cfg.Metrics.Backend))
		return func() {}
	}
	if err != nil {
		log.Warn("metrics backend unavailable; using nop", zap.String("backend", cfg.Metrics.Backend), zap.Error(err))
		return func() {}
	}

	log.Info("metrics enabled", zap.String("backend", cfg.Metrics.Backend), zap.String("job", cfg.Job))
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush failed", zap.Error(err))
		}
	}
}

func showCursor(w io.Writer, cfg config.Backfill) error {
	cp := cursor.NewFileStore(cfg.Cursor.File, zap.NewNop()).Load(cfg.Partition)
	out := struct {
		Partition     string `json:"partition"`
		ProjectID     string `json:"project_id"`
		Type          string `json:"type"`
		Date          string `json:"date"`
		ID            string `json:"id"`
		RowsProcessed int64  `json:"rows_processed"`
		UpdatedAt     string `json:"updated_at,omitempty"`
	}{
		Partition:     cfg.Partition,
		ProjectID:     cp.Cursor.ProjectID,
		Type:          cp.Cursor.Type,
		Date:          cp.Cursor.DateString(),
		ID:            cp.Cursor.ID,
		RowsProcessed: cp.RowsProcessed,
	}
	if !cp.UpdatedAt.IsZero() {
		out.UpdatedAt = cp.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printIssues(w io.Writer, issues []config.Issue) {
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
}
