package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"backfill/internal/metrics"
)

// CopyFn abstracts a backend's bulk insert. It inserts rows aligned to
// columns and returns the number of rows reported as inserted. It must be
// safe to call again with the same rows after a failure.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// Row is one destination row.
type Row interface {
	Columns() []string
	Values() []any
}

// sampleIDer is implemented by rows that can name themselves in logs.
type sampleIDer interface {
	SampleID() string
}

const sampleSize = 3

// LoaderConfig tunes the retry policy of a Loader.
type LoaderConfig struct {
	// MaxRetries is the total number of insert attempts per batch (min 1).
	MaxRetries int
	// BaseDelay is the backoff before the second attempt; it doubles after
	// every further failure.
	BaseDelay time.Duration
	// DryRun skips the insert entirely.
	DryRun bool
	// Partition labels metrics.
	Partition string
}

// Loader writes batches through a CopyFn with bounded exponential backoff.
// A batch either lands completely or Insert returns an error; the caller
// treats that error as fatal.
type Loader struct {
	copy CopyFn
	cfg  LoaderConfig
	log  *zap.Logger

	// sleep waits d or until ctx is done; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error

	batches     int64
	total       int64
	start       time.Time
	lastFlushTS time.Time
}

// NewLoader returns a Loader over copyFn.
func NewLoader(copyFn CopyFn, cfg LoaderConfig, log *zap.Logger) *Loader {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		copy:  copyFn,
		cfg:   cfg,
		log:   log.Named("loader"),
		sleep: sleepCtx,
	}
}

// Total returns the number of rows inserted so far.
func (l *Loader) Total() int64 { return l.total }

// Batches returns the number of batches inserted so far.
func (l *Loader) Batches() int64 { return l.batches }

// Insert writes rows as one batch. Columns come from the first row and every
// row must carry the same column set. An empty batch is a no-op. In dry-run
// mode nothing is sent and 0 is returned.
func (l *Loader) Insert(ctx context.Context, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if l.copy == nil && !l.cfg.DryRun {
		return 0, Error.New("loader: copyFn must not be nil")
	}

	columns := rows[0].Columns()
	values := make([][]any, len(rows))
	for i, r := range rows {
		if i > 0 && !slices.Equal(r.Columns(), columns) {
			return 0, Error.New("loader: row %d column set differs from first row", i)
		}
		v := r.Values()
		if len(v) != len(columns) {
			return 0, Error.New("loader: row %d has %d values, want %d", i, len(v), len(columns))
		}
		values[i] = v
	}

	if l.cfg.DryRun {
		l.log.Debug("dry run: skipping insert", zap.Int("rows", len(rows)))
		return 0, nil
	}

	if l.start.IsZero() {
		l.start = time.Now()
		l.lastFlushTS = l.start
	}

	var lastErr error
	for attempt := 0; attempt < l.cfg.MaxRetries; attempt++ {
		n, err := l.copy(ctx, columns, values)
		if err == nil {
			l.flushed(n)
			return n, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		metrics.RecordRetry(l.cfg.Partition)
		l.log.Warn("insert failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", l.cfg.MaxRetries),
			zap.Int("batch_size", len(rows)),
			zap.Strings("sample_ids", sampleIDs(rows)),
			zap.Error(err))

		if attempt+1 == l.cfg.MaxRetries {
			break
		}
		delay := l.cfg.BaseDelay << attempt
		l.log.Info("retrying insert", zap.Duration("backoff", delay))
		if err := l.sleep(ctx, delay); err != nil {
			return 0, err
		}
	}
	return 0, Error.Wrap(fmt.Errorf("insert failed after %d attempts: %w", l.cfg.MaxRetries, lastErr))
}

// flushed logs one progress line per successful batch.
func (l *Loader) flushed(n int64) {
	l.batches++
	l.total += n
	metrics.RecordBatches(l.cfg.Partition, 1)
	metrics.RecordRows(l.cfg.Partition, metrics.KindInserted, n)

	now := time.Now()
	sinceLast := now.Sub(l.lastFlushTS)
	rps := float64(0)
	if sinceLast > 0 {
		rps = float64(n) / sinceLast.Seconds()
	}
	l.log.Info(fmt.Sprintf("batch #%d: rps=%.0f inserted=%d total_inserted=%d elapsed=%s since_last=%s",
		l.batches,
		rps,
		n,
		l.total,
		now.Sub(l.start).Truncate(time.Millisecond),
		sinceLast.Truncate(time.Millisecond),
	))
	l.lastFlushTS = now
}

func sampleIDs(rows []Row) []string {
	out := make([]string, 0, sampleSize)
	for _, r := range rows {
		if len(out) == sampleSize {
			break
		}
		if s, ok := r.(sampleIDer); ok {
			out = append(out, s.SampleID())
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
