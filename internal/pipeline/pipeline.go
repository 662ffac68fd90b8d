// Package pipeline runs one partition of the backfill: it loads the trace
// side-table, then pages observations in keyset order, transforms them into
// events, writes them in batches, and checkpoints after every written batch.
//
// The pipeline is single-threaded. Context cancellation is the interrupt
// signal: the last checkpoint that is known to be written is persisted and
// Run returns ErrInterrupted.
package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"backfill/internal/cursor"
	"backfill/internal/datasource"
	"backfill/internal/metrics"
	"backfill/internal/records"
	"backfill/internal/sidetable"
	"backfill/internal/storage"
	"backfill/internal/storage/sqlgen"
	"backfill/internal/transformer"
)

// Error is the error class of orchestration failures.
var Error = errs.Class("pipeline")

// ErrInterrupted is returned by Run when the context was cancelled. The last
// safe checkpoint has been persisted (outside dry-run).
var ErrInterrupted = errors.New("backfill interrupted")

// State is the lifecycle state of a run.
type State string

// Run states.
const (
	StateInit          State = "INIT"
	StateLoadSideTable State = "LOAD_SIDE_TABLE"
	StateStream        State = "STREAM_TRANSFORM_WRITE"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
	StateInterrupted   State = "INTERRUPTED"
)

// Config tunes one run.
type Config struct {
	Partition  string
	BatchSize  int
	PageSize   int
	DryRun     bool
	MaxRetries int
	BaseDelay  time.Duration

	// ExcludeDatasetItems skips observations of traces referenced by
	// dataset run items.
	ExcludeDatasetItems bool

	// Tables names the source tables that must exist before streaming.
	Tables sqlgen.Tables

	// Progress, when non-nil, receives a progress bar.
	Progress io.Writer
}

// Checkpoints persists the resume position of a partition. cursor.FileStore
// implements it.
type Checkpoints interface {
	Load(partition string) cursor.Checkpoint
	Save(partition string, cp cursor.Checkpoint) error
}

// Pipeline is one backfill run over one partition.
type Pipeline struct {
	cfg         Config
	src         storage.Source
	loader      *storage.Loader
	checkpoints Checkpoints
	log         *zap.Logger

	state State
	// checkpoint is the position of the last event of the last written
	// batch; it is what an interrupt persists.
	checkpoint cursor.Checkpoint
	dirty      bool

	summary Summary
}

// New validates cfg and assembles a pipeline. Reads go through src and
// writes through sink, which should be a separate session.
func New(cfg Config, src storage.Source, sink storage.Sink, checkpoints Checkpoints, log *zap.Logger) (*Pipeline, error) {
	if src == nil || sink == nil || checkpoints == nil {
		return nil, Error.New("source, sink and checkpoints are required")
	}
	if cfg.BatchSize < 1 {
		return nil, Error.New("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.PageSize < 1 {
		return nil, Error.New("page size must be positive, got %d", cfg.PageSize)
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("pipeline").With(zap.String("partition", cfg.Partition))
	cfg.Tables = cfg.Tables.WithDefaults()

	loader := storage.NewLoader(sink.InsertEvents, storage.LoaderConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		DryRun:     cfg.DryRun,
		Partition:  cfg.Partition,
	}, log)

	return &Pipeline{
		cfg:         cfg,
		src:         src,
		loader:      loader,
		checkpoints: checkpoints,
		log:         log,
		state:       StateInit,
		summary:     Summary{Partition: cfg.Partition, DryRun: cfg.DryRun},
	}, nil
}

// State returns the current state.
func (p *Pipeline) State() State { return p.state }

// Checkpoint returns the last safe position.
func (p *Pipeline) Checkpoint() cursor.Checkpoint { return p.checkpoint }

// Run executes the partition to completion, interruption or failure. The
// summary is valid in every case.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	err := p.run(ctx)
	p.summary.Elapsed = time.Since(start)

	switch {
	case err == nil:
		p.state = StateDone
	case ctx.Err() != nil:
		p.state = StateInterrupted
		p.log.Warn("interrupted; persisting last checkpoint", zap.Error(err))
		p.saveCheckpoint()
		err = ErrInterrupted
	default:
		p.state = StateFailed
		p.log.Error("backfill failed", zap.Error(err))
	}
	p.summary.State = p.state
	p.summary.Checkpoint = p.checkpoint
	metrics.RecordPhase(p.cfg.Partition, "run", err, p.summary.Elapsed)
	return p.summary, err
}

func (p *Pipeline) run(ctx context.Context) error {
	p.checkpoint = p.checkpoints.Load(p.cfg.Partition)
	p.log.Info("starting",
		zap.Bool("dry_run", p.cfg.DryRun),
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Int("page_size", p.cfg.PageSize),
		zap.String("resume_from", describe(p.checkpoint.Cursor)),
		zap.Int64("rows_processed", p.checkpoint.RowsProcessed),
	)

	version, err := p.src.Version(ctx)
	if err != nil {
		return Error.New("connection test: %v", err)
	}
	p.log.Info("connected", zap.String("server_version", version))

	required := []string{p.cfg.Tables.Traces, p.cfg.Tables.Observations}
	if p.cfg.ExcludeDatasetItems {
		required = append(required, p.cfg.Tables.DatasetRunItems)
	}
	if err := p.src.VerifyTables(ctx, required...); err != nil {
		return Error.Wrap(err)
	}

	reader, err := datasource.NewReader(p.src, p.cfg.Partition, p.cfg.PageSize)
	if err != nil {
		return err
	}
	total, err := reader.Count(ctx)
	if err != nil {
		return err
	}
	p.summary.Estimated = total

	// The count is only an estimate; the first page decides whether there is
	// anything left to do.
	first, err := reader.Next(ctx, p.checkpoint.Cursor)
	if err != nil {
		return err
	}
	if len(first) == 0 {
		p.log.Info("nothing to backfill", zap.Int64("estimated", total))
		return nil
	}

	p.state = StateLoadSideTable
	table, exclusions, err := p.loadSideTable(ctx)
	if err != nil {
		return err
	}

	p.state = StateStream
	return p.stream(ctx, reader, first, table, exclusions, total)
}

func (p *Pipeline) loadSideTable(ctx context.Context) (_ sidetable.Table, _ *sidetable.ExclusionSet, err error) {
	start := time.Now()
	defer func() {
		p.summary.TraceLoad = time.Since(start)
		metrics.RecordPhase(p.cfg.Partition, "trace_load", err, p.summary.TraceLoad)
	}()

	table, stats, err := sidetable.Load(ctx, p.src, p.cfg.Partition, p.log)
	if err != nil {
		return nil, nil, err
	}
	p.summary.TraceAttrs = stats.Rows
	metrics.RecordRows(p.cfg.Partition, metrics.KindTraceAttrs, stats.Rows)
	p.summary.SideTableBytes = stats.HeapBytes

	var exclusions *sidetable.ExclusionSet
	if p.cfg.ExcludeDatasetItems {
		if exclusions, err = sidetable.LoadExclusions(ctx, p.src, p.log); err != nil {
			return nil, nil, err
		}
		p.summary.ExcludedTraces = exclusions.Len()
	}
	return table, exclusions, nil
}

// pending is a transformed event and the position it was read at.
type pending struct {
	event records.Event
	at    cursor.Cursor
	seq   int64
}

// stream processes first and then every following page until a short one.
func (p *Pipeline) stream(ctx context.Context, reader *datasource.Reader, first []records.Observation, table sidetable.Table, exclusions *sidetable.ExclusionSet, total int64) (err error) {
	start := time.Now()
	defer func() {
		p.summary.Streaming = time.Since(start)
		metrics.RecordPhase(p.cfg.Partition, "stream", err, p.summary.Streaming)
	}()

	bar := p.startProgress(total)
	defer func() {
		if bar != nil {
			bar.Finish()
		}
	}()

	base := p.checkpoint.RowsProcessed
	page := first
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := make([]pending, 0, len(page))
		var excluded, rowErrors int64
		for i := range page {
			o := &page[i]
			p.summary.Fetched++
			if exclusions.Contains(o.ProjectID, o.TraceID) {
				excluded++
				continue
			}
			ev, err := transformer.Transform(o, table)
			if err != nil {
				rowErrors++
				p.log.Warn("skipping observation", zap.String("id", o.ProjectID+"/"+o.ID), zap.Error(err))
				continue
			}
			batch = append(batch, pending{event: ev, at: cursor.Of(o), seq: base + p.summary.Fetched})
		}
		p.summary.Excluded += excluded
		p.summary.Errors += rowErrors
		p.summary.Transformed += int64(len(batch))
		metrics.RecordRows(p.cfg.Partition, metrics.KindFetched, int64(len(page)))
		metrics.RecordRows(p.cfg.Partition, metrics.KindExcluded, excluded)
		metrics.RecordRows(p.cfg.Partition, metrics.KindRowErrors, rowErrors)
		metrics.RecordRows(p.cfg.Partition, metrics.KindTransformed, int64(len(batch)))

		for len(batch) > 0 {
			n := min(p.cfg.BatchSize, len(batch))
			if err := p.write(ctx, batch[:n]); err != nil {
				return err
			}
			batch = batch[n:]
		}

		if bar != nil {
			bar.Add(len(page))
		}
		if reader.Last(page) {
			return nil
		}
		readPos := cursor.Of(&page[len(page)-1])
		if page, err = reader.Next(ctx, readPos); err != nil {
			return err
		}
	}
}

// write inserts one chunk and then advances and persists the checkpoint.
func (p *Pipeline) write(ctx context.Context, chunk []pending) error {
	rows := make([]storage.Row, len(chunk))
	for i := range chunk {
		rows[i] = &chunk[i].event
	}

	start := time.Now()
	n, err := p.loader.Insert(ctx, rows)
	p.summary.Insert += time.Since(start)
	if err != nil {
		return err
	}
	p.summary.Inserted += n
	p.summary.Batches++

	last := chunk[len(chunk)-1]
	p.checkpoint = cursor.Checkpoint{Cursor: last.at, RowsProcessed: last.seq}
	p.dirty = true
	p.saveCheckpoint()
	return nil
}

// saveCheckpoint persists the checkpoint if it moved since the last
// successful save. Failures are logged and counted; the run continues.
func (p *Pipeline) saveCheckpoint() {
	if p.cfg.DryRun || !p.dirty {
		return
	}
	err := p.checkpoints.Save(p.cfg.Partition, p.checkpoint)
	metrics.RecordCheckpoint(p.cfg.Partition, err)
	if err != nil {
		p.summary.CheckpointsFailed++
		p.log.Error("checkpoint not saved; resume will replay from the previous one",
			zap.String("cursor", describe(p.checkpoint.Cursor)), zap.Error(err))
		return
	}
	p.dirty = false
	p.summary.CheckpointsSaved++
}

func (p *Pipeline) startProgress(total int64) *pb.ProgressBar {
	if p.cfg.Progress == nil {
		return nil
	}
	bar := pb.New64(total).SetWriter(p.cfg.Progress)
	bar.SetCurrent(min(p.checkpoint.RowsProcessed, total))
	bar.Start()
	return bar
}

func describe(c cursor.Cursor) string {
	if c.IsMin() {
		return "beginning"
	}
	return c.ProjectID + "/" + c.Type + "/" + c.DateString() + "/" + c.ID
}
