// Package sidetable loads the per-partition trace attributes that every
// observation of the partition is denormalized against. The whole table is
// held in memory; its size is reported, not enforced. Partitions too large
// for one process are split into coarser passes by the operator.
package sidetable

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"backfill/internal/records"
	"backfill/internal/storage"
)

// Error is the error class of side-table loading. Any Error is fatal.
var Error = errs.Class("sidetable")

// TagsKey is the synthetic metadata key that carries a trace's tag list.
const TagsKey = "trace_tags"

// Key identifies a trace within the source.
type Key struct {
	ProjectID string
	TraceID   string
}

// Attrs are the trace attributes copied onto each event. Nullable source
// columns are normalized to their zero values.
type Attrs struct {
	UserID     string
	SessionID  string
	Metadata   map[string]string
	Tags       []string
	Public     bool
	Bookmarked bool
	Release    string
}

// Table maps a trace to its attributes. It is read-only once loaded.
type Table map[Key]Attrs

// Lookup returns the attributes of (projectID, traceID) and whether they
// were present.
func (t Table) Lookup(projectID, traceID string) (Attrs, bool) {
	a, ok := t[Key{ProjectID: projectID, TraceID: traceID}]
	return a, ok
}

// Stats describes one load.
type Stats struct {
	Rows      int64
	HeapBytes uint64
	Duration  time.Duration
}

// Load reads every live trace of partition from src into a Table.
func Load(ctx context.Context, src storage.Source, partition string, log *zap.Logger) (Table, Stats, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("sidetable")

	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()

	table := Table{}
	err := src.LoadTraces(ctx, partition, func(tr *records.TraceRow) error {
		attrs, err := normalize(tr)
		if err != nil {
			return err
		}
		table[Key{ProjectID: tr.ProjectID, TraceID: tr.ID}] = attrs
		return nil
	})
	if err != nil {
		return nil, Stats{}, Error.Wrap(err)
	}

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	stats := Stats{Rows: int64(len(table)), Duration: time.Since(start)}
	if after.HeapAlloc > before.HeapAlloc {
		stats.HeapBytes = after.HeapAlloc - before.HeapAlloc
	}

	log.Info("trace attributes loaded",
		zap.String("partition", partition),
		zap.Int64("rows", stats.Rows),
		zap.String("heap_delta", humanize.Bytes(stats.HeapBytes)),
		zap.Duration("elapsed", stats.Duration),
	)
	return table, stats, nil
}

func normalize(tr *records.TraceRow) (Attrs, error) {
	a := Attrs{
		UserID:     deref(tr.UserID),
		SessionID:  deref(tr.SessionID),
		Metadata:   make(map[string]string, len(tr.Metadata)+1),
		Tags:       tr.Tags,
		Public:     tr.Public,
		Bookmarked: tr.Bookmarked,
		Release:    deref(tr.Release),
	}
	for k, v := range tr.Metadata {
		a.Metadata[k] = v
	}
	if len(tr.Tags) > 0 {
		b, err := json.Marshal(tr.Tags)
		if err != nil {
			return Attrs{}, Error.New("trace %s/%s: encode tags: %v", tr.ProjectID, tr.ID, err)
		}
		a.Metadata[TagsKey] = string(b)
	}
	return a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
