package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"backfill/internal/cursor"
)

// Summary reports one run. It is produced on success, failure and
// interrupt alike.
type Summary struct {
	Partition string
	State     State
	DryRun    bool

	Estimated      int64
	TraceAttrs     int64
	SideTableBytes uint64
	ExcludedTraces int

	Fetched     int64
	Excluded    int64
	Transformed int64
	Errors      int64
	Inserted    int64
	Batches     int64

	CheckpointsSaved  int64
	CheckpointsFailed int64
	Checkpoint        cursor.Checkpoint

	TraceLoad time.Duration
	Streaming time.Duration
	Insert    time.Duration
	Elapsed   time.Duration
}

// Throughput returns fetched observations per second.
func (s Summary) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Fetched) / s.Elapsed.Seconds()
}

// WriteTo prints the human-readable summary.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	c := humanize.Comma
	ms := func(d time.Duration) time.Duration { return d.Truncate(time.Millisecond) }

	sw := &summaryWriter{w: w}
	sw.printf("backfill summary (partition %s)", s.Partition)
	sw.printf("  state:              %s", s.State)
	sw.printf("  dry run:            %t", s.DryRun)
	sw.printf("  trace attrs loaded: %s", c(s.TraceAttrs))
	sw.printf("  side-table memory:  %s", humanize.Bytes(s.SideTableBytes))
	sw.printf("  exclusions:         %s traces, %s observations", c(int64(s.ExcludedTraces)), c(s.Excluded))
	sw.printf("  observations:       %s processed of ~%s, %s transformed", c(s.Fetched), c(s.Estimated), c(s.Transformed))
	sw.printf("  events inserted:    %s in %s batches", c(s.Inserted), c(s.Batches))
	sw.printf("  errors:             %s", c(s.Errors))
	sw.printf("  checkpoints:        %s saved, %s failed", c(s.CheckpointsSaved), c(s.CheckpointsFailed))
	sw.printf("  resume from:        %s", describe(s.Checkpoint.Cursor))
	sw.printf("  phases:             trace load %s, streaming %s, insert %s", ms(s.TraceLoad), ms(s.Streaming), ms(s.Insert))
	sw.printf("  elapsed:            %s (%s rows/s)", ms(s.Elapsed), c(int64(s.Throughput())))
	return sw.n, sw.err
}

// summaryWriter stops writing after the first error.
type summaryWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (sw *summaryWriter) printf(format string, args ...any) {
	if sw.err != nil {
		return
	}
	n, err := fmt.Fprintf(sw.w, format+"\n", args...)
	sw.n += int64(n)
	sw.err = err
}
