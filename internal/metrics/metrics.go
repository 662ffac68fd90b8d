// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the backfill.
//
// The package exposes a narrow interface (Backend) focused on counters and
// timing data, plus a global, pluggable backend that defaults to a no-op so
// metrics are always safe to call. Concrete systems (Prometheus Pushgateway,
// Datadog) live in subpackages.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Metric names emitted by the helpers below.
const (
	PhaseTotal       = "backfill_phase_total"
	PhaseDuration    = "backfill_phase_duration_seconds"
	RowsTotal        = "backfill_rows_total"
	BatchesTotal     = "backfill_batches_total"
	RetriesTotal     = "backfill_insert_retries_total"
	CheckpointsTotal = "backfill_checkpoints_total"
)

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordPhase counts one execution of a pipeline phase and observes its
// duration, labelled by outcome.
func RecordPhase(partition, phase string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"partition": partition,
		"phase":     phase,
		"status":    status,
	}

	backend.IncCounter(PhaseTotal, 1, lbls)
	backend.ObserveHistogram(PhaseDuration, d.Seconds(), lbls)
}

// Row kinds passed to RecordRows. They mirror the run summary.
const (
	KindTraceAttrs  = "trace_attrs"
	KindFetched     = "fetched"
	KindExcluded    = "excluded"
	KindRowErrors   = "row_errors"
	KindTransformed = "transformed"
	KindInserted    = "inserted"
)

// RecordRows increments a row-level counter for the given kind.
func RecordRows(partition, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{
		"partition": partition,
		"kind":      kind,
	})
}

// RecordBatches increments the count of batches written.
func RecordBatches(partition string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BatchesTotal, float64(delta), Labels{
		"partition": partition,
	})
}

// RecordRetry counts one failed insert attempt.
func RecordRetry(partition string) {
	backend.IncCounter(RetriesTotal, 1, Labels{"partition": partition})
}

// RecordCheckpoint counts one cursor save, labelled by outcome.
func RecordCheckpoint(partition string, err error) {
	status := "saved"
	if err != nil {
		status = "failed"
	}
	backend.IncCounter(CheckpointsTotal, 1, Labels{
		"partition": partition,
		"status":    status,
	})
}
