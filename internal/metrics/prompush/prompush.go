// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// A backfill is a batch job without a scrape endpoint, so collected metrics
// are pushed to a Pushgateway on Flush, grouped by job and partition.
package prompush

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/zeebo/errs"

	"backfill/internal/metrics"
)

// Error is the error class of this backend.
var Error = errs.Class("prompush")

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	partition  string // Pushgateway "partition" group
	reg        *prometheus.Registry

	phaseCounter  *prometheus.CounterVec // backfill_phase_total
	phaseDuration *prometheus.SummaryVec // backfill_phase_duration_seconds

	rowCounter        *prometheus.CounterVec // backfill_rows_total
	batchCounter      prometheus.Counter     // backfill_batches_total
	retryCounter      prometheus.Counter     // backfill_insert_retries_total
	checkpointCounter *prometheus.CounterVec // backfill_checkpoints_total
}

// NewBackend constructs a Pushgateway backend. jobName defaults to
// "backfill"; partition becomes part of the grouping key when non-empty.
func NewBackend(jobName, partition, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, Error.New("gateway URL is required")
	}
	if jobName == "" {
		jobName = "backfill"
	}

	reg := prometheus.NewRegistry()

	phaseCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.PhaseTotal,
			Help: "Backfill phase executions by phase and status.",
		},
		[]string{"phase", "status"},
	)
	phaseDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.PhaseDuration,
			Help:       "Duration of backfill phases in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"phase", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Row counts per kind (fetched, transformed, inserted, row_errors, ...).",
		},
		[]string{"kind"},
	)
	batchCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: metrics.BatchesTotal,
		Help: "Event batches written to the destination.",
	})
	retryCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: metrics.RetriesTotal,
		Help: "Failed insert attempts.",
	})
	checkpointCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.CheckpointsTotal,
			Help: "Cursor saves by status (saved, failed).",
		},
		[]string{"status"},
	)

	for _, c := range []prometheus.Collector{
		phaseCounter, phaseDuration, rowCounter, batchCounter, retryCounter, checkpointCounter,
	} {
		if err := reg.Register(c); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	return &Backend{
		gatewayURL:        gatewayURL,
		jobName:           jobName,
		partition:         partition,
		reg:               reg,
		phaseCounter:      phaseCounter,
		phaseDuration:     phaseDuration,
		rowCounter:        rowCounter,
		batchCounter:      batchCounter,
		retryCounter:      retryCounter,
		checkpointCounter: checkpointCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.PhaseTotal:
		if b.phaseCounter == nil {
			return
		}
		b.phaseCounter.WithLabelValues(labels["phase"], labels["status"]).Add(delta)

	case metrics.RowsTotal:
		if b.rowCounter == nil {
			return
		}
		b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)

	case metrics.BatchesTotal:
		if b.batchCounter == nil {
			return
		}
		b.batchCounter.Add(delta)

	case metrics.RetriesTotal:
		if b.retryCounter == nil {
			return
		}
		b.retryCounter.Add(delta)

	case metrics.CheckpointsTotal:
		if b.checkpointCounter == nil {
			return
		}
		b.checkpointCounter.WithLabelValues(labels["status"]).Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.PhaseDuration || b.phaseDuration == nil {
		return
	}
	b.phaseDuration.WithLabelValues(labels["phase"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	p := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg)
	if b.partition != "" {
		p = p.Grouping("partition", b.partition)
	}
	return Error.Wrap(p.Push())
}
