// Package datadog implements a Datadog backend for the metrics package.
//
// Labels become DogStatsD tags and counters/histograms are forwarded to a
// local or remote agent.
package datadog

import (
	"fmt"
	"sort"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/zeebo/errs"

	"backfill/internal/metrics"
)

// Error is the error class of this backend.
var Error = errs.Class("datadog")

// Config holds Datadog backend configuration.
type Config struct {
	// Addr is the DogStatsD address, e.g. "127.0.0.1:8125" or "unix:///path/to/socket".
	Addr string

	// Namespace is an optional prefix added to all metric names, e.g. "langfuse.".
	Namespace string

	// GlobalTags are tags applied to all metrics, e.g. []string{"env:prod"}.
	GlobalTags []string
}

// statsdClient is the subset of *statsd.Client used here.
type statsdClient interface {
	Count(name string, value int64, tags []string, rate float64) error
	Histogram(name string, value float64, tags []string, rate float64) error
	Close() error
}

// Backend is a Datadog implementation of metrics.Backend.
type Backend struct {
	client statsdClient
}

// NewBackend constructs a Datadog metrics backend. Addr is required.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, Error.New("Addr is required")
	}

	var opts []statsd.Option
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}

	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Backend{client: c}, nil
}

// IncCounter sends a Count; fractional deltas are truncated.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	_ = b.client.Count(name, int64(delta), labelsToTags(labels), 1)
}

// ObserveHistogram sends a Histogram sample.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	_ = b.client.Histogram(name, value, labelsToTags(labels), 1)
}

// Flush closes the client, which flushes buffered samples. Call it once at
// process exit.
func (b *Backend) Flush() error {
	if b.client == nil {
		return nil
	}
	return Error.Wrap(b.client.Close())
}

// labelsToTags converts labels into sorted "key:value" tags.
func labelsToTags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	out := make([]string, 0, len(lbls))
	for k, v := range lbls {
		out = append(out, fmt.Sprintf("%s:%s", k, v))
	}
	sort.Strings(out)
	return out
}
