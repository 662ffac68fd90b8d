// Package datasource pages observations out of a storage.Source in keyset
// order, one partition at a time.
package datasource

import (
	"context"

	"github.com/zeebo/errs"

	"backfill/internal/cursor"
	"backfill/internal/records"
	"backfill/internal/storage"
)

// Error is the error class of page reads.
var Error = errs.Class("datasource")

// Reader fetches pages of at most Limit observations of one partition.
type Reader struct {
	src       storage.Source
	partition string
	limit     int
}

// NewReader returns a Reader over src.
func NewReader(src storage.Source, partition string, limit int) (*Reader, error) {
	if src == nil {
		return nil, Error.New("nil source")
	}
	if limit < 1 {
		return nil, Error.New("page size must be positive, got %d", limit)
	}
	return &Reader{src: src, partition: partition, limit: limit}, nil
}

// Limit returns the page size.
func (r *Reader) Limit() int { return r.limit }

// Next returns the page strictly after the given cursor. A page shorter than
// Limit is the last one.
func (r *Reader) Next(ctx context.Context, after cursor.Cursor) ([]records.Observation, error) {
	rows, err := r.src.FetchObservations(ctx, r.partition, after, r.limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if len(rows) > r.limit {
		return nil, Error.New("source returned %d rows for a page of %d", len(rows), r.limit)
	}
	return rows, nil
}

// Last reports whether page ends the scan.
func (r *Reader) Last(page []records.Observation) bool { return len(page) < r.limit }

// Count returns the source's estimate of the partition size. It only feeds
// progress reporting.
func (r *Reader) Count(ctx context.Context) (int64, error) {
	n, err := r.src.CountObservations(ctx, r.partition)
	return n, Error.Wrap(err)
}
