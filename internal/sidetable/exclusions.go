package sidetable

import (
	"context"
	"slices"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"backfill/internal/storage"
)

// ExclusionSet holds traces whose observations must not be backfilled
// because they belong to dataset runs. Pairs are bucketed by an xxh3 hash and
// compared in full, so a hash collision never excludes a live trace. A nil set
// excludes nothing.
type ExclusionSet struct {
	m map[uint64][]Key
	n int
}

// NewExclusionSet returns an empty set.
func NewExclusionSet() *ExclusionSet {
	return &ExclusionSet{m: map[uint64][]Key{}}
}

func exclusionHash(projectID, traceID string) uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(projectID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(traceID)
	return h.Sum64()
}

// Add marks (projectID, traceID) as excluded.
func (s *ExclusionSet) Add(projectID, traceID string) {
	k := Key{ProjectID: projectID, TraceID: traceID}
	h := exclusionHash(projectID, traceID)
	if slices.Contains(s.m[h], k) {
		return
	}
	s.m[h] = append(s.m[h], k)
	s.n++
}

// Contains reports whether (projectID, traceID) is excluded.
func (s *ExclusionSet) Contains(projectID, traceID string) bool {
	if s == nil {
		return false
	}
	return slices.Contains(s.m[exclusionHash(projectID, traceID)], Key{ProjectID: projectID, TraceID: traceID})
}

// Len returns the number of excluded traces.
func (s *ExclusionSet) Len() int {
	if s == nil {
		return 0
	}
	return s.n
}

// LoadExclusions reads the distinct traces referenced by dataset run items.
func LoadExclusions(ctx context.Context, src storage.Source, log *zap.Logger) (*ExclusionSet, error) {
	if log == nil {
		log = zap.NewNop()
	}
	set := NewExclusionSet()
	err := src.LoadDatasetRunItems(ctx, func(projectID, traceID string) error {
		set.Add(projectID, traceID)
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	log.Named("sidetable").Info("dataset run traces loaded", zap.Int("traces", set.Len()))
	return set, nil
}
