package clickhouse

import (
	"context"

	"backfill/internal/storage"
)

// newStore is a test hook that points to NewStore by default.
var newStore = NewStore

var _ storage.Store = (*Store)(nil)

func init() {
	storage.Register("clickhouse", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		s, err := newStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
