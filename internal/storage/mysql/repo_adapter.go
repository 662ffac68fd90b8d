package mysql

import (
	"context"

	"backfill/internal/storage"
)

// newStore is a test hook that points to NewStore by default.
var newStore = NewStore

// init registers the "mysql" backend with the factory.
func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		s, err := newStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
