package postgres

import (
	"context"

	"backfill/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

// wrappedRepo adds Close to *Repository using the cleanup func returned by
// NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

// Close implements storage.Store.
func (w *wrappedRepo) Close() error {
	if w.closeFn != nil {
		w.closeFn()
	}
	return nil
}

var _ storage.Store = (*wrappedRepo)(nil)

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		r, closeFn, err := newRepository(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}
