package storage

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

type teeStorage struct {
	primary     Storage
	secondaries []Storage
}

// NewTeeStorage mirrors every Put to the secondaries after the primary
// succeeded. URLs returned and accepted by Get are the primary's.
func NewTeeStorage(primary Storage, secondaries ...Storage) Storage {
	return &teeStorage{
		primary:     primary,
		secondaries: secondaries,
	}
}

func (t *teeStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	url, err := t.primary.Put(ctx, key, data)
	if err != nil {
		return "", err
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, s := range t.secondaries {
		eg.Go(func() error {
			if _, err := s.Put(ctx, key, data); err != nil {
				return xerrors.Errorf("failed to mirror %s: %w", key, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	return url, nil
}

func (t *teeStorage) Get(ctx context.Context, url string) ([]byte, error) {
	return t.primary.Get(ctx, url)
}
