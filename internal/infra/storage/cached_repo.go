package storage

import (
	"context"
	"errors"
)

// StateCache is a fast, non-authoritative copy of saved slots.
type StateCache interface {
	// Get returns ErrNotFound on a miss.
	Get(ctx context.Context, slot string) (*SavedState, error)
	Put(ctx context.Context, slot string, state *SavedState) error
	Invalidate(ctx context.Context, slot string) error
}

// CachedRepository writes through to primary and serves loads from the cache when it can.
// Cache failures never fail an operation; they are reported to OnCacheError.
type CachedRepository struct {
	primary StateRepository
	cache   StateCache

	OnCacheError func(op string, err error)
}

func NewCachedRepository(primary StateRepository, cache StateCache) *CachedRepository {
	return &CachedRepository{primary: primary, cache: cache}
}

func (r *CachedRepository) Load(ctx context.Context, slot string) (*SavedState, error) {
	state, err := r.cache.Get(ctx, slot)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		r.report("get", err)
	}

	state, err = r.primary.Load(ctx, slot)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Put(ctx, slot, state); err != nil {
		r.report("put", err)
	}
	return state, nil
}

func (r *CachedRepository) Save(ctx context.Context, slot string, state *SavedState) error {
	if err := r.primary.Save(ctx, slot, state); err != nil {
		// The cache must not serve a state the primary never accepted.
		if ierr := r.cache.Invalidate(ctx, slot); ierr != nil {
			r.report("invalidate", ierr)
		}
		return err
	}
	if err := r.cache.Put(ctx, slot, state); err != nil {
		r.report("put", err)
	}
	return nil
}

func (r *CachedRepository) report(op string, err error) {
	if r.OnCacheError != nil {
		r.OnCacheError(op, err)
	}
}
