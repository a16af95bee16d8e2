package omdb

import (
	"context"
	"errors"
	"time"

	"github.com/viccon/sturdyc"
)

// CacheConfig configures the in-process response cache. A zero TTL disables it.
type CacheConfig struct {
	TTL                time.Duration
	Capacity           int
	NumShards          int
	EvictionPercentage int
}

// DefaultCacheConfig returns the cache settings used when only a TTL is given.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:                10 * time.Minute,
		Capacity:           10000,
		NumShards:          64,
		EvictionPercentage: 10,
	}
}

// responseCache memoises provider answers, including "no result", so repeated
// lookups for unknown titles stay local until the TTL passes.
type responseCache struct {
	client *sturdyc.Client[Response]
}

func newResponseCache(cfg CacheConfig) *responseCache {
	if cfg.TTL <= 0 {
		return nil
	}
	d := DefaultCacheConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = d.Capacity
	}
	if cfg.NumShards <= 0 {
		cfg.NumShards = d.NumShards
	}
	if cfg.EvictionPercentage <= 0 || cfg.EvictionPercentage > 100 {
		cfg.EvictionPercentage = d.EvictionPercentage
	}
	return &responseCache{
		client: sturdyc.New[Response](cfg.Capacity, cfg.NumShards, cfg.TTL, cfg.EvictionPercentage,
			sturdyc.WithMissingRecordStorage(),
		),
	}
}

// errNoResult is what a fetch reports for "no result" so the cache stores a
// missing record.
var errNoResult = sturdyc.ErrNotFound

func (c *responseCache) getOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (Response, error)) (Response, error) {
	if c == nil {
		return fetch(ctx)
	}
	resp, err := c.client.GetOrFetch(ctx, key, fetch)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// Joined an in-flight fetch whose originating caller went away.
		return c.client.GetOrFetch(ctx, key, fetch)
	}
	return resp, err
}

func isNoResult(err error) bool {
	return errors.Is(err, sturdyc.ErrNotFound) || errors.Is(err, sturdyc.ErrMissingRecord)
}
