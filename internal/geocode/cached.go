package geocode

import (
	"context"
	"strings"
	"time"

	"github.com/stwalsh4118/homefinder/api/internal/cache"
	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
)

// CachedResolver serves repeated lookups from the cache. Only successful
// resolutions are stored; misses and failures always reach the upstream.
type CachedResolver struct {
	next  Resolver
	cache cache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedResolver wraps next with cache-aside lookups.
func NewCachedResolver(next Resolver, c cache.Cache, ttl time.Duration, log *logger.Logger) *CachedResolver {
	return &CachedResolver{next: next, cache: c, ttl: ttl, log: log.WithComponent("geocode")}
}

func (r *CachedResolver) Resolve(ctx context.Context, text string) (filter.Coordinates, error) {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if normalized == "" {
		return filter.Coordinates{}, ErrEmptyQuery
	}
	key := cache.Key("geocode", map[string]string{"q": normalized})

	var coords filter.Coordinates
	if ok, err := r.cache.Get(ctx, key, &coords); err != nil {
		r.log.Warn("Geocode cache read failed", map[string]interface{}{"error": err.Error()})
	} else if ok {
		return coords, nil
	}

	coords, err := r.next.Resolve(ctx, text)
	if err != nil {
		return filter.Coordinates{}, err
	}

	if err := r.cache.Set(ctx, key, coords, r.ttl); err != nil {
		r.log.Warn("Geocode cache write failed", map[string]interface{}{"error": err.Error()})
	}
	return coords, nil
}
