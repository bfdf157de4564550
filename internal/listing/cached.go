package listing

import (
	"context"
	"strconv"
	"time"

	"github.com/stwalsh4118/homefinder/api/internal/cache"
	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
	"github.com/stwalsh4118/homefinder/api/internal/models"
	"github.com/stwalsh4118/homefinder/api/internal/querysync"
)

// CachedSource is a cache-aside Source. Entries are keyed by a hash of the
// encoded query, so sessions with equal filters share results. Cache failures
// degrade to direct fetches.
type CachedSource struct {
	next  Source
	cache cache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedSource wraps next.
func NewCachedSource(next Source, c cache.Cache, ttl time.Duration, log *logger.Logger) *CachedSource {
	return &CachedSource{next: next, cache: c, ttl: ttl, log: log.WithComponent("listing")}
}

func (s *CachedSource) Fetch(ctx context.Context, st filter.State) ([]models.Property, error) {
	key := CacheKey(st)

	var props []models.Property
	if ok, err := s.cache.Get(ctx, key, &props); err != nil {
		s.log.Warn("Property cache read failed", map[string]interface{}{"error": err.Error()})
	} else if ok {
		return props, nil
	}

	props, err := s.next.Fetch(ctx, st)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, props, s.ttl); err != nil {
		s.log.Warn("Property cache write failed", map[string]interface{}{"error": err.Error()})
	}
	return props, nil
}

// CacheKey is the cache key for the property query of st.
func CacheKey(st filter.State) string {
	values := querysync.Encode(st)
	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}
	return cache.Key("properties", params)
}

// Getter loads one property for the details page.
type Getter interface {
	Get(ctx context.Context, id int) (models.Property, error)
}

// CachedGetter is a cache-aside Getter.
type CachedGetter struct {
	next  Getter
	cache cache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedGetter wraps next.
func NewCachedGetter(next Getter, c cache.Cache, ttl time.Duration, log *logger.Logger) *CachedGetter {
	return &CachedGetter{next: next, cache: c, ttl: ttl, log: log.WithComponent("listing")}
}

func (g *CachedGetter) Get(ctx context.Context, id int) (models.Property, error) {
	key := cache.Key("property", map[string]string{"id": strconv.Itoa(id)})

	var p models.Property
	if ok, err := g.cache.Get(ctx, key, &p); err != nil {
		g.log.Warn("Property cache read failed", map[string]interface{}{"error": err.Error()})
	} else if ok {
		return p, nil
	}

	p, err := g.next.Get(ctx, id)
	if err != nil {
		return models.Property{}, err
	}

	if err := g.cache.Set(ctx, key, p, g.ttl); err != nil {
		g.log.Warn("Property cache write failed", map[string]interface{}{"error": err.Error()})
	}
	return p, nil
}
