package fallback

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/meridian-geo/meridian/internal/locate"
	"github.com/meridian-geo/meridian/internal/metrics"
)

// DefaultCacheTTL is how long provider answers stay cached.
const DefaultCacheTTL = time.Hour

// notFoundValue marks a cached definitive miss.
const notFoundValue = "404"

// Cache remembers provider answers for single cell queries. Only those
// are cacheable: Wi-Fi sets rarely repeat exactly, while a lone tower
// is asked about over and over. Definitive misses are cached too.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache wraps a Redis client. A non-positive ttl selects the
// default.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// key derives the cache key, reporting false for uncacheable queries.
func (c *Cache) key(query locate.InternalQuery) (string, bool) {
	if c == nil || c.rdb == nil {
		return "", false
	}
	if len(query.Cell) != 1 || len(query.Wifi) != 0 {
		return "", false
	}
	sum := sha1.Sum([]byte(query.Cell[0].CellID()))
	return "fallback:" + hex.EncodeToString(sum[:]), true
}

// Get looks the query up. It returns the cached answer, ErrNotFound
// for a cached definitive miss, or (nil, nil) when the provider has to
// be asked. Redis trouble degrades to a miss.
func (c *Cache) Get(ctx context.Context, query locate.InternalQuery) (*Response, error) {
	key, ok := c.key(query)
	if !ok {
		metrics.FallbackCacheTotal.WithLabelValues("bypassed").Inc()
		return nil, nil
	}

	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		metrics.FallbackCacheTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("fallback cache read failed")
		metrics.FallbackCacheTotal.WithLabelValues("error").Inc()
		return nil, nil
	}

	if value == notFoundValue {
		metrics.FallbackCacheTotal.WithLabelValues("hit").Inc()
		return nil, ErrNotFound
	}

	var resp Response
	if err := json.Unmarshal([]byte(value), &resp); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("fallback cache entry corrupt")
		metrics.FallbackCacheTotal.WithLabelValues("error").Inc()
		return nil, nil
	}
	metrics.FallbackCacheTotal.WithLabelValues("hit").Inc()
	return &resp, nil
}

// Set stores a provider answer. Successful responses and definitive
// misses are cached; transient errors are not. Storage is best effort.
func (c *Cache) Set(ctx context.Context, query locate.InternalQuery, resp *Response, lookupErr error) {
	key, ok := c.key(query)
	if !ok {
		return
	}

	var value string
	switch {
	case errors.Is(lookupErr, ErrNotFound):
		value = notFoundValue
	case lookupErr == nil && resp != nil:
		encoded, err := json.Marshal(resp)
		if err != nil {
			return
		}
		value = string(encoded)
	default:
		return
	}

	if err := c.rdb.SetEx(ctx, key, value, c.ttl).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("fallback cache write failed")
	}
}
