package fallback

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/meridian-geo/meridian/internal/locate"
)

// providerScore ranks provider answers on par with our own station
// fixes.
const providerScore = 1.0

// Source resolves position queries through the external provider. It
// runs after the internal source and only for keys that allow it.
type Source struct {
	client *Client
	cache  *Cache
}

// NewSource builds a fallback source. The cache may be nil, which
// disables caching but not the provider.
func NewSource(client *Client, cache *Cache) *Source {
	return &Source{client: client, cache: cache}
}

// Name identifies the source in metrics.
func (s *Source) Name() locate.DataSource {
	return locate.SourceFallback
}

// ShouldSearch reports whether the provider is worth asking: the key
// must allow it, the query must carry station data the provider can
// use, and the results so far must leave room for improvement.
func (s *Source) ShouldSearch(q *locate.Query, results *locate.ResultList) bool {
	if s.client == nil {
		return false
	}
	if !q.APIKey().AllowFallback {
		return false
	}
	if len(q.Cells()) == 0 && len(q.Wifis()) == 0 {
		return false
	}
	return !results.Satisfies(q)
}

// Search consults the cache, then the provider. Transient failures
// leave the result list empty so later sources still run.
func (s *Source) Search(ctx context.Context, q *locate.Query) *locate.ResultList {
	results := locate.NewResultList(locate.KindPosition)
	query := q.InternalQuery()

	resp, err := s.cache.Get(ctx, query)
	if resp == nil && err == nil {
		resp, err = s.client.Locate(ctx, query)
		s.cache.Set(ctx, query, resp, err)
	}

	switch {
	case err == nil && resp != nil && resp.Accuracy > 0:
		result := locate.NewPosition(locate.SourceFallback,
			resp.Location.Lat, resp.Location.Lng, resp.Accuracy, providerScore)
		result.Fallback = resp.Fallback
		results.Add(result)
	case err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrRateLimited):
		zerolog.Ctx(ctx).Warn().Err(err).Msg("fallback source failed")
	}

	q.EmitSourceStats(locate.SourceFallback, results.Best())
	return results
}
