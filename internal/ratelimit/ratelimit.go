// Package ratelimit enforces per-key daily request quotas backed by
// Redis. Counters roll over at midnight UTC, matching how quotas are
// sold and reported.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/meridian-geo/meridian/internal/metrics"
)

var (
	// ErrDailyLimitExceeded means the key spent its daily quota.
	ErrDailyLimitExceeded = errors.New("ratelimit: daily limit exceeded")

	// ErrBackendUnavailable means Redis could not answer. Callers
	// should fail the request rather than hand out unmetered service.
	ErrBackendUnavailable = errors.New("ratelimit: backend unavailable")
)

// uniqueIPRetention keeps unique user sets for eight days, enough for
// a weekly report to read the full previous week.
const uniqueIPRetention = 691200 * time.Second

// Limiter counts requests per API key and day.
type Limiter struct {
	rdb *redis.Client
}

// New builds a Limiter on the given Redis client.
func New(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Allow counts one request for the key on the given path and reports
// whether it fits the daily quota. A non-positive maxreq means
// unlimited and is not counted at all.
func (l *Limiter) Allow(ctx context.Context, key, path string, maxreq int, now time.Time) error {
	if maxreq <= 0 {
		return nil
	}

	counter := fmt.Sprintf("apilimit:%s:%s:%s", key, path, now.UTC().Format("20060102"))

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, counter)
	pipe.Expire(ctx, counter, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("rate limit check failed")
		metrics.RateLimitTotal.WithLabelValues("error").Inc()
		return ErrBackendUnavailable
	}

	if incr.Val() > int64(maxreq) {
		metrics.RateLimitTotal.WithLabelValues("limited").Inc()
		return ErrDailyLimitExceeded
	}
	metrics.RateLimitTotal.WithLabelValues("allowed").Inc()
	return nil
}

// LogUniqueIP adds the client IP to the key's daily unique user set,
// one HyperLogLog per API and day. Purely informational, so failures
// only get a debug line.
func (l *Limiter) LogUniqueIP(ctx context.Context, api, key, ip string, now time.Time) {
	if key == "" || ip == "" {
		return
	}

	set := fmt.Sprintf("apiuser:%s:%s:%s", api, key, now.UTC().Format("2006-01-02"))

	pipe := l.rdb.Pipeline()
	pipe.PFAdd(ctx, set, ip)
	pipe.Expire(ctx, set, uniqueIPRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("unique ip log failed")
	}
}
