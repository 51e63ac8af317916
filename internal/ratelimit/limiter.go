// Package ratelimit implements fixed-window counting against a shared
// Redis store, plus the operator-configured trust list that bypasses it.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts requests per key in fixed windows backed by Redis. It is
// safe for concurrent use; the counter increment and its expiry travel in
// one transactional pipeline.
type Limiter struct {
	client      redis.Cmdable
	logger      *slog.Logger
	development bool
}

// NewLimiter creates a limiter on the given Redis client. In development
// mode a tripped limit is logged but never enforced.
func NewLimiter(client redis.Cmdable, development bool, logger *slog.Logger) *Limiter {
	return &Limiter{
		client:      client,
		logger:      logger.With(slog.String("component", "ratelimit")),
		development: development,
	}
}

// Limited reports whether key has exhausted max requests within window.
// The pre-increment count is compared to max so the Nth request trips the
// limit, not the N+1th. When a counter already exists its remaining TTL is
// reused as the window, preventing callers from extending their own window
// by re-requesting. On store errors the limiter fails open: availability
// wins over strict enforcement.
func (l *Limiter) Limited(ctx context.Context, key string, max int, window time.Duration) bool {
	count, err := l.client.Get(ctx, key).Int()
	switch {
	case errors.Is(err, redis.Nil):
		count = 0
	case err != nil:
		l.failOpen(ctx, key, err)
		return false
	}

	ttl := window
	if count > 0 {
		remaining, err := l.client.TTL(ctx, key).Result()
		if err != nil {
			l.failOpen(ctx, key, err)
			return false
		}
		if remaining > 0 {
			ttl = remaining
		}
	}

	_, err = l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, key)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		l.failOpen(ctx, key, err)
		return false
	}

	if count >= max {
		if l.development {
			l.logger.WarnContext(ctx, "rate limit tripped but allowed in development mode",
				"key", key, "count", count, "max", max)
			return false
		}
		return true
	}
	return false
}

func (l *Limiter) failOpen(ctx context.Context, key string, err error) {
	l.logger.ErrorContext(ctx, "rate limit store error, failing open",
		"key", key,
		"error", err.Error(),
	)
}
