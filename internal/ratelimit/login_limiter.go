package ratelimit

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/auth-backend/internal/config"
)

// ErrRateLimited signals that an identifier or IP exhausted its attempts
// within the cooldown window.
var ErrRateLimited = errors.New("rate limited")

// AttemptLimiter throttles repeated login and registration attempts using
// redis INCR+EXPIRE counters per username and per client IP. When redis is
// unreachable the limiter fails open so authentication stays available.
type AttemptLimiter struct {
	redis  *redis.Client
	cfg    config.RateLimitConfig
	logger *zap.Logger
}

// NewAttemptLimiter builds a limiter. Returns nil when disabled or no redis
// client is available; a nil limiter allows everything.
func NewAttemptLimiter(client *redis.Client, cfg config.RateLimitConfig, logger *zap.Logger) *AttemptLimiter {
	if !cfg.Enabled || client == nil {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.CooldownSeconds <= 0 {
		cfg.CooldownSeconds = 60
	}
	return &AttemptLimiter{redis: client, cfg: cfg, logger: logger}
}

// Enforce counts one attempt against the identifier and IP and returns
// ErrRateLimited once either exceeds the configured maximum.
func (l *AttemptLimiter) Enforce(ctx context.Context, scope, identifier, ip string) error {
	if l == nil {
		return nil
	}

	if identifier != "" {
		if err := l.enforceKey(ctx, scope+":id:"+identifier); err != nil {
			return err
		}
	}
	if ip != "" {
		if err := l.enforceKey(ctx, scope+":ip:"+ip); err != nil {
			return err
		}
	}
	return nil
}

func (l *AttemptLimiter) enforceKey(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limiter unavailable, failing open", zap.Error(err))
		return nil
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cfg.Cooldown()).Err(); err != nil {
			l.logger.Warn("rate limiter expire failed", zap.Error(err))
		}
	}

	if count > int64(l.cfg.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}
