package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ceylonbites/checkout/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyStatusLookup = "checkout:status:%s"

// StatusLimiter throttles the public order/subscription status lookups per
// client address. The notification and checkout paths are never limited;
// the gateway retries on rejection and a customer mid-payment must not be
// throttled into a failed checkout.
type StatusLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewStatusLimiter(cfg config.Config) (*StatusLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.Rate <= 0 || limitCfg.Burst <= 0 {
		return nil, errors.New("rate limit rate and burst must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &StatusLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.Rate,
		burst:   limitCfg.Burst,
	}, nil
}

func (l *StatusLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *StatusLimiter) Allow(ctx context.Context, clientAddr string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyStatusLookup, strings.TrimSpace(clientAddr)), l.rate, l.burst)
}
