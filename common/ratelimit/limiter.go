package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/openlearn/coursestore/common/logger"
	"github.com/openlearn/coursestore/common/redis"
)

// Result contains the outcome of a rate limit check
type Result struct {
	Allowed           bool
	CurrentCount      int64
	Limit             int64
	RetryAfterSeconds int64
}

// RateLimiter provides fixed-window rate limiting backed by Redis
type RateLimiter struct {
	redis *redis.Client
	log   *logger.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redisClient *redis.Client, log *logger.Logger) *RateLimiter {
	return &RateLimiter{
		redis: redisClient,
		log:   log,
	}
}

// CheckGlobalLimit checks the service-wide rate limit over a one minute
// window
func (r *RateLimiter) CheckGlobalLimit(ctx context.Context, limit int64) (*Result, error) {
	return r.checkLimit(ctx, "rate_limit:global", limit, 60)
}

// CheckUserLimit checks the rate limit for one user
func (r *RateLimiter) CheckUserLimit(ctx context.Context, username string, limit int64, windowSec int) (*Result, error) {
	key := fmt.Sprintf("rate_limit:user:%s", username)
	return r.checkLimit(ctx, key, limit, windowSec)
}

// CheckCourseLimit checks the write rate limit for one course. Bulk
// imports hammer a single course, so the window is keyed per course id.
func (r *RateLimiter) CheckCourseLimit(ctx context.Context, courseID string, limit int64, windowSec int) (*Result, error) {
	key := fmt.Sprintf("rate_limit:course:%s", courseID)
	return r.checkLimit(ctx, key, limit, windowSec)
}

func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int64, windowSec int) (*Result, error) {
	count, err := r.redis.IncrementWithExpiry(ctx, key, time.Duration(windowSec)*time.Second)
	if err != nil {
		r.log.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	result := &Result{
		Allowed:      count <= limit,
		CurrentCount: count,
		Limit:        limit,
	}
	if !result.Allowed {
		ttl, err := r.redis.GetUnderlying().TTL(ctx, key).Result()
		if err == nil && ttl > 0 {
			result.RetryAfterSeconds = int64(ttl.Seconds())
		}
		r.log.Warn("rate limit exceeded",
			"key", key,
			"current", count,
			"limit", limit,
			"retry_after", result.RetryAfterSeconds)
	}
	return result, nil
}

// ResetLimit clears a rate limit counter
func (r *RateLimiter) ResetLimit(ctx context.Context, key string) error {
	return r.redis.Delete(ctx, key)
}
