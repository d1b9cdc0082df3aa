// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter bounds the request rate with a token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
	enabled bool
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	Enabled        bool    `json:"enabled"`
	RequestsPerSec float64 `json:"requests_per_second"`
	BurstSize      int     `json:"burst_size"`
}

// DefaultRateLimitConfig returns default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:        true,
		RequestsPerSec: 100,
		BurstSize:      200,
	}
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 200
	}

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 100
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		enabled: cfg.Enabled,
	}
}

// Allow checks if a request is allowed under the rate limit.
func (r *RateLimiter) Allow() bool {
	if !r.enabled {
		return true
	}
	return r.limiter.Allow()
}

// AllowN checks if n requests are allowed.
func (r *RateLimiter) AllowN(n int) bool {
	if !r.enabled {
		return true
	}
	return r.limiter.AllowN(time.Now(), n)
}

// Wait blocks until a request is allowed or the context is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if !r.enabled {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// GetStats returns current rate limiter statistics.
func (r *RateLimiter) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"enabled":          r.enabled,
		"available_tokens": r.limiter.Tokens(),
		"max_tokens":       float64(r.limiter.Burst()),
		"refill_rate":      float64(r.limiter.Limit()),
	}
}
