// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig tunes client-side throttling. Providers share one
// limiter per client so parallel branches cannot stampede the API.
type RateLimiterConfig struct {
	Enabled bool

	// RequestsPerSecond caps request rate. Default 2.
	RequestsPerSecond float64

	// TokensPerMinute caps token throughput. Default 80000.
	TokensPerMinute int

	// Burst allows short request bursts above the steady rate. Default 4.
	Burst int
}

// DefaultRateLimiterConfig returns conservative defaults suitable for
// shared provider accounts.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 2,
		TokensPerMinute:   80000,
		Burst:             4,
	}
}

// RateLimiter throttles model invocations on two axes: request rate and
// token throughput. Token usage is only known after a call returns, so the
// token bucket is charged retroactively; the next Acquire absorbs the debt.
type RateLimiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
	maxBurst int
}

// NewRateLimiter creates a limiter from config, filling defaults for zero
// fields. Returns nil when disabled: a nil *RateLimiter is a no-op.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if !cfg.Enabled {
		return nil
	}
	def := DefaultRateLimiterConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = def.TokensPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return &RateLimiter{
		requests: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		tokens:   rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60.0), cfg.TokensPerMinute),
		maxBurst: cfg.TokensPerMinute,
	}
}

// Acquire blocks until a request slot is available or the context ends.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.requests.Wait(ctx); err != nil {
		return err
	}
	return l.tokens.Wait(ctx)
}

// RecordTokenUsage charges consumed tokens against the token bucket without
// blocking. Future Acquire calls pay the accumulated debt.
func (l *RateLimiter) RecordTokenUsage(n int) {
	if l == nil || n <= 0 {
		return
	}
	if n > l.maxBurst {
		n = l.maxBurst
	}
	// Reserve and discard: the delay lands on the next waiter.
	l.tokens.ReserveN(time.Now(), n)
}
