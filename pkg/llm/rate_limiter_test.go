// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRateLimiterIsNoop(t *testing.T) {
	var l *RateLimiter
	assert.NoError(t, l.Acquire(context.Background()))
	l.RecordTokenUsage(1000)

	disabled := NewRateLimiter(RateLimiterConfig{Enabled: false})
	assert.Nil(t, disabled)
}

func TestRateLimiterDefaults(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{Enabled: true})
	require.NotNil(t, l)
	assert.NoError(t, l.Acquire(context.Background()))
}

func TestRateLimiterBlocksPastBurst(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 0.1,
		Burst:             1,
		TokensPerMinute:   1000,
	})

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.Error(t, err, "second acquire must block past the burst and hit the deadline")
}

func TestRecordTokenUsageDelaysNextAcquire(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 1000,
		Burst:             1000,
		TokensPerMinute:   600, // 10 tokens/sec refill
	})

	l.RecordTokenUsage(600)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.Error(t, err, "token debt must delay the next acquire")
}

func TestCountTokensMonotonic(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	short := CountTokens("hello")
	long := CountTokens("hello world, this is a longer sentence about workflows")
	assert.Greater(t, long, short)
}
