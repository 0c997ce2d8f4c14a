// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"context"
	"math/rand"
	"time"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap"
)

const (
	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 30 * time.Second
)

// invokeWithRetry retries transient provider failures per the failure
// policy. Permanent failures and context ends return immediately. Retries
// are invisible to budgets: only the successful call's usage is recorded.
func invokeWithRetry(ctx context.Context, client types.ModelClient, policy spec.FailurePolicy,
	messages []types.Message, tools []types.ToolSchema) (*types.ModelResponse, error) {

	var lastErr error
	for attempt := 0; attempt <= policy.Retries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(policy.Backoff, attempt)
			log.Debug("retrying model invocation",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := client.Invoke(ctx, messages, tools)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errdefs.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, errdefs.Wrap(lastErr, errdefs.KindProviderTransient,
		"model invocation failed after %d retries", policy.Retries)
}

func backoffDelay(strategy string, attempt int) time.Duration {
	var delay time.Duration
	switch strategy {
	case spec.BackoffConstant:
		delay = retryBaseDelay
	case spec.BackoffJittered:
		delay = retryBaseDelay << (attempt - 1)
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
	default: // exponential
		delay = retryBaseDelay << (attempt - 1)
	}
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
