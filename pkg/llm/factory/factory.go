// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package factory constructs and pools model clients. Clients are keyed by
// (provider, model, region-or-host) so many agents share one client and one
// rate limiter.
package factory

import (
	"context"
	"fmt"
	"sync"

	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/llm/bedrock"
	"github.com/teradata-labs/weft/pkg/llm/ollama"
	"github.com/teradata-labs/weft/pkg/llm/openai"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/types"
)

// Pool caches model clients for a workflow run.
type Pool struct {
	mu      sync.Mutex
	clients map[string]types.ModelClient

	// newClient can be swapped in tests to return stubs.
	newClient func(ctx context.Context, rt *spec.Runtime) (types.ModelClient, error)

	rateLimiter llm.RateLimiterConfig
}

// Option configures a Pool.
type Option func(*Pool)

// WithRateLimiter applies client-side throttling to every constructed
// client.
func WithRateLimiter(cfg llm.RateLimiterConfig) Option {
	return func(p *Pool) { p.rateLimiter = cfg }
}

// WithConstructor overrides client construction, for tests.
func WithConstructor(fn func(ctx context.Context, rt *spec.Runtime) (types.ModelClient, error)) Option {
	return func(p *Pool) { p.newClient = fn }
}

// NewPool creates an empty client pool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{clients: make(map[string]types.ModelClient)}
	p.newClient = p.construct
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Client returns the pooled client for the runtime, constructing it on
// first use.
func (p *Pool) Client(ctx context.Context, rt *spec.Runtime) (types.ModelClient, error) {
	key := poolKey(rt)

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	c, err := p.newClient(ctx, rt)
	if err != nil {
		return nil, err
	}
	p.clients[key] = c
	return c, nil
}

func poolKey(rt *spec.Runtime) string {
	location := rt.Region
	if rt.Provider == spec.ProviderOllama {
		location = rt.Host
	}
	return fmt.Sprintf("%s|%s|%s", rt.Provider, rt.ModelID, location)
}

func (p *Pool) construct(ctx context.Context, rt *spec.Runtime) (types.ModelClient, error) {
	switch rt.Provider {
	case spec.ProviderBedrock:
		return bedrock.NewClient(ctx, bedrock.Config{
			ModelID:     rt.ModelID,
			Region:      rt.Region,
			MaxTokens:   rt.MaxTokens,
			Temperature: rt.Temperature,
			TopP:        rt.TopP,
			RateLimiter: p.rateLimiter,
		})
	case spec.ProviderOpenAI:
		return openai.NewClient(openai.Config{
			Model:       rt.ModelID,
			MaxTokens:   rt.MaxTokens,
			Temperature: rt.Temperature,
			TopP:        rt.TopP,
			RateLimiter: p.rateLimiter,
		})
	case spec.ProviderOllama:
		return ollama.NewClient(ollama.Config{
			Host:        rt.Host,
			Model:       rt.ModelID,
			MaxTokens:   rt.MaxTokens,
			Temperature: rt.Temperature,
			TopP:        rt.TopP,
			RateLimiter: p.rateLimiter,
		})
	default:
		return nil, errdefs.New(errdefs.KindUnsupported, "provider %q is not supported", rt.Provider)
	}
}
