// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/csync"
	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/tools"
	"github.com/teradata-labs/weft/pkg/types"
)

// ClientProvider supplies pooled model clients. Implemented by
// factory.Pool; tests plug stubs.
type ClientProvider interface {
	Client(ctx context.Context, rt *spec.Runtime) (types.ModelClient, error)
}

// HookFactory builds the policy hooks for a freshly constructed agent.
// Cached agents keep the hooks from their first construction.
type HookFactory func(agentID string) []Hook

// Builder constructs and caches agent handles. The cache key is
// (agent id, canonical effective runtime, sorted tool set): equivalent
// requests share one handle and therefore one conversation.
type Builder struct {
	specAgents  map[string]spec.AgentSpec
	baseRuntime spec.Runtime
	provider    ClientProvider
	registry    *tools.Registry
	hookFactory HookFactory

	// renderPrompt renders the agent's system prompt template against the
	// workflow's input scope.
	renderPrompt func(tpl string) (string, error)

	cache *csync.Map[string, *Agent]
}

// BuilderConfig carries the builder's collaborators.
type BuilderConfig struct {
	Agents       map[string]spec.AgentSpec
	Runtime      spec.Runtime
	Provider     ClientProvider
	Registry     *tools.Registry
	HookFactory  HookFactory
	RenderPrompt func(tpl string) (string, error)
}

// NewBuilder creates an agent builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.RenderPrompt == nil {
		cfg.RenderPrompt = func(tpl string) (string, error) { return tpl, nil }
	}
	if cfg.HookFactory == nil {
		cfg.HookFactory = func(string) []Hook { return nil }
	}
	return &Builder{
		specAgents:   cfg.Agents,
		baseRuntime:  cfg.Runtime,
		provider:     cfg.Provider,
		registry:     cfg.Registry,
		hookFactory:  cfg.HookFactory,
		renderPrompt: cfg.RenderPrompt,
		cache:        csync.NewMap[string, *Agent](),
	}
}

// Agent returns the handle for an agent id, constructing it on first use.
// toolOverride, when non-nil, replaces the agent's declared tool set (used
// by orchestrator worker templates); it participates in the cache key.
func (b *Builder) Agent(ctx context.Context, agentID string, toolOverride []string) (*Agent, error) {
	decl, ok := b.specAgents[agentID]
	if !ok {
		return nil, errdefs.New(errdefs.KindUsage, "agent %q is not declared", agentID)
	}

	effective := effectiveRuntime(b.baseRuntime, decl.Runtime)
	toolSet := decl.Tools
	if toolOverride != nil {
		toolSet = toolOverride
	}

	key, err := cacheKey(agentID, decl.Runtime, toolSet)
	if err != nil {
		return nil, err
	}

	if a, ok := b.cache.Get(key); ok {
		return a, nil
	}

	a, err := b.construct(ctx, agentID, decl, effective, toolSet)
	if err != nil {
		return nil, err
	}

	// GetOrSet so a concurrent construction for the same key wins once.
	return b.cache.GetOrSet(key, func() *Agent { return a }), nil
}

// Fresh constructs an uncached handle with a private conversation.
// Concurrent dispatch sites running the same agent id use it so parallel
// invocations never share message history.
func (b *Builder) Fresh(ctx context.Context, agentID string, toolOverride []string) (*Agent, error) {
	decl, ok := b.specAgents[agentID]
	if !ok {
		return nil, errdefs.New(errdefs.KindUsage, "agent %q is not declared", agentID)
	}
	effective := effectiveRuntime(b.baseRuntime, decl.Runtime)
	toolSet := decl.Tools
	if toolOverride != nil {
		toolSet = toolOverride
	}
	return b.construct(ctx, agentID, decl, effective, toolSet)
}

// Each returns every cached agent, for conversation snapshotting.
func (b *Builder) Each(fn func(key string, a *Agent)) {
	b.cache.Seq(func(k string, a *Agent) bool {
		fn(k, a)
		return true
	})
}

// Cached returns the handle for an agent id if one exists under any key.
func (b *Builder) Cached(agentID string) *Agent {
	var found *Agent
	b.cache.Seq(func(_ string, a *Agent) bool {
		if a.id == agentID {
			found = a
			return false
		}
		return true
	})
	return found
}

func (b *Builder) construct(ctx context.Context, agentID string, decl spec.AgentSpec,
	rt spec.Runtime, toolSet []string) (*Agent, error) {

	client, err := b.provider.Client(ctx, &rt)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := b.renderPrompt(decl.Prompt)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindTemplate, "render system prompt for agent %q", agentID)
	}

	schemas, err := b.toolSchemas(toolSet)
	if err != nil {
		return nil, err
	}

	log.Debug("constructed agent",
		zap.String("agent", agentID),
		zap.String("provider", client.Provider()),
		zap.String("model", client.Model()),
		zap.Strings("tools", toolSet))

	return &Agent{
		id:        agentID,
		client:    client,
		registry:  b.registry,
		toolNames: toolSet,
		schemas:   schemas,
		conv:      NewConversation(systemPrompt),
		hooks:     b.hookFactory(agentID),
		failure:   rt.FailurePolicy,
	}, nil
}

func (b *Builder) toolSchemas(names []string) ([]types.ToolSchema, error) {
	var schemas []types.ToolSchema
	for _, name := range names {
		tool, ok := b.registry.Get(name)
		if !ok {
			return nil, errdefs.New(errdefs.KindTool, "tool %q is not registered", name)
		}
		var inputSchema map[string]interface{}
		if s := tool.InputSchema(); s != nil {
			inputSchema = s.ToMap()
		}
		schemas = append(schemas, types.ToolSchema{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: inputSchema,
		})
	}
	return schemas, nil
}

// effectiveRuntime layers the per-agent override over the spec runtime.
// Zero fields inherit.
func effectiveRuntime(base spec.Runtime, override *spec.Runtime) spec.Runtime {
	out := base
	if override == nil {
		return out
	}
	if override.Provider != "" {
		out.Provider = override.Provider
	}
	if override.ModelID != "" {
		out.ModelID = override.ModelID
	}
	if override.Region != "" {
		out.Region = override.Region
	}
	if override.Host != "" {
		out.Host = override.Host
	}
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.MaxTokens != 0 {
		out.MaxTokens = override.MaxTokens
	}
	if override.TopP != nil {
		out.TopP = override.TopP
	}
	if override.MaxParallel != 0 {
		out.MaxParallel = override.MaxParallel
	}
	if override.FailurePolicy.Retries != 0 {
		out.FailurePolicy.Retries = override.FailurePolicy.Retries
	}
	if override.FailurePolicy.Backoff != "" {
		out.FailurePolicy.Backoff = override.FailurePolicy.Backoff
	}
	return out
}

// cacheKey is (agent id, canonical runtime override JSON, sorted tools).
func cacheKey(agentID string, override *spec.Runtime, toolSet []string) (string, error) {
	overrideJSON := "{}"
	if override != nil {
		raw, err := json.Marshal(override)
		if err != nil {
			return "", fmt.Errorf("canonicalize runtime override: %w", err)
		}
		overrideJSON = string(raw)
	}
	sorted := make([]string, len(toolSet))
	copy(sorted, toolSet)
	sort.Strings(sorted)
	return agentID + "|" + overrideJSON + "|" + strings.Join(sorted, ","), nil
}
