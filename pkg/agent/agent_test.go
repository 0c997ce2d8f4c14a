// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/tools"
	"github.com/teradata-labs/weft/pkg/types"
)

// scriptedClient replays canned responses, optionally failing first.
type scriptedClient struct {
	responses []*types.ModelResponse
	errs      []error
	calls     int
}

func (s *scriptedClient) Invoke(_ context.Context, _ []types.Message, _ []types.ToolSchema) (*types.ModelResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	idx := i - countNonNil(s.errs)
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func countNonNil(errs []error) int {
	n := 0
	for _, e := range errs {
		if e != nil {
			n++
		}
	}
	return n
}

func (s *scriptedClient) CountTokens(text string) int { return len(text) / 4 }
func (s *scriptedClient) Provider() string            { return "stub" }
func (s *scriptedClient) Model() string               { return "stub-model" }

type echoTool struct{}

func (echoTool) Name() string                      { return "echo" }
func (echoTool) Description() string               { return "echoes input" }
func (echoTool) SideEffect() tools.SideEffectClass { return tools.SideEffectPure }
func (echoTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema("params", map[string]*tools.JSONSchema{
		"text": tools.NewStringSchema("text"),
	}, []string{"text"})
}
func (echoTool) Execute(_ context.Context, params map[string]interface{}) (*tools.Result, error) {
	return &tools.Result{Success: true, Data: params["text"]}, nil
}

func newTestAgent(client types.ModelClient, toolNames []string, hooks ...Hook) *Agent {
	registry := tools.NewRegistry(nil)
	registry.Register(echoTool{})
	var schemas []types.ToolSchema
	for _, n := range toolNames {
		if tool, ok := registry.Get(n); ok {
			schemas = append(schemas, types.ToolSchema{
				Name:        tool.Name(),
				Description: tool.Description(),
				InputSchema: tool.InputSchema().ToMap(),
			})
		}
	}
	return &Agent{
		id:        "tester",
		client:    client,
		registry:  registry,
		toolNames: toolNames,
		schemas:   schemas,
		conv:      NewConversation("You are a test agent."),
		hooks:     hooks,
		failure:   spec.FailurePolicy{Retries: 2, Backoff: spec.BackoffConstant},
	}
}

func TestInvokeSimpleResponse(t *testing.T) {
	client := &scriptedClient{responses: []*types.ModelResponse{
		{Content: "hello", StopReason: "end_turn", Usage: types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
	}}
	a := newTestAgent(client, nil)

	res, err := a.Invoke(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Response)
	assert.Equal(t, 15, res.Usage.TotalTokens)
	assert.Equal(t, 15, res.Cumulative.TotalTokens)

	// system + user + assistant
	assert.Equal(t, 3, a.Conversation().Len())
}

func TestInvokeToolLoop(t *testing.T) {
	client := &scriptedClient{responses: []*types.ModelResponse{
		{
			ToolCalls:  []types.ToolCall{{ID: "t1", Name: "echo", Input: map[string]interface{}{"text": "ping"}}},
			StopReason: "tool_use",
			Usage:      types.Usage{TotalTokens: 20},
		},
		{Content: "the tool said ping", StopReason: "end_turn", Usage: types.Usage{TotalTokens: 10}},
	}}
	a := newTestAgent(client, []string{"echo"})

	res, err := a.Invoke(context.Background(), "use the echo tool")
	require.NoError(t, err)
	assert.Equal(t, "the tool said ping", res.Response)
	assert.Equal(t, []string{"echo"}, res.ToolsUsed)
	assert.Equal(t, 30, res.Usage.TotalTokens)
	assert.Equal(t, 2, client.calls)

	// The tool result message carries the serialized payload.
	msgs := a.Conversation().Messages()
	var toolMsg *types.Message
	for i := range msgs {
		if msgs[i].Role == "tool" {
			toolMsg = &msgs[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "t1", toolMsg.ToolResult.ToolUseID)
	assert.False(t, toolMsg.ToolResult.IsError)
}

func TestInvokeDisallowedToolBecomesErrorResult(t *testing.T) {
	client := &scriptedClient{responses: []*types.ModelResponse{
		{
			ToolCalls:  []types.ToolCall{{ID: "t1", Name: "echo", Input: map[string]interface{}{"text": "x"}}},
			StopReason: "tool_use",
		},
		{Content: "done", StopReason: "end_turn"},
	}}
	a := newTestAgent(client, nil) // echo not in the allowed set

	res, err := a.Invoke(context.Background(), "try")
	require.NoError(t, err)
	assert.Equal(t, "done", res.Response)

	msgs := a.Conversation().Messages()
	var toolMsg *types.Message
	for i := range msgs {
		if msgs[i].Role == "tool" {
			toolMsg = &msgs[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.True(t, toolMsg.ToolResult.IsError)
}

func TestInvokeRetriesTransient(t *testing.T) {
	transient := errdefs.New(errdefs.KindProviderTransient, "throttled")
	client := &scriptedClient{
		errs: []error{transient, transient},
		responses: []*types.ModelResponse{
			{Content: "recovered", StopReason: "end_turn"},
		},
	}
	a := newTestAgent(client, nil)

	res, err := a.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Response)
	assert.Equal(t, 3, client.calls)
}

func TestInvokePermanentFailsFast(t *testing.T) {
	permanent := errdefs.New(errdefs.KindProviderPermanent, "bad request")
	client := &scriptedClient{errs: []error{permanent}}
	a := newTestAgent(client, nil)

	_, err := a.Invoke(context.Background(), "go")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindProviderPermanent, errdefs.KindOf(err))
	assert.Equal(t, 1, client.calls)
}

// safeClient is a concurrency-safe stub for tests that invoke in parallel.
type safeClient struct {
	mu    sync.Mutex
	calls int
}

func (c *safeClient) Invoke(_ context.Context, _ []types.Message, _ []types.ToolSchema) (*types.ModelResponse, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()
	return &types.ModelResponse{
		Content:    fmt.Sprintf("reply %d", n),
		StopReason: "end_turn",
		Usage:      types.Usage{TotalTokens: 10},
	}, nil
}
func (c *safeClient) CountTokens(text string) int { return len(text) / 4 }
func (c *safeClient) Provider() string            { return "stub" }
func (c *safeClient) Model() string               { return "stub-model" }

type stepCollector struct {
	steps []int
}

func (h *stepCollector) BeforeCycle(context.Context, *Conversation) error { return nil }
func (h *stepCollector) AfterCycle(_ context.Context, _ *Conversation, cycle *Cycle) error {
	h.steps = append(h.steps, cycle.Step)
	return nil
}

// Concurrent callers on one handle must not interleave their exchanges:
// every user message is answered before the next begins, and step numbers
// stay distinct.
func TestInvokeSerializesConcurrentCallers(t *testing.T) {
	const callers = 8
	client := &safeClient{}
	collector := &stepCollector{}
	a := newTestAgent(client, nil, collector)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.Invoke(context.Background(), fmt.Sprintf("prompt %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs := a.Conversation().Messages()
	require.Len(t, msgs, 1+2*callers)
	for i := 1; i < len(msgs); i += 2 {
		assert.Equal(t, "user", msgs[i].Role)
		assert.Equal(t, "assistant", msgs[i+1].Role)
	}

	require.Len(t, collector.steps, callers)
	seen := make(map[int]bool)
	for _, s := range collector.steps {
		assert.False(t, seen[s], "step %d assigned twice", s)
		seen[s] = true
	}
	assert.Equal(t, callers*10, a.Conversation().Usage().TotalTokens)
}

type recordingHook struct {
	events *[]string
	name   string
	failOn string
}

func (h *recordingHook) BeforeCycle(context.Context, *Conversation) error {
	*h.events = append(*h.events, h.name+".before")
	if h.failOn == "before" {
		return errdefs.New(errdefs.KindBudget, "stop before")
	}
	return nil
}

func (h *recordingHook) AfterCycle(_ context.Context, _ *Conversation, cycle *Cycle) error {
	*h.events = append(*h.events, h.name+".after")
	if h.failOn == "after" {
		return errdefs.New(errdefs.KindBudget, "stop after")
	}
	return nil
}

func TestHooksRunInOrder(t *testing.T) {
	var events []string
	client := &scriptedClient{responses: []*types.ModelResponse{
		{Content: "ok", StopReason: "end_turn"},
	}}
	a := newTestAgent(client, nil,
		&recordingHook{events: &events, name: "first"},
		&recordingHook{events: &events, name: "second"},
	)

	_, err := a.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, []string{"first.before", "second.before", "first.after", "second.after"}, events)
}

func TestAfterCycleErrorPropagates(t *testing.T) {
	var events []string
	client := &scriptedClient{responses: []*types.ModelResponse{
		{Content: "ok", StopReason: "end_turn"},
	}}
	a := newTestAgent(client, nil, &recordingHook{events: &events, name: "budget", failOn: "after"})

	_, err := a.Invoke(context.Background(), "go")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindBudget, errdefs.KindOf(err))
}

func TestBuilderCachesByKey(t *testing.T) {
	client := &scriptedClient{responses: []*types.ModelResponse{{Content: "x"}}}
	built := 0
	b := NewBuilder(BuilderConfig{
		Agents: map[string]spec.AgentSpec{
			"writer": {Prompt: "write things"},
			"critic": {Prompt: "judge things"},
		},
		Runtime:  spec.Runtime{Provider: "stub", ModelID: "m"},
		Registry: tools.NewRegistry(nil),
		Provider: clientProviderFunc(func(context.Context, *spec.Runtime) (types.ModelClient, error) {
			built++
			return client, nil
		}),
	})

	a1, err := b.Agent(context.Background(), "writer", nil)
	require.NoError(t, err)
	a2, err := b.Agent(context.Background(), "writer", nil)
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	a3, err := b.Agent(context.Background(), "critic", nil)
	require.NoError(t, err)
	assert.NotSame(t, a1, a3)

	// Tool override changes the key.
	b.registry.Register(echoTool{})
	a4, err := b.Agent(context.Background(), "writer", []string{"echo"})
	require.NoError(t, err)
	assert.NotSame(t, a1, a4)

	_, err = b.Agent(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUsage, errdefs.KindOf(err))
}

func TestBuilderFreshHandlesAreIndependent(t *testing.T) {
	client := &safeClient{}
	b := NewBuilder(BuilderConfig{
		Agents:   map[string]spec.AgentSpec{"worker": {Prompt: "work"}},
		Runtime:  spec.Runtime{Provider: "stub", ModelID: "m"},
		Registry: tools.NewRegistry(nil),
		Provider: clientProviderFunc(func(context.Context, *spec.Runtime) (types.ModelClient, error) {
			return client, nil
		}),
	})

	a1, err := b.Fresh(context.Background(), "worker", nil)
	require.NoError(t, err)
	a2, err := b.Fresh(context.Background(), "worker", nil)
	require.NoError(t, err)
	assert.NotSame(t, a1, a2)

	_, err = a1.Invoke(context.Background(), "one")
	require.NoError(t, err)
	// a2's conversation is untouched by a1's exchange.
	assert.Equal(t, 1, a2.Conversation().Len())

	// Fresh handles never land in the cache.
	assert.Nil(t, b.Cached("worker"))

	_, err = b.Fresh(context.Background(), "ghost", nil)
	require.Error(t, err)
}

type clientProviderFunc func(ctx context.Context, rt *spec.Runtime) (types.ModelClient, error)

func (f clientProviderFunc) Client(ctx context.Context, rt *spec.Runtime) (types.ModelClient, error) {
	return f(ctx, rt)
}

func TestEffectiveRuntimeLayering(t *testing.T) {
	temp := 0.2
	base := spec.Runtime{
		Provider: spec.ProviderBedrock,
		ModelID:  "base-model",
		Region:   "us-east-1",
		FailurePolicy: spec.FailurePolicy{
			Retries: 2,
			Backoff: spec.BackoffExponential,
		},
	}
	override := &spec.Runtime{ModelID: "cheap-model", Temperature: &temp}

	eff := effectiveRuntime(base, override)
	assert.Equal(t, "cheap-model", eff.ModelID)
	assert.Equal(t, spec.ProviderBedrock, eff.Provider)
	assert.Equal(t, "us-east-1", eff.Region)
	assert.Equal(t, &temp, eff.Temperature)
	assert.Equal(t, 2, eff.FailurePolicy.Retries)
}
