// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package agent provides the agent handle: a model client bound to a system
// prompt, a restricted tool set, a conversation and the per-cycle policy
// hooks. Executors treat Invoke as the unit of retry and budgeting.
package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/tools"
	"github.com/teradata-labs/weft/pkg/types"
)

// maxToolRounds caps the invoke-execute loop within a single cycle so a
// model that keeps requesting tools cannot spin forever.
const maxToolRounds = 10

// Cycle describes one completed agent invocation, handed to AfterCycle
// hooks and recorded in pattern state.
type Cycle struct {
	AgentID   string
	Step      int
	Input     string
	Response  string
	ToolsUsed []string

	// Usage covers this cycle only; Cumulative covers the conversation.
	Usage      types.Usage
	Cumulative types.Usage
}

// Hook observes and mutates the agent around each cycle. BeforeCycle runs
// before the user message is appended; AfterCycle runs once the model has
// produced its final text for the cycle.
type Hook interface {
	BeforeCycle(ctx context.Context, conv *Conversation) error
	AfterCycle(ctx context.Context, conv *Conversation, cycle *Cycle) error
}

// Result is the outcome of one Invoke.
type Result struct {
	Response  string
	ToolCalls []types.ToolCall
	ToolsUsed []string

	// Usage covers this invocation; Cumulative the whole conversation.
	Usage      types.Usage
	Cumulative types.Usage
}

// Agent is a cached handle combining a model client, a conversation and a
// restricted tool set. A handle runs one cycle at a time: concurrent
// callers serialize on mu so their exchanges never interleave in the
// shared conversation. Dispatch sites that want real concurrency for the
// same agent id use Builder.Fresh for private handles.
type Agent struct {
	id        string
	client    types.ModelClient
	registry  *tools.Registry
	toolNames []string
	schemas   []types.ToolSchema
	conv      *Conversation
	hooks     []Hook
	failure   spec.FailurePolicy

	mu    sync.Mutex
	steps int
}

// ID returns the agent's spec identifier.
func (a *Agent) ID() string { return a.id }

// Conversation exposes the conversation for snapshot and restore.
func (a *Agent) Conversation() *Conversation { return a.conv }

// Client returns the underlying model client.
func (a *Agent) Client() types.ModelClient { return a.client }

// ToolNames returns the agent's allowed tools.
func (a *Agent) ToolNames() []string { return a.toolNames }

// Invoke runs one cycle: hooks, model call, tool loop, hooks. The prompt is
// already rendered; templates never reach this layer.
func (a *Agent) Invoke(ctx context.Context, prompt string) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, h := range a.hooks {
		if err := h.BeforeCycle(ctx, a.conv); err != nil {
			return nil, err
		}
	}

	a.conv.Append(types.Message{
		Role:       "user",
		Content:    prompt,
		TokenCount: a.client.CountTokens(prompt),
	})

	var cycleUsage types.Usage
	var toolsUsed []string
	var finalCalls []types.ToolCall
	var response string

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if round >= maxToolRounds {
			return nil, errdefs.New(errdefs.KindTool,
				"agent %q exceeded %d tool rounds in one cycle", a.id, maxToolRounds).
				Hint("the model is stuck requesting tools; tighten the prompt or tool set")
		}

		resp, err := invokeWithRetry(ctx, a.client, a.failure, a.conv.Messages(), a.schemas)
		if err != nil {
			return nil, err
		}
		cycleUsage.Add(resp.Usage)
		a.conv.AddUsage(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			response = resp.Content
			a.conv.Append(types.Message{
				Role:       "assistant",
				Content:    resp.Content,
				TokenCount: resp.Usage.OutputTokens,
			})
			break
		}

		finalCalls = append(finalCalls, resp.ToolCalls...)
		a.conv.Append(types.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			toolsUsed = append(toolsUsed, call.Name)
			result := a.executeTool(ctx, call)
			a.conv.Append(types.Message{
				Role:       "tool",
				ToolResult: result,
			})
		}
	}

	a.steps++
	cycle := &Cycle{
		AgentID:    a.id,
		Step:       a.steps,
		Input:      prompt,
		Response:   response,
		ToolsUsed:  toolsUsed,
		Usage:      cycleUsage,
		Cumulative: a.conv.Usage(),
	}
	for _, h := range a.hooks {
		if err := h.AfterCycle(ctx, a.conv, cycle); err != nil {
			return nil, err
		}
	}

	return &Result{
		Response:   response,
		ToolCalls:  finalCalls,
		ToolsUsed:  toolsUsed,
		Usage:      cycleUsage,
		Cumulative: a.conv.Usage(),
	}, nil
}

// executeTool runs one requested tool call. Failures become error results
// carried back to the model rather than terminating the cycle: the model
// decides whether to work around a failed tool.
func (a *Agent) executeTool(ctx context.Context, call types.ToolCall) *types.ToolResult {
	if !a.allowed(call.Name) {
		return &types.ToolResult{
			ToolUseID: call.ID,
			Content:   "tool " + call.Name + " is not available to this agent",
			IsError:   true,
		}
	}

	result, err := a.registry.Invoke(ctx, call.Name, call.Input)
	if err != nil {
		log.Warn("tool invocation rejected",
			zap.String("agent", a.id),
			zap.String("tool", call.Name),
			zap.Error(err))
		return &types.ToolResult{
			ToolUseID: call.ID,
			Content:   err.Error(),
			IsError:   true,
		}
	}

	return &types.ToolResult{
		ToolUseID: call.ID,
		Content:   result.Serialize(),
		IsError:   !result.Success,
	}
}

func (a *Agent) allowed(name string) bool {
	for _, n := range a.toolNames {
		if n == name {
			return true
		}
	}
	return false
}
