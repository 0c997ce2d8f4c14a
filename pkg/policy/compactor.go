// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package policy implements the context-management hooks installed on agent
// handles: proactive compaction, the notes ledger and the budget enforcer.
// The hooks compose in a fixed order around each cycle: notes-inject runs
// before the cycle; budget-check, compaction and notes-append run after it.
package policy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/types"
)

const summarizeSystemPrompt = `You summarize conversation history for an AI agent.
Produce a concise summary that preserves: decisions made, facts discovered,
tool results that matter for future steps, and any open questions.
Respond with the summary only.`

// Compactor rewrites a conversation so older messages collapse into a
// summary while recent messages stay verbatim. Tool-call and tool-result
// pairs never straddle the summary boundary.
type Compactor struct {
	client         types.ModelClient
	summaryRatio   float64
	preserveRecent int
}

// NewCompactor creates a compactor. The client is typically a cheaper model
// than the agent's own.
func NewCompactor(client types.ModelClient, summaryRatio float64, preserveRecent int) *Compactor {
	return &Compactor{
		client:         client,
		summaryRatio:   summaryRatio,
		preserveRecent: preserveRecent,
	}
}

// Compact summarizes older messages in place. A conversation too short to
// have anything older than the preserved tail is left untouched.
func (c *Compactor) Compact(ctx context.Context, conv *agent.Conversation) error {
	msgs := conv.Messages()

	// Leading system messages always survive verbatim.
	systemEnd := 0
	for systemEnd < len(msgs) && msgs[systemEnd].Role == "system" {
		systemEnd++
	}

	cut := len(msgs) - c.preserveRecent
	if cut <= systemEnd {
		return nil
	}
	// Pull the boundary back so a tool result is never separated from the
	// assistant message that requested it.
	for cut > systemEnd && msgs[cut].Role == "tool" {
		cut--
	}
	if cut <= systemEnd {
		return nil
	}

	older := msgs[systemEnd:cut]
	transcript := renderTranscript(older)
	olderTokens := c.client.CountTokens(transcript)
	targetTokens := int(float64(olderTokens) * c.summaryRatio)
	if targetTokens < 50 {
		targetTokens = 50
	}

	summaryReq := []types.Message{
		{Role: "system", Content: summarizeSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(
			"Summarize the following conversation in at most %d tokens:\n\n%s",
			targetTokens, transcript)},
	}
	resp, err := c.client.Invoke(ctx, summaryReq, nil)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindOf(err), "conversation compaction failed")
	}

	summary := types.Message{
		Role:       "system",
		Content:    "Summary of earlier conversation:\n" + resp.Content,
		TokenCount: c.client.CountTokens(resp.Content),
	}

	rebuilt := make([]types.Message, 0, systemEnd+1+len(msgs)-cut)
	rebuilt = append(rebuilt, msgs[:systemEnd]...)
	rebuilt = append(rebuilt, summary)
	rebuilt = append(rebuilt, msgs[cut:]...)
	conv.Replace(rebuilt)

	log.Debug("compacted conversation",
		zap.Int("before", len(msgs)),
		zap.Int("after", len(rebuilt)),
		zap.Int("summarized", len(older)))
	return nil
}

func renderTranscript(msgs []types.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case "tool":
			if m.ToolResult != nil {
				fmt.Fprintf(&b, "[tool result %s] %s\n", m.ToolResult.ToolUseID, m.ToolResult.Content)
			}
		default:
			fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "[%s requested tool %s]\n", m.Role, tc.Name)
			}
		}
	}
	return b.String()
}

// CompactionHook triggers the compactor once cumulative tokens cross the
// configured level.
type CompactionHook struct {
	compactor *Compactor
	threshold int
	bus       *events.Bus
	sessionID string
	workflow  string
}

// NewCompactionHook creates the hook. The bus may be nil.
func NewCompactionHook(compactor *Compactor, whenTokensOver int, bus *events.Bus, sessionID, workflow string) *CompactionHook {
	return &CompactionHook{
		compactor: compactor,
		threshold: whenTokensOver,
		bus:       bus,
		sessionID: sessionID,
		workflow:  workflow,
	}
}

func (h *CompactionHook) BeforeCycle(context.Context, *agent.Conversation) error { return nil }

func (h *CompactionHook) AfterCycle(ctx context.Context, conv *agent.Conversation, cycle *agent.Cycle) error {
	if cycle.Cumulative.TotalTokens <= h.threshold {
		return nil
	}
	if err := h.compactor.Compact(ctx, conv); err != nil {
		return err
	}
	if h.bus != nil {
		h.bus.Publish(events.Event{
			Type:      events.CompactionRun,
			SessionID: h.sessionID,
			Workflow:  h.workflow,
			Payload: map[string]interface{}{
				"agent":  cycle.AgentID,
				"tokens": cycle.Cumulative.TotalTokens,
			},
		})
	}
	return nil
}
