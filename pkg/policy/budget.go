// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package policy

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/types"
)

// TokenMeter accumulates token spend across every agent of one workflow
// run. All BudgetHook instances built for a run share a single meter, so
// runtime.budgets.max_tokens caps the workflow total rather than any one
// agent's conversation, and the warn threshold fires at most once per
// workflow. On resume the meter is seeded with the session's prior spend.
type TokenMeter struct {
	mu     sync.Mutex
	used   int
	warned bool
}

// NewTokenMeter creates a meter starting at seed tokens already spent.
func NewTokenMeter(seed int) *TokenMeter {
	return &TokenMeter{used: seed}
}

// Charge adds one cycle's spend and returns the workflow total.
func (m *TokenMeter) Charge(tokens int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used += tokens
	return m.used
}

// Used returns the workflow total so far.
func (m *TokenMeter) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// markWarned flips the warned flag, reporting whether this caller crossed
// the threshold first.
func (m *TokenMeter) markWarned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warned {
		return false
	}
	m.warned = true
	return true
}

// BudgetHook enforces the workflow token budget at cycle boundaries. At
// the warn threshold it emits a warning event, injects a single warning
// message into the conversation and triggers compaction; at the full
// budget it fails the run with a budget error. Per-agent hook instances
// share one TokenMeter.
type BudgetHook struct {
	meter         *TokenMeter
	maxTokens     int
	warnThreshold float64
	bus           *events.Bus
	compactor     *Compactor
	sessionID     string
	workflow      string
}

// NewBudgetHook creates the hook. maxTokens 0 disables enforcement. The
// compactor is optional; when present it runs at the warn threshold.
func NewBudgetHook(meter *TokenMeter, maxTokens int, warnThreshold float64, bus *events.Bus,
	compactor *Compactor, sessionID, workflow string) *BudgetHook {
	if meter == nil {
		meter = NewTokenMeter(0)
	}
	return &BudgetHook{
		meter:         meter,
		maxTokens:     maxTokens,
		warnThreshold: warnThreshold,
		bus:           bus,
		compactor:     compactor,
		sessionID:     sessionID,
		workflow:      workflow,
	}
}

func (h *BudgetHook) BeforeCycle(context.Context, *agent.Conversation) error { return nil }

func (h *BudgetHook) AfterCycle(ctx context.Context, conv *agent.Conversation, cycle *agent.Cycle) error {
	if h.maxTokens == 0 {
		return nil
	}
	used := h.meter.Charge(cycle.Usage.TotalTokens)

	if used >= h.maxTokens {
		return errdefs.New(errdefs.KindBudget,
			"token budget exceeded: %d used of %d", used, h.maxTokens).
			Hint("raise runtime.budgets.max_tokens or enable compaction earlier")
	}

	warnAt := int(float64(h.maxTokens) * h.warnThreshold)
	if used < warnAt || !h.meter.markWarned() {
		return nil
	}

	log.Warn("token budget warning",
		zap.String("agent", cycle.AgentID),
		zap.Int("used", used),
		zap.Int("max", h.maxTokens))

	if h.bus != nil {
		h.bus.Publish(events.Event{
			Type:      events.BudgetWarning,
			SessionID: h.sessionID,
			Workflow:  h.workflow,
			Payload: map[string]interface{}{
				"agent":      cycle.AgentID,
				"used":       used,
				"max_tokens": h.maxTokens,
			},
		})
	}

	conv.Append(types.Message{
		Role: "system",
		Content: fmt.Sprintf(
			"Warning: %d of %d budgeted tokens are spent. Be concise and finish the task promptly.",
			used, h.maxTokens),
	})

	if h.compactor != nil {
		if err := h.compactor.Compact(ctx, conv); err != nil {
			// Compaction failing at the warn threshold is survivable; the
			// hard limit above still protects the budget.
			log.Warn("compaction at budget warning failed", zap.Error(err))
		}
	}
	return nil
}
