// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package policy

import (
	"path/filepath"

	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/types"
)

// HookSetConfig assembles the per-agent hook chain from the workflow's
// context policy.
type HookSetConfig struct {
	Policy    *spec.ContextPolicy
	Budgets   spec.Budgets
	Bus       *events.Bus
	SessionID string
	Workflow  string

	// Meter is the run's shared token counter. Every agent's hook chain
	// must receive the same meter so the budget caps the workflow total;
	// nil falls back to a private meter, which only suits single-agent use.
	Meter *TokenMeter

	// NotesDir anchors a relative notes file (the session directory).
	NotesDir string

	// SummaryClient handles compaction summarization. Required when the
	// policy enables compaction.
	SummaryClient types.ModelClient
}

// Hooks builds the hook chain for one agent. Slice order is the contract:
// BeforeCycle runs front to back (notes injection last, closest to the
// cycle) and AfterCycle runs front to back (budget check first, then
// compaction, then notes append).
func Hooks(cfg HookSetConfig) []agent.Hook {
	var hooks []agent.Hook

	var compactor *Compactor
	var compactionThreshold int
	if cfg.Policy != nil && cfg.Policy.Compaction != nil && cfg.SummaryClient != nil {
		c := cfg.Policy.Compaction
		compactor = NewCompactor(cfg.SummaryClient, c.SummaryRatio, c.PreserveRecentMessages)
		compactionThreshold = c.WhenTokensOver
	}

	if cfg.Budgets.MaxTokens > 0 {
		warnThreshold := 0.8
		if cfg.Policy != nil && cfg.Policy.Budget != nil && cfg.Policy.Budget.WarnThreshold > 0 {
			warnThreshold = cfg.Policy.Budget.WarnThreshold
		}
		hooks = append(hooks, NewBudgetHook(cfg.Meter, cfg.Budgets.MaxTokens, warnThreshold,
			cfg.Bus, compactor, cfg.SessionID, cfg.Workflow))
	}

	if compactor != nil {
		hooks = append(hooks, NewCompactionHook(compactor, compactionThreshold,
			cfg.Bus, cfg.SessionID, cfg.Workflow))
	}

	if cfg.Policy != nil && cfg.Policy.Notes != nil && cfg.Policy.Notes.Enabled {
		n := cfg.Policy.Notes
		path := n.File
		if cfg.NotesDir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(cfg.NotesDir, path)
		}
		hooks = append(hooks, NewNotesHook(path, n.LastN))
	}

	return hooks
}
