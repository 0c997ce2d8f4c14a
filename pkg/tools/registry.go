// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"context"
	"sort"
	"time"

	"github.com/teradata-labs/weft/internal/csync"
	"github.com/teradata-labs/weft/pkg/errdefs"
)

// Registry manages tool registration and lookup. Guards run on every
// invocation, not only at registration: an HTTP tool's URL is re-screened on
// each call and filesystem paths are re-validated.
type Registry struct {
	tools *csync.Map[string, Tool]
	guard *Guard
}

// NewRegistry creates a tool registry with the given guard. A nil guard
// means default screening (no private networks, no consent bypass).
func NewRegistry(guard *Guard) *Registry {
	if guard == nil {
		guard = NewGuard(GuardConfig{})
	}
	return &Registry{
		tools: csync.NewMap[string, Tool](),
		guard: guard,
	}
}

// Register registers a tool. A tool with the same name is replaced.
func (r *Registry) Register(tool Tool) {
	r.tools.Set(tool.Name(), tool)
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	return r.tools.Get(name)
}

// IsRegistered checks if a tool name is known.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.tools.Get(name)
	return ok
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, r.tools.Len())
	r.tools.Seq(func(name string, _ Tool) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Guard returns the registry's safety guard.
func (r *Registry) Guard() *Guard {
	return r.guard
}

// Invoke validates parameters against the tool's input schema, applies the
// side-effect guard, and executes. Tool-internal failures come back as an
// unsuccessful Result, not a Go error; errors are reserved for guard
// violations and unknown tools.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]interface{}) (*Result, error) {
	tool, ok := r.tools.Get(name)
	if !ok {
		return nil, errdefs.New(errdefs.KindTool, "unknown tool %q", name).
			Hint("declare the tool under `tools` or check the agent's tool list")
	}

	if err := ValidateInput(tool.InputSchema(), params); err != nil {
		return nil, err
	}

	if err := r.guard.Check(tool, params); err != nil {
		return nil, err
	}

	toolCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, defaultToolTimeout)
		defer cancel()
	}

	result, err := tool.Execute(toolCtx, params)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindTool, "tool %q failed", name)
	}
	return result, nil
}

// defaultToolTimeout bounds a single tool invocation when the caller has not
// set a tighter deadline.
const defaultToolTimeout = 30 * time.Second
