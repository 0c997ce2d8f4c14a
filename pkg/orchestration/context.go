// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
)

// resumeInfo carries a user decision into the executor that paused. The
// executor consumes it at the gate it matches; a consumed decision never
// applies twice.
type resumeInfo struct {
	gateID   string
	decision string
	feedback string
	consumed bool
}

// outcome is an executor's terminal result: either a final response or a
// pause record.
type outcome struct {
	response string
	pause    *session.InterruptRecord
}

// runContext bundles everything an executor touches during one run. Scope
// writes happen only at checkpoint boundaries; concurrent branches read
// clones.
type runContext struct {
	spec    *spec.Spec
	sess    *session.Session
	store   session.Store
	builder *agent.Builder
	bus     *events.Bus
	tracer  observability.Tracer
	scope   template.Scope

	resume    *resumeInfo
	snapshots map[string]*session.AgentSnapshot

	mu        sync.Mutex
	restored  map[string]bool
	stepCount int
}

func (rc *runContext) maxParallel() int {
	if n := rc.spec.Runtime.MaxParallel; n > 0 {
		return n
	}
	return 1
}

// agentFor builds (or fetches) the agent handle and, when resuming,
// restores its conversation from the stored snapshot exactly once.
func (rc *runContext) agentFor(ctx context.Context, agentID string, toolOverride []string) (*agent.Agent, error) {
	a, err := rc.builder.Agent(ctx, agentID, toolOverride)
	if err != nil {
		return nil, err
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if snap, ok := rc.snapshots[agentID]; ok && !rc.restored[agentID] {
		a.Conversation().Restore(snap.Messages, snap.Usage)
		rc.restored[agentID] = true
	}
	return a, nil
}

// invoke runs one budgeted agent cycle with the prompt already rendered.
func (rc *runContext) invoke(ctx context.Context, agentID, prompt string, toolOverride []string) (*agent.Result, error) {
	if err := rc.chargeStep(); err != nil {
		return nil, err
	}

	a, err := rc.agentFor(ctx, agentID, toolOverride)
	if err != nil {
		return nil, err
	}
	return rc.runCycle(ctx, a, prompt)
}

// invokeFresh runs one budgeted cycle on a private, uncached handle.
// Orchestrator workers instantiate the same template agent many times
// concurrently; each task gets its own conversation so exchanges never
// interleave.
func (rc *runContext) invokeFresh(ctx context.Context, agentID, prompt string, toolOverride []string) (*agent.Result, error) {
	if err := rc.chargeStep(); err != nil {
		return nil, err
	}

	a, err := rc.builder.Fresh(ctx, agentID, toolOverride)
	if err != nil {
		return nil, err
	}
	return rc.runCycle(ctx, a, prompt)
}

func (rc *runContext) runCycle(ctx context.Context, a *agent.Agent, prompt string) (*agent.Result, error) {
	spanID := rc.tracer.StartSpan(ctx, "agent."+a.ID(), map[string]interface{}{
		"agent": a.ID(),
	})
	res, err := a.Invoke(ctx, prompt)
	rc.tracer.EndSpan(spanID, err)
	if err != nil {
		return nil, err
	}

	rc.mu.Lock()
	rc.sess.TokenUsage.Add(res.Usage)
	rc.mu.Unlock()
	rc.tracer.RecordMetric("tokens.cycle", float64(res.Usage.TotalTokens),
		map[string]string{"agent": a.ID()})

	return res, nil
}

// chargeStep enforces budgets.max_steps across the whole run.
func (rc *runContext) chargeStep() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.stepCount++
	if limit := rc.spec.Runtime.Budgets.MaxSteps; limit > 0 && rc.stepCount > limit {
		return errdefs.New(errdefs.KindBudget,
			"step budget of %d exhausted", limit).
			Hint("raise runtime.budgets.max_steps or simplify the workflow")
	}
	return nil
}

// checkpoint durably records the pattern state, every cached agent's
// conversation, and the session record. A checkpoint is total: readers see
// either the prior state or this one.
func (rc *runContext) checkpoint(state interface{}) error {
	ps, err := encodeState(rc.spec.Pattern.Type, state)
	if err != nil {
		return err
	}
	if err := rc.store.SavePatternState(rc.sess.ID, ps); err != nil {
		return err
	}

	var snapErr error
	rc.builder.Each(func(_ string, a *agent.Agent) {
		if snapErr != nil {
			return
		}
		snapErr = rc.store.SaveAgentSnapshot(rc.sess.ID, &session.AgentSnapshot{
			AgentID:  a.ID(),
			Messages: a.Conversation().Messages(),
			Usage:    a.Conversation().Usage(),
		})
	})
	if snapErr != nil {
		return snapErr
	}
	return rc.saveSession()
}

// saveSession persists the session record from a copy taken under the run
// lock: branch goroutines may be adding token usage while a checkpoint
// marshals, so Save never reads the live struct.
func (rc *runContext) saveSession() error {
	rc.mu.Lock()
	snap := *rc.sess
	rc.mu.Unlock()
	if err := rc.store.Save(&snap); err != nil {
		return err
	}
	rc.mu.Lock()
	rc.sess.Metadata.UpdatedAt = snap.Metadata.UpdatedAt
	rc.mu.Unlock()
	return nil
}

// publish emits a workflow event; a nil bus drops it.
func (rc *runContext) publish(t events.Type, payload map[string]interface{}) {
	if rc.bus == nil {
		return
	}
	rc.bus.Publish(events.Event{
		Type:      t,
		SessionID: rc.sess.ID,
		Workflow:  rc.spec.Name,
		Payload:   payload,
	})
}

// takeResume returns the pending decision for a gate id, marking it
// consumed. Returns nil when no unconsumed decision targets this gate.
func (rc *runContext) takeResume(gateID string) *resumeInfo {
	if rc.resume == nil || rc.resume.consumed || rc.resume.gateID != gateID {
		return nil
	}
	rc.resume.consumed = true
	return rc.resume
}

// baseScope seeds the template scope from resolved inputs: both under the
// `inputs` key and at top level, so `{{ topic }}` and `{{ inputs.topic }}`
// are equivalent.
func baseScope(variables map[string]interface{}) template.Scope {
	scope := template.NewScope()
	inputs := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		inputs[k] = v
		scope.Set(k, v)
	}
	scope.Set("inputs", inputs)
	scope.Set("timestamp", time.Now().UTC().Format(time.RFC3339))
	return scope
}

// renderInput renders a step/task/node input template. An empty template
// falls back to the previous response so bare chains flow naturally.
func renderInput(tmpl string, scope template.Scope) (string, error) {
	if tmpl == "" {
		tmpl = "{{ last_response }}"
	}
	return template.Render(tmpl, scope)
}

// warnSpecMismatch compares the running spec's hash against the one the
// session was created with. A mismatch is deliberate often enough (spec
// edits between pause and resume) that it only warns.
func warnSpecMismatch(s *spec.Spec, sess *session.Session) {
	hash, err := s.SpecHash()
	if err != nil {
		return
	}
	if hash != sess.SpecHash {
		log.Warn("spec has changed since the session was created",
			zap.String("session", sess.ID),
			zap.String("stored_hash", sess.SpecHash),
			zap.String("current_hash", hash))
	}
}
