// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
)

// runChain executes the chain pattern: steps in order, checkpoint after
// each, pausing at manual gates.
func runChain(ctx context.Context, rc *runContext, prior *session.PatternState) (*outcome, error) {
	st := &ChainState{}
	if err := decodeState(prior, spec.PatternChain, st); err != nil {
		return nil, err
	}

	runner := &stepRunner{
		rc:         rc,
		steps:      rc.spec.Pattern.Chain.Steps,
		st:         st,
		scope:      rc.scope,
		allowPause: true,
		save:       func() error { return rc.checkpoint(st) },
	}
	return runner.run(ctx)
}

// stepRunner executes an ordered step list with chain semantics. Routing
// branches and parallel branches reuse it with their own state and scope;
// only the top-level chain and routing may pause.
type stepRunner struct {
	rc         *runContext
	steps      []spec.Step
	st         *ChainState
	scope      template.Scope
	allowPause bool

	// branchID labels events from parallel branches.
	branchID string

	// save checkpoints the enclosing pattern state after each step.
	save func() error
}

func (r *stepRunner) run(ctx context.Context) (*outcome, error) {
	r.replay()

	for i := r.st.CurrentStep; i < len(r.steps); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step := r.steps[i]

		if step.Type == spec.StepManualGate {
			out, redo, err := r.gate(i, step)
			if err != nil {
				return nil, err
			}
			if out != nil {
				return out, nil
			}
			if redo {
				// Re-execute the previous step with the feedback bound.
				i -= 2
			}
			continue
		}

		prompt, err := renderInput(step.Input, r.scope)
		if err != nil {
			return nil, err
		}
		res, err := r.rc.invoke(ctx, step.Agent, prompt, nil)
		if err != nil {
			return nil, err
		}

		rec := StepRecord{
			Agent:    step.Agent,
			Input:    prompt,
			Response: res.Response,
			Tokens:   res.Usage.TotalTokens,
			Status:   StepCompleted,
		}
		r.record(i, rec)
		if err := r.save(); err != nil {
			return nil, err
		}

		payload := map[string]interface{}{
			"step":  i,
			"agent": step.Agent,
		}
		if r.branchID != "" {
			payload["branch"] = r.branchID
		}
		r.rc.publish(events.StepComplete, payload)
	}

	return &outcome{response: lastResponse(r.st.History)}, nil
}

// replay rebuilds the scope from recorded history so resumed runs see the
// same accumulated outputs as uninterrupted ones.
func (r *stepRunner) replay() {
	for k, rec := range r.st.History {
		if rec.Gate != "" {
			continue
		}
		r.scope.SetPath(fmt.Sprintf("steps.%d.response", k), rec.Response)
		r.scope.Set("last_response", rec.Response)
	}
}

// record appends (or overwrites, after a modify redo) the step's history
// entry and advances the cursor.
func (r *stepRunner) record(i int, rec StepRecord) {
	if i < len(r.st.History) {
		r.st.History[i] = rec
		r.st.History = r.st.History[:i+1]
	} else {
		r.st.History = append(r.st.History, rec)
	}
	r.st.CurrentStep = i + 1
	if rec.Gate == "" {
		r.scope.SetPath(fmt.Sprintf("steps.%d.response", i), rec.Response)
		r.scope.Set("last_response", rec.Response)
	}
}

// gate handles a manual-gate step: apply a pending resume decision, or
// pause. Returns (pause outcome, redo previous step, error).
func (r *stepRunner) gate(i int, step spec.Step) (*outcome, bool, error) {
	if !r.allowPause {
		return nil, false, errdefs.New(errdefs.KindUnsupported,
			"manual gate %q inside a concurrent branch", step.ID).
			Hint("gates are supported in chain and routing patterns only")
	}

	if ri := r.rc.takeResume(step.ID); ri != nil {
		r.scope.SetPath("hitl.response", ri.decision)
		if ri.feedback != "" {
			r.scope.SetPath("hitl.feedback", ri.feedback)
		}

		if ri.decision == session.DecisionModify {
			if i == 0 {
				return nil, false, errdefs.New(errdefs.KindUsage,
					"cannot modify before gate %q: it is the first step", step.ID)
			}
			r.st.History = r.st.History[:i-1]
			r.st.CurrentStep = i - 1
			r.resetLastResponse()
			if err := r.save(); err != nil {
				return nil, false, err
			}
			return nil, true, nil
		}

		// Approve: record the gate as passed and advance.
		r.record(i, StepRecord{Gate: step.ID, Status: StepCompleted})
		if err := r.save(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	prompt, err := renderInput(step.Prompt, r.scope)
	if err != nil {
		return nil, false, err
	}
	rec := &session.InterruptRecord{
		Type:      session.InterruptManualGate,
		GateID:    step.ID,
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}
	if step.TimeoutS > 0 {
		deadline := rec.CreatedAt.Add(time.Duration(step.TimeoutS) * time.Second)
		rec.TimeoutAt = &deadline
	}
	if err := r.save(); err != nil {
		return nil, false, err
	}
	return &outcome{pause: rec}, false, nil
}

// resetLastResponse recomputes last_response from the truncated history.
func (r *stepRunner) resetLastResponse() {
	r.scope.Set("last_response", lastResponse(r.st.History))
}
