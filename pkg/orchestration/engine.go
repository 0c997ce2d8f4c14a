// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package orchestration drives workflow execution: one engine per run,
// dispatching to the pattern executors, checkpointing at every step
// boundary, and pausing or resuming at manual gates.
package orchestration

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/types"
)

// RunResult is the engine's terminal report for one Run or Resume call.
type RunResult struct {
	SessionID string
	Status    session.Status
	Response  string
	Interrupt *session.InterruptRecord
	Usage     types.Usage
	Artifacts []string
}

// Paused reports whether the run ended at a manual gate.
func (r *RunResult) Paused() bool { return r.Status == session.StatusPaused }

// Config carries the engine's collaborators. Spec must already have passed
// the capability gate (normalized defaults applied).
type Config struct {
	Spec    *spec.Spec
	Store   session.Store
	Builder *agent.Builder
	Bus     *events.Bus
	Tracer  observability.Tracer
	Writer  *artifacts.Writer
}

// Engine executes one workflow spec against one session store.
type Engine struct {
	spec     *spec.Spec
	store    session.Store
	builder  *agent.Builder
	bus      *events.Bus
	tracer   observability.Tracer
	recorder *observability.RecordingTracer
	writer   *artifacts.Writer
}

// New creates an engine. When no tracer is given, a recording tracer is
// installed so the $TRACE artifact variable has spans to render.
func New(cfg Config) *Engine {
	e := &Engine{
		spec:    cfg.Spec,
		store:   cfg.Store,
		builder: cfg.Builder,
		bus:     cfg.Bus,
		tracer:  cfg.Tracer,
		writer:  cfg.Writer,
	}
	if e.tracer == nil {
		rec := observability.NewRecordingTracer()
		e.tracer = rec
		e.recorder = rec
	} else if rec, ok := cfg.Tracer.(*observability.RecordingTracer); ok {
		e.recorder = rec
	}
	return e
}

// Run starts a fresh session with resolved input variables and executes the
// workflow to completion or to its first pause point.
func (e *Engine) Run(ctx context.Context, variables map[string]interface{}) (*RunResult, error) {
	hash, err := e.spec.SpecHash()
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindSchema, "hash spec")
	}

	sess := session.New(e.spec.Name, e.spec.Pattern.Type, hash, variables)
	if err := e.store.Create(sess, e.spec.Raw); err != nil {
		return nil, err
	}

	return e.execute(ctx, sess, nil, nil)
}

// Resume continues a paused session with a user decision. Approve advances
// past the gate; reject finalizes the session as failed; modify re-executes
// the step before the gate with the feedback bound into scope. Resuming a
// completed session is a no-op returning the stored result.
func (e *Engine) Resume(ctx context.Context, sessionID, decision, feedback string) (*RunResult, error) {
	sess, err := e.store.Load(sessionID)
	if err != nil {
		return nil, err
	}

	switch sess.Metadata.Status {
	case session.StatusCompleted:
		state, err := e.store.LoadPatternState(sessionID)
		if err != nil {
			return nil, err
		}
		return &RunResult{
			SessionID: sess.ID,
			Status:    session.StatusCompleted,
			Response:  storedResponse(state),
			Usage:     sess.TokenUsage,
			Artifacts: sess.ArtifactsWritten,
		}, nil
	case session.StatusFailed:
		return nil, errdefs.New(errdefs.KindUsage, "session %s already failed: %s",
			sessionID, sess.Metadata.FailureReason).
			Hint("start a new run; failed sessions are immutable")
	case session.StatusRunning:
		return nil, errdefs.New(errdefs.KindUsage, "session %s is not paused", sessionID)
	}

	intr := sess.Metadata.Interrupt
	if intr == nil || intr.Response != nil {
		return nil, errdefs.New(errdefs.KindSession,
			"session %s is paused but carries no pending interrupt", sessionID)
	}

	if intr.TimedOut(time.Now()) {
		sess.Metadata.Status = session.StatusFailed
		sess.Metadata.FailureReason = "manual gate " + intr.GateID + " timed out"
		if err := e.store.Save(sess); err != nil {
			return nil, err
		}
		return nil, errdefs.New(errdefs.KindSession,
			"gate %q timed out at %s", intr.GateID, intr.TimeoutAt.Format(time.RFC3339))
	}

	switch decision {
	case session.DecisionApprove, session.DecisionReject, session.DecisionModify:
	default:
		return nil, errdefs.New(errdefs.KindUsage, "unknown resume decision %q", decision).
			Hint("use approve, reject or modify")
	}
	if decision == session.DecisionModify && feedback == "" {
		return nil, errdefs.New(errdefs.KindUsage, "modify requires feedback")
	}

	intr.Response = &session.InterruptResponse{
		Decision:  decision,
		Feedback:  feedback,
		DecidedAt: time.Now().UTC(),
	}

	if decision == session.DecisionReject {
		sess.Metadata.Status = session.StatusFailed
		sess.Metadata.FailureReason = "rejected at gate " + intr.GateID
		if feedback != "" {
			sess.Metadata.FailureReason += ": " + feedback
		}
		if err := e.store.Save(sess); err != nil {
			return nil, err
		}
		if e.bus != nil {
			e.bus.Publish(events.Event{
				Type:      events.WorkflowError,
				SessionID: sess.ID,
				Workflow:  sess.Metadata.WorkflowName,
				Payload:   map[string]interface{}{"reason": sess.Metadata.FailureReason},
			})
		}
		return &RunResult{
			SessionID: sess.ID,
			Status:    session.StatusFailed,
			Interrupt: intr,
			Usage:     sess.TokenUsage,
		}, nil
	}

	warnSpecMismatch(e.spec, sess)

	state, err := e.store.LoadPatternState(sessionID)
	if err != nil {
		return nil, err
	}

	sess.Metadata.Status = session.StatusRunning
	if err := e.store.Save(sess); err != nil {
		return nil, err
	}

	return e.execute(ctx, sess, state, &resumeInfo{
		gateID:   intr.GateID,
		decision: decision,
		feedback: feedback,
	})
}

func (e *Engine) execute(ctx context.Context, sess *session.Session,
	state *session.PatternState, resume *resumeInfo) (*RunResult, error) {

	if d := e.spec.Runtime.Budgets.MaxDurationS; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(d)*time.Second)
		defer cancel()
	}

	snapshots := make(map[string]*session.AgentSnapshot)
	if resume != nil {
		snaps, err := e.store.LoadAgentSnapshots(sess.ID)
		if err != nil {
			return nil, err
		}
		for _, s := range snaps {
			snapshots[s.AgentID] = s
		}
	}

	rc := &runContext{
		spec:      e.spec,
		sess:      sess,
		store:     e.store,
		builder:   e.builder,
		bus:       e.bus,
		tracer:    e.tracer,
		scope:     baseScope(sess.Variables),
		resume:    resume,
		snapshots: snapshots,
		restored:  make(map[string]bool),
	}

	rc.publish(events.WorkflowStart, map[string]interface{}{
		"pattern": e.spec.Pattern.Type,
	})
	wfSpan := e.tracer.StartSpan(ctx, "workflow."+e.spec.Name, map[string]interface{}{
		"pattern": e.spec.Pattern.Type,
		"session": sess.ID,
	})

	run, err := executorFor(e.spec.Pattern.Type)
	if err != nil {
		e.tracer.EndSpan(wfSpan, err)
		return nil, e.fail(sess, err)
	}

	out, err := run(ctx, rc, state)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errdefs.Wrap(err, errdefs.KindBudget,
				"workflow exceeded max_duration_s of %d", e.spec.Runtime.Budgets.MaxDurationS)
		}
		e.tracer.EndSpan(wfSpan, err)
		return nil, e.fail(sess, err)
	}
	e.tracer.EndSpan(wfSpan, nil)

	if out.pause != nil {
		sess.Metadata.Status = session.StatusPaused
		sess.Metadata.Interrupt = out.pause
		if err := e.store.Save(sess); err != nil {
			return nil, err
		}
		rc.publish(events.InterruptPending, map[string]interface{}{
			"gate_id": out.pause.GateID,
			"prompt":  out.pause.Prompt,
		})
		return &RunResult{
			SessionID: sess.ID,
			Status:    session.StatusPaused,
			Interrupt: out.pause,
			Usage:     sess.TokenUsage,
		}, nil
	}

	written, err := e.finalize(rc, out.response)
	if err != nil {
		return nil, e.fail(sess, err)
	}

	sess.Metadata.Status = session.StatusCompleted
	sess.Metadata.Interrupt = nil
	sess.ArtifactsWritten = written
	if err := e.store.Save(sess); err != nil {
		return nil, err
	}

	rc.publish(events.WorkflowComplete, map[string]interface{}{
		"tokens":    sess.TokenUsage.TotalTokens,
		"artifacts": len(written),
	})
	log.Info("workflow completed",
		zap.String("session", sess.ID),
		zap.String("workflow", e.spec.Name),
		zap.Int("tokens", sess.TokenUsage.TotalTokens))

	return &RunResult{
		SessionID: sess.ID,
		Status:    session.StatusCompleted,
		Response:  out.response,
		Usage:     sess.TokenUsage,
		Artifacts: written,
	}, nil
}

// finalize exposes $TRACE in the final scope and writes declared artifacts.
func (e *Engine) finalize(rc *runContext, response string) ([]string, error) {
	rc.scope.Set("last_response", response)

	var snapshot map[string]interface{}
	if e.recorder != nil {
		snapshot = e.recorder.Snapshot()
	}
	rc.scope.Set(artifacts.TraceVar,
		artifacts.TraceDocument(rc.sess.ID, snapshot, rc.sess.TokenUsage))

	if e.writer == nil || len(e.spec.Outputs) == 0 {
		return nil, nil
	}
	return e.writer.WriteAll(e.spec.Outputs, rc.scope)
}

// fail finalizes the session as failed with the classified reason and
// republishes it as a workflow_error event. Partial outputs already
// checkpointed stay readable in the session record.
func (e *Engine) fail(sess *session.Session, cause error) error {
	if errdefs.KindOf(cause) == errdefs.KindHITLPause {
		return cause
	}
	sess.Metadata.Status = session.StatusFailed
	sess.Metadata.FailureReason = cause.Error()
	if err := e.store.Save(sess); err != nil {
		log.Error("failed to persist failure state",
			zap.String("session", sess.ID), zap.Error(err))
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:      events.WorkflowError,
			SessionID: sess.ID,
			Workflow:  sess.Metadata.WorkflowName,
			Payload:   map[string]interface{}{"reason": cause.Error()},
		})
	}
	return cause
}

// executorRun is the uniform executor entry: prior state is nil on a fresh
// run and the stored envelope on resume.
type executorRun func(ctx context.Context, rc *runContext, prior *session.PatternState) (*outcome, error)

func executorFor(patternType string) (executorRun, error) {
	switch patternType {
	case spec.PatternChain:
		return runChain, nil
	case spec.PatternRouting:
		return runRouting, nil
	case spec.PatternParallel:
		return runParallel, nil
	case spec.PatternWorkflow:
		return runWorkflow, nil
	case spec.PatternEvaluator:
		return runEvaluator, nil
	case spec.PatternOrchestrator:
		return runOrchestrator, nil
	case spec.PatternGraph:
		return runGraph, nil
	default:
		return nil, errdefs.New(errdefs.KindUnsupported,
			"pattern type %q is not supported", patternType)
	}
}

// storedResponse reconstructs the final response from a terminal session's
// pattern state, for no-op resumes of completed sessions.
func storedResponse(ps *session.PatternState) string {
	if ps == nil {
		return ""
	}
	switch ps.Type {
	case spec.PatternChain:
		var st ChainState
		if decodeState(ps, ps.Type, &st) == nil {
			return lastResponse(st.History)
		}
	case spec.PatternRouting:
		var st RoutingState
		if decodeState(ps, ps.Type, &st) == nil {
			return lastResponse(st.Chain.History)
		}
	case spec.PatternParallel:
		var st ParallelState
		if decodeState(ps, ps.Type, &st) == nil {
			if st.Reduce != "" {
				return st.Reduce
			}
			return joinBranchResponses(st.Branches)
		}
	case spec.PatternWorkflow:
		var st WorkflowState
		if decodeState(ps, ps.Type, &st) == nil {
			return st.Last
		}
	case spec.PatternEvaluator:
		var st EvaluatorState
		if decodeState(ps, ps.Type, &st) == nil && len(st.Drafts) > 0 {
			return st.Drafts[len(st.Drafts)-1]
		}
	case spec.PatternOrchestrator:
		var st OrchestratorState
		if decodeState(ps, ps.Type, &st) == nil {
			return st.Final
		}
	case spec.PatternGraph:
		var st GraphState
		if decodeState(ps, ps.Type, &st) == nil {
			return st.Responses[st.Terminal]
		}
	}
	return ""
}

func lastResponse(history []StepRecord) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Gate == "" {
			return history[i].Response
		}
	}
	return ""
}

// joinBranchResponses renders completed branch outputs deterministically,
// ordered by branch id.
func joinBranchResponses(branches map[string]*BranchState) string {
	ids := make([]string, 0, len(branches))
	for id, b := range branches {
		if b.Status == BranchCompleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id+": "+branches[id].Response)
	}
	return strings.Join(parts, "\n")
}
