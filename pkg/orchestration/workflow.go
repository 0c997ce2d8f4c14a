// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
)

type taskDone struct {
	id       string
	response string
	err      error
}

// runWorkflow schedules DAG tasks: a task becomes ready when every
// dependency has completed; up to max_parallel run concurrently. A failed
// task's descendants are skipped while independent branches continue; the
// workflow fails only when nothing completed.
func runWorkflow(ctx context.Context, rc *runContext, prior *session.PatternState) (*outcome, error) {
	p := rc.spec.Pattern.Workflow
	st := &WorkflowState{
		Completed:   make(map[string]string),
		CompletedAt: make(map[string]time.Time),
		Failed:      make(map[string]string),
	}
	if err := decodeState(prior, spec.PatternWorkflow, st); err != nil {
		return nil, err
	}
	if st.Completed == nil {
		st.Completed = make(map[string]string)
	}
	if st.CompletedAt == nil {
		st.CompletedAt = make(map[string]time.Time)
	}
	if st.Failed == nil {
		st.Failed = make(map[string]string)
	}

	for id, resp := range st.Completed {
		rc.scope.SetPath("tasks."+id+".response", resp)
	}
	skipped := make(map[string]bool, len(st.Skipped))
	for _, id := range st.Skipped {
		skipped[id] = true
	}

	terminal := func(id string) bool {
		_, ok := st.Completed[id]
		if ok {
			return true
		}
		_, failed := st.Failed[id]
		return failed || skipped[id]
	}

	running := make(map[string]bool)
	ready := func() []spec.Task {
		var out []spec.Task
		for _, t := range p.Tasks {
			if terminal(t.ID) || running[t.ID] {
				continue
			}
			ok := true
			for _, dep := range t.Deps {
				if _, done := st.Completed[dep]; !done {
					ok = false
					break
				}
			}
			if ok {
				out = append(out, t)
			}
		}
		return out
	}

	done := make(chan taskDone, len(p.Tasks))
	inflight := 0

	for {
		progressed := false
		for _, t := range ready() {
			if inflight >= rc.maxParallel() {
				break
			}
			if t.Condition != "" {
				match, err := template.EvalCondition(t.Condition, rc.scope)
				if err != nil {
					return nil, err
				}
				if !match {
					skipped[t.ID] = true
					st.Skipped = append(st.Skipped, t.ID)
					if err := rc.checkpoint(st); err != nil {
						return nil, err
					}
					progressed = true
					continue
				}
			}

			task := t
			scope := rc.scope.Clone()
			running[task.ID] = true
			inflight++
			progressed = true
			go func() {
				prompt, err := renderInput(task.Input, scope)
				if err != nil {
					done <- taskDone{id: task.ID, err: err}
					return
				}
				res, err := rc.invoke(ctx, task.Agent, prompt, nil)
				if err != nil {
					done <- taskDone{id: task.ID, err: err}
					return
				}
				done <- taskDone{id: task.ID, response: res.Response}
			}()
		}

		if inflight == 0 {
			if progressed {
				continue
			}
			break
		}

		var d taskDone
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d = <-done:
		}
		inflight--
		delete(running, d.id)

		if d.err != nil {
			if fatalBranchErr(d.err) {
				return nil, d.err
			}
			st.Failed[d.id] = d.err.Error()
			log.Warn("task failed; descendants will be skipped",
				zap.String("task", d.id), zap.Error(d.err))
		} else {
			st.Completed[d.id] = d.response
			st.CompletedAt[d.id] = time.Now().UTC()
			st.Last = d.response
			rc.scope.SetPath("tasks."+d.id+".response", d.response)
			rc.publish(events.TaskComplete, map[string]interface{}{
				"task": d.id,
			})
		}
		if err := rc.checkpoint(st); err != nil {
			return nil, err
		}
	}

	// Whatever never became ready sits downstream of a failure or skip.
	for _, t := range p.Tasks {
		if !terminal(t.ID) {
			skipped[t.ID] = true
			st.Skipped = append(st.Skipped, t.ID)
		}
	}
	if err := rc.checkpoint(st); err != nil {
		return nil, err
	}

	if len(st.Completed) == 0 {
		first := ""
		for _, msg := range st.Failed {
			first = msg
			break
		}
		return nil, errdefs.New(errdefs.KindProviderPermanent,
			"no task completed; first failure: %s", first)
	}

	rc.scope.Set("last_response", st.Last)
	return &outcome{response: st.Last}, nil
}
