// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
)

// workerTask is one unit the orchestrator dispatches in a round.
type workerTask struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Tools       []string `json:"tools,omitempty"`
}

// terminalToken lets the orchestrator stop before max_rounds without
// emitting an empty list.
const terminalToken = "DONE"

// runOrchestrator loops plan -> dispatch -> collect for up to max_rounds.
// Each round the orchestrator plans a JSON task list (capped at
// max_workers); workers instantiated from the worker template run them
// concurrently and their outputs feed the next round's planning prompt.
func runOrchestrator(ctx context.Context, rc *runContext, prior *session.PatternState) (*outcome, error) {
	p := rc.spec.Pattern.Orchestrator
	st := &OrchestratorState{}
	if err := decodeState(prior, spec.PatternOrchestrator, st); err != nil {
		return nil, err
	}
	replayRounds(rc, st)

	for st.Round < p.MaxRounds && st.Final == "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rc.scope.Set("iteration", st.Round+1)

		prompt, err := renderInput(p.Orchestrator.Input, rc.scope)
		if err != nil {
			return nil, err
		}
		res, err := rc.invoke(ctx, p.Orchestrator.Agent, prompt, nil)
		if err != nil {
			return nil, err
		}

		tasks, stop, err := parseWorkerTasks(p.Orchestrator.Agent, res.Response)
		if err != nil {
			return nil, err
		}
		if stop || len(tasks) == 0 {
			break
		}
		if len(tasks) > p.MaxWorkers {
			log.Warn("orchestrator planned more tasks than max_workers; truncating",
				zap.Int("planned", len(tasks)), zap.Int("max_workers", p.MaxWorkers))
			tasks = tasks[:p.MaxWorkers]
		}

		round := RoundRecord{Workers: make(map[string]string, len(tasks))}
		var mu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(rc.maxParallel())
		for _, t := range tasks {
			task := t
			g.Go(func() error {
				toolSet := p.WorkerTemplate.Tools
				if len(task.Tools) > 0 {
					toolSet = task.Tools
				}
				res, err := rc.invokeFresh(gctx, p.WorkerTemplate.Agent, task.Description, toolSet)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if fatalBranchErr(err) {
						return err
					}
					round.Workers[task.ID] = "worker failed: " + err.Error()
					log.Warn("worker task failed",
						zap.String("task", task.ID), zap.Error(err))
					return nil
				}
				round.Workers[task.ID] = res.Response
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		st.Rounds = append(st.Rounds, round)
		st.Round++
		bindRound(rc, st.Round-1, round)
		if err := rc.checkpoint(st); err != nil {
			return nil, err
		}
		rc.publish(events.TaskComplete, map[string]interface{}{
			"round":   st.Round,
			"workers": len(round.Workers),
		})
	}

	final, err := closeOut(ctx, rc, p, st)
	if err != nil {
		return nil, err
	}
	return &outcome{response: final}, nil
}

// closeOut runs the optional reduce then writeup agents; without either,
// the last round's outputs are joined deterministically.
func closeOut(ctx context.Context, rc *runContext, p *spec.OrchestratorPattern, st *OrchestratorState) (string, error) {
	if st.Final != "" {
		return st.Final, nil
	}

	final := joinLastRound(st)
	rc.scope.Set("last_response", final)

	if p.Reduce != nil {
		if st.Reduce == "" {
			tmpl := p.Reduce.Input
			if tmpl == "" {
				tmpl = "{{ rounds | tojson }}"
			}
			prompt, err := renderInput(tmpl, rc.scope)
			if err != nil {
				return "", err
			}
			res, err := rc.invoke(ctx, p.Reduce.Agent, prompt, nil)
			if err != nil {
				return "", err
			}
			st.Reduce = res.Response
			if err := rc.checkpoint(st); err != nil {
				return "", err
			}
		}
		final = st.Reduce
		rc.scope.Set("last_response", final)
	}

	if p.Writeup != nil {
		prompt, err := renderInput(p.Writeup.Input, rc.scope)
		if err != nil {
			return "", err
		}
		res, err := rc.invoke(ctx, p.Writeup.Agent, prompt, nil)
		if err != nil {
			return "", err
		}
		final = res.Response
	}

	st.Final = final
	if err := rc.checkpoint(st); err != nil {
		return "", err
	}
	return final, nil
}

// parseWorkerTasks decodes the orchestrator's plan. Accepted shapes: a
// JSON array of tasks, an object with a tasks field, or the terminal token.
func parseWorkerTasks(agentID, response string) ([]workerTask, bool, error) {
	if strings.EqualFold(strings.TrimSpace(response), terminalToken) {
		return nil, true, nil
	}

	var tasks []workerTask
	if err := decodeModelJSON(response, &tasks); err == nil {
		return normalizeTasks(tasks), false, nil
	}

	var wrapper struct {
		Tasks []workerTask `json:"tasks"`
		Done  bool         `json:"done"`
	}
	if err := decodeModelJSON(response, &wrapper); err == nil {
		if wrapper.Done {
			return nil, true, nil
		}
		return normalizeTasks(wrapper.Tasks), false, nil
	}

	return nil, false, errdefs.New(errdefs.KindProviderPermanent,
		"orchestrator %q did not return a JSON task list: %.120s", agentID, response).
		Hint("instruct the orchestrator to answer with [{\"id\": ..., \"description\": ...}] or DONE")
}

func normalizeTasks(tasks []workerTask) []workerTask {
	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = fmt.Sprintf("task_%d", i)
		}
	}
	return tasks
}

func replayRounds(rc *runContext, st *OrchestratorState) {
	for k, round := range st.Rounds {
		bindRound(rc, k, round)
	}
}

func bindRound(rc *runContext, k int, round RoundRecord) {
	for id, out := range round.Workers {
		rc.scope.SetPath(fmt.Sprintf("rounds.%d.workers.%s", k, id), out)
	}
}

// joinLastRound renders the final round's worker outputs ordered by task id.
func joinLastRound(st *OrchestratorState) string {
	if len(st.Rounds) == 0 {
		return ""
	}
	last := st.Rounds[len(st.Rounds)-1].Workers
	ids := make([]string, 0, len(last))
	for id := range last {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id+": "+last[id])
	}
	return strings.Join(parts, "\n")
}
