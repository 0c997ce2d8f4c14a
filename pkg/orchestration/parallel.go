// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
)

// runParallel launches every branch concurrently under max_parallel. A
// branch that fails after retries is excluded from reduce; the workflow
// fails only when no branch completes. Budget exhaustion and cancellation
// are fatal regardless of which branch hits them.
func runParallel(ctx context.Context, rc *runContext, prior *session.PatternState) (*outcome, error) {
	p := rc.spec.Pattern.Parallel
	st := &ParallelState{Branches: make(map[string]*BranchState)}
	if err := decodeState(prior, spec.PatternParallel, st); err != nil {
		return nil, err
	}
	for _, b := range p.Branches {
		if st.Branches[b.ID] == nil {
			st.Branches[b.ID] = &BranchState{Status: BranchPending}
		}
	}

	// mu guards the shared state; branch runners work on private copies and
	// merge under the lock, so a checkpoint never observes a half-written
	// branch.
	var mu sync.Mutex
	save := func() error {
		mu.Lock()
		defer mu.Unlock()
		return rc.checkpoint(st)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.maxParallel())

	for _, b := range p.Branches {
		branch := b
		bs := st.Branches[branch.ID]
		if bs.Status == BranchCompleted {
			continue
		}

		g.Go(func() error {
			local := &ChainState{
				CurrentStep: bs.Chain.CurrentStep,
				History:     append([]StepRecord(nil), bs.Chain.History...),
			}
			merge := func() error {
				mu.Lock()
				bs.Chain = ChainState{
					CurrentStep: local.CurrentStep,
					History:     append([]StepRecord(nil), local.History...),
				}
				mu.Unlock()
				return save()
			}

			mu.Lock()
			bs.Status = BranchRunning
			mu.Unlock()

			runner := &stepRunner{
				rc:       rc,
				steps:    branch.Steps,
				st:       local,
				scope:    rc.scope.Clone(),
				branchID: branch.ID,
				save:     merge,
			}
			out, err := runner.run(gctx)

			mu.Lock()
			if err != nil {
				bs.Status = BranchFailed
				bs.Error = err.Error()
			} else {
				bs.Status = BranchCompleted
				bs.Response = out.response
			}
			status := bs.Status
			mu.Unlock()

			if err != nil {
				if fatalBranchErr(err) {
					return err
				}
				log.Warn("branch failed",
					zap.String("branch", branch.ID), zap.Error(err))
			}
			if serr := save(); serr != nil {
				return serr
			}
			rc.publish(events.BranchComplete, map[string]interface{}{
				"branch": branch.ID,
				"status": status,
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var firstErr string
	completed := 0
	for _, id := range sortedBranchIDs(st.Branches) {
		b := st.Branches[id]
		if b.Status == BranchCompleted {
			completed++
			rc.scope.SetPath("branches."+id+".response", b.Response)
		} else if firstErr == "" {
			firstErr = b.Error
		}
	}
	if completed == 0 {
		return nil, errdefs.New(errdefs.KindProviderPermanent,
			"all %d branches failed; first error: %s", len(p.Branches), firstErr)
	}

	if p.Reduce != nil && st.Reduce == "" {
		tmpl := p.Reduce.Input
		if tmpl == "" {
			tmpl = "{{ branches | tojson }}"
		}
		prompt, err := renderInput(tmpl, rc.scope)
		if err != nil {
			return nil, err
		}
		res, err := rc.invoke(ctx, p.Reduce.Agent, prompt, nil)
		if err != nil {
			return nil, err
		}
		st.Reduce = res.Response
		if err := save(); err != nil {
			return nil, err
		}
	}

	if st.Reduce != "" {
		return &outcome{response: st.Reduce}, nil
	}
	return &outcome{response: joinBranchResponses(st.Branches)}, nil
}

// fatalBranchErr reports errors that must stop the whole workflow rather
// than just mark one branch failed.
func fatalBranchErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch errdefs.KindOf(err) {
	case errdefs.KindBudget, errdefs.KindUnsupported, errdefs.KindTemplate, errdefs.KindSession:
		return true
	}
	return false
}

func sortedBranchIDs(branches map[string]*BranchState) []string {
	ids := make([]string, 0, len(branches))
	for id := range branches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
