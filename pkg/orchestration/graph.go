// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"

	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
)

// runGraph walks nodes from start_node along edges until no edge matches,
// an edge targets the reserved terminal, or max_iterations is reached.
// Cycles are legal; only the iteration cap and global budgets bound them.
func runGraph(ctx context.Context, rc *runContext, prior *session.PatternState) (*outcome, error) {
	p := rc.spec.Pattern.Graph
	st := &GraphState{Responses: make(map[string]string)}
	if err := decodeState(prior, spec.PatternGraph, st); err != nil {
		return nil, err
	}
	if st.Responses == nil {
		st.Responses = make(map[string]string)
	}
	if st.Current == "" {
		st.Current = p.StartNode
	}

	for id, resp := range st.Responses {
		bindNodeResponse(rc, id, resp)
	}

	for st.Terminal == "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rc.scope.Set("iteration", st.Iteration+1)

		node := p.Nodes[st.Current]
		prompt, err := renderInput(node.Input, rc.scope)
		if err != nil {
			return nil, err
		}
		res, err := rc.invoke(ctx, node.Agent, prompt, nil)
		if err != nil {
			return nil, err
		}

		st.Responses[st.Current] = res.Response
		st.Visited = append(st.Visited, st.Current)
		st.Iteration++
		bindNodeResponse(rc, st.Current, res.Response)
		rc.scope.Set("last_response", res.Response)

		if err := rc.checkpoint(st); err != nil {
			return nil, err
		}
		rc.publish(events.NodeComplete, map[string]interface{}{
			"node":      st.Current,
			"iteration": st.Iteration,
		})

		if st.Iteration >= p.MaxIterations {
			st.Terminal = st.Current
			break
		}

		next, err := nextNode(rc, p, st.Current)
		if err != nil {
			return nil, err
		}
		if next == "" || next == spec.GraphTerminal {
			st.Terminal = st.Current
			break
		}
		st.Current = next
	}

	rc.scope.Set("terminal_node", st.Terminal)
	if err := rc.checkpoint(st); err != nil {
		return nil, err
	}
	return &outcome{response: st.Responses[st.Terminal]}, nil
}

// nextNode follows the first edge departing the current node. Choose arms
// evaluate in declared order; the else sentinel matches when none before
// it did. No departing edge means the walk terminates here.
func nextNode(rc *runContext, p *spec.GraphPattern, current string) (string, error) {
	for _, e := range p.Edges {
		if e.From != current {
			continue
		}
		if e.To != "" {
			return e.To, nil
		}
		for _, c := range e.Choose {
			match, err := template.EvalCondition(c.When, rc.scope)
			if err != nil {
				return "", err
			}
			if match {
				return c.To, nil
			}
		}
		return "", errdefs.New(errdefs.KindTemplate,
			"no choose arm matched on the edge from %q", current).
			Hint("add an else arm so the edge always resolves")
	}
	return "", nil
}

// bindNodeResponse exposes a node's output to templates and conditions.
// When the response parses as a JSON object its fields are additionally
// bound under last_output, so edge conditions can test structured values
// like last_output.score.
func bindNodeResponse(rc *runContext, nodeID, response string) {
	rc.scope.SetPath("nodes."+nodeID+".response", response)

	var parsed map[string]interface{}
	if err := decodeModelJSON(response, &parsed); err == nil && len(parsed) > 0 {
		rc.scope.SetPath("nodes."+nodeID+".output", parsed)
		rc.scope.Set("last_output", parsed)
	}
}
