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
)

// defaultRevisePrompt references the issues/fixes arrays evaluators are
// prompted to emit alongside the score.
const defaultRevisePrompt = `Revise the draft to address the evaluation.
Issues: {{ evaluation.issues | tojson }}
Suggested fixes: {{ evaluation.fixes | tojson }}
Draft:
{{ draft }}`

// runEvaluator loops produce -> evaluate until the score meets the
// threshold (inclusive) or max_iters is reached. The terminal response is
// the last draft either way. An evaluator answer that does not parse to
// JSON with a numeric score is fatal and never retried.
func runEvaluator(ctx context.Context, rc *runContext, prior *session.PatternState) (*outcome, error) {
	p := rc.spec.Pattern.Evaluator
	st := &EvaluatorState{}
	if err := decodeState(prior, spec.PatternEvaluator, st); err != nil {
		return nil, err
	}

	if len(st.Drafts) > 0 {
		rc.scope.Set("draft", st.Drafts[len(st.Drafts)-1])
		rc.scope.Set("last_response", st.Drafts[len(st.Drafts)-1])
	}
	if st.LastEval != nil {
		rc.scope.Set("evaluation", st.LastEval)
	}

	for !st.Accepted && st.Iteration < p.Accept.MaxIters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rc.scope.Set("iteration", st.Iteration+1)

		var prompt string
		var err error
		if st.Iteration == 0 {
			prompt, err = renderInput(p.Producer.Input, rc.scope)
		} else {
			tmpl := p.RevisePrompt
			if tmpl == "" {
				tmpl = defaultRevisePrompt
			}
			prompt, err = renderInput(tmpl, rc.scope)
		}
		if err != nil {
			return nil, err
		}

		draft, err := rc.invoke(ctx, p.Producer.Agent, prompt, nil)
		if err != nil {
			return nil, err
		}
		st.Drafts = append(st.Drafts, draft.Response)
		rc.scope.Set("draft", draft.Response)
		rc.scope.Set("last_response", draft.Response)

		evalTmpl := p.Evaluator.Input
		if evalTmpl == "" {
			evalTmpl = "{{ draft }}"
		}
		evalPrompt, err := renderInput(evalTmpl, rc.scope)
		if err != nil {
			return nil, err
		}
		verdict, err := rc.invoke(ctx, p.Evaluator.Agent, evalPrompt, nil)
		if err != nil {
			return nil, err
		}

		var eval map[string]interface{}
		if err := decodeModelJSON(verdict.Response, &eval); err != nil {
			return nil, errdefs.New(errdefs.KindProviderPermanent,
				"evaluator %q did not return valid JSON: %.120s",
				p.Evaluator.Agent, verdict.Response).
				Hint("instruct the evaluator to answer with {\"score\": N, \"issues\": [...], \"fixes\": [...]}")
		}
		score, ok := numericField(eval, "score")
		if !ok {
			return nil, errdefs.New(errdefs.KindProviderPermanent,
				"evaluator %q output is missing a numeric score field", p.Evaluator.Agent)
		}

		st.Iteration++
		st.LastEval = eval
		st.Accepted = score >= p.Accept.MinScore
		rc.scope.Set("evaluation", eval)

		if err := rc.checkpoint(st); err != nil {
			return nil, err
		}
		rc.publish(events.StepComplete, map[string]interface{}{
			"iteration": st.Iteration,
			"score":     score,
			"accepted":  st.Accepted,
		})
	}

	if len(st.Drafts) == 0 {
		return nil, errdefs.New(errdefs.KindUsage,
			"evaluator_optimizer produced no drafts; accept.max_iters is %d", p.Accept.MaxIters)
	}
	return &outcome{response: st.Drafts[len(st.Drafts)-1]}, nil
}

// numericField extracts a float field from decoded JSON.
func numericField(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
