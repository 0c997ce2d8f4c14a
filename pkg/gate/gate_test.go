// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/spec"
)

func builtinLookup(name string) bool {
	switch name {
	case "http_request", "file_read", "file_write", "grep", "calculator":
		return true
	}
	return false
}

func mustParse(t *testing.T, doc string) *spec.Spec {
	t.Helper()
	s, err := spec.Parse([]byte(doc))
	require.NoError(t, err)
	return s
}

func checkDoc(t *testing.T, doc string) (*spec.Spec, *Report) {
	t.Helper()
	s := mustParse(t, doc)
	g := New(builtinLookup, nil)
	return s, g.Check(s)
}

func hasViolation(r *Report, path string, kind ViolationKind) bool {
	for _, v := range r.Violations {
		if v.Path == path && v.Kind == kind {
			return true
		}
	}
	return false
}

const validChain = `
version: "0"
name: demo
runtime:
  provider: bedrock
  model_id: anthropic.claude-3-5-sonnet-20241022-v2:0
  region: us-east-1
agents:
  writer:
    prompt: "You write."
pattern:
  type: chain
  steps:
    - agent: writer
      input: "Write about {{ inputs.topic }}"
`

func TestGateAcceptsValidSpecAndNormalizes(t *testing.T) {
	s, r := checkDoc(t, validChain)
	require.True(t, r.OK(), "unexpected violations: %s", r.String())
	assert.NoError(t, r.Err())

	assert.Equal(t, DefaultMaxParallel, s.Runtime.MaxParallel)
	assert.Equal(t, spec.BackoffExponential, s.Runtime.FailurePolicy.Backoff)
}

func TestGateUnsupportedProvider(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: vertex
  model_id: gemini
agents:
  writer:
    prompt: "x"
pattern:
  type: chain
  steps:
    - agent: writer
`)
	require.False(t, r.OK())
	assert.True(t, hasViolation(r, "/runtime/provider", UnsupportedFeature))
	assert.Equal(t, errdefs.KindUnsupported, errdefs.KindOf(r.Err()))
}

func TestGateBedrockRequiresRegion(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: bedrock
  model_id: m
agents:
  writer:
    prompt: "x"
pattern:
  type: chain
  steps:
    - agent: writer
`)
	assert.True(t, hasViolation(r, "/runtime/region", StructuralError))
	assert.Equal(t, errdefs.KindSchema, errdefs.KindOf(r.Err()))
}

func TestGateUnresolvedAgentReference(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
agents:
  writer:
    prompt: "x"
pattern:
  type: chain
  steps:
    - agent: ghost
`)
	assert.True(t, hasViolation(r, "/pattern/steps/0/agent", InvalidReference))
}

func TestGateParallelNeedsTwoBranches(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
agents:
  a:
    prompt: "x"
pattern:
  type: parallel
  branches:
    - id: only
      steps:
        - agent: a
`)
	assert.True(t, hasViolation(r, "/pattern/branches", StructuralError))
}

func TestGateRejectsGateInsideParallelBranch(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
agents:
  a:
    prompt: "x"
pattern:
  type: parallel
  branches:
    - id: one
      steps:
        - agent: a
    - id: two
      steps:
        - type: manual_gate
          id: stop
          prompt: "ok?"
`)
	assert.True(t, hasViolation(r, "/pattern/branches/1/steps/0", UnsupportedFeature))
}

func TestGateWorkflowCycleDetection(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
agents:
  a:
    prompt: "x"
pattern:
  type: workflow
  tasks:
    - id: t1
      agent: a
      deps: [t3]
    - id: t2
      agent: a
      deps: [t1]
    - id: t3
      agent: a
      deps: [t2]
`)
	require.False(t, r.OK())
	assert.True(t, hasViolation(r, "/pattern/tasks", StructuralError))
}

func TestGateWorkflowUnknownDep(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
agents:
  a:
    prompt: "x"
pattern:
  type: workflow
  tasks:
    - id: t1
      agent: a
      deps: [missing]
`)
	assert.True(t, hasViolation(r, "/pattern/tasks/0/deps/0", InvalidReference))
}

func TestGateGraphChooseRequiresElse(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
agents:
  a:
    prompt: "x"
pattern:
  type: graph
  start_node: first
  nodes:
    first:
      agent: a
    second:
      agent: a
  edges:
    - from: first
      choose:
        - when: "last_response contains done"
          to: second
`)
	require.False(t, r.OK())
	assert.True(t, hasViolation(r, "/pattern/edges/0/choose", StructuralError))
}

func TestGateGraphElseSatisfiesCoverage(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
agents:
  a:
    prompt: "x"
pattern:
  type: graph
  start_node: first
  nodes:
    first:
      agent: a
    second:
      agent: a
  edges:
    - from: first
      choose:
        - when: "last_response contains done"
          to: second
        - when: else
          to: first
`)
	assert.True(t, r.OK(), r.String())
}

func TestGateUndeclaredTool(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
agents:
  a:
    prompt: "x"
    tools: [calculator, teleport]
pattern:
  type: chain
  steps:
    - agent: a
`)
	require.False(t, r.OK())
	assert.True(t, hasViolation(r, "/agents/a/tools/1", InvalidReference))
}

func TestGateToolBaseURLScreened(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
tools:
  - name: internal_api
    base_url: "http://169.254.169.254/latest"
agents:
  a:
    prompt: "x"
    tools: [internal_api]
pattern:
  type: chain
  steps:
    - agent: a
`)
	require.False(t, r.OK())
	assert.True(t, hasViolation(r, "/tools/0/base_url", StructuralError))
}

func TestGateRoutingDefaultMustExist(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
agents:
  router:
    prompt: "route"
  a:
    prompt: "x"
pattern:
  type: routing
  router:
    agent: router
  default: nope
  routes:
    general:
      - agent: a
`)
	assert.True(t, hasViolation(r, "/pattern/default", InvalidReference))
}

func TestGateUnknownPatternType(t *testing.T) {
	_, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
agents:
  a:
    prompt: "x"
pattern:
  type: swarm
`)
	require.False(t, r.OK())
	assert.True(t, hasViolation(r, "/pattern/type", UnsupportedFeature))
	assert.Equal(t, errdefs.KindUnsupported, errdefs.KindOf(r.Err()))
}

func TestGateEvaluatorDefaults(t *testing.T) {
	s, r := checkDoc(t, `
version: "0"
name: demo
runtime:
  provider: openai
  model_id: gpt-4o
agents:
  producer:
    prompt: "write"
  critic:
    prompt: "judge"
pattern:
  type: evaluator_optimizer
  producer:
    agent: producer
  evaluator:
    agent: critic
    input: "Rate this: {{ draft }}"
  accept:
    min_score: 80
`)
	require.True(t, r.OK(), r.String())
	assert.Equal(t, DefaultMaxIters, s.Pattern.Evaluator.Accept.MaxIters)
}

func TestGateUnknownTopLevelKeyWarns(t *testing.T) {
	_, r := checkDoc(t, validChain+"\nextras:\n  foo: bar\n")
	assert.True(t, r.OK())
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "extras")
}
