// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/errdefs"
)

const chainSpec = `
version: 0
name: single-step-chain
runtime:
  provider: openai
  model_id: gpt-4.1
  max_parallel: 2
  budgets:
    max_tokens: 10000
  failure_policy:
    retries: 2
    backoff: exponential
inputs:
  topic:
    type: string
    required: true
agents:
  writer:
    prompt: "You are a writer."
pattern:
  type: chain
  steps:
    - agent: writer
      input: "Say hi about {{ inputs.topic }}"
outputs:
  - path: out.txt
    from: "{{ last_response }}"
`

func TestParseChainSpec(t *testing.T) {
	s, err := Parse([]byte(chainSpec))
	require.NoError(t, err)

	assert.Equal(t, VersionString("0"), s.Version)
	assert.Equal(t, "single-step-chain", s.Name)
	assert.Equal(t, ProviderOpenAI, s.Runtime.Provider)
	assert.Equal(t, 2, s.Runtime.MaxParallel)
	assert.Equal(t, 10000, s.Runtime.Budgets.MaxTokens)
	assert.Equal(t, BackoffExponential, s.Runtime.FailurePolicy.Backoff)

	require.Equal(t, PatternChain, s.Pattern.Type)
	require.NotNil(t, s.Pattern.Chain)
	require.Len(t, s.Pattern.Chain.Steps, 1)
	assert.Equal(t, "writer", s.Pattern.Chain.Steps[0].Agent)

	require.Len(t, s.Outputs, 1)
	assert.Equal(t, "out.txt", s.Outputs[0].Path)
}

func TestParseRejectsMissingAgents(t *testing.T) {
	_, err := Parse([]byte(`
version: 0
name: no-agents
runtime:
  provider: openai
  model_id: gpt-4.1
agents: {}
pattern:
  type: chain
  steps: []
`))
	require.Error(t, err)
	assert.Equal(t, errdefs.KindSchema, errdefs.KindOf(err))
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("version: [unclosed"))
	require.Error(t, err)
	assert.Equal(t, errdefs.KindSchema, errdefs.KindOf(err))
}

func TestParseCollectsUnknownTopLevelKeys(t *testing.T) {
	s, err := Parse([]byte(chainSpec + "\nfuture_feature:\n  enabled: true\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"future_feature"}, s.UnknownKeys)
}

func TestParseGraphPattern(t *testing.T) {
	s, err := Parse([]byte(`
version: 0
name: draft-review-loop
runtime:
  provider: ollama
  model_id: llama3.1
  host: http://localhost:11434
agents:
  drafter: {prompt: "Draft."}
  reviewer: {prompt: "Review."}
pattern:
  type: graph
  start_node: draft
  max_iterations: 10
  nodes:
    draft: {agent: drafter, input: "Write a draft"}
    review: {agent: reviewer, input: "Review: {{ nodes.draft.response }}"}
  edges:
    - from: draft
      to: review
    - from: review
      choose:
        - when: "evaluation.score < 80"
          to: draft
        - when: else
          to: done
`))
	require.NoError(t, err)
	require.NotNil(t, s.Pattern.Graph)
	assert.Equal(t, "draft", s.Pattern.Graph.StartNode)
	assert.Len(t, s.Pattern.Graph.Edges, 2)
	assert.Len(t, s.Pattern.Graph.Edges[1].Choose, 2)
	assert.ElementsMatch(t, []string{"drafter", "reviewer"}, s.Pattern.AgentIDs())
}

func TestCanonicalHashIsOrderInsensitive(t *testing.T) {
	a := []byte("name: x\nversion: 0\nvalue: 1\n")
	b := []byte("version: 0\nvalue: 1\nname: x\n")

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	hc, err := Hash([]byte("name: y\nversion: 0\nvalue: 1\n"))
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestCanonicalEncodingEndsWithLF(t *testing.T) {
	c, err := Canonicalize([]byte("a: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), c[len(c)-1])
	assert.NotContains(t, string(c), "\r")
}

func TestResolveInputs(t *testing.T) {
	s, err := Parse([]byte(chainSpec))
	require.NoError(t, err)

	vars, err := s.ResolveInputs(map[string]string{"topic": "loops"})
	require.NoError(t, err)
	assert.Equal(t, "loops", vars["topic"])
}

func TestResolveInputsMissingRequired(t *testing.T) {
	s, err := Parse([]byte(chainSpec))
	require.NoError(t, err)

	_, err = s.ResolveInputs(nil)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUsage, errdefs.KindOf(err))
	assert.Equal(t, errdefs.ExitUsage, errdefs.ExitCode(err))
}

func TestResolveInputsCoercion(t *testing.T) {
	s, err := Parse([]byte(`
version: 0
name: typed-inputs
runtime: {provider: openai, model_id: gpt-4.1}
agents:
  a: {prompt: p}
inputs:
  count: {type: integer}
  ratio: {type: number}
  dry_run: {type: boolean}
  mode: {type: string, enum: [fast, slow]}
pattern:
  type: chain
  steps: [{agent: a, input: x}]
`))
	require.NoError(t, err)

	vars, err := s.ResolveInputs(map[string]string{
		"count": "3", "ratio": "0.5", "dry_run": "true", "mode": "fast",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), vars["count"])
	assert.Equal(t, 0.5, vars["ratio"])
	assert.Equal(t, true, vars["dry_run"])

	_, err = s.ResolveInputs(map[string]string{"count": "abc"})
	require.Error(t, err)

	_, err = s.ResolveInputs(map[string]string{"mode": "medium"})
	require.Error(t, err)

	_, err = s.ResolveInputs(map[string]string{"unheard_of": "1"})
	require.Error(t, err)
}

func TestParseOverrides(t *testing.T) {
	m, err := ParseOverrides([]string{"a=1", "b=x=y"})
	require.NoError(t, err)
	assert.Equal(t, "1", m["a"])
	assert.Equal(t, "x=y", m["b"])

	_, err = ParseOverrides([]string{"novalue"})
	require.Error(t, err)
}
