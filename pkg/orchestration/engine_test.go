// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/gate"
	"github.com/teradata-labs/weft/pkg/policy"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/tools"
	"github.com/teradata-labs/weft/pkg/types"
)

// stubUsage is the fixed usage every scripted model call reports.
var stubUsage = types.Usage{InputTokens: 9, OutputTokens: 3, TotalTokens: 12}

type reply struct {
	text string
	err  error
}

// scriptedClient is a deterministic model: responses are queued per agent,
// keyed by the agent's system prompt. With echo set, an agent without a
// queued reply answers with its own prompt.
type scriptedClient struct {
	mu     sync.Mutex
	script map[string][]reply
	echo   bool
	calls  map[string][]string
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		script: make(map[string][]reply),
		calls:  make(map[string][]string),
	}
}

func (c *scriptedClient) respond(agentPrompt string, texts ...string) *scriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range texts {
		c.script[agentPrompt] = append(c.script[agentPrompt], reply{text: t})
	}
	return c
}

func (c *scriptedClient) failWith(agentPrompt string, err error) *scriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script[agentPrompt] = append(c.script[agentPrompt], reply{err: err})
	return c
}

func (c *scriptedClient) Invoke(_ context.Context, msgs []types.Message, _ []types.ToolSchema) (*types.ModelResponse, error) {
	var key string
	if len(msgs) > 0 && msgs[0].Role == "system" {
		key = msgs[0].Content
	}
	var prompt string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			prompt = msgs[i].Content
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[key] = append(c.calls[key], prompt)

	if q := c.script[key]; len(q) > 0 {
		r := q[0]
		c.script[key] = q[1:]
		if r.err != nil {
			return nil, r.err
		}
		return &types.ModelResponse{Content: r.text, StopReason: "end_turn", Usage: stubUsage}, nil
	}
	if c.echo {
		return &types.ModelResponse{Content: prompt, StopReason: "end_turn", Usage: stubUsage}, nil
	}
	return &types.ModelResponse{Content: "ok", StopReason: "end_turn", Usage: stubUsage}, nil
}

func (c *scriptedClient) CountTokens(text string) int { return len(text) / 4 }
func (c *scriptedClient) Provider() string            { return "stub" }
func (c *scriptedClient) Model() string               { return "stub-model" }

func (c *scriptedClient) callCount(agentPrompt string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls[agentPrompt])
}

func (c *scriptedClient) prompt(agentPrompt string, i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.calls[agentPrompt]) {
		return ""
	}
	return c.calls[agentPrompt][i]
}

type clientProviderFunc func(ctx context.Context, rt *spec.Runtime) (types.ModelClient, error)

func (f clientProviderFunc) Client(ctx context.Context, rt *spec.Runtime) (types.ModelClient, error) {
	return f(ctx, rt)
}

type testEnv struct {
	engine *Engine
	store  *session.FileStore
	bus    *events.Bus
	outDir string
}

// newTestEnv parses and gate-checks a spec document, then wires an engine
// against a file store and the scripted client.
func newTestEnv(t *testing.T, doc string, client types.ModelClient) *testEnv {
	return newTestEnvWithHooks(t, doc, client, nil)
}

func newTestEnvWithHooks(t *testing.T, doc string, client types.ModelClient, hooks agent.HookFactory) *testEnv {
	t.Helper()

	s, err := spec.Parse([]byte(doc))
	require.NoError(t, err)
	report := gate.New(func(string) bool { return true }, nil).Check(s)
	require.True(t, report.OK(), report.String())

	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)

	builder := agent.NewBuilder(agent.BuilderConfig{
		Agents:  s.Agents,
		Runtime: s.Runtime,
		Provider: clientProviderFunc(func(context.Context, *spec.Runtime) (types.ModelClient, error) {
			return client, nil
		}),
		Registry:    tools.NewRegistry(tools.NewGuard(tools.GuardConfig{})),
		HookFactory: hooks,
	})

	bus := events.NewBus()
	outDir := t.TempDir()
	eng := New(Config{
		Spec:    s,
		Store:   store,
		Builder: builder,
		Bus:     bus,
		Writer:  artifacts.NewWriter(outDir, false),
	})
	return &testEnv{engine: eng, store: store, bus: bus, outDir: outDir}
}

const chainDoc = `
version: "0"
name: brief
runtime:
  provider: bedrock
  model_id: stub-model
  region: us-east-1
agents:
  writer:
    prompt: writer
pattern:
  type: chain
  steps:
    - agent: writer
      input: "Write about {{ topic }}"
outputs:
  - path: "summary.txt"
    from: "{{ last_response }}"
`

func TestChainRunWritesArtifact(t *testing.T) {
	client := newScriptedClient().respond("writer", "hello world")
	env := newTestEnv(t, chainDoc, client)

	res, err := env.engine.Run(context.Background(), map[string]interface{}{"topic": "go"})
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, "hello world", res.Response)
	assert.Equal(t, stubUsage.TotalTokens, res.Usage.TotalTokens)
	assert.Equal(t, []string{"summary.txt"}, res.Artifacts)
	assert.Equal(t, "Write about go", client.prompt("writer", 0))

	data, err := os.ReadFile(filepath.Join(env.outDir, "summary.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	sess, err := env.store.Load(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, sess.Metadata.Status)
	assert.Equal(t, stubUsage.TotalTokens, sess.TokenUsage.TotalTokens)
	assert.Equal(t, []string{"summary.txt"}, sess.ArtifactsWritten)
}

func TestChainEmptyInputDefaultsToLastResponse(t *testing.T) {
	doc := `
version: "0"
name: two-step
runtime:
  provider: bedrock
  model_id: stub-model
  region: us-east-1
agents:
  writer:
    prompt: writer
  editor:
    prompt: editor
pattern:
  type: chain
  steps:
    - agent: writer
      input: "draft"
    - agent: editor
`
	client := newScriptedClient().
		respond("writer", "r1").
		respond("editor", "r2")
	env := newTestEnv(t, doc, client)

	res, err := env.engine.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "r2", res.Response)
	assert.Equal(t, "r1", client.prompt("editor", 0))
	assert.Equal(t, 2*stubUsage.TotalTokens, res.Usage.TotalTokens)
}

func TestChainStepReferencesEarlierStep(t *testing.T) {
	doc := `
version: "0"
name: ref
runtime:
  provider: bedrock
  model_id: stub-model
  region: us-east-1
agents:
  writer:
    prompt: writer
  editor:
    prompt: editor
pattern:
  type: chain
  steps:
    - agent: writer
      input: "draft"
    - agent: editor
      input: "polish {{ steps.0.response }}"
`
	client := newScriptedClient().
		respond("writer", "raw").
		respond("editor", "polished")
	env := newTestEnv(t, doc, client)

	res, err := env.engine.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "polished", res.Response)
	assert.Equal(t, "polish raw", client.prompt("editor", 0))
}

func TestMaxStepsBudgetFailsRun(t *testing.T) {
	doc := `
version: "0"
name: over-budget
runtime:
  provider: bedrock
  model_id: stub-model
  region: us-east-1
  budgets:
    max_steps: 2
agents:
  writer:
    prompt: writer
pattern:
  type: chain
  steps:
    - agent: writer
      input: "one"
    - agent: writer
      input: "two"
    - agent: writer
      input: "three"
`
	client := newScriptedClient()
	client.echo = true
	env := newTestEnv(t, doc, client)

	res, err := env.engine.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, errdefs.KindBudget, errdefs.KindOf(err))
	assert.Equal(t, errdefs.ExitBudget, errdefs.ExitCode(err))
	assert.Equal(t, 2, client.callCount("writer"))

	sessions, err := env.store.List(session.ListFilter{Status: session.StatusFailed})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Contains(t, sessions[0].Metadata.FailureReason, "step budget")
}

func TestMaxTokensBudgetCapsWorkflowTotal(t *testing.T) {
	doc := `
version: "0"
name: token-capped
runtime:
  provider: bedrock
  model_id: stub-model
  region: us-east-1
  budgets:
    max_tokens: 30
agents:
  first:
    prompt: first
  second:
    prompt: second
  third:
    prompt: third
pattern:
  type: chain
  steps:
    - agent: first
      input: "one"
    - agent: second
      input: "two"
    - agent: third
      input: "three"
`
	client := newScriptedClient()
	client.echo = true

	meter := policy.NewTokenMeter(0)
	env := newTestEnvWithHooks(t, doc, client, func(string) []agent.Hook {
		return policy.Hooks(policy.HookSetConfig{
			Budgets: spec.Budgets{MaxTokens: 30},
			Meter:   meter,
		})
	})

	res, err := env.engine.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, errdefs.KindBudget, errdefs.KindOf(err))
	assert.Equal(t, errdefs.ExitBudget, errdefs.ExitCode(err))

	// Each agent spent only 12 tokens in its own conversation; the third
	// cycle tips the combined workflow total past 30.
	assert.Equal(t, 1, client.callCount("first"))
	assert.Equal(t, 1, client.callCount("second"))
	assert.Equal(t, 1, client.callCount("third"))
	assert.Equal(t, 3*stubUsage.TotalTokens, meter.Used())

	sessions, err := env.store.List(session.ListFilter{Status: session.StatusFailed})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Contains(t, sessions[0].Metadata.FailureReason, "token budget exceeded")
}

func TestResumeCompletedSessionIsNoOp(t *testing.T) {
	client := newScriptedClient().respond("writer", "done")
	env := newTestEnv(t, chainDoc, client)

	res, err := env.engine.Run(context.Background(), map[string]interface{}{"topic": "x"})
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, res.Status)
	calls := client.callCount("writer")

	again, err := env.engine.Resume(context.Background(), res.SessionID, session.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, again.Status)
	assert.Equal(t, "done", again.Response)
	assert.Equal(t, calls, client.callCount("writer"), "no model calls on a completed session")
}

func TestResumeUnknownSession(t *testing.T) {
	client := newScriptedClient()
	env := newTestEnv(t, chainDoc, client)

	_, err := env.engine.Resume(context.Background(), "no-such-session", session.DecisionApprove, "")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindSession, errdefs.KindOf(err))
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	client := newScriptedClient().respond("writer", "hello")
	env := newTestEnv(t, chainDoc, client)

	ch := env.bus.Subscribe()
	defer env.bus.Unsubscribe(ch)

	_, err := env.engine.Run(context.Background(), map[string]interface{}{"topic": "go"})
	require.NoError(t, err)

	var seen []events.Type
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case ev := <-ch:
			seen = append(seen, ev.Type)
			if ev.Type == events.WorkflowComplete {
				break collect
			}
		case <-deadline:
			t.Fatalf("timed out waiting for workflow_complete; saw %v", seen)
		}
	}
	assert.Equal(t, []events.Type{events.WorkflowStart, events.StepComplete, events.WorkflowComplete}, seen)
}

func TestArtifactPathsAreTemplated(t *testing.T) {
	doc := `
version: "0"
name: templated-path
runtime:
  provider: bedrock
  model_id: stub-model
  region: us-east-1
agents:
  writer:
    prompt: writer
pattern:
  type: chain
  steps:
    - agent: writer
      input: "go"
outputs:
  - path: "reports/{{ topic }}.md"
    from: "# {{ topic }}\n\n{{ last_response }}"
`
	client := newScriptedClient().respond("writer", "body")
	env := newTestEnv(t, doc, client)

	res, err := env.engine.Run(context.Background(), map[string]interface{}{"topic": "weekly"})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join("reports", "weekly.md")}, res.Artifacts)

	data, err := os.ReadFile(filepath.Join(env.outDir, "reports", "weekly.md"))
	require.NoError(t, err)
	assert.Equal(t, "# weekly\n\nbody", string(data))
}
