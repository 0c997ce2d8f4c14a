// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
)

const gatedChainDoc = `
version: "0"
name: gated
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
      input: "draft {{ topic }}"
    - type: manual_gate
      id: review
      prompt: "Approve? {{ last_response }}"
    - agent: writer
      input: "finalize"
`

func TestChainPausesAtManualGate(t *testing.T) {
	client := newScriptedClient().respond("writer", "d1")
	env := newTestEnv(t, gatedChainDoc, client)

	res, err := env.engine.Run(context.Background(), map[string]interface{}{"topic": "go"})
	require.NoError(t, err)

	assert.True(t, res.Paused())
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, session.InterruptManualGate, res.Interrupt.Type)
	assert.Equal(t, "review", res.Interrupt.GateID)
	assert.Equal(t, "Approve? d1", res.Interrupt.Prompt)
	assert.Equal(t, 1, client.callCount("writer"))
	assert.Equal(t, stubUsage.TotalTokens, res.Usage.TotalTokens)

	sess, err := env.store.Load(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPaused, sess.Metadata.Status)
	require.NotNil(t, sess.Metadata.Interrupt)
	assert.Nil(t, sess.Metadata.Interrupt.Response)
}

func TestResumeApproveCompletesChain(t *testing.T) {
	client := newScriptedClient().respond("writer", "d1", "final")
	env := newTestEnv(t, gatedChainDoc, client)

	paused, err := env.engine.Run(context.Background(), map[string]interface{}{"topic": "go"})
	require.NoError(t, err)
	require.True(t, paused.Paused())

	res, err := env.engine.Resume(context.Background(), paused.SessionID, session.DecisionApprove, "")
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, "final", res.Response)
	assert.Equal(t, 2, client.callCount("writer"))

	ps, err := env.store.LoadPatternState(res.SessionID)
	require.NoError(t, err)
	var st ChainState
	require.NoError(t, decodeState(ps, spec.PatternChain, &st))
	require.Len(t, st.History, 3)
	assert.Equal(t, "review", st.History[1].Gate)
	assert.Equal(t, "final", st.History[2].Response)
}

func TestResumeRejectFailsSession(t *testing.T) {
	client := newScriptedClient().respond("writer", "d1")
	env := newTestEnv(t, gatedChainDoc, client)

	paused, err := env.engine.Run(context.Background(), map[string]interface{}{"topic": "go"})
	require.NoError(t, err)

	res, err := env.engine.Resume(context.Background(), paused.SessionID, session.DecisionReject, "too weak")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, res.Status)
	assert.Equal(t, 1, client.callCount("writer"), "reject never re-invokes the model")

	sess, err := env.store.Load(paused.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Metadata.Status)
	assert.Contains(t, sess.Metadata.FailureReason, "rejected at gate review")
	assert.Contains(t, sess.Metadata.FailureReason, "too weak")

	// Failed sessions are immutable.
	_, err = env.engine.Resume(context.Background(), paused.SessionID, session.DecisionApprove, "")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUsage, errdefs.KindOf(err))
}

func TestResumeModifyReExecutesPreviousStep(t *testing.T) {
	client := newScriptedClient().respond("writer", "d1", "d2", "final")
	env := newTestEnv(t, gatedChainDoc, client)

	paused, err := env.engine.Run(context.Background(), map[string]interface{}{"topic": "go"})
	require.NoError(t, err)
	require.Equal(t, "Approve? d1", paused.Interrupt.Prompt)

	// Modify redoes the step before the gate, then pauses at the gate again.
	again, err := env.engine.Resume(context.Background(), paused.SessionID, session.DecisionModify, "add detail")
	require.NoError(t, err)
	assert.True(t, again.Paused())
	require.NotNil(t, again.Interrupt)
	assert.Equal(t, "Approve? d2", again.Interrupt.Prompt)
	assert.Equal(t, 2, client.callCount("writer"))

	res, err := env.engine.Resume(context.Background(), again.SessionID, session.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, "final", res.Response)
}

func TestResumeModifyRequiresFeedback(t *testing.T) {
	client := newScriptedClient().respond("writer", "d1")
	env := newTestEnv(t, gatedChainDoc, client)

	paused, err := env.engine.Run(context.Background(), map[string]interface{}{"topic": "go"})
	require.NoError(t, err)

	_, err = env.engine.Resume(context.Background(), paused.SessionID, session.DecisionModify, "")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUsage, errdefs.KindOf(err))
}

func TestResumeRejectsUnknownDecision(t *testing.T) {
	client := newScriptedClient().respond("writer", "d1")
	env := newTestEnv(t, gatedChainDoc, client)

	paused, err := env.engine.Run(context.Background(), map[string]interface{}{"topic": "go"})
	require.NoError(t, err)

	_, err = env.engine.Resume(context.Background(), paused.SessionID, "maybe", "")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUsage, errdefs.KindOf(err))
	assert.Contains(t, err.Error(), "maybe")
}

func TestResumeTimedOutGateFailsSession(t *testing.T) {
	client := newScriptedClient().respond("writer", "d1")
	env := newTestEnv(t, gatedChainDoc, client)

	paused, err := env.engine.Run(context.Background(), map[string]interface{}{"topic": "go"})
	require.NoError(t, err)

	sess, err := env.store.Load(paused.SessionID)
	require.NoError(t, err)
	expired := time.Now().UTC().Add(-time.Minute)
	sess.Metadata.Interrupt.TimeoutAt = &expired
	require.NoError(t, env.store.Save(sess))

	_, err = env.engine.Resume(context.Background(), paused.SessionID, session.DecisionApprove, "")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindSession, errdefs.KindOf(err))
	assert.Contains(t, err.Error(), "timed out")

	sess, err = env.store.Load(paused.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Metadata.Status)
}

func TestModifyAtFirstStepGateIsRejected(t *testing.T) {
	doc := `
version: "0"
name: gate-first
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
    - type: manual_gate
      id: start
      prompt: "Proceed?"
    - agent: writer
      input: "go"
`
	client := newScriptedClient()
	env := newTestEnv(t, doc, client)

	paused, err := env.engine.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, paused.Paused())
	assert.Zero(t, client.callCount("writer"))

	_, err = env.engine.Resume(context.Background(), paused.SessionID, session.DecisionModify, "redo")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUsage, errdefs.KindOf(err))
	assert.Contains(t, err.Error(), "first step")
}

func TestGateInRoutingBranchPauses(t *testing.T) {
	doc := `
version: "0"
name: gated-route
runtime:
  provider: bedrock
  model_id: stub-model
  region: us-east-1
agents:
  router:
    prompt: router
  support:
    prompt: support
pattern:
  type: routing
  router:
    agent: router
    input: "route it"
  routes:
    faq:
      - agent: support
        input: "answer"
      - type: manual_gate
        id: signoff
        prompt: "Ship {{ last_response }}?"
`
	client := newScriptedClient().
		respond("router", `{"route": "faq"}`).
		respond("support", "a1")
	env := newTestEnv(t, doc, client)

	paused, err := env.engine.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, paused.Paused())
	assert.Equal(t, "signoff", paused.Interrupt.GateID)
	assert.Equal(t, "Ship a1?", paused.Interrupt.Prompt)

	res, err := env.engine.Resume(context.Background(), paused.SessionID, session.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, "a1", res.Response)
	assert.Equal(t, 1, client.callCount("router"), "router verdict survives the pause")
}
