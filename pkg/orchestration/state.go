// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"encoding/json"
	"time"

	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/session"
)

// StepRecord is one completed step in a chain-like sequence.
type StepRecord struct {
	Agent    string `json:"agent,omitempty"`
	Input    string `json:"input,omitempty"`
	Response string `json:"response,omitempty"`
	Tokens   int    `json:"tokens,omitempty"`

	// Gate marks a passed manual gate rather than an agent invocation.
	Gate   string `json:"gate,omitempty"`
	Status string `json:"status"`
}

// Step statuses recorded in pattern state.
const (
	StepCompleted = "completed"
	StepSkipped   = "skipped"
	StepFailed    = "failed"
)

// ChainState is the durable state of a chain (or a chain-like branch).
type ChainState struct {
	CurrentStep int          `json:"current_step"`
	History     []StepRecord `json:"history"`
}

// RoutingState records the chosen route and the branch's chain state.
type RoutingState struct {
	Route     string     `json:"route,omitempty"`
	Rationale string     `json:"rationale,omitempty"`
	Chain     ChainState `json:"chain"`
}

// Branch statuses.
const (
	BranchPending   = "pending"
	BranchRunning   = "running"
	BranchCompleted = "completed"
	BranchFailed    = "failed"
)

// BranchState is one parallel branch's durable record.
type BranchState struct {
	Status   string     `json:"status"`
	Chain    ChainState `json:"chain"`
	Response string     `json:"response,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// ParallelState holds every branch plus the reduce result.
type ParallelState struct {
	Branches map[string]*BranchState `json:"branches"`
	Reduce   string                  `json:"reduce_response,omitempty"`
}

// WorkflowState tracks DAG progress: completed task outputs, failures and
// the skips they propagated.
type WorkflowState struct {
	Completed   map[string]string    `json:"completed"`
	CompletedAt map[string]time.Time `json:"completed_at,omitempty"`
	Failed      map[string]string    `json:"failed,omitempty"`
	Skipped     []string             `json:"skipped,omitempty"`
	Last        string               `json:"last_response,omitempty"`
}

// EvaluatorState records the produce/evaluate loop.
type EvaluatorState struct {
	Iteration int                    `json:"iteration"`
	Drafts    []string               `json:"drafts"`
	LastEval  map[string]interface{} `json:"last_evaluation,omitempty"`
	Accepted  bool                   `json:"accepted"`
}

// RoundRecord is one orchestrator round's collected worker outputs.
type RoundRecord struct {
	Workers map[string]string `json:"workers"`
}

// OrchestratorState records dispatch rounds and the closing steps.
type OrchestratorState struct {
	Round  int           `json:"round"`
	Rounds []RoundRecord `json:"rounds,omitempty"`
	Reduce string        `json:"reduce_response,omitempty"`
	Final  string        `json:"final,omitempty"`
}

// GraphState records the walk: current node, per-node responses (latest
// visit wins) and the terminal node once set.
type GraphState struct {
	Current   string            `json:"current"`
	Iteration int               `json:"iteration"`
	Visited   []string          `json:"visited,omitempty"`
	Responses map[string]string `json:"responses"`
	Terminal  string            `json:"terminal_node,omitempty"`
}

// encodeState wraps a pattern-specific state value into the store's
// variant-tagged envelope.
func encodeState(patternType string, v interface{}) (*session.PatternState, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindSession, "encode %s state", patternType)
	}
	return &session.PatternState{Type: patternType, Data: data}, nil
}

// decodeState unwraps a stored envelope into the executor's state value.
// A nil envelope leaves the target at its zero value.
func decodeState(ps *session.PatternState, patternType string, v interface{}) error {
	if ps == nil {
		return nil
	}
	if ps.Type != patternType {
		return errdefs.New(errdefs.KindSession,
			"stored pattern state is %q, expected %q", ps.Type, patternType).
			Hint("the session was created with a different pattern; start a new run")
	}
	if err := json.Unmarshal(ps.Data, v); err != nil {
		return errdefs.Wrap(err, errdefs.KindSession, "decode %s state", patternType)
	}
	return nil
}
