// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package session defines the durable session model and its store. A
// session records everything needed to resume a paused or interrupted
// workflow: metadata, resolved inputs, variant-tagged pattern state and
// per-agent conversation snapshots.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/weft/pkg/types"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status permits no further transitions
// except deletion.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Interrupt types.
const (
	InterruptManualGate      = "manual_gate"
	InterruptBudgetExhausted = "budget_exhausted_ask"
)

// Resume decisions.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionModify  = "modify"
)

// InterruptResponse records the user's decision on an interrupt.
type InterruptResponse struct {
	Decision  string    `json:"decision"`
	Feedback  string    `json:"feedback,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// InterruptRecord captures a pending human-in-the-loop pause.
type InterruptRecord struct {
	Type      string             `json:"type"`
	GateID    string             `json:"gate_id"`
	Prompt    string             `json:"prompt"`
	CreatedAt time.Time          `json:"created_at"`
	TimeoutAt *time.Time         `json:"timeout_at,omitempty"`
	Response  *InterruptResponse `json:"response,omitempty"`
}

// TimedOut reports whether the interrupt's deadline has passed.
func (r *InterruptRecord) TimedOut(now time.Time) bool {
	return r.TimeoutAt != nil && now.After(*r.TimeoutAt)
}

// Metadata is the session's descriptive record.
type Metadata struct {
	Name          string           `json:"name"`
	WorkflowName  string           `json:"workflow_name"`
	PatternType   string           `json:"pattern_type"`
	Status        Status           `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Interrupt     *InterruptRecord `json:"interrupt_metadata,omitempty"`
}

// Session is the durable record of one workflow run.
type Session struct {
	ID       string   `json:"session_id"`
	SpecHash string   `json:"spec_hash"`
	Metadata Metadata `json:"metadata"`

	// Variables are the resolved workflow inputs.
	Variables map[string]interface{} `json:"variables,omitempty"`

	TokenUsage       types.Usage `json:"token_usage"`
	ArtifactsWritten []string    `json:"artifacts_written,omitempty"`
}

// New creates a running session for a workflow.
func New(workflowName, patternType, specHash string, variables map[string]interface{}) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:       uuid.NewString(),
		SpecHash: specHash,
		Metadata: Metadata{
			Name:         workflowName,
			WorkflowName: workflowName,
			PatternType:  patternType,
			Status:       StatusRunning,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		Variables: variables,
	}
}

// Touch bumps the updated-at timestamp.
func (s *Session) Touch() {
	s.Metadata.UpdatedAt = time.Now().UTC()
}

// PatternState is the variant-tagged runtime state of a pattern. The
// executor owns the payload encoding; the store treats it as opaque.
type PatternState struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AgentSnapshot is one agent's conversation at a checkpoint boundary.
type AgentSnapshot struct {
	AgentID  string          `json:"agent_id"`
	Messages []types.Message `json:"messages"`
	Usage    types.Usage     `json:"usage"`
}
