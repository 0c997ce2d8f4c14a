// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared types used across the weft engine.
// This package breaks import cycles by providing common types that both
// pkg/agent and pkg/llm packages depend on.
package types

import (
	"context"
	"time"
)

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	// ID is a unique identifier for this tool call
	ID string `json:"id"`

	// Name is the tool name
	Name string `json:"name"`

	// Input contains the tool parameters as decoded JSON
	Input map[string]interface{} `json:"input"`
}

// ToolResult is the recorded outcome of a tool call, carried back to the
// model as a tool-role message.
type ToolResult struct {
	// ToolUseID matches the ToolCall.ID this result answers
	ToolUseID string `json:"tool_use_id"`

	// Content is the serialized result payload
	Content string `json:"content"`

	// IsError marks results that represent tool failures
	IsError bool `json:"is_error,omitempty"`
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`

	// ToolCalls contains tool invocations (role assistant)
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResult contains a tool execution result (role tool)
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Timestamp when the message was created
	Timestamp time.Time `json:"timestamp"`

	// TokenCount for budget tracking
	TokenCount int `json:"token_count,omitempty"`
}

// Usage tracks model token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ToolSchema describes a tool to the model: name, description and the
// JSON Schema of its input, serialized as a generic map.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ModelResponse represents a response from the model.
type ModelResponse struct {
	// Content is the text response (if no tool calls)
	Content string

	// ToolCalls contains requested tool executions
	ToolCalls []ToolCall

	// StopReason indicates why the model stopped (end_turn, tool_use, max_tokens)
	StopReason string

	// Usage tracks token usage for this call
	Usage Usage
}

// ModelClient is the uniform interface the engine uses to talk to a model
// provider. Implementations exist for bedrock, openai and ollama; tests use
// deterministic stubs.
type ModelClient interface {
	// Invoke sends a conversation to the model and returns the response
	Invoke(ctx context.Context, messages []Message, tools []ToolSchema) (*ModelResponse, error)

	// CountTokens estimates the token count of a text for this model
	CountTokens(text string) int

	// Provider returns the provider name (bedrock, openai, ollama)
	Provider() string

	// Model returns the model identifier
	Model() string
}

// TokenCallback is called for each token/chunk during streaming.
// Implementations should be lightweight and non-blocking.
type TokenCallback func(token string)

// StreamingModelClient extends ModelClient with token streaming support.
type StreamingModelClient interface {
	ModelClient

	// InvokeStream streams tokens as they are generated and returns the
	// complete response after the stream finishes.
	InvokeStream(ctx context.Context, messages []Message, tools []ToolSchema, cb TokenCallback) (*ModelResponse, error)
}

// SupportsStreaming checks if a client supports token streaming.
func SupportsStreaming(client ModelClient) bool {
	_, ok := client.(StreamingModelClient)
	return ok
}
