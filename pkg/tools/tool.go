// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package tools defines the Tool interface, the name-indexed registry and
// the safety guards (SSRF screening, path sandboxing) enforced around every
// tool invocation.
package tools

import (
	"context"
	"encoding/json"
)

// SideEffectClass describes what a tool touches. The registry uses it to
// decide which guard applies.
type SideEffectClass string

const (
	SideEffectPure            SideEffectClass = "pure"
	SideEffectNetwork         SideEffectClass = "network"
	SideEffectFilesystemRead  SideEffectClass = "filesystem_read"
	SideEffectFilesystemWrite SideEffectClass = "filesystem_write"
)

// Tool is the interface every executable tool implements. Tools are the
// mechanism agents use to act outside the conversation; each encapsulates a
// single capability.
type Tool interface {
	// Name returns the tool's unique identifier
	Name() string

	// Description returns a human-readable description for model context
	Description() string

	// InputSchema returns the JSON Schema for tool parameters
	InputSchema() *JSONSchema

	// Execute runs the tool with given parameters
	Execute(ctx context.Context, params map[string]interface{}) (*Result, error)

	// SideEffect returns the tool's side-effect class
	SideEffect() SideEffectClass
}

// Result represents the outcome of tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool

	// Data contains the result data (format varies by tool)
	Data interface{}

	// Error contains error information if execution failed
	Error *Error

	// ExecutionTimeMs in milliseconds
	ExecutionTimeMs int64
}

// Error represents a tool execution error with structured information.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Retryable indicates if the operation can be retried
	Retryable bool

	// Suggestion provides a suggestion for fixing the error
	Suggestion string
}

// Serialize renders a result as the string fed back to the model.
func (r *Result) Serialize() string {
	if r.Error != nil {
		b, _ := json.Marshal(map[string]interface{}{
			"error":      r.Error.Message,
			"code":       r.Error.Code,
			"suggestion": r.Error.Suggestion,
		})
		return string(b)
	}
	switch d := r.Data.(type) {
	case string:
		return d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return "unserializable tool result"
		}
		return string(b)
	}
}

// JSONSchema represents a JSON Schema for tool parameters.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
	Format      string                 `json:"format,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
}

// ToMap converts the schema to the generic map shape model clients expect.
func (s *JSONSchema) ToMap() map[string]interface{} {
	b, err := json.Marshal(s)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	return out
}

// NewObjectSchema creates an object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*JSONSchema, required []string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema creates a string schema.
func NewStringSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: description}
}

// NewNumberSchema creates a number schema.
func NewNumberSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "number", Description: description}
}

// NewBooleanSchema creates a boolean schema.
func NewBooleanSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "boolean", Description: description}
}

// WithEnum restricts a schema to an enumerated value set.
func (s *JSONSchema) WithEnum(values ...interface{}) *JSONSchema {
	s.Enum = values
	return s
}

// WithDefault sets the schema default.
func (s *JSONSchema) WithDefault(v interface{}) *JSONSchema {
	s.Default = v
	return s
}

// WithFormat sets the schema format hint.
func (s *JSONSchema) WithFormat(format string) *JSONSchema {
	s.Format = format
	return s
}
