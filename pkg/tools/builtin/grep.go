// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package builtin

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"time"

	"github.com/teradata-labs/weft/pkg/tools"
)

// maxGrepMatches bounds grep output.
const maxGrepMatches = 200

// GrepTool searches a text file for a regular expression.
type GrepTool struct{}

// NewGrepTool creates a grep tool.
func NewGrepTool() *GrepTool { return &GrepTool{} }

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) SideEffect() tools.SideEffectClass { return tools.SideEffectFilesystemRead }

func (t *GrepTool) Description() string {
	return `Searches a text file for lines matching a regular expression.
Paths must be absolute. Returns matching lines with line numbers.`
}

func (t *GrepTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema(
		"Parameters for grep",
		map[string]*tools.JSONSchema{
			"path":    tools.NewStringSchema("Absolute file path to search (required)"),
			"pattern": tools.NewStringSchema("Go regular expression to match (required)"),
		},
		[]string{"path", "pattern"},
	)
}

func (t *GrepTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	start := time.Now()
	path, _ := params["path"].(string)
	pattern, _ := params["pattern"].(string)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:       "INVALID_PATTERN",
				Message:    err.Error(),
				Suggestion: "Use Go regexp syntax",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:    "READ_FAILED",
				Message: err.Error(),
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}
	defer f.Close()

	var matches []map[string]interface{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if isBinary([]byte(line)) {
			return &tools.Result{
				Success: false,
				Error: &tools.Error{
					Code:    "BINARY_FILE",
					Message: "binary files cannot be searched",
				},
				ExecutionTimeMs: time.Since(start).Milliseconds(),
			}, nil
		}
		if re.MatchString(line) {
			matches = append(matches, map[string]interface{}{
				"line": lineNo,
				"text": line,
			})
			if len(matches) >= maxGrepMatches {
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:    "READ_FAILED",
				Message: err.Error(),
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	return &tools.Result{
		Success: true,
		Data: map[string]interface{}{
			"matches": matches,
			"count":   len(matches),
		},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
