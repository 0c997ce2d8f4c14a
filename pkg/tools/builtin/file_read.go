// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package builtin

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/teradata-labs/weft/pkg/tools"
)

// maxFileReadBytes bounds output fed back into model context.
const maxFileReadBytes = 128 * 1024

// FileReadTool reads text files. The registry guard enforces absolute
// paths and rejects symlinks before Execute runs; binary detection happens
// here because it needs the content.
type FileReadTool struct{}

// NewFileReadTool creates a file read tool.
func NewFileReadTool() *FileReadTool { return &FileReadTool{} }

func (t *FileReadTool) Name() string { return "file_read" }

func (t *FileReadTool) SideEffect() tools.SideEffectClass { return tools.SideEffectFilesystemRead }

func (t *FileReadTool) Description() string {
	return `Reads a text file from the local filesystem. Paths must be absolute.
Binary files are rejected; output is truncated past 128KB.`
}

func (t *FileReadTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema(
		"Parameters for reading a file",
		map[string]*tools.JSONSchema{
			"path": tools.NewStringSchema("Absolute file path to read (required)"),
		},
		[]string{"path"},
	)
}

func (t *FileReadTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	start := time.Now()
	path, _ := params["path"].(string)

	data, err := os.ReadFile(path)
	if err != nil {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:       "READ_FAILED",
				Message:    err.Error(),
				Suggestion: "Check that the file exists and is readable",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	if isBinary(data) {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:       "BINARY_FILE",
				Message:    "binary files cannot be read into model context",
				Suggestion: "Only text files are supported",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	truncated := false
	if len(data) > maxFileReadBytes {
		data = data[:maxFileReadBytes]
		truncated = true
	}

	return &tools.Result{
		Success: true,
		Data: map[string]interface{}{
			"content":   string(data),
			"truncated": truncated,
		},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// isBinary uses the classic NUL-byte heuristic over the first 8KB.
func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	return bytes.IndexByte(probe, 0) >= 0
}
