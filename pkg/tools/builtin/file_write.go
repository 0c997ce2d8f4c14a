// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package builtin

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/teradata-labs/weft/pkg/tools"
)

// MaxSafeContentSize prevents model output limit errors on write-back.
const MaxSafeContentSize = 50 * 1024

// FileWriteTool writes files beneath the artifacts directory. The registry
// guard validates the relative path and consent before Execute runs; this
// tool resolves against the same guard so path handling cannot diverge.
type FileWriteTool struct {
	guard *tools.Guard
}

// NewFileWriteTool creates a file write tool bound to a guard.
func NewFileWriteTool(guard *tools.Guard) *FileWriteTool {
	return &FileWriteTool{guard: guard}
}

func (t *FileWriteTool) Name() string { return "file_write" }

func (t *FileWriteTool) SideEffect() tools.SideEffectClass { return tools.SideEffectFilesystemWrite }

func (t *FileWriteTool) Description() string {
	return `Writes content to a file beneath the artifacts directory. Creates parent
directories automatically. Paths are relative; absolute paths and '..' are rejected.`
}

func (t *FileWriteTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema(
		"Parameters for writing files",
		map[string]*tools.JSONSchema{
			"path":    tools.NewStringSchema("File path relative to the artifacts directory (required)"),
			"content": tools.NewStringSchema("Content to write (required, max 50KB per call)"),
			"mode": tools.NewStringSchema("Write mode: 'create' (fail if exists), 'overwrite', or 'append'").
				WithEnum("create", "overwrite", "append").
				WithDefault("create"),
		},
		[]string{"path", "content"},
	)
}

func (t *FileWriteTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	start := time.Now()

	path, _ := params["path"].(string)
	content, _ := params["content"].(string)
	mode := "create"
	if m, ok := params["mode"].(string); ok && m != "" {
		mode = m
	}

	if len(content) > MaxSafeContentSize {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:       "CONTENT_TOO_LARGE",
				Message:    "content exceeds the 50KB per-call limit",
				Suggestion: "Use append mode across multiple calls",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	full, err := t.guard.ResolveWritePath(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return writeFailure(start, err), nil
	}

	switch mode {
	case "create":
		f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return writeFailure(start, err), nil
		}
		_, err = f.WriteString(content)
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			return writeFailure(start, err), nil
		}
	case "overwrite":
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return writeFailure(start, err), nil
		}
	case "append":
		f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return writeFailure(start, err), nil
		}
		_, err = f.WriteString(content)
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			return writeFailure(start, err), nil
		}
	}

	return &tools.Result{
		Success: true,
		Data: map[string]interface{}{
			"path":          path,
			"bytes_written": len(content),
		},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func writeFailure(start time.Time, err error) *tools.Result {
	return &tools.Result{
		Success: false,
		Error: &tools.Error{
			Code:    "WRITE_FAILED",
			Message: err.Error(),
		},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}
