// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
	"github.com/teradata-labs/weft/pkg/types"
)

func finalScope() template.Scope {
	s := template.NewScope()
	s.Set("last_response", "hi")
	s.Set("inputs", map[string]interface{}{"topic": "raft"})
	return s
}

func TestWriteAllRendersContentAndPath(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, false)

	written, err := w.WriteAll([]spec.OutputDecl{
		{Path: "out.txt", From: "{{ last_response }}"},
		{Path: "notes/{{ inputs.topic }}.md", From: "about {{ inputs.topic }}"},
	}, finalScope())
	require.NoError(t, err)
	require.Equal(t, []string{"out.txt", filepath.Join("notes", "raft.md")}, written)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "notes", "raft.md"))
	require.NoError(t, err)
	assert.Equal(t, "about raft", string(data))
}

func TestWriteRejectsAbsolutePath(t *testing.T) {
	w := NewWriter(t.TempDir(), false)
	_, err := w.WriteAll([]spec.OutputDecl{{Path: "/etc/out.txt", From: "x"}}, finalScope())
	require.Error(t, err)
	assert.Equal(t, errdefs.KindIO, errdefs.KindOf(err))
}

func TestWriteRejectsParentTraversal(t *testing.T) {
	w := NewWriter(t.TempDir(), false)
	for _, path := range []string{"../out.txt", "a/../../out.txt", ".."} {
		_, err := w.WriteAll([]spec.OutputDecl{{Path: path, From: "x"}}, finalScope())
		require.Error(t, err, path)
		assert.Equal(t, errdefs.KindIO, errdefs.KindOf(err), path)
	}
}

func TestWriteRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	w := NewWriter(dir, false)
	_, err := w.WriteAll([]spec.OutputDecl{{Path: "link/out.txt", From: "x"}}, finalScope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symlink")
}

func TestWriteRequiresForceToOverwrite(t *testing.T) {
	dir := t.TempDir()
	decl := []spec.OutputDecl{{Path: "out.txt", From: "second"}}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("first"), 0o644))

	_, err := NewWriter(dir, false).WriteAll(decl, finalScope())
	require.Error(t, err)
	assert.Equal(t, errdefs.KindIO, errdefs.KindOf(err))

	_, err = NewWriter(dir, true).WriteAll(decl, finalScope())
	require.NoError(t, err)
	data, _ := os.ReadFile(filepath.Join(dir, "out.txt"))
	assert.Equal(t, "second", string(data))
}

func TestWritePropagatesTemplateErrors(t *testing.T) {
	w := NewWriter(t.TempDir(), false)
	_, err := w.WriteAll([]spec.OutputDecl{{Path: "out.txt", From: "{{ x | evil() }}"}}, finalScope())
	require.Error(t, err)
	assert.Equal(t, errdefs.KindTemplate, errdefs.KindOf(err))
}

func TestTraceDocumentRendersThroughTemplate(t *testing.T) {
	tracer := observability.NewRecordingTracer()
	id := tracer.StartSpan(context.Background(), "workflow", nil)
	tracer.EndSpan(id, nil)

	doc := TraceDocument("trace-1", tracer.Snapshot(), types.Usage{InputTokens: 5, OutputTokens: 7, TotalTokens: 12})

	scope := template.NewScope()
	scope.Set(TraceVar, doc)

	out, err := template.Render("{{ $TRACE | tojson }}", scope)
	require.NoError(t, err)
	assert.Contains(t, out, `"trace_id":"trace-1"`)
	assert.Contains(t, out, `"total_tokens":12`)
	assert.Contains(t, out, `"name":"workflow"`)
}
