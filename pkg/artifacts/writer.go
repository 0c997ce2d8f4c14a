// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package artifacts writes declared workflow outputs beneath a single output
// directory. Both the content template and the path template are rendered
// with the final scope; the resolved path must stay inside the output
// directory and must not pass through a symlink.
package artifacts

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
	"github.com/teradata-labs/weft/pkg/types"
)

// DefaultOutputDir is where artifacts land when no directory is configured.
const DefaultOutputDir = "./artifacts"

// TraceVar is the reserved scope key whose value is the trace document.
const TraceVar = "$TRACE"

// Writer renders and writes declared artifacts.
type Writer struct {
	outputDir string
	force     bool
}

// NewWriter creates a writer rooted at outputDir (DefaultOutputDir when
// empty). Existing files are only overwritten when force is set.
func NewWriter(outputDir string, force bool) *Writer {
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	return &Writer{outputDir: outputDir, force: force}
}

// OutputDir returns the configured output directory.
func (w *Writer) OutputDir() string { return w.outputDir }

// WriteAll renders every declared output with the final scope and writes it.
// Returns the paths written, relative to the output directory. The first
// failure aborts the batch; earlier artifacts stay on disk.
func (w *Writer) WriteAll(outputs []spec.OutputDecl, scope template.Scope) ([]string, error) {
	var written []string
	for _, out := range outputs {
		rel, err := w.write(out, scope)
		if err != nil {
			return written, err
		}
		written = append(written, rel)
	}
	return written, nil
}

func (w *Writer) write(out spec.OutputDecl, scope template.Scope) (string, error) {
	content, err := template.Render(out.From, scope)
	if err != nil {
		return "", err
	}
	rendered, err := template.Render(out.Path, scope)
	if err != nil {
		return "", err
	}

	rel, err := w.resolve(rendered)
	if err != nil {
		return "", err
	}
	full := filepath.Join(w.outputDir, rel)

	if err := w.checkSymlinks(rel); err != nil {
		return "", err
	}

	if _, err := os.Lstat(full); err == nil && !w.force {
		return "", errdefs.New(errdefs.KindIO, "artifact %q already exists", rel).
			Hint("pass --force to overwrite existing artifacts")
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errdefs.Wrap(err, errdefs.KindIO, "create artifact directory for %q", rel)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", errdefs.Wrap(err, errdefs.KindIO, "write artifact %q", rel)
	}

	log.Info("artifact written", zap.String("path", full), zap.Int("bytes", len(content)))
	return rel, nil
}

// resolve normalizes a rendered path and rejects escapes: absolute paths,
// any .. component, and paths that clean to outside the output directory.
func (w *Writer) resolve(rendered string) (string, error) {
	if rendered == "" {
		return "", errdefs.New(errdefs.KindIO, "artifact path rendered empty")
	}
	if filepath.IsAbs(rendered) {
		return "", errdefs.New(errdefs.KindIO, "artifact path %q is absolute", rendered).
			Hint("artifact paths are relative to the output directory")
	}
	for _, part := range strings.Split(filepath.ToSlash(rendered), "/") {
		if part == ".." {
			return "", errdefs.New(errdefs.KindIO, "artifact path %q contains a parent reference", rendered)
		}
	}
	rel := filepath.Clean(rendered)
	if rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", errdefs.New(errdefs.KindIO, "artifact path %q escapes the output directory", rendered)
	}
	return rel, nil
}

// checkSymlinks walks every existing ancestor of the target (and the target
// itself) rejecting symlinks, so a link inside the output directory cannot
// redirect a write elsewhere.
func (w *Writer) checkSymlinks(rel string) error {
	cur := w.outputDir
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errdefs.Wrap(err, errdefs.KindIO, "inspect artifact path %q", rel)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return errdefs.New(errdefs.KindIO, "artifact path %q passes through a symlink", rel)
		}
	}
	return nil
}

// TraceDocument assembles the $TRACE scope value: trace id, the recorded
// span and metric lists, and aggregate token usage.
func TraceDocument(traceID string, snapshot map[string]interface{}, usage types.Usage) map[string]interface{} {
	doc := map[string]interface{}{
		"trace_id": traceID,
		"token_usage": map[string]interface{}{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
			"total_tokens":  usage.TotalTokens,
		},
	}
	if snapshot != nil {
		doc["spans"] = snapshot["spans"]
		doc["metrics"] = snapshot["metrics"]
	} else {
		doc["spans"] = []interface{}{}
		doc["metrics"] = []interface{}{}
	}
	return doc
}
