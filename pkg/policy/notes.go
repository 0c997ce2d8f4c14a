// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/teradata-labs/weft/internal/csync"
	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/types"
)

// notesLedgerMarker prefixes the injected system message so a stale
// injection can be found and replaced on the next cycle.
const notesLedgerMarker = "Notes ledger (recent records):"

// noteOutcomeLimit truncates recorded outcomes.
const noteOutcomeLimit = 400

// fileLocks serializes writers per notes file across all hooks in the
// process.
var fileLocks = csync.NewMap[string, *sync.Mutex]()

func lockFor(path string) *sync.Mutex {
	return fileLocks.GetOrSet(path, func() *sync.Mutex { return &sync.Mutex{} })
}

// NotesHook appends a Markdown record per cycle and injects the last N
// records as a system message before each subsequent cycle.
type NotesHook struct {
	path  string
	lastN int
}

// NewNotesHook creates the hook for a notes file.
func NewNotesHook(path string, lastN int) *NotesHook {
	return &NotesHook{path: path, lastN: lastN}
}

// BeforeCycle reads the last N records and injects them right after the
// leading system messages, replacing any previous injection.
func (h *NotesHook) BeforeCycle(_ context.Context, conv *agent.Conversation) error {
	records, err := h.readLastRecords()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	injection := types.Message{
		Role:    "system",
		Content: notesLedgerMarker + "\n\n" + strings.Join(records, "\n"),
	}

	msgs := conv.Messages()
	rebuilt := make([]types.Message, 0, len(msgs)+1)
	inserted := false
	for _, m := range msgs {
		if m.Role == "system" && strings.HasPrefix(m.Content, notesLedgerMarker) {
			continue // stale injection from the previous cycle
		}
		if !inserted && m.Role != "system" {
			rebuilt = append(rebuilt, injection)
			inserted = true
		}
		rebuilt = append(rebuilt, m)
	}
	if !inserted {
		rebuilt = append(rebuilt, injection)
	}
	conv.Replace(rebuilt)
	return nil
}

// AfterCycle appends one record. Writers on the same file serialize.
func (h *NotesHook) AfterCycle(_ context.Context, _ *agent.Conversation, cycle *agent.Cycle) error {
	outcome := clip(cycle.Response, noteOutcomeLimit)
	input := clip(cycle.Input, noteOutcomeLimit)
	toolLine := "none"
	if len(cycle.ToolsUsed) > 0 {
		toolLine = strings.Join(cycle.ToolsUsed, ", ")
	}

	record := fmt.Sprintf("## [%s] — Agent: %s (Step %d)\nInput: %s\nTools: %s\nOutcome: %s\n\n",
		time.Now().UTC().Format(time.RFC3339), cycle.AgentID, cycle.Step, input, toolLine, outcome)

	lock := lockFor(h.path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return errdefs.Wrap(err, errdefs.KindIO, "create notes directory")
	}
	f, err := os.OpenFile(h.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindIO, "open notes file %q", h.path)
	}
	_, werr := f.WriteString(record)
	cerr := f.Close()
	if werr != nil {
		return errdefs.Wrap(werr, errdefs.KindIO, "append notes record")
	}
	if cerr != nil {
		return errdefs.Wrap(cerr, errdefs.KindIO, "close notes file")
	}
	return nil
}

// clip truncates on a rune boundary so multi-byte characters survive.
func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func (h *NotesHook) readLastRecords() ([]string, error) {
	lock := lockFor(h.path)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.Wrap(err, errdefs.KindIO, "read notes file %q", h.path)
	}

	var records []string
	for _, chunk := range strings.Split(string(data), "\n## ") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		if !strings.HasPrefix(chunk, "## ") {
			chunk = "## " + chunk
		}
		records = append(records, chunk)
	}
	if len(records) > h.lastN {
		records = records[len(records)-h.lastN:]
	}
	return records, nil
}
