// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"time"
)

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status   Status
	Workflow string
}

// Store persists sessions. The file store is the canonical implementation;
// the interface exists so tests can substitute an in-memory one.
type Store interface {
	// Create persists a new session along with the verbatim spec snapshot.
	Create(sess *Session, specBytes []byte) error

	// Save atomically replaces the session record.
	Save(sess *Session) error

	// Load reads a session by id.
	Load(sessionID string) (*Session, error)

	// SavePatternState atomically replaces the pattern state record.
	SavePatternState(sessionID string, state *PatternState) error

	// LoadPatternState reads the pattern state. Returns nil when the
	// session has not checkpointed yet.
	LoadPatternState(sessionID string) (*PatternState, error)

	// SaveAgentSnapshot replaces one agent's conversation snapshot.
	SaveAgentSnapshot(sessionID string, snap *AgentSnapshot) error

	// LoadAgentSnapshots reads every stored agent conversation.
	LoadAgentSnapshots(sessionID string) ([]*AgentSnapshot, error)

	// SpecSnapshot returns the verbatim spec bytes stored at creation.
	SpecSnapshot(sessionID string) ([]byte, error)

	// List returns sessions matching the filter, newest first.
	List(filter ListFilter) ([]*Session, error)

	// Delete removes a session and all its files.
	Delete(sessionID string) error

	// Cleanup deletes sessions not updated within maxAge. Completed
	// sessions survive when preserveCompleted is set. Returns the number
	// of sessions removed.
	Cleanup(maxAge time.Duration, preserveCompleted bool) (int, error)
}
