// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/csync"
	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/types"
)

const (
	sessionFileName      = "session.json"
	patternStateFileName = "pattern_state.json"
	specSnapshotFileName = "spec_snapshot.yaml"
	agentsDirName        = "agents"
	agentFileName        = "agent.json"
	messagesDirName      = "messages"
	lockFileName         = ".lock"
	sessionDirPrefix     = "session_"
)

// staleLockAge is how old a lock file must be before another process may
// break it. Crashed runs leave locks behind; live writers refresh nothing,
// they hold locks only across one write.
const staleLockAge = 5 * time.Minute

// FileStore is the canonical session store: one directory per session,
// every file written by atomic replace (temp file + rename in the same
// directory). Cross-process writers coordinate via a per-session lock
// file; in-process writers serialize on a per-session mutex.
type FileStore struct {
	root  string
	locks *csync.Map[string, *sync.Mutex]
}

// NewFileStore creates a store rooted at dir (sessions live under
// dir/sessions).
func NewFileStore(dir string) (*FileStore, error) {
	root := filepath.Join(dir, "sessions")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindIO, "create session root %q", root)
	}
	return &FileStore{
		root:  root,
		locks: csync.NewMap[string, *sync.Mutex](),
	}, nil
}

// Root returns the sessions directory.
func (fs *FileStore) Root() string { return fs.root }

// SessionDir returns the directory for a session id.
func (fs *FileStore) SessionDir(sessionID string) string {
	return filepath.Join(fs.root, sessionDirPrefix+sessionID)
}

func (fs *FileStore) mutex(sessionID string) *sync.Mutex {
	return fs.locks.GetOrSet(sessionID, func() *sync.Mutex { return &sync.Mutex{} })
}

// Create persists a new session and its spec snapshot.
func (fs *FileStore) Create(sess *Session, specBytes []byte) error {
	dir := fs.SessionDir(sess.ID)
	if _, err := os.Stat(dir); err == nil {
		return errdefs.New(errdefs.KindSession, "session %s already exists", sess.ID)
	}
	if err := os.MkdirAll(filepath.Join(dir, agentsDirName), 0o755); err != nil {
		return errdefs.Wrap(err, errdefs.KindSession, "create session directory")
	}
	if err := writeAtomic(filepath.Join(dir, specSnapshotFileName), specBytes); err != nil {
		return err
	}
	return fs.Save(sess)
}

// Save atomically replaces session.json under the session's locks.
func (fs *FileStore) Save(sess *Session) error {
	mu := fs.mutex(sess.ID)
	mu.Lock()
	defer mu.Unlock()

	dir := fs.SessionDir(sess.ID)
	unlock, err := acquireDirLock(dir)
	if err != nil {
		return err
	}
	defer unlock()

	sess.Touch()
	return writeJSONAtomic(filepath.Join(dir, sessionFileName), sess)
}

// Load reads session.json.
func (fs *FileStore) Load(sessionID string) (*Session, error) {
	path := filepath.Join(fs.SessionDir(sessionID), sessionFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.New(errdefs.KindSession, "session %s not found", sessionID)
		}
		return nil, errdefs.Wrap(err, errdefs.KindSession, "read session %s", sessionID)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindSession, "session %s is corrupt", sessionID).
			Hint("delete the session directory to discard it")
	}
	return &sess, nil
}

// SavePatternState atomically replaces pattern_state.json.
func (fs *FileStore) SavePatternState(sessionID string, state *PatternState) error {
	mu := fs.mutex(sessionID)
	mu.Lock()
	defer mu.Unlock()
	return writeJSONAtomic(filepath.Join(fs.SessionDir(sessionID), patternStateFileName), state)
}

// LoadPatternState reads pattern_state.json; nil when absent.
func (fs *FileStore) LoadPatternState(sessionID string) (*PatternState, error) {
	data, err := os.ReadFile(filepath.Join(fs.SessionDir(sessionID), patternStateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.Wrap(err, errdefs.KindSession, "read pattern state for %s", sessionID)
	}
	var state PatternState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindSession, "pattern state for %s is corrupt", sessionID)
	}
	return &state, nil
}

// SaveAgentSnapshot writes agents/<id>/agent.json plus one file per
// message.
func (fs *FileStore) SaveAgentSnapshot(sessionID string, snap *AgentSnapshot) error {
	mu := fs.mutex(sessionID)
	mu.Lock()
	defer mu.Unlock()

	agentDir := filepath.Join(fs.SessionDir(sessionID), agentsDirName, snap.AgentID)
	msgDir := filepath.Join(agentDir, messagesDirName)
	// Compaction can shrink a conversation between checkpoints, so stale
	// message files must not survive the rewrite.
	if err := os.RemoveAll(msgDir); err != nil {
		return errdefs.Wrap(err, errdefs.KindSession, "clear agent snapshot messages")
	}
	if err := os.MkdirAll(msgDir, 0o755); err != nil {
		return errdefs.Wrap(err, errdefs.KindSession, "create agent snapshot directory")
	}

	meta := map[string]interface{}{
		"agent_id":      snap.AgentID,
		"usage":         snap.Usage,
		"message_count": len(snap.Messages),
	}
	if err := writeJSONAtomic(filepath.Join(agentDir, agentFileName), meta); err != nil {
		return err
	}
	for i, msg := range snap.Messages {
		path := filepath.Join(msgDir, fmt.Sprintf("message_%06d.json", i))
		if err := writeJSONAtomic(path, msg); err != nil {
			return err
		}
	}
	return nil
}

// LoadAgentSnapshots reads every agent directory.
func (fs *FileStore) LoadAgentSnapshots(sessionID string) ([]*AgentSnapshot, error) {
	agentsDir := filepath.Join(fs.SessionDir(sessionID), agentsDirName)
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.Wrap(err, errdefs.KindSession, "read agents directory for %s", sessionID)
	}

	var snaps []*AgentSnapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snap, err := fs.loadAgentSnapshot(filepath.Join(agentsDir, entry.Name()), entry.Name())
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].AgentID < snaps[j].AgentID })
	return snaps, nil
}

func (fs *FileStore) loadAgentSnapshot(agentDir, agentID string) (*AgentSnapshot, error) {
	snap := &AgentSnapshot{AgentID: agentID}

	metaRaw, err := os.ReadFile(filepath.Join(agentDir, agentFileName))
	if err == nil {
		var meta struct {
			Usage types.Usage `json:"usage"`
		}
		if err := json.Unmarshal(metaRaw, &meta); err == nil {
			snap.Usage = meta.Usage
		}
	}

	msgDir := filepath.Join(agentDir, messagesDirName)
	entries, err := os.ReadDir(msgDir)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return nil, errdefs.Wrap(err, errdefs.KindSession, "read messages for agent %s", agentID)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "message_") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(msgDir, name))
		if err != nil {
			return nil, errdefs.Wrap(err, errdefs.KindSession, "read message %s", name)
		}
		var msg types.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, errdefs.Wrap(err, errdefs.KindSession, "message %s is corrupt", name)
		}
		snap.Messages = append(snap.Messages, msg)
	}
	return snap, nil
}

// SpecSnapshot returns the verbatim spec bytes.
func (fs *FileStore) SpecSnapshot(sessionID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(fs.SessionDir(sessionID), specSnapshotFileName))
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindSession, "read spec snapshot for %s", sessionID)
	}
	return data, nil
}

// List returns sessions matching the filter, newest first. Unreadable
// directories are skipped with a warning rather than failing the listing.
func (fs *FileStore) List(filter ListFilter) ([]*Session, error) {
	entries, err := os.ReadDir(fs.root)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindSession, "read session root")
	}

	var sessions []*Session
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), sessionDirPrefix) {
			continue
		}
		id := strings.TrimPrefix(entry.Name(), sessionDirPrefix)
		sess, err := fs.Load(id)
		if err != nil {
			log.Warn("skipping unreadable session", zap.String("session", id), zap.Error(err))
			continue
		}
		if filter.Status != "" && sess.Metadata.Status != filter.Status {
			continue
		}
		if filter.Workflow != "" && sess.Metadata.WorkflowName != filter.Workflow {
			continue
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Metadata.UpdatedAt.After(sessions[j].Metadata.UpdatedAt)
	})
	return sessions, nil
}

// Delete removes the session directory.
func (fs *FileStore) Delete(sessionID string) error {
	dir := fs.SessionDir(sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errdefs.New(errdefs.KindSession, "session %s not found", sessionID)
	}
	if err := os.RemoveAll(dir); err != nil {
		return errdefs.Wrap(err, errdefs.KindSession, "delete session %s", sessionID)
	}
	fs.locks.Delete(sessionID)
	return nil
}

// Cleanup removes sessions whose updated_at is older than maxAge.
func (fs *FileStore) Cleanup(maxAge time.Duration, preserveCompleted bool) (int, error) {
	sessions, err := fs.List(ListFilter{})
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, sess := range sessions {
		if sess.Metadata.UpdatedAt.After(cutoff) {
			continue
		}
		if preserveCompleted && sess.Metadata.Status == StatusCompleted {
			continue
		}
		if err := fs.Delete(sess.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// writeJSONAtomic marshals v and atomically replaces path.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindSession, "marshal %s", filepath.Base(path))
	}
	return writeAtomic(path, data)
}

// writeAtomic writes to a temp file in the target directory then renames
// over the destination. Readers never observe partial writes.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindIO, "create temp file in %q", dir)
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	serr := tmp.Sync()
	cerr := tmp.Close()
	if werr != nil || serr != nil || cerr != nil {
		os.Remove(tmpName)
		err := werr
		if err == nil {
			err = serr
		}
		if err == nil {
			err = cerr
		}
		return errdefs.Wrap(err, errdefs.KindIO, "write %q", path)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errdefs.Wrap(err, errdefs.KindIO, "replace %q", path)
	}
	return nil
}

// acquireDirLock takes the per-session advisory lock file. Stale locks
// from crashed processes are broken after staleLockAge.
func acquireDirLock(dir string) (func(), error) {
	lockPath := filepath.Join(dir, lockFileName)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, errdefs.Wrap(err, errdefs.KindSession, "acquire session lock")
		}
		info, statErr := os.Stat(lockPath)
		if statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
			continue
		}
		return nil, errdefs.New(errdefs.KindSession, "session is locked by another process").
			Hint("wait for the other writer or remove the stale .lock file")
	}
	return nil, errdefs.New(errdefs.KindSession, "could not acquire session lock")
}

var _ Store = (*FileStore)(nil)
