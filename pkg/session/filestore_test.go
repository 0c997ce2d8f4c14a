// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/types"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestFileStoreCreateLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	sess := New("research", "chain", "abc123", map[string]interface{}{"topic": "raft"})

	require.NoError(t, store.Create(sess, []byte("version: \"1.0\"\n")))

	loaded, err := store.Load(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "research", loaded.Metadata.WorkflowName)
	assert.Equal(t, "chain", loaded.Metadata.PatternType)
	assert.Equal(t, StatusRunning, loaded.Metadata.Status)
	assert.Equal(t, "abc123", loaded.SpecHash)
	assert.Equal(t, "raft", loaded.Variables["topic"])

	snap, err := store.SpecSnapshot(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "version: \"1.0\"\n", string(snap))
}

func TestFileStoreCreateRejectsDuplicate(t *testing.T) {
	store := newTestStore(t)
	sess := New("wf", "chain", "h", nil)
	require.NoError(t, store.Create(sess, nil))

	err := store.Create(sess, nil)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindSession, errdefs.KindOf(err))
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load("nope")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindSession, errdefs.KindOf(err))
}

func TestFileStoreSaveBumpsUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	sess := New("wf", "chain", "h", nil)
	require.NoError(t, store.Create(sess, nil))
	created := sess.Metadata.UpdatedAt

	time.Sleep(10 * time.Millisecond)
	sess.Metadata.Status = StatusCompleted
	require.NoError(t, store.Save(sess))

	loaded, err := store.Load(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Metadata.Status)
	assert.True(t, loaded.Metadata.UpdatedAt.After(created))
}

func TestFileStoreSaveLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	sess := New("wf", "chain", "h", nil)
	require.NoError(t, store.Create(sess, nil))
	require.NoError(t, store.Save(sess))

	entries, err := os.ReadDir(store.SessionDir(sess.ID))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestFileStorePatternStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	sess := New("wf", "workflow", "h", nil)
	require.NoError(t, store.Create(sess, nil))

	// Absent before the first checkpoint.
	state, err := store.LoadPatternState(sess.ID)
	require.NoError(t, err)
	assert.Nil(t, state)

	payload, _ := json.Marshal(map[string]interface{}{"completed": []string{"fetch", "parse"}})
	require.NoError(t, store.SavePatternState(sess.ID, &PatternState{Type: "workflow", Data: payload}))

	state, err = store.LoadPatternState(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "workflow", state.Type)

	var decoded map[string][]string
	require.NoError(t, json.Unmarshal(state.Data, &decoded))
	assert.Equal(t, []string{"fetch", "parse"}, decoded["completed"])
}

func TestFileStoreAgentSnapshots(t *testing.T) {
	store := newTestStore(t)
	sess := New("wf", "chain", "h", nil)
	require.NoError(t, store.Create(sess, nil))

	snap := &AgentSnapshot{
		AgentID: "writer",
		Messages: []types.Message{
			{Role: "system", Content: "you write"},
			{Role: "user", Content: "draft it"},
			{Role: "assistant", Content: "done", ToolCalls: []types.ToolCall{{ID: "t1", Name: "file_write"}}},
		},
		Usage: types.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
	}
	require.NoError(t, store.SaveAgentSnapshot(sess.ID, snap))
	require.NoError(t, store.SaveAgentSnapshot(sess.ID, &AgentSnapshot{
		AgentID:  "critic",
		Messages: []types.Message{{Role: "system", Content: "you critique"}},
	}))

	snaps, err := store.LoadAgentSnapshots(sess.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	// Sorted by agent id.
	assert.Equal(t, "critic", snaps[0].AgentID)
	assert.Equal(t, "writer", snaps[1].AgentID)
	require.Len(t, snaps[1].Messages, 3)
	assert.Equal(t, "draft it", snaps[1].Messages[1].Content)
	assert.Equal(t, "file_write", snaps[1].Messages[2].ToolCalls[0].Name)
	assert.Equal(t, 30, snaps[1].Usage.TotalTokens)
}

func TestFileStoreAgentSnapshotShrinks(t *testing.T) {
	store := newTestStore(t)
	sess := New("wf", "chain", "h", nil)
	require.NoError(t, store.Create(sess, nil))

	long := &AgentSnapshot{AgentID: "a", Messages: make([]types.Message, 5)}
	for i := range long.Messages {
		long.Messages[i] = types.Message{Role: "user", Content: "m"}
	}
	require.NoError(t, store.SaveAgentSnapshot(sess.ID, long))

	// Compaction shrank the conversation; the checkpoint must reflect it.
	short := &AgentSnapshot{AgentID: "a", Messages: []types.Message{{Role: "system", Content: "s"}}}
	require.NoError(t, store.SaveAgentSnapshot(sess.ID, short))

	snaps, err := store.LoadAgentSnapshots(sess.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Len(t, snaps[0].Messages, 1)
}

func TestFileStoreListFiltersAndOrders(t *testing.T) {
	store := newTestStore(t)

	a := New("alpha", "chain", "h", nil)
	require.NoError(t, store.Create(a, nil))
	time.Sleep(10 * time.Millisecond)

	b := New("beta", "parallel", "h", nil)
	require.NoError(t, store.Create(b, nil))
	b.Metadata.Status = StatusCompleted
	require.NoError(t, store.Save(b))
	time.Sleep(10 * time.Millisecond)

	c := New("alpha", "chain", "h", nil)
	require.NoError(t, store.Create(c, nil))

	all, err := store.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, c.ID, all[0].ID, "newest first")

	completed, err := store.List(ListFilter{Status: StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, b.ID, completed[0].ID)

	alphas, err := store.List(ListFilter{Workflow: "alpha"})
	require.NoError(t, err)
	assert.Len(t, alphas, 2)
}

func TestFileStoreDelete(t *testing.T) {
	store := newTestStore(t)
	sess := New("wf", "chain", "h", nil)
	require.NoError(t, store.Create(sess, nil))

	require.NoError(t, store.Delete(sess.ID))
	_, err := store.Load(sess.ID)
	require.Error(t, err)

	err = store.Delete(sess.ID)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindSession, errdefs.KindOf(err))
}

func TestFileStoreCleanup(t *testing.T) {
	store := newTestStore(t)

	old := New("wf", "chain", "h", nil)
	require.NoError(t, store.Create(old, nil))
	oldCompleted := New("wf", "chain", "h", nil)
	oldCompleted.Metadata.Status = StatusCompleted
	require.NoError(t, store.Create(oldCompleted, nil))

	// Age both sessions by rewriting their records with a stale timestamp.
	for _, s := range []*Session{old, oldCompleted} {
		s.Metadata.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
		data, err := json.Marshal(s)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(store.SessionDir(s.ID), sessionFileName), data, 0o644))
	}

	fresh := New("wf", "chain", "h", nil)
	require.NoError(t, store.Create(fresh, nil))

	removed, err := store.Cleanup(24*time.Hour, true)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining, err := store.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	ids := []string{remaining[0].ID, remaining[1].ID}
	assert.Contains(t, ids, fresh.ID)
	assert.Contains(t, ids, oldCompleted.ID)

	// Without preservation the completed session goes too.
	removed, err = store.Cleanup(24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestFileStoreLockBlocksSecondWriter(t *testing.T) {
	store := newTestStore(t)
	sess := New("wf", "chain", "h", nil)
	require.NoError(t, store.Create(sess, nil))

	// Simulate another live process holding the lock.
	lockPath := filepath.Join(store.SessionDir(sess.ID), lockFileName)
	require.NoError(t, os.WriteFile(lockPath, []byte("9999\n"), 0o644))

	err := store.Save(sess)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindSession, errdefs.KindOf(err))

	// A stale lock is broken and the write proceeds.
	past := time.Now().Add(-10 * time.Minute)
	require.NoError(t, os.Chtimes(lockPath, past, past))
	require.NoError(t, store.Save(sess))
}

func TestFileStoreCorruptSessionHintsRecovery(t *testing.T) {
	store := newTestStore(t)
	sess := New("wf", "chain", "h", nil)
	require.NoError(t, store.Create(sess, nil))

	require.NoError(t, os.WriteFile(
		filepath.Join(store.SessionDir(sess.ID), sessionFileName), []byte("{not json"), 0o644))

	_, err := store.Load(sess.ID)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindSession, errdefs.KindOf(err))
}
