// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"sync"
	"time"

	"github.com/teradata-labs/weft/pkg/types"
)

// Conversation is an agent's message history plus cumulative token usage.
// Handles are shared between executors and the cache, so all access is
// locked.
type Conversation struct {
	mu       sync.Mutex
	messages []types.Message
	usage    types.Usage
}

// NewConversation creates a conversation seeded with a system prompt.
func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{}
	if systemPrompt != "" {
		c.messages = append(c.messages, types.Message{
			Role:      "system",
			Content:   systemPrompt,
			Timestamp: time.Now(),
		})
	}
	return c
}

// Append adds a message.
func (c *Conversation) Append(msg types.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the message count.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Replace swaps the entire history. Used by compaction, which rewrites
// older messages into a summary.
func (c *Conversation) Replace(messages []types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]types.Message, len(messages))
	copy(c.messages, messages)
}

// AddUsage accumulates token usage from one model call.
func (c *Conversation) AddUsage(u types.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Add(u)
}

// Usage returns cumulative token usage.
func (c *Conversation) Usage() types.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Restore replaces history and usage wholesale, for session resume.
func (c *Conversation) Restore(messages []types.Message, usage types.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]types.Message, len(messages))
	copy(c.messages, messages)
	c.usage = usage
}
