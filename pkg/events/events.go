// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package events carries the typed workflow event stream. Executors publish
// lifecycle events; the CLI and tests subscribe. Subscribers are isolated:
// a slow or stalled subscriber drops events instead of blocking execution.
package events

import (
	"sync"
	"time"
)

// Type identifies a workflow event.
type Type string

const (
	WorkflowStart    Type = "workflow_start"
	WorkflowComplete Type = "workflow_complete"
	WorkflowError    Type = "workflow_error"
	StepComplete     Type = "step_complete"
	TaskComplete     Type = "task_complete"
	BranchComplete   Type = "branch_complete"
	NodeComplete     Type = "node_complete"
	RouteChosen      Type = "route_chosen"
	InterruptPending Type = "interrupt_pending"
	BudgetWarning    Type = "budget_warning"
	CompactionRun    Type = "compaction_run"
)

// Event is one workflow occurrence. Payload keys are event-specific;
// subscribers receive their own copy and may not share maps.
type Event struct {
	Type      Type                   `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	Workflow  string                 `json:"workflow,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// subscriberBuffer bounds each subscriber's queue.
const subscriberBuffer = 100

// Bus fans events out to subscribers. Publishing never blocks: a full
// subscriber channel drops the event for that subscriber only.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a subscriber and returns its receive channel.
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish delivers the event to every subscriber. Each subscriber gets its
// own payload copy.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		ev := event
		if event.Payload != nil {
			ev.Payload = make(map[string]interface{}, len(event.Payload))
			for k, v := range event.Payload {
				ev.Payload[k] = v
			}
		}
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than stall the run.
		}
	}
}

// Close closes every subscriber channel. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[chan Event]struct{})
}
