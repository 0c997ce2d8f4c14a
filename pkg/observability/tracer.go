// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package observability provides the engine's tracing seam. Executors open a
// span per workflow, step, task, branch and node; the recording tracer keeps
// the spans in memory so the final scope can expose them to output templates.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracer receives span lifecycle calls and point metrics. Implementations
// must be safe for concurrent use: parallel branches share one tracer.
type Tracer interface {
	// StartSpan opens a span and returns its id.
	StartSpan(ctx context.Context, name string, attrs map[string]interface{}) string

	// EndSpan closes the span. A non-nil err marks the span failed.
	EndSpan(spanID string, err error)

	// RecordMetric records a point value (token counts, durations, retries).
	RecordMetric(name string, value float64, attrs map[string]string)
}

// NoopTracer discards everything.
type NoopTracer struct{}

func (NoopTracer) StartSpan(context.Context, string, map[string]interface{}) string { return "" }
func (NoopTracer) EndSpan(string, error)                                            {}
func (NoopTracer) RecordMetric(string, float64, map[string]string)                  {}

// Span is one recorded unit of work.
type Span struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	StartedAt  time.Time              `json:"started_at"`
	EndedAt    time.Time              `json:"ended_at,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
	Error      string                 `json:"error,omitempty"`
	Attrs      map[string]interface{} `json:"attrs,omitempty"`
}

// Metric is one recorded point value.
type Metric struct {
	Name  string            `json:"name"`
	Value float64           `json:"value"`
	At    time.Time         `json:"at"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// RecordingTracer keeps spans and metrics in memory, in start order.
type RecordingTracer struct {
	mu      sync.Mutex
	spans   []*Span
	open    map[string]*Span
	metrics []Metric
	now     func() time.Time
}

// NewRecordingTracer creates an empty recording tracer.
func NewRecordingTracer() *RecordingTracer {
	return &RecordingTracer{
		open: make(map[string]*Span),
		now:  time.Now,
	}
}

func (t *RecordingTracer) StartSpan(_ context.Context, name string, attrs map[string]interface{}) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Span{
		ID:        uuid.NewString(),
		Name:      name,
		StartedAt: t.now(),
		Attrs:     attrs,
	}
	t.spans = append(t.spans, s)
	t.open[s.ID] = s
	return s.ID
}

func (t *RecordingTracer) EndSpan(spanID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.open[spanID]
	if !ok {
		return
	}
	delete(t.open, spanID)
	s.EndedAt = t.now()
	s.DurationMs = s.EndedAt.Sub(s.StartedAt).Milliseconds()
	if err != nil {
		s.Error = err.Error()
	}
}

func (t *RecordingTracer) RecordMetric(name string, value float64, attrs map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = append(t.metrics, Metric{Name: name, Value: value, At: t.now(), Attrs: attrs})
}

// Snapshot returns the trace as a template-friendly document: a span list
// and a metric list under fixed keys. Copies, never the live slices.
func (t *RecordingTracer) Snapshot() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	spans := make([]interface{}, 0, len(t.spans))
	for _, s := range t.spans {
		span := map[string]interface{}{
			"id":          s.ID,
			"name":        s.Name,
			"started_at":  s.StartedAt.UTC().Format(time.RFC3339),
			"duration_ms": s.DurationMs,
		}
		if !s.EndedAt.IsZero() {
			span["ended_at"] = s.EndedAt.UTC().Format(time.RFC3339)
		}
		if s.Error != "" {
			span["error"] = s.Error
		}
		if len(s.Attrs) > 0 {
			span["attrs"] = s.Attrs
		}
		spans = append(spans, span)
	}

	metrics := make([]interface{}, 0, len(t.metrics))
	for _, m := range t.metrics {
		metric := map[string]interface{}{
			"name":  m.Name,
			"value": m.Value,
			"at":    m.At.UTC().Format(time.RFC3339),
		}
		if len(m.Attrs) > 0 {
			metric["attrs"] = m.Attrs
		}
		metrics = append(metrics, metric)
	}

	return map[string]interface{}{
		"spans":   spans,
		"metrics": metrics,
	}
}
