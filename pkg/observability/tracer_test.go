// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingTracerSpans(t *testing.T) {
	tr := NewRecordingTracer()
	ctx := context.Background()

	id1 := tr.StartSpan(ctx, "workflow", map[string]interface{}{"pattern": "chain"})
	id2 := tr.StartSpan(ctx, "step", nil)
	tr.EndSpan(id2, nil)
	tr.EndSpan(id1, errors.New("boom"))
	tr.EndSpan("unknown", nil) // ignored

	snap := tr.Snapshot()
	spans, ok := snap["spans"].([]interface{})
	require.True(t, ok)
	require.Len(t, spans, 2)

	first := spans[0].(map[string]interface{})
	assert.Equal(t, "workflow", first["name"])
	assert.Equal(t, "boom", first["error"])
	assert.Equal(t, map[string]interface{}{"pattern": "chain"}, first["attrs"])

	second := spans[1].(map[string]interface{})
	assert.Equal(t, "step", second["name"])
	_, failed := second["error"]
	assert.False(t, failed)
}

func TestRecordingTracerMetrics(t *testing.T) {
	tr := NewRecordingTracer()
	tr.RecordMetric("tokens.total", 1234, map[string]string{"agent": "writer"})

	snap := tr.Snapshot()
	metrics := snap["metrics"].([]interface{})
	require.Len(t, metrics, 1)
	m := metrics[0].(map[string]interface{})
	assert.Equal(t, "tokens.total", m["name"])
	assert.Equal(t, 1234.0, m["value"])
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := NewRecordingTracer()
	tr.StartSpan(context.Background(), "a", nil)

	snap := tr.Snapshot()
	spans := snap["spans"].([]interface{})
	spans[0] = nil

	again := tr.Snapshot()
	assert.NotNil(t, again["spans"].([]interface{})[0])
}
