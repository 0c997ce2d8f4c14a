// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/errdefs"
)

type fakeTool struct {
	name    string
	effect  SideEffectClass
	execute func(ctx context.Context, params map[string]interface{}) (*Result, error)
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "fake tool" }
func (f *fakeTool) SideEffect() SideEffectClass { return f.effect }

func (f *fakeTool) InputSchema() *JSONSchema {
	return NewObjectSchema("params", map[string]*JSONSchema{
		"value": NewStringSchema("a value"),
	}, []string{"value"})
}

func (f *fakeTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	if f.execute != nil {
		return f.execute(ctx, params)
	}
	return &Result{Success: true, Data: params["value"]}, nil
}

func TestRegistryRegisterAndList(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&fakeTool{name: "zeta", effect: SideEffectPure})
	r.Register(&fakeTool{name: "alpha", effect: SideEffectPure})

	assert.True(t, r.IsRegistered("alpha"))
	assert.False(t, r.IsRegistered("missing"))
	assert.Equal(t, []string{"alpha", "zeta"}, r.List())
}

func TestRegistryInvokeUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Invoke(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindTool, errdefs.KindOf(err))
}

func TestRegistryInvokeValidatesInput(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&fakeTool{name: "echo", effect: SideEffectPure})

	_, err := r.Invoke(context.Background(), "echo", map[string]interface{}{})
	require.Error(t, err)

	res, err := r.Invoke(context.Background(), "echo", map[string]interface{}{"value": "hi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Data)
}

func TestRegistryInvokeAppliesDeadline(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&fakeTool{
		name:   "deadline",
		effect: SideEffectPure,
		execute: func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
			_, ok := ctx.Deadline()
			return &Result{Success: ok}, nil
		},
	})

	res, err := r.Invoke(context.Background(), "deadline", map[string]interface{}{"value": "x"})
	require.NoError(t, err)
	assert.True(t, res.Success, "registry should set a default deadline")
}

func TestRegistryInvokeGuardsNetworkTools(t *testing.T) {
	r := NewRegistry(NewGuard(GuardConfig{}))
	r.Register(&fakeTool{name: "net", effect: SideEffectNetwork})

	_, err := r.Invoke(context.Background(), "net", map[string]interface{}{
		"value": "x",
		"url":   "http://127.0.0.1/admin",
	})
	require.Error(t, err)
	assert.Equal(t, errdefs.KindTool, errdefs.KindOf(err))
}
