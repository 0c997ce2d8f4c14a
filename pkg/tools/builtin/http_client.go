// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package builtin provides the built-in tool set: HTTP requests, sandboxed
// file access, grep and a calculator. Tools register into a tools.Registry
// by name; the capability gate checks that every tool a spec references is
// either built-in or declared.
package builtin

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teradata-labs/weft/pkg/tools"
)

// maxHTTPResponseBytes bounds the body fed back into model context.
const maxHTTPResponseBytes = 256 * 1024

// HTTPClientTool makes HTTP requests to APIs. The registry guard screens
// the URL on every call, so a redirect target or templated URL cannot
// bypass SSRF screening at load time.
type HTTPClientTool struct {
	client *http.Client
}

// NewHTTPClientTool creates an HTTP client tool with pooled transport.
func NewHTTPClientTool() *HTTPClientTool {
	return &HTTPClientTool{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (t *HTTPClientTool) Name() string { return "http_request" }

func (t *HTTPClientTool) SideEffect() tools.SideEffectClass { return tools.SideEffectNetwork }

func (t *HTTPClientTool) Description() string {
	return `Makes HTTP requests to APIs and websites. Supports GET, POST, PUT, DELETE, PATCH methods.
Returns response body and status code. Automatically handles JSON content.`
}

func (t *HTTPClientTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema(
		"Parameters for HTTP request",
		map[string]*tools.JSONSchema{
			"url": tools.NewStringSchema("The URL to request (required)").WithFormat("uri"),
			"method": tools.NewStringSchema("HTTP method (default: GET)").
				WithEnum("GET", "POST", "PUT", "DELETE", "PATCH").
				WithDefault("GET"),
			"headers": tools.NewObjectSchema("HTTP headers to send", nil, nil),
			"body":    tools.NewStringSchema("Request body (for POST/PUT/PATCH)"),
		},
		[]string{"url"},
	)
}

func (t *HTTPClientTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	start := time.Now()

	url, _ := params["url"].(string)
	method := "GET"
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	var body io.Reader
	if b, ok := params["body"].(string); ok && b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:       "INVALID_REQUEST",
				Message:    err.Error(),
				Suggestion: "Check the URL and method",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	if headers, ok := params["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// Transport failures on HTTP tools are the one clearly transient
		// tool error class.
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:      "REQUEST_FAILED",
				Message:   err.Error(),
				Retryable: true,
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
	if err != nil {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:      "READ_FAILED",
				Message:   err.Error(),
				Retryable: true,
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	return &tools.Result{
		Success: resp.StatusCode < 400,
		Data: map[string]interface{}{
			"status_code": resp.StatusCode,
			"body":        string(data),
		},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
