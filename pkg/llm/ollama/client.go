// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package ollama implements the ModelClient interface over the Ollama
// /api/chat endpoint with native tool calling.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/types"
)

const (
	defaultHost    = "http://localhost:11434"
	defaultTimeout = 120 * time.Second
)

// Config holds configuration for the Ollama client.
type Config struct {
	Host        string
	Model       string
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Timeout     time.Duration

	RateLimiter llm.RateLimiterConfig
}

// Client talks to a local or remote Ollama server.
type Client struct {
	host        string
	model       string
	maxTokens   int
	temperature *float64
	topP        *float64
	httpClient  *http.Client
	limiter     *llm.RateLimiter
}

// NewClient creates an Ollama client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		host:        cfg.Host,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     llm.NewRateLimiter(cfg.RateLimiter),
	}, nil
}

func (c *Client) Provider() string { return "ollama" }

func (c *Client) Model() string { return c.model }

func (c *Client) CountTokens(text string) int { return llm.CountTokens(text) }

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description,omitempty"`
		Parameters  map[string]interface{} `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []chatMessage          `json:"messages"`
	Tools    []chatTool             `json:"tools,omitempty"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type chatResponse struct {
	Message         chatMessage `json:"message"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Invoke sends the conversation with stream disabled and returns the final
// message. Ollama does not assign tool-call ids, so the client mints them.
func (c *Client) Invoke(ctx context.Context, messages []types.Message, tools []types.ToolSchema) (*types.ModelResponse, error) {
	req := chatRequest{
		Model:    c.model,
		Messages: convertMessages(messages),
		Stream:   false,
	}
	for _, t := range tools {
		var ct chatTool
		ct.Type = "function"
		ct.Function.Name = t.Name
		ct.Function.Description = t.Description
		ct.Function.Parameters = t.InputSchema
		req.Tools = append(req.Tools, ct)
	}

	options := map[string]interface{}{}
	if c.maxTokens > 0 {
		options["num_predict"] = c.maxTokens
	}
	if c.temperature != nil {
		options["temperature"] = *c.temperature
	}
	if c.topP != nil {
		options["top_p"] = *c.topP
	}
	if len(options) > 0 {
		req.Options = options
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyProviderError(err, "ollama")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, llm.ClassifyProviderError(err, "ollama")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, llm.ClassifyHTTPError(httpResp.StatusCode, string(respBody), "ollama")
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	resp := &types.ModelResponse{
		Content:    parsed.Message.Content,
		StopReason: parsed.DoneReason,
		Usage: types.Usage{
			InputTokens:  parsed.PromptEvalCount,
			OutputTokens: parsed.EvalCount,
			TotalTokens:  parsed.PromptEvalCount + parsed.EvalCount,
		},
	}
	for _, tc := range parsed.Message.ToolCalls {
		input := tc.Function.Arguments
		if input == nil {
			input = map[string]interface{}{}
		}
		resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
			ID:    uuid.NewString(),
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	c.limiter.RecordTokenUsage(resp.Usage.TotalTokens)
	return resp, nil
}

func convertMessages(messages []types.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system", "user":
			out = append(out, chatMessage{Role: msg.Role, Content: msg.Content})

		case "assistant":
			m := chatMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				var call chatToolCall
				call.Function.Name = tc.Name
				call.Function.Arguments = tc.Input
				m.ToolCalls = append(m.ToolCalls, call)
			}
			out = append(out, m)

		case "tool":
			if msg.ToolResult == nil {
				continue
			}
			out = append(out, chatMessage{Role: "tool", Content: msg.ToolResult.Content})
		}
	}
	return out
}

var _ types.ModelClient = (*Client)(nil)
