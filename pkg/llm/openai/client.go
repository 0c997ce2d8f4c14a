// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package openai implements the ModelClient interface over the OpenAI chat
// completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/types"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Config holds configuration for the OpenAI client.
type Config struct {
	// APIKey defaults to the OPENAI_API_KEY environment variable.
	APIKey string

	// BaseURL overrides the API endpoint (proxies, compatible servers).
	BaseURL string

	Model       string
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Timeout     time.Duration

	RateLimiter llm.RateLimiterConfig
}

// Client talks to the chat completions endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature *float64
	topP        *float64
	httpClient  *http.Client
	limiter     *llm.RateLimiter
}

// NewClient creates an OpenAI client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required (set OPENAI_API_KEY)")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     llm.NewRateLimiter(cfg.RateLimiter),
	}, nil
}

func (c *Client) Provider() string { return "openai" }

func (c *Client) Model() string { return c.model }

func (c *Client) CountTokens(text string) int { return llm.CountTokens(text) }

// Wire types for the chat completions API.
type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiToolCall struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Function apiFunction `json:"function"`
}

type apiFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type apiTool struct {
	Type     string         `json:"type"`
	Function apiToolFuncDef `json:"function"`
}

type apiToolFuncDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Tools       []apiTool    `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
}

type apiResponse struct {
	Choices []struct {
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Invoke sends the conversation and returns the first choice.
func (c *Client) Invoke(ctx context.Context, messages []types.Message, tools []types.ToolSchema) (*types.ModelResponse, error) {
	req := apiRequest{
		Model:       c.model,
		Messages:    convertMessages(messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, apiTool{
			Type: "function",
			Function: apiToolFuncDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyProviderError(err, "openai")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, llm.ClassifyProviderError(err, "openai")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, llm.ClassifyHTTPError(httpResp.StatusCode, string(respBody), "openai")
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	choice := parsed.Choices[0]
	resp := &types.ModelResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: types.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		call := types.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: map[string]interface{}{},
		}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &call.Input)
		}
		resp.ToolCalls = append(resp.ToolCalls, call)
	}

	c.limiter.RecordTokenUsage(resp.Usage.TotalTokens)
	return resp, nil
}

func convertMessages(messages []types.Message) []apiMessage {
	out := make([]apiMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system", "user":
			out = append(out, apiMessage{Role: msg.Role, Content: msg.Content})

		case "assistant":
			m := apiMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Input)
				m.ToolCalls = append(m.ToolCalls, apiToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: apiFunction{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, m)

		case "tool":
			if msg.ToolResult == nil {
				continue
			}
			out = append(out, apiMessage{
				Role:       "tool",
				Content:    msg.ToolResult.Content,
				ToolCallID: msg.ToolResult.ToolUseID,
			})
		}
	}
	return out
}

var _ types.ModelClient = (*Client)(nil)
