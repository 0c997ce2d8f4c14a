// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package bedrock implements the ModelClient interface over the AWS Bedrock
// Converse API.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/types"
)

// DefaultMaxTokens applies when the runtime leaves max_tokens unset.
const DefaultMaxTokens = 4096

// Config holds configuration for the Bedrock client.
type Config struct {
	ModelID string
	Region  string

	// Explicit credentials. Empty means the default AWS chain (env vars,
	// shared config, IAM role).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string

	MaxTokens   int
	Temperature *float64
	TopP        *float64

	RateLimiter llm.RateLimiterConfig
}

// Client talks to Bedrock through the Converse API. One client is shared by
// every agent bound to the same (model, region) pair.
type Client struct {
	client      *bedrockruntime.Client
	modelID     string
	region      string
	maxTokens   int
	temperature *float64
	topP        *float64
	limiter     *llm.RateLimiter
}

// NewClient creates a Bedrock client. Credentials resolve through the
// explicit config, a named profile, or the default chain, in that order.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("bedrock: model id is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("bedrock: region is required")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	case cfg.Profile != "":
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &Client{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		modelID:     cfg.ModelID,
		region:      cfg.Region,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		limiter:     llm.NewRateLimiter(cfg.RateLimiter),
	}, nil
}

// Provider returns the provider name.
func (c *Client) Provider() string { return "bedrock" }

// Model returns the model identifier.
func (c *Client) Model() string { return c.modelID }

// CountTokens estimates token count for budget tracking.
func (c *Client) CountTokens(text string) int { return llm.CountTokens(text) }

// Invoke sends a conversation through the Converse API.
func (c *Client) Invoke(ctx context.Context, messages []types.Message, tools []types.ToolSchema) (*types.ModelResponse, error) {
	systemBlocks, converseMessages := convertMessages(messages)
	if len(converseMessages) == 0 {
		return nil, fmt.Errorf("bedrock: no messages to send")
	}

	inference := &bedrocktypes.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(c.maxTokens)),
	}
	if c.temperature != nil {
		inference.Temperature = aws.Float32(float32(*c.temperature))
	}
	if c.topP != nil {
		inference.TopP = aws.Float32(float32(*c.topP))
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(c.modelID),
		Messages:        converseMessages,
		InferenceConfig: inference,
	}
	if len(systemBlocks) > 0 {
		input.System = systemBlocks
	}
	if len(tools) > 0 {
		input.ToolConfig = convertTools(tools)
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	output, err := c.client.Converse(ctx, input)
	if err != nil {
		return nil, llm.ClassifyProviderError(err, "bedrock")
	}

	resp := &types.ModelResponse{StopReason: string(output.StopReason)}

	if out, ok := output.Output.(*bedrocktypes.ConverseOutputMemberMessage); ok {
		for _, block := range out.Value.Content {
			switch b := block.(type) {
			case *bedrocktypes.ContentBlockMemberText:
				resp.Content += b.Value
			case *bedrocktypes.ContentBlockMemberToolUse:
				call := types.ToolCall{
					ID:    aws.ToString(b.Value.ToolUseId),
					Name:  aws.ToString(b.Value.Name),
					Input: map[string]interface{}{},
				}
				if b.Value.Input != nil {
					if raw, err := json.Marshal(b.Value.Input); err == nil {
						_ = json.Unmarshal(raw, &call.Input)
					}
				}
				resp.ToolCalls = append(resp.ToolCalls, call)
			}
		}
	}

	if output.Usage != nil {
		resp.Usage = types.Usage{
			InputTokens:  int(aws.ToInt32(output.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(output.Usage.TotalTokens)),
		}
	}

	c.limiter.RecordTokenUsage(resp.Usage.TotalTokens)
	return resp, nil
}

// convertMessages maps engine messages onto Converse messages. Bedrock
// requires consecutive tool results to land in a single user message, so
// tool-role messages are aggregated until the next non-tool message.
func convertMessages(messages []types.Message) ([]bedrocktypes.SystemContentBlock, []bedrocktypes.Message) {
	var systemBlocks []bedrocktypes.SystemContentBlock
	var out []bedrocktypes.Message
	var pendingResults []bedrocktypes.ContentBlock

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, bedrocktypes.Message{
				Role:    bedrocktypes.ConversationRoleUser,
				Content: pendingResults,
			})
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if msg.Content != "" {
				systemBlocks = append(systemBlocks, &bedrocktypes.SystemContentBlockMemberText{Value: msg.Content})
			}

		case "user":
			flushResults()
			if msg.Content != "" {
				out = append(out, bedrocktypes.Message{
					Role:    bedrocktypes.ConversationRoleUser,
					Content: []bedrocktypes.ContentBlock{&bedrocktypes.ContentBlockMemberText{Value: msg.Content}},
				})
			}

		case "assistant":
			flushResults()
			var blocks []bedrocktypes.ContentBlock
			if msg.Content != "" {
				blocks = append(blocks, &bedrocktypes.ContentBlockMemberText{Value: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Input
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, &bedrocktypes.ContentBlockMemberToolUse{
					Value: bedrocktypes.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(input),
					},
				})
			}
			if len(blocks) > 0 {
				out = append(out, bedrocktypes.Message{
					Role:    bedrocktypes.ConversationRoleAssistant,
					Content: blocks,
				})
			}

		case "tool":
			if msg.ToolResult == nil {
				continue
			}
			var content bedrocktypes.ToolResultContentBlock
			var parsed interface{}
			if err := json.Unmarshal([]byte(msg.ToolResult.Content), &parsed); err == nil {
				content = &bedrocktypes.ToolResultContentBlockMemberJson{Value: document.NewLazyDocument(parsed)}
			} else {
				content = &bedrocktypes.ToolResultContentBlockMemberText{Value: msg.ToolResult.Content}
			}
			status := bedrocktypes.ToolResultStatusSuccess
			if msg.ToolResult.IsError {
				status = bedrocktypes.ToolResultStatusError
			}
			pendingResults = append(pendingResults, &bedrocktypes.ContentBlockMemberToolResult{
				Value: bedrocktypes.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolResult.ToolUseID),
					Content:   []bedrocktypes.ToolResultContentBlock{content},
					Status:    status,
				},
			})
		}
	}
	flushResults()

	return systemBlocks, out
}

func convertTools(tools []types.ToolSchema) *bedrocktypes.ToolConfiguration {
	var out []bedrocktypes.Tool
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		out = append(out, &bedrocktypes.ToolMemberToolSpec{
			Value: bedrocktypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &bedrocktypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &bedrocktypes.ToolConfiguration{Tools: out}
}

var _ types.ModelClient = (*Client)(nil)
