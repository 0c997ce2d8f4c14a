// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package llm carries the cross-provider pieces of the model layer: token
// counting, client-side rate limiting and provider error classification.
// The concrete clients live in the provider subpackages.
package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of a text. Uses the cl100k_base BPE
// when available; falls back to the chars/4 heuristic when the encoding
// cannot be loaded (offline environments). All providers share this counter:
// budgets need consistency across a workflow more than per-model exactness.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE); err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
