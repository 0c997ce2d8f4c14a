// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"encoding/json"
	"strings"
)

// decodeModelJSON parses a JSON value out of a model response. Models often
// wrap JSON in Markdown fences or prose; this strips fences and trims to
// the outermost object or array before the strict parse.
func decodeModelJSON(text string, v interface{}) error {
	s := strings.TrimSpace(text)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return json.Unmarshal([]byte(s), v)
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndexByte(s, '}')
	} else {
		end = strings.LastIndexByte(s, ']')
	}
	if end <= start {
		return json.Unmarshal([]byte(s), v)
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}
