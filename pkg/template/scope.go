// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package template

import (
	"fmt"
	"strconv"
	"strings"
)

// Scope is the read-only mapping of accumulated outputs and inputs available
// to template and expression evaluation. Lookup is dotted-path traversal over
// nested maps; live objects are never reflected on, which preserves the
// sandbox regardless of what values a caller stores.
type Scope map[string]interface{}

// NewScope creates an empty scope.
func NewScope() Scope {
	return make(Scope)
}

// Set stores a top-level value.
func (s Scope) Set(key string, value interface{}) {
	s[key] = value
}

// SetPath stores a value at a dotted path, creating intermediate maps.
func (s Scope) SetPath(path string, value interface{}) {
	parts := strings.Split(path, ".")
	cur := map[string]interface{}(s)
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// Lookup resolves a dotted path. The second return reports whether every
// segment resolved. Only map traversal and numeric list indexing are
// supported; attribute access on arbitrary values is not.
func (s Scope) Lookup(path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = map[string]interface{}(s)
	for _, p := range parts {
		switch v := cur.(type) {
		case map[string]interface{}:
			next, ok := v[p]
			if !ok {
				return nil, false
			}
			cur = next
		case Scope:
			next, ok := v[p]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a shallow copy of the scope's top level. Executors hand
// clones to concurrent branches so one branch's additions never leak into
// another's view.
func (s Scope) Clone() Scope {
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Stringify renders a scope value the way templates embed it: strings pass
// through, everything else uses the default Go formatting.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// Render whole floats without the trailing .0 that YAML decoding introduces.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
