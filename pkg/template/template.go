// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package template implements the sandboxed {{...}} substitution engine and
// the restricted boolean-expression evaluator used for routing and graph
// edges. Substitutions are dotted lookups into a Scope with a fixed filter
// whitelist; there is no call syntax, no attribute traversal into runtime
// internals, and no file or environment access.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/teradata-labs/weft/pkg/errdefs"
)

// SecurityError reports a sandbox violation: an unknown filter, malformed
// filter arguments, or a disallowed access. It is fatal and never retried.
type SecurityError struct {
	Expr   string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("template security violation in %q: %s", e.Expr, e.Reason)
}

func securityErr(expr, reason string) error {
	return errdefs.Wrap(&SecurityError{Expr: expr, Reason: reason}, errdefs.KindTemplate,
		"template security violation in %q: %s", expr, reason)
}

var placeholderRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// filterCall is one parsed element of a filter chain.
type filterCall struct {
	name string
	args []interface{}
}

// Render substitutes every {{ path | filter(args) }} placeholder in the
// template with values from the scope. Unresolvable paths render as the
// empty string; unknown filters fail with a SecurityError.
func Render(tmpl string, scope Scope) (string, error) {
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}
		inner := strings.TrimSpace(match[2 : len(match)-2])
		val, err := evalPlaceholder(inner, scope)
		if err != nil {
			firstErr = err
			return match
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func evalPlaceholder(expr string, scope Scope) (string, error) {
	segments := splitPipeline(expr)
	path := strings.TrimSpace(segments[0])

	if err := checkPathAccess(path); err != nil {
		return "", err
	}

	var value interface{}
	if lit, ok := parseLiteral(path); ok {
		value = lit
	} else {
		value, _ = scope.Lookup(path)
	}

	for _, seg := range segments[1:] {
		call, err := parseFilter(strings.TrimSpace(seg))
		if err != nil {
			return "", err
		}
		value, err = applyFilter(expr, call, value)
		if err != nil {
			return "", err
		}
	}

	return Stringify(value), nil
}

// splitPipeline splits on '|' outside of quotes.
func splitPipeline(expr string) []string {
	var segs []string
	var cur strings.Builder
	inQuote := rune(0)
	for _, r := range expr {
		switch {
		case inQuote != 0:
			cur.WriteRune(r)
			if r == inQuote {
				inQuote = 0
			}
		case r == '\'' || r == '"':
			inQuote = r
			cur.WriteRune(r)
		case r == '|':
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	segs = append(segs, cur.String())
	return segs
}

// checkPathAccess rejects anything that is not a plain dotted lookup:
// call syntax, indexing brackets, or dunder-style traversal.
func checkPathAccess(path string) error {
	if _, ok := parseLiteral(path); ok {
		return nil
	}
	if strings.ContainsAny(path, "()[]") {
		return securityErr(path, "call or index syntax is not allowed")
	}
	if strings.Contains(path, "__") {
		return securityErr(path, "disallowed attribute access")
	}
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return securityErr(path, "empty path segment")
		}
	}
	return nil
}

var filterRe = regexp.MustCompile(`^([a-z_]+)(?:\((.*)\))?$`)

func parseFilter(seg string) (filterCall, error) {
	m := filterRe.FindStringSubmatch(seg)
	if m == nil {
		return filterCall{}, securityErr(seg, "malformed filter")
	}
	call := filterCall{name: m[1]}
	if m[2] != "" {
		for _, raw := range splitArgs(m[2]) {
			lit, ok := parseLiteral(strings.TrimSpace(raw))
			if !ok {
				return filterCall{}, securityErr(seg, "filter arguments must be literals")
			}
			call.args = append(call.args, lit)
		}
	}
	return call, nil
}

func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	inQuote := rune(0)
	for _, r := range s {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			inQuote = r
			cur.WriteRune(r)
		case r == ',':
			args = append(args, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}

// parseLiteral recognizes quoted strings, numbers and booleans.
func parseLiteral(s string) (interface{}, bool) {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	if s == "true" {
		return true, true
	}
	if s == "false" {
		return false, true
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n, true
	}
	return nil, false
}

// applyFilter dispatches over the fixed whitelist. Anything else is a
// sandbox violation.
func applyFilter(expr string, call filterCall, value interface{}) (interface{}, error) {
	switch call.name {
	case "truncate":
		if len(call.args) != 1 {
			return nil, securityErr(expr, "truncate requires one numeric argument")
		}
		n, ok := call.args[0].(float64)
		if !ok || n < 0 {
			return nil, securityErr(expr, "truncate requires a non-negative number")
		}
		s := Stringify(value)
		// Truncate on rune boundaries so a multi-byte sequence is never
		// split mid-character.
		r := []rune(s)
		if limit := int(n); len(r) > limit {
			return string(r[:limit]) + "...", nil
		}
		return s, nil

	case "tojson":
		b, err := json.Marshal(value)
		if err != nil {
			return nil, securityErr(expr, "value is not JSON-serializable")
		}
		return string(b), nil

	case "title":
		return strings.Title(strings.ToLower(Stringify(value))), nil //nolint:staticcheck

	case "length":
		switch v := value.(type) {
		case string:
			return float64(len(v)), nil
		case []interface{}:
			return float64(len(v)), nil
		case map[string]interface{}:
			return float64(len(v)), nil
		default:
			return float64(len(Stringify(value))), nil
		}

	case "default":
		if len(call.args) != 1 {
			return nil, securityErr(expr, "default requires one argument")
		}
		if value == nil || Stringify(value) == "" {
			return call.args[0], nil
		}
		return value, nil

	case "join":
		if len(call.args) != 1 {
			return nil, securityErr(expr, "join requires one separator argument")
		}
		sep, ok := call.args[0].(string)
		if !ok {
			return nil, securityErr(expr, "join separator must be a string")
		}
		list, ok := value.([]interface{})
		if !ok {
			return nil, securityErr(expr, "join requires a list value")
		}
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = Stringify(item)
		}
		return strings.Join(parts, sep), nil

	default:
		return nil, securityErr(expr, fmt.Sprintf("unknown filter %q", call.name))
	}
}
