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

// ElseSentinel is the catch-all condition for routing and graph edges.
// It matches when no earlier condition did.
const ElseSentinel = "else"

// EvalCondition evaluates a restricted boolean expression against the scope.
// The language covers equality/ordering, string containment, &&, ||, !,
// parentheses, literals and dotted scope lookups. There are no lambdas and
// no attribute dereference beyond dotted lookups.
func EvalCondition(expr string, scope Scope) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == ElseSentinel {
		return true, nil
	}
	toks, err := lexCondition(expr)
	if err != nil {
		return false, err
	}
	p := &condParser{expr: expr, toks: toks}
	result, err := p.parseOr(scope)
	if err != nil {
		return false, err
	}
	if !p.done() {
		return false, condErr(expr, "unexpected trailing tokens")
	}
	return truthy(result), nil
}

func condErr(expr, reason string) error {
	return securityErr(expr, fmt.Sprintf("invalid condition: %s", reason))
}

type tokKind int

const (
	tokOperand tokKind = iota
	tokOp
	tokNot
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
}

func lexCondition(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case strings.HasPrefix(expr[i:], "&&"):
			toks = append(toks, token{tokAnd, "&&"})
			i += 2
		case strings.HasPrefix(expr[i:], "||"):
			toks = append(toks, token{tokOr, "||"})
			i += 2
		case strings.HasPrefix(expr[i:], "=="), strings.HasPrefix(expr[i:], "!="),
			strings.HasPrefix(expr[i:], "<="), strings.HasPrefix(expr[i:], ">="):
			toks = append(toks, token{tokOp, expr[i : i+2]})
			i += 2
		case c == '<' || c == '>':
			toks = append(toks, token{tokOp, string(c)})
			i++
		case c == '!':
			toks = append(toks, token{tokNot, "!"})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(expr[i+1:], c)
			if end < 0 {
				return nil, condErr(expr, "unterminated string literal")
			}
			toks = append(toks, token{tokOperand, expr[i : i+end+2]})
			i += end + 2
		default:
			j := i
			for j < len(expr) && !strings.ContainsRune(" \t()!<>=&|'\"", rune(expr[j])) {
				j++
			}
			word := expr[i:j]
			if word == "contains" {
				toks = append(toks, token{tokOp, word})
			} else {
				toks = append(toks, token{tokOperand, word})
			}
			i = j
		}
	}
	if len(toks) == 0 {
		return nil, condErr(expr, "empty expression")
	}
	return toks, nil
}

type condParser struct {
	expr string
	toks []token
	pos  int
}

func (p *condParser) done() bool { return p.pos >= len(p.toks) }

func (p *condParser) peek() (token, bool) {
	if p.done() {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *condParser) parseOr(scope Scope) (interface{}, error) {
	left, err := p.parseAnd(scope)
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd(scope)
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
}

func (p *condParser) parseAnd(scope Scope) (interface{}, error) {
	left, err := p.parseUnary(scope)
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary(scope)
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
}

func (p *condParser) parseUnary(scope Scope) (interface{}, error) {
	t, ok := p.peek()
	if !ok {
		return nil, condErr(p.expr, "expected operand")
	}
	if t.kind == tokNot {
		p.pos++
		v, err := p.parseUnary(scope)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return p.parseComparison(scope)
}

func (p *condParser) parseComparison(scope Scope) (interface{}, error) {
	left, err := p.parsePrimary(scope)
	if err != nil {
		return nil, err
	}
	t, ok := p.peek()
	if !ok || t.kind != tokOp {
		return left, nil
	}
	p.pos++
	right, err := p.parsePrimary(scope)
	if err != nil {
		return nil, err
	}
	return compare(p.expr, t.text, left, right)
}

func (p *condParser) parsePrimary(scope Scope) (interface{}, error) {
	t, ok := p.peek()
	if !ok {
		return nil, condErr(p.expr, "expected operand")
	}
	switch t.kind {
	case tokLParen:
		p.pos++
		v, err := p.parseOr(scope)
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, condErr(p.expr, "missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case tokOperand:
		p.pos++
		return p.resolveOperand(t.text, scope)
	default:
		return nil, condErr(p.expr, fmt.Sprintf("unexpected token %q", t.text))
	}
}

func (p *condParser) resolveOperand(text string, scope Scope) (interface{}, error) {
	if lit, ok := parseLiteral(text); ok {
		return lit, nil
	}
	if err := checkPathAccess(text); err != nil {
		return nil, err
	}
	v, _ := scope.Lookup(text)
	return v, nil
}

func compare(expr, op string, left, right interface{}) (interface{}, error) {
	if op == "contains" {
		return strings.Contains(Stringify(left), Stringify(right)), nil
	}

	lnum, lok := toNumber(left)
	rnum, rok := toNumber(right)
	if lok && rok {
		switch op {
		case "==":
			return lnum == rnum, nil
		case "!=":
			return lnum != rnum, nil
		case "<":
			return lnum < rnum, nil
		case "<=":
			return lnum <= rnum, nil
		case ">":
			return lnum > rnum, nil
		case ">=":
			return lnum >= rnum, nil
		}
	}

	ls, rs := Stringify(left), Stringify(right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	}
	return nil, condErr(expr, fmt.Sprintf("unknown operator %q", op))
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}
