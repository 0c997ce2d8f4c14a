// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teradata-labs/weft/pkg/tools"
)

// CalculatorTool evaluates basic arithmetic expressions. Pure: no I/O, no
// side effects, safe to run without guards.
type CalculatorTool struct{}

// NewCalculatorTool creates a calculator tool.
func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Name() string { return "calculator" }

func (t *CalculatorTool) SideEffect() tools.SideEffectClass { return tools.SideEffectPure }

func (t *CalculatorTool) Description() string {
	return `Evaluates arithmetic expressions with +, -, *, /, parentheses and decimal numbers.`
}

func (t *CalculatorTool) InputSchema() *tools.JSONSchema {
	return tools.NewObjectSchema(
		"Parameters for the calculator",
		map[string]*tools.JSONSchema{
			"expression": tools.NewStringSchema("Arithmetic expression to evaluate (required)"),
		},
		[]string{"expression"},
	)
}

func (t *CalculatorTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.Result, error) {
	start := time.Now()
	expr, _ := params["expression"].(string)

	value, err := evalArithmetic(expr)
	if err != nil {
		return &tools.Result{
			Success: false,
			Error: &tools.Error{
				Code:       "INVALID_EXPRESSION",
				Message:    err.Error(),
				Suggestion: "Only numbers, + - * / and parentheses are supported",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	return &tools.Result{
		Success:         true,
		Data:            map[string]interface{}{"result": value},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// evalArithmetic is a small recursive-descent evaluator. No variables, no
// function calls: the expression language stays closed.
func evalArithmetic(expr string) (float64, error) {
	p := &arithParser{input: strings.TrimSpace(expr)}
	v, err := p.parseAddSub()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return v, nil
}

type arithParser struct {
	input string
	pos   int
}

func (p *arithParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *arithParser) parseAddSub() (float64, error) {
	left, err := p.parseMulDiv()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseMulDiv()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *arithParser) parseMulDiv() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		}
	}
}

func (p *arithParser) parseUnary() (float64, error) {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parsePrimary()
}

func (p *arithParser) parsePrimary() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	if p.input[p.pos] == '(' {
		p.pos++
		v, err := p.parseAddSub()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] == '.' || (p.input[p.pos] >= '0' && p.input[p.pos] <= '9')) {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	return strconv.ParseFloat(p.input[start:p.pos], 64)
}
