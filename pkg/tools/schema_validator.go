// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"fmt"

	"github.com/teradata-labs/weft/pkg/errdefs"
)

// ValidateInput checks tool parameters against the tool's input schema
// before execution. Only the subset of JSON Schema the builders emit is
// checked: required fields, primitive types, enums and numeric bounds.
func ValidateInput(schema *JSONSchema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	for _, req := range schema.Required {
		if _, ok := params[req]; !ok {
			return errdefs.New(errdefs.KindTool, "missing required parameter %q", req)
		}
	}
	for name, value := range params {
		prop, ok := schema.Properties[name]
		if !ok {
			continue
		}
		if err := validateValue(name, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(name string, schema *JSONSchema, value interface{}) error {
	switch schema.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return typeErr(name, "string", value)
		}
		if len(schema.Enum) > 0 && !enumContains(schema.Enum, s) {
			return errdefs.New(errdefs.KindTool, "parameter %q value %q not in enum", name, s)
		}
	case "number", "integer":
		n, ok := toFloat(value)
		if !ok {
			return typeErr(name, schema.Type, value)
		}
		if schema.Minimum != nil && n < *schema.Minimum {
			return errdefs.New(errdefs.KindTool, "parameter %q below minimum %v", name, *schema.Minimum)
		}
		if schema.Maximum != nil && n > *schema.Maximum {
			return errdefs.New(errdefs.KindTool, "parameter %q above maximum %v", name, *schema.Maximum)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return typeErr(name, "boolean", value)
		}
	case "object":
		if _, ok := value.(map[string]interface{}); !ok {
			return typeErr(name, "object", value)
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			return typeErr(name, "array", value)
		}
	}
	return nil
}

func typeErr(name, want string, got interface{}) error {
	return errdefs.New(errdefs.KindTool, "parameter %q must be %s, got %s", name, want, fmt.Sprintf("%T", got))
}

func enumContains(enum []interface{}, v interface{}) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
