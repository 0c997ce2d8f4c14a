// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package spec

import (
	"strconv"
	"strings"

	"github.com/teradata-labs/weft/pkg/errdefs"
)

// ParseOverrides splits CLI-style key=value strings into a map. Malformed
// entries are usage errors.
func ParseOverrides(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, errdefs.New(errdefs.KindUsage, "malformed input override %q", arg).
				Hint("inputs are passed as key=value")
		}
		out[key] = value
	}
	return out, nil
}

// ResolveInputs coerces raw overrides against the declared inputs schema and
// applies defaults. Missing required inputs and coercion failures are usage
// errors; overrides for undeclared inputs are rejected.
func (s *Spec) ResolveInputs(overrides map[string]string) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(s.Inputs))

	for key := range overrides {
		if _, ok := s.Inputs[key]; !ok {
			return nil, errdefs.New(errdefs.KindUsage, "unknown input %q", key).
				Hint("declare the input under `inputs` or remove the override")
		}
	}

	for name, decl := range s.Inputs {
		raw, provided := overrides[name]
		if !provided {
			if decl.Default != nil {
				resolved[name] = decl.Default
				continue
			}
			if decl.Required {
				return nil, errdefs.New(errdefs.KindUsage, "missing required input %q", name).
					At("/inputs/" + name)
			}
			continue
		}

		value, err := coerceInput(name, decl, raw)
		if err != nil {
			return nil, err
		}
		resolved[name] = value
	}

	return resolved, nil
}

func coerceInput(name string, decl InputDecl, raw string) (interface{}, error) {
	if len(decl.Enum) > 0 {
		ok := false
		for _, allowed := range decl.Enum {
			if raw == allowed {
				ok = true
				break
			}
		}
		if !ok {
			return nil, errdefs.New(errdefs.KindUsage, "input %q value %q is not in enum %v", name, raw, decl.Enum).
				At("/inputs/" + name)
		}
	}

	switch decl.Type {
	case "string", "":
		return raw, nil
	case "integer":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errdefs.New(errdefs.KindUsage, "input %q: %q is not an integer", name, raw).
				At("/inputs/" + name)
		}
		return n, nil
	case "number":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errdefs.New(errdefs.KindUsage, "input %q: %q is not a number", name, raw).
				At("/inputs/" + name)
		}
		return f, nil
	case "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errdefs.New(errdefs.KindUsage, "input %q: %q is not a boolean", name, raw).
				At("/inputs/" + name)
		}
		return b, nil
	default:
		return nil, errdefs.New(errdefs.KindUsage, "input %q has unsupported type %q", name, decl.Type).
			At("/inputs/" + name)
	}
}
