// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package spec

import (
	"fmt"
	"os"
	"sort"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/weft/pkg/errdefs"
)

// Top-level keys the contract recognizes. Anything else produces a
// capability warning.
var knownTopLevelKeys = map[string]bool{
	"version": true, "name": true, "runtime": true, "inputs": true,
	"agents": true, "tools": true, "pattern": true, "outputs": true,
	"context_policy": true, "security": true, "telemetry": true,
}

// Load reads and parses a workflow spec from a YAML file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Wrap(err, errdefs.KindUsage, "spec file not found: %s", path)
		}
		return nil, errdefs.Wrap(err, errdefs.KindIO, "failed to read spec file: %s", path)
	}
	return Parse(data)
}

// Parse parses workflow spec bytes. The document is first checked against
// the JSON Schema contract (schema errors carry exit code 3), then decoded
// into the typed model.
func Parse(data []byte) (*Spec, error) {
	// Decode generically once for schema validation and unknown-key capture.
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindSchema, "invalid YAML syntax")
	}
	if doc == nil {
		return nil, errdefs.New(errdefs.KindSchema, "empty spec document")
	}

	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindSchema, "spec does not match the expected structure")
	}
	s.Raw = append([]byte(nil), data...)

	for key := range doc {
		if !knownTopLevelKeys[key] {
			s.UnknownKeys = append(s.UnknownKeys, key)
		}
	}
	sort.Strings(s.UnknownKeys)

	return &s, nil
}

// validateSchema checks the generic document against the embedded JSON
// Schema. Violations are schema errors, distinct from capability-gate
// violations.
func validateSchema(doc map[string]interface{}) error {
	schemaLoader := gojsonschema.NewStringLoader(documentSchema)
	docLoader := gojsonschema.NewGoLoader(normalizeForJSON(doc))

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindSchema, "schema validation failed to run")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		sort.Strings(msgs)
		return errdefs.New(errdefs.KindSchema, "spec rejected by schema: %v", msgs)
	}
	return nil
}

// normalizeForJSON converts YAML-decoded values into JSON-compatible ones.
// yaml.v3 already produces map[string]interface{}, but nested integer keys
// and binary values would break the gojsonschema Go loader.
func normalizeForJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeForJSON(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeForJSON(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeForJSON(val)
		}
		return out
	default:
		return v
	}
}

// UnmarshalYAML accepts both `version: 0` and `version: "0"`.
func (v *VersionString) UnmarshalYAML(node *yaml.Node) error {
	*v = VersionString(node.Value)
	return nil
}

// UnmarshalYAML decodes the tagged pattern variant: the `type` field selects
// which concrete pattern struct the node decodes into.
func (p *Pattern) UnmarshalYAML(node *yaml.Node) error {
	var tag struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&tag); err != nil {
		return err
	}
	p.Type = tag.Type

	switch tag.Type {
	case PatternChain:
		p.Chain = &ChainPattern{}
		return node.Decode(p.Chain)
	case PatternRouting:
		p.Routing = &RoutingPattern{}
		return node.Decode(p.Routing)
	case PatternParallel:
		p.Parallel = &ParallelPattern{}
		return node.Decode(p.Parallel)
	case PatternWorkflow:
		p.Workflow = &WorkflowPattern{}
		return node.Decode(p.Workflow)
	case PatternEvaluator:
		p.Evaluator = &EvaluatorPattern{}
		return node.Decode(p.Evaluator)
	case PatternOrchestrator:
		p.Orchestrator = &OrchestratorPattern{}
		return node.Decode(p.Orchestrator)
	case PatternGraph:
		p.Graph = &GraphPattern{}
		return node.Decode(p.Graph)
	case "":
		return fmt.Errorf("pattern.type is required")
	default:
		// Unknown pattern types pass structural parsing; the capability
		// gate rejects them with a remediation.
		return nil
	}
}
