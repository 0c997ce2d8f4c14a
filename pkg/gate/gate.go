// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package gate decides whether a parsed workflow specification is runnable.
// It either normalizes the spec (defaults applied in place) or produces a
// Report enumerating violations with JSON-Pointer paths and remediations.
// Execution must not begin while the report carries violations.
package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
	"github.com/teradata-labs/weft/pkg/tools"
)

// ViolationKind tags a violation with its failure class.
type ViolationKind string

const (
	// UnsupportedFeature marks configuration this engine does not implement.
	UnsupportedFeature ViolationKind = "unsupported_feature"
	// InvalidReference marks a name that does not resolve.
	InvalidReference ViolationKind = "invalid_reference"
	// StructuralError marks a shape the pattern rules reject.
	StructuralError ViolationKind = "structural_error"
)

// Violation is one reason the spec cannot run.
type Violation struct {
	// Path is a JSON Pointer into the spec document.
	Path        string        `json:"path"`
	Kind        ViolationKind `json:"kind"`
	Message     string        `json:"message"`
	Remediation string        `json:"remediation"`
}

// Report collects violations and non-fatal warnings from one gate pass.
type Report struct {
	Violations []Violation `json:"violations"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// OK reports whether execution may begin.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

// Err converts the report into a classified error, or nil when clean. Any
// unsupported-feature violation dominates the classification so the process
// exits with the unsupported code rather than the generic schema one.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	kind := errdefs.KindSchema
	for _, v := range r.Violations {
		if v.Kind == UnsupportedFeature {
			kind = errdefs.KindUnsupported
			break
		}
	}
	return errdefs.New(kind, "spec rejected: %d violation(s)\n%s", len(r.Violations), r.String())
}

// String renders the report one violation per line.
func (r *Report) String() string {
	var b strings.Builder
	for _, v := range r.Violations {
		fmt.Fprintf(&b, "  %s [%s] %s", v.Path, v.Kind, v.Message)
		if v.Remediation != "" {
			fmt.Fprintf(&b, " (%s)", v.Remediation)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Report) add(path string, kind ViolationKind, msg, remediation string) {
	r.Violations = append(r.Violations, Violation{
		Path:        path,
		Kind:        kind,
		Message:     msg,
		Remediation: remediation,
	})
}

// Gate validates specs against the engine's capabilities. The tool lookup
// answers whether a name exists in the runtime registry; the guard screens
// declared base URLs.
type Gate struct {
	isRegisteredTool func(name string) bool
	guard            *tools.Guard
}

// New creates a gate. A nil lookup treats every tool as unregistered; a nil
// guard applies default SSRF screening.
func New(isRegisteredTool func(string) bool, guard *tools.Guard) *Gate {
	if isRegisteredTool == nil {
		isRegisteredTool = func(string) bool { return false }
	}
	if guard == nil {
		guard = tools.NewGuard(tools.GuardConfig{})
	}
	return &Gate{isRegisteredTool: isRegisteredTool, guard: guard}
}

// Check runs every capability check against the spec and, when all pass,
// normalizes defaults in place. The returned report is never nil.
func (g *Gate) Check(s *spec.Spec) *Report {
	r := &Report{}

	g.checkVersion(s, r)
	g.checkRuntime("/runtime", &s.Runtime, r)
	for _, a := range sortedAgents(s.Agents) {
		if a.spec.Runtime != nil {
			g.checkRuntimeOverride(fmt.Sprintf("/agents/%s/runtime", a.id), a.spec.Runtime, r)
		}
	}
	g.checkPattern(s, r)
	g.checkTools(s, r)
	g.checkContextPolicy(s, r)
	g.checkOutputs(s, r)

	for _, k := range s.UnknownKeys {
		r.Warnings = append(r.Warnings, fmt.Sprintf("unknown top-level key %q ignored", k))
	}

	if r.OK() {
		Normalize(s)
	}
	return r
}

func (g *Gate) checkVersion(s *spec.Spec, r *Report) {
	if string(s.Version) != spec.Version0 {
		r.add("/version", UnsupportedFeature,
			fmt.Sprintf("spec version %q is not supported", s.Version),
			fmt.Sprintf("this engine implements version %q", spec.Version0))
	}
}

func (g *Gate) checkRuntime(path string, rt *spec.Runtime, r *Report) {
	switch rt.Provider {
	case spec.ProviderBedrock:
		if rt.Region == "" {
			r.add(path+"/region", StructuralError,
				"bedrock runtime requires a region",
				"set runtime.region, e.g. us-east-1")
		}
	case spec.ProviderOpenAI:
		// API key comes from the environment; nothing structural to check.
	case spec.ProviderOllama:
		if rt.Host == "" {
			r.add(path+"/host", StructuralError,
				"ollama runtime requires a host",
				"set runtime.host, e.g. http://localhost:11434")
		}
	default:
		r.add(path+"/provider", UnsupportedFeature,
			fmt.Sprintf("provider %q is not supported", rt.Provider),
			"use one of: bedrock, openai, ollama")
	}
	if rt.ModelID == "" {
		r.add(path+"/model_id", StructuralError, "model_id is required", "name the model to invoke")
	}
	g.checkRuntimeShared(path, rt, r)
}

// checkRuntimeOverride validates a per-agent runtime layer. Provider and
// model are optional here: empty fields inherit from the spec runtime.
func (g *Gate) checkRuntimeOverride(path string, rt *spec.Runtime, r *Report) {
	if rt.Provider != "" {
		switch rt.Provider {
		case spec.ProviderBedrock, spec.ProviderOpenAI, spec.ProviderOllama:
		default:
			r.add(path+"/provider", UnsupportedFeature,
				fmt.Sprintf("provider %q is not supported", rt.Provider),
				"use one of: bedrock, openai, ollama")
		}
	}
	g.checkRuntimeShared(path, rt, r)
}

func (g *Gate) checkRuntimeShared(path string, rt *spec.Runtime, r *Report) {
	if rt.MaxParallel < 0 {
		r.add(path+"/max_parallel", StructuralError, "max_parallel must be >= 1", "remove it or set a positive value")
	}
	if rt.Budgets.MaxSteps < 0 || rt.Budgets.MaxTokens < 0 || rt.Budgets.MaxDurationS < 0 {
		r.add(path+"/budgets", StructuralError, "budgets must be non-negative", "zero means unlimited")
	}
	if rt.FailurePolicy.Retries < 0 {
		r.add(path+"/failure_policy/retries", StructuralError, "retries must be >= 0", "")
	}
	switch rt.FailurePolicy.Backoff {
	case "", spec.BackoffConstant, spec.BackoffExponential, spec.BackoffJittered:
	default:
		r.add(path+"/failure_policy/backoff", UnsupportedFeature,
			fmt.Sprintf("backoff %q is not supported", rt.FailurePolicy.Backoff),
			"use constant, exponential or jittered")
	}
	if rt.Temperature != nil && (*rt.Temperature < 0 || *rt.Temperature > 2) {
		r.add(path+"/temperature", StructuralError, "temperature must be in [0, 2]", "")
	}
	if rt.TopP != nil && (*rt.TopP <= 0 || *rt.TopP > 1) {
		r.add(path+"/top_p", StructuralError, "top_p must be in (0, 1]", "")
	}
}

func (g *Gate) checkPattern(s *spec.Spec, r *Report) {
	p := &s.Pattern
	switch p.Type {
	case spec.PatternChain:
		g.checkChain(s, p.Chain, r)
	case spec.PatternRouting:
		g.checkRouting(s, p.Routing, r)
	case spec.PatternParallel:
		g.checkParallel(s, p.Parallel, r)
	case spec.PatternWorkflow:
		g.checkWorkflow(s, p.Workflow, r)
	case spec.PatternEvaluator:
		g.checkEvaluator(s, p.Evaluator, r)
	case spec.PatternOrchestrator:
		g.checkOrchestrator(s, p.Orchestrator, r)
	case spec.PatternGraph:
		g.checkGraph(s, p.Graph, r)
	default:
		r.add("/pattern/type", UnsupportedFeature,
			fmt.Sprintf("pattern type %q is not supported", p.Type),
			"use chain, routing, parallel, workflow, evaluator_optimizer, orchestrator_workers or graph")
	}
}

func (g *Gate) checkAgentRef(s *spec.Spec, path, agentID string, r *Report) {
	if agentID == "" {
		r.add(path, StructuralError, "agent id is empty", "name an agent declared under agents")
		return
	}
	if _, ok := s.Agents[agentID]; !ok {
		r.add(path, InvalidReference,
			fmt.Sprintf("agent %q is not declared", agentID),
			"declare it under agents or fix the reference")
	}
}

func (g *Gate) checkSteps(s *spec.Spec, path string, steps []spec.Step, r *Report) {
	for i, st := range steps {
		p := fmt.Sprintf("%s/%d", path, i)
		switch st.Type {
		case "", spec.StepAgent:
			g.checkAgentRef(s, p+"/agent", st.Agent, r)
		case spec.StepManualGate:
			if st.ID == "" {
				r.add(p+"/id", StructuralError, "manual_gate requires an id", "give the gate a stable id")
			}
		default:
			r.add(p+"/type", UnsupportedFeature,
				fmt.Sprintf("step type %q is not supported", st.Type),
				"use agent or manual_gate")
		}
	}
}

func (g *Gate) checkChain(s *spec.Spec, c *spec.ChainPattern, r *Report) {
	if c == nil || len(c.Steps) == 0 {
		r.add("/pattern/steps", StructuralError, "chain requires at least one step", "")
		return
	}
	g.checkSteps(s, "/pattern/steps", c.Steps, r)
}

func (g *Gate) checkRouting(s *spec.Spec, p *spec.RoutingPattern, r *Report) {
	if p == nil || len(p.Routes) == 0 {
		r.add("/pattern/routes", StructuralError, "routing requires at least one route", "")
		return
	}
	g.checkAgentRef(s, "/pattern/router/agent", p.Router.Agent, r)
	for _, name := range sortedKeys(p.Routes) {
		g.checkSteps(s, fmt.Sprintf("/pattern/routes/%s", name), p.Routes[name], r)
	}
	if p.Default != "" {
		if _, ok := p.Routes[p.Default]; !ok {
			r.add("/pattern/default", InvalidReference,
				fmt.Sprintf("default route %q is not a declared route", p.Default),
				"name one of the routes")
		}
	}
}

func (g *Gate) checkParallel(s *spec.Spec, p *spec.ParallelPattern, r *Report) {
	if p == nil || len(p.Branches) < 2 {
		r.add("/pattern/branches", StructuralError,
			"parallel requires at least two branches",
			"use chain for a single sequence")
		return
	}
	seen := make(map[string]bool)
	for i, b := range p.Branches {
		bp := fmt.Sprintf("/pattern/branches/%d", i)
		if b.ID == "" {
			r.add(bp+"/id", StructuralError, "branch id is empty", "")
		} else if seen[b.ID] {
			r.add(bp+"/id", StructuralError, fmt.Sprintf("duplicate branch id %q", b.ID), "")
		}
		seen[b.ID] = true
		g.checkSteps(s, bp+"/steps", b.Steps, r)
		for j, st := range b.Steps {
			if st.Type == spec.StepManualGate {
				r.add(fmt.Sprintf("%s/steps/%d", bp, j), UnsupportedFeature,
					"manual gates are not supported inside concurrent branches",
					"move the gate before or after the parallel pattern")
			}
		}
	}
	if p.Reduce != nil {
		g.checkAgentRef(s, "/pattern/reduce/agent", p.Reduce.Agent, r)
	}
}

func (g *Gate) checkWorkflow(s *spec.Spec, p *spec.WorkflowPattern, r *Report) {
	if p == nil || len(p.Tasks) == 0 {
		r.add("/pattern/tasks", StructuralError, "workflow requires at least one task", "")
		return
	}
	ids := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		tp := fmt.Sprintf("/pattern/tasks/%d", i)
		if t.ID == "" {
			r.add(tp+"/id", StructuralError, "task id is empty", "")
			continue
		}
		if ids[t.ID] {
			r.add(tp+"/id", StructuralError, fmt.Sprintf("duplicate task id %q", t.ID), "")
		}
		ids[t.ID] = true
		g.checkAgentRef(s, tp+"/agent", t.Agent, r)
	}
	for i, t := range p.Tasks {
		for j, dep := range t.Deps {
			if !ids[dep] {
				r.add(fmt.Sprintf("/pattern/tasks/%d/deps/%d", i, j), InvalidReference,
					fmt.Sprintf("dependency %q is not a declared task", dep), "")
			}
		}
	}
	if cycle := findCycle(p.Tasks); len(cycle) > 0 {
		r.add("/pattern/tasks", StructuralError,
			fmt.Sprintf("task dependencies form a cycle: %s", strings.Join(cycle, " -> ")),
			"break the cycle; deps must form a DAG")
	}
}

func (g *Gate) checkEvaluator(s *spec.Spec, p *spec.EvaluatorPattern, r *Report) {
	if p == nil {
		r.add("/pattern", StructuralError, "evaluator_optimizer body is missing", "")
		return
	}
	g.checkAgentRef(s, "/pattern/producer/agent", p.Producer.Agent, r)
	g.checkAgentRef(s, "/pattern/evaluator/agent", p.Evaluator.Agent, r)
	if p.Accept.MaxIters < 0 {
		r.add("/pattern/accept/max_iters", StructuralError, "max_iters must be >= 1", "")
	}
	if p.Accept.MinScore < 0 {
		r.add("/pattern/accept/min_score", StructuralError, "min_score must be >= 0", "")
	}
}

func (g *Gate) checkOrchestrator(s *spec.Spec, p *spec.OrchestratorPattern, r *Report) {
	if p == nil {
		r.add("/pattern", StructuralError, "orchestrator_workers body is missing", "")
		return
	}
	g.checkAgentRef(s, "/pattern/orchestrator/agent", p.Orchestrator.Agent, r)
	g.checkAgentRef(s, "/pattern/worker_template/agent", p.WorkerTemplate.Agent, r)
	if p.MaxWorkers < 0 {
		r.add("/pattern/max_workers", StructuralError, "max_workers must be >= 1", "")
	}
	if p.MaxRounds < 0 {
		r.add("/pattern/max_rounds", StructuralError, "max_rounds must be >= 1", "")
	}
	if p.Reduce != nil {
		g.checkAgentRef(s, "/pattern/reduce/agent", p.Reduce.Agent, r)
	}
	if p.Writeup != nil {
		g.checkAgentRef(s, "/pattern/writeup/agent", p.Writeup.Agent, r)
	}
}

func (g *Gate) checkGraph(s *spec.Spec, p *spec.GraphPattern, r *Report) {
	if p == nil || len(p.Nodes) == 0 {
		r.add("/pattern/nodes", StructuralError, "graph requires at least one node", "")
		return
	}
	for _, id := range sortedKeys(p.Nodes) {
		g.checkAgentRef(s, fmt.Sprintf("/pattern/nodes/%s/agent", id), p.Nodes[id].Agent, r)
	}
	if p.StartNode == "" {
		r.add("/pattern/start_node", StructuralError, "start_node is required", "")
	} else if _, ok := p.Nodes[p.StartNode]; !ok {
		r.add("/pattern/start_node", InvalidReference,
			fmt.Sprintf("start_node %q is not a declared node", p.StartNode), "")
	}
	for i, e := range p.Edges {
		ep := fmt.Sprintf("/pattern/edges/%d", i)
		if _, ok := p.Nodes[e.From]; !ok {
			r.add(ep+"/from", InvalidReference, fmt.Sprintf("node %q is not declared", e.From), "")
		}
		switch {
		case e.To != "" && len(e.Choose) > 0:
			r.add(ep, StructuralError, "edge cannot have both `to` and `choose`", "")
		case e.To != "":
			if _, ok := p.Nodes[e.To]; !ok && e.To != spec.GraphTerminal {
				r.add(ep+"/to", InvalidReference, fmt.Sprintf("node %q is not declared", e.To), "")
			}
		case len(e.Choose) > 0:
			hasElse := false
			for j, c := range e.Choose {
				cp := fmt.Sprintf("%s/choose/%d", ep, j)
				if _, ok := p.Nodes[c.To]; !ok && c.To != spec.GraphTerminal {
					r.add(cp+"/to", InvalidReference, fmt.Sprintf("node %q is not declared", c.To), "")
				}
				if c.When == template.ElseSentinel {
					hasElse = true
				}
			}
			if !hasElse {
				r.add(ep+"/choose", StructuralError,
					"choose clauses must cover all cases with an `else` arm",
					"append `- when: else` with a target node")
			}
		default:
			r.add(ep, StructuralError, "edge needs either `to` or `choose`", "")
		}
	}
	if p.MaxIterations < 0 {
		r.add("/pattern/max_iterations", StructuralError, "max_iterations must be >= 1", "")
	}
}

func (g *Gate) checkTools(s *spec.Spec, r *Report) {
	declared := make(map[string]bool, len(s.Tools))
	for i, t := range s.Tools {
		tp := fmt.Sprintf("/tools/%d", i)
		if t.Name == "" {
			r.add(tp+"/name", StructuralError, "tool name is empty", "")
			continue
		}
		declared[t.Name] = true
		if t.BaseURL != "" {
			if err := g.guard.CheckURL(t.BaseURL); err != nil {
				r.add(tp+"/base_url", StructuralError,
					fmt.Sprintf("base_url rejected: %v", err),
					"base URLs must pass SSRF screening")
			}
		}
	}

	for _, id := range sortedKeys(s.Agents) {
		for i, name := range s.Agents[id].Tools {
			if declared[name] || g.isRegisteredTool(name) {
				continue
			}
			r.add(fmt.Sprintf("/agents/%s/tools/%d", id, i), InvalidReference,
				fmt.Sprintf("tool %q is neither registered nor declared", name),
				"declare it under tools or use a built-in tool")
		}
	}
}

func (g *Gate) checkContextPolicy(s *spec.Spec, r *Report) {
	cp := s.ContextPolicy
	if cp == nil {
		return
	}
	if c := cp.Compaction; c != nil {
		if c.WhenTokensOver <= 0 {
			r.add("/context_policy/compaction/when_tokens_over", StructuralError,
				"when_tokens_over must be positive", "")
		}
		if c.SummaryRatio < 0 || c.SummaryRatio >= 1 {
			r.add("/context_policy/compaction/summary_ratio", StructuralError,
				"summary_ratio must be in (0, 1)", "")
		}
		if c.PreserveRecentMessages < 0 {
			r.add("/context_policy/compaction/preserve_recent_messages", StructuralError,
				"preserve_recent_messages must be >= 0", "")
		}
	}
	if b := cp.Budget; b != nil {
		if b.WarnThreshold < 0 || b.WarnThreshold > 1 {
			r.add("/context_policy/budget/warn_threshold", StructuralError,
				"warn_threshold must be in (0, 1]", "")
		}
	}
	if n := cp.Notes; n != nil && n.LastN < 0 {
		r.add("/context_policy/notes/last_n", StructuralError, "last_n must be >= 0", "")
	}
}

func (g *Gate) checkOutputs(s *spec.Spec, r *Report) {
	for i, o := range s.Outputs {
		op := fmt.Sprintf("/outputs/%d", i)
		if o.Path == "" {
			r.add(op+"/path", StructuralError, "output path is empty", "")
		}
		if o.From == "" {
			r.add(op+"/from", StructuralError, "output template is empty", "")
		}
	}
}

// findCycle runs a depth-first walk over task dependencies and returns the
// first cycle found as a task-id path, or nil.
func findCycle(tasks []spec.Task) []string {
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.Deps
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range deps[id] {
			if _, known := deps[dep]; !known {
				continue
			}
			switch color[dep] {
			case gray:
				for i, on := range stack {
					if on == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, t := range tasks {
		if color[t.ID] == white && visit(t.ID) {
			return cycle
		}
	}
	return nil
}

type agentEntry struct {
	id   string
	spec spec.AgentSpec
}

func sortedAgents(agents map[string]spec.AgentSpec) []agentEntry {
	out := make([]agentEntry, 0, len(agents))
	for id, a := range agents {
		out = append(out, agentEntry{id: id, spec: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
