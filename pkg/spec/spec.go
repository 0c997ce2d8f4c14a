// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package spec defines the typed in-memory representation of a workflow
// specification and its YAML loader. A loaded Spec is immutable: the engine
// reads it, the capability gate normalizes a copy, and the session store
// snapshots the verbatim bytes.
package spec

// Version0 is the current spec contract version.
const Version0 = "0"

// Provider names accepted by the runtime.
const (
	ProviderBedrock = "bedrock"
	ProviderOpenAI  = "openai"
	ProviderOllama  = "ollama"
)

// Backoff strategies for the failure policy.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
	BackoffJittered    = "jittered"
)

// Pattern type tags.
const (
	PatternChain        = "chain"
	PatternRouting      = "routing"
	PatternParallel     = "parallel"
	PatternWorkflow     = "workflow"
	PatternEvaluator    = "evaluator_optimizer"
	PatternOrchestrator = "orchestrator_workers"
	PatternGraph        = "graph"
)

// Step types within Chain and Routing branches.
const (
	StepAgent      = "agent"
	StepManualGate = "manual_gate"
)

// GraphTerminal is the reserved edge target that ends a graph walk at the
// current node.
const GraphTerminal = "terminal"

// VersionString decodes both quoted and bare scalar versions (`"0"` and `0`).
type VersionString string

// Spec is a fully parsed workflow document.
type Spec struct {
	Version VersionString        `yaml:"version"`
	Name    string               `yaml:"name"`
	Runtime Runtime              `yaml:"runtime"`
	Inputs  map[string]InputDecl `yaml:"inputs,omitempty"`
	Agents  map[string]AgentSpec `yaml:"agents"`
	Tools   []ToolDecl           `yaml:"tools,omitempty"`
	Pattern Pattern              `yaml:"pattern"`
	Outputs []OutputDecl         `yaml:"outputs,omitempty"`

	ContextPolicy *ContextPolicy         `yaml:"context_policy,omitempty"`
	Security      *Security              `yaml:"security,omitempty"`
	Telemetry     map[string]interface{} `yaml:"telemetry,omitempty"`

	// UnknownKeys holds unrecognized top-level keys. They produce a
	// capability warning, not a failure.
	UnknownKeys []string `yaml:"-"`

	// Raw holds the verbatim document bytes for snapshotting and hashing.
	Raw []byte `yaml:"-"`
}

// Runtime carries provider selection, inference parameters, concurrency
// limits, budgets and the failure policy.
type Runtime struct {
	Provider string `yaml:"provider"`
	ModelID  string `yaml:"model_id"`

	// Region is required when Provider is bedrock.
	Region string `yaml:"region,omitempty"`

	// Host is required when Provider is ollama.
	Host string `yaml:"host,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	TopP        *float64 `yaml:"top_p,omitempty"`

	MaxParallel int `yaml:"max_parallel,omitempty"`

	Budgets       Budgets       `yaml:"budgets,omitempty"`
	FailurePolicy FailurePolicy `yaml:"failure_policy,omitempty"`
}

// Budgets are hard caps enforced at cycle boundaries. Zero means unlimited.
type Budgets struct {
	MaxSteps     int `yaml:"max_steps,omitempty"`
	MaxTokens    int `yaml:"max_tokens,omitempty"`
	MaxDurationS int `yaml:"max_duration_s,omitempty"`
}

// FailurePolicy governs retries around each agent invocation.
type FailurePolicy struct {
	Retries int    `yaml:"retries,omitempty"`
	Backoff string `yaml:"backoff,omitempty"`
}

// InputDecl declares a workflow input and its coercion schema.
type InputDecl struct {
	Type        string      `yaml:"type"`
	Description string      `yaml:"description,omitempty"`
	Required    bool        `yaml:"required,omitempty"`
	Default     interface{} `yaml:"default,omitempty"`
	Enum        []string    `yaml:"enum,omitempty"`
}

// AgentSpec declares an agent: its system prompt template, tool references
// and optional runtime overrides layered over the spec runtime.
type AgentSpec struct {
	Prompt  string   `yaml:"prompt"`
	Tools   []string `yaml:"tools,omitempty"`
	Runtime *Runtime `yaml:"runtime,omitempty"`
}

// ToolDecl declares a workflow-scoped tool configuration.
type ToolDecl struct {
	Name string `yaml:"name"`

	// BaseURL restricts an HTTP tool to a base endpoint; it must survive
	// SSRF screening at the capability gate and again on every call.
	BaseURL string `yaml:"base_url,omitempty"`

	// Options carries tool-specific configuration.
	Options map[string]interface{} `yaml:"options,omitempty"`
}

// OutputDecl declares an artifact: a template rendered with the final scope
// written to a path (also templated) beneath the output directory.
type OutputDecl struct {
	Path string `yaml:"path"`
	From string `yaml:"from"`
}

// ContextPolicy enables the per-cycle hooks.
type ContextPolicy struct {
	Compaction *CompactionPolicy `yaml:"compaction,omitempty"`
	Notes      *NotesPolicy      `yaml:"notes,omitempty"`
	Budget     *BudgetPolicy     `yaml:"budget,omitempty"`
}

// CompactionPolicy triggers conversation summarization past a token level.
type CompactionPolicy struct {
	WhenTokensOver         int     `yaml:"when_tokens_over"`
	SummaryRatio           float64 `yaml:"summary_ratio,omitempty"`
	PreserveRecentMessages int     `yaml:"preserve_recent_messages,omitempty"`

	// Model optionally names a distinct (typically cheaper) model for the
	// summarization call.
	Model string `yaml:"model,omitempty"`
}

// NotesPolicy appends a Markdown record per cycle and injects the last N
// records before each subsequent cycle.
type NotesPolicy struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file,omitempty"`
	LastN   int    `yaml:"last_n,omitempty"`
}

// BudgetPolicy tunes the budget enforcer hook.
type BudgetPolicy struct {
	WarnThreshold float64 `yaml:"warn_threshold,omitempty"`
}

// Security carries the SSRF whitelist and tool-consent controls.
type Security struct {
	// AllowPrivateNetworks whitelists RFC1918 CIDRs for HTTP tools.
	AllowPrivateNetworks []string `yaml:"allow_private_networks,omitempty"`

	// BypassToolConsent skips interactive consent for filesystem writes.
	BypassToolConsent bool `yaml:"bypass_tool_consent,omitempty"`
}

// Pattern is the tagged orchestration variant. Exactly one of the variant
// fields is set, selected by Type.
type Pattern struct {
	Type string `yaml:"type"`

	Chain        *ChainPattern        `yaml:"-"`
	Routing      *RoutingPattern      `yaml:"-"`
	Parallel     *ParallelPattern     `yaml:"-"`
	Workflow     *WorkflowPattern     `yaml:"-"`
	Evaluator    *EvaluatorPattern    `yaml:"-"`
	Orchestrator *OrchestratorPattern `yaml:"-"`
	Graph        *GraphPattern        `yaml:"-"`
}

// AgentRef pairs an agent id with an input template.
type AgentRef struct {
	Agent string `yaml:"agent"`
	Input string `yaml:"input,omitempty"`
}

// Step is one unit in a Chain or a Routing branch. Either an agent
// invocation or a manual gate.
type Step struct {
	Type string `yaml:"type,omitempty"`

	// Agent-step fields
	Agent string `yaml:"agent,omitempty"`
	Input string `yaml:"input,omitempty"`

	// Manual-gate fields
	ID       string `yaml:"id,omitempty"`
	Prompt   string `yaml:"prompt,omitempty"`
	TimeoutS int    `yaml:"timeout_s,omitempty"`
}

// ChainPattern executes steps in order.
type ChainPattern struct {
	Steps []Step `yaml:"steps"`
}

// RoutingPattern invokes a router once and executes the chosen route.
type RoutingPattern struct {
	Router  AgentRef          `yaml:"router"`
	Routes  map[string][]Step `yaml:"routes"`
	Default string            `yaml:"default,omitempty"`
}

// Branch is an independent sub-chain within a Parallel pattern.
type Branch struct {
	ID    string `yaml:"id"`
	Steps []Step `yaml:"steps"`
}

// ParallelPattern launches branches concurrently and optionally reduces.
type ParallelPattern struct {
	Branches []Branch  `yaml:"branches"`
	Reduce   *AgentRef `yaml:"reduce,omitempty"`
}

// Task is a DAG node with declared dependencies.
type Task struct {
	ID        string   `yaml:"id"`
	Agent     string   `yaml:"agent"`
	Input     string   `yaml:"input,omitempty"`
	Deps      []string `yaml:"deps,omitempty"`
	Condition string   `yaml:"condition,omitempty"`
}

// WorkflowPattern schedules tasks topologically.
type WorkflowPattern struct {
	Tasks []Task `yaml:"tasks"`
}

// AcceptCriteria bounds the evaluator-optimizer loop.
type AcceptCriteria struct {
	MinScore float64 `yaml:"min_score"`
	MaxIters int     `yaml:"max_iters"`
}

// EvaluatorPattern iterates produce -> evaluate until accepted.
type EvaluatorPattern struct {
	Producer     AgentRef       `yaml:"producer"`
	Evaluator    AgentRef       `yaml:"evaluator"`
	Accept       AcceptCriteria `yaml:"accept"`
	RevisePrompt string         `yaml:"revise_prompt,omitempty"`
}

// WorkerTemplate is instantiated per dispatched worker task.
type WorkerTemplate struct {
	Agent string   `yaml:"agent"`
	Tools []string `yaml:"tools,omitempty"`
}

// OrchestratorPattern runs rounds of plan -> dispatch -> collect.
type OrchestratorPattern struct {
	Orchestrator   AgentRef       `yaml:"orchestrator"`
	MaxWorkers     int            `yaml:"max_workers,omitempty"`
	MaxRounds      int            `yaml:"max_rounds,omitempty"`
	WorkerTemplate WorkerTemplate `yaml:"worker_template"`
	Reduce         *AgentRef      `yaml:"reduce,omitempty"`
	Writeup        *AgentRef      `yaml:"writeup,omitempty"`
}

// Node is a graph node: an agent with an input template.
type Node struct {
	Agent string `yaml:"agent"`
	Input string `yaml:"input,omitempty"`
}

// Choice is one conditional arm of a graph edge.
type Choice struct {
	When string `yaml:"when"`
	To   string `yaml:"to"`
}

// Edge connects graph nodes, either unconditionally or by the first
// matching choice.
type Edge struct {
	From   string   `yaml:"from"`
	To     string   `yaml:"to,omitempty"`
	Choose []Choice `yaml:"choose,omitempty"`
}

// GraphPattern walks nodes along edges until no edge matches or the
// iteration cap is reached.
type GraphPattern struct {
	Nodes         map[string]Node `yaml:"nodes"`
	Edges         []Edge          `yaml:"edges"`
	StartNode     string          `yaml:"start_node"`
	MaxIterations int             `yaml:"max_iterations,omitempty"`
}

// AgentIDs returns every agent id the pattern references, in no particular
// order. The capability gate uses this to check references resolve.
func (p *Pattern) AgentIDs() []string {
	var ids []string
	addSteps := func(steps []Step) {
		for _, s := range steps {
			if s.Type == "" || s.Type == StepAgent {
				ids = append(ids, s.Agent)
			}
		}
	}
	switch p.Type {
	case PatternChain:
		if p.Chain != nil {
			addSteps(p.Chain.Steps)
		}
	case PatternRouting:
		if p.Routing != nil {
			ids = append(ids, p.Routing.Router.Agent)
			for _, steps := range p.Routing.Routes {
				addSteps(steps)
			}
		}
	case PatternParallel:
		if p.Parallel != nil {
			for _, b := range p.Parallel.Branches {
				addSteps(b.Steps)
			}
			if p.Parallel.Reduce != nil {
				ids = append(ids, p.Parallel.Reduce.Agent)
			}
		}
	case PatternWorkflow:
		if p.Workflow != nil {
			for _, t := range p.Workflow.Tasks {
				ids = append(ids, t.Agent)
			}
		}
	case PatternEvaluator:
		if p.Evaluator != nil {
			ids = append(ids, p.Evaluator.Producer.Agent, p.Evaluator.Evaluator.Agent)
		}
	case PatternOrchestrator:
		if p.Orchestrator != nil {
			ids = append(ids, p.Orchestrator.Orchestrator.Agent, p.Orchestrator.WorkerTemplate.Agent)
			if p.Orchestrator.Reduce != nil {
				ids = append(ids, p.Orchestrator.Reduce.Agent)
			}
			if p.Orchestrator.Writeup != nil {
				ids = append(ids, p.Orchestrator.Writeup.Agent)
			}
		}
	case PatternGraph:
		if p.Graph != nil {
			for _, n := range p.Graph.Nodes {
				ids = append(ids, n.Agent)
			}
		}
	}
	return ids
}

// ToolNames returns every tool name referenced by any agent.
func (s *Spec) ToolNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, a := range s.Agents {
		for _, t := range a.Tools {
			if !seen[t] {
				seen[t] = true
				names = append(names, t)
			}
		}
	}
	return names
}
