// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package gate

import (
	"github.com/teradata-labs/weft/pkg/spec"
)

// Default values applied by Normalize. Zero in the document means "use the
// default" for these fields; budgets are the exception, where zero means
// unlimited.
const (
	DefaultMaxParallel   = 4
	DefaultBackoff       = spec.BackoffExponential
	DefaultMaxIters      = 3
	DefaultMaxRounds     = 3
	DefaultMaxWorkers    = 4
	DefaultMaxIterations = 25
	DefaultWarnThreshold = 0.8
	DefaultSummaryRatio  = 0.3
	DefaultPreserveMsgs  = 4
	DefaultNotesFile     = "notes.md"
	DefaultNotesLastN    = 5
)

// Normalize fills defaults in place. Only called on specs that passed every
// check, so it never needs to report errors.
func Normalize(s *spec.Spec) {
	normalizeRuntime(&s.Runtime)
	for id, a := range s.Agents {
		if a.Runtime != nil {
			if a.Runtime.FailurePolicy.Backoff == "" {
				a.Runtime.FailurePolicy.Backoff = s.Runtime.FailurePolicy.Backoff
			}
			s.Agents[id] = a
		}
	}

	switch s.Pattern.Type {
	case spec.PatternEvaluator:
		if p := s.Pattern.Evaluator; p != nil && p.Accept.MaxIters == 0 {
			p.Accept.MaxIters = DefaultMaxIters
		}
	case spec.PatternOrchestrator:
		if p := s.Pattern.Orchestrator; p != nil {
			if p.MaxWorkers == 0 {
				p.MaxWorkers = DefaultMaxWorkers
			}
			if p.MaxRounds == 0 {
				p.MaxRounds = DefaultMaxRounds
			}
		}
	case spec.PatternGraph:
		if p := s.Pattern.Graph; p != nil && p.MaxIterations == 0 {
			p.MaxIterations = DefaultMaxIterations
		}
	}

	if cp := s.ContextPolicy; cp != nil {
		if c := cp.Compaction; c != nil {
			if c.SummaryRatio == 0 {
				c.SummaryRatio = DefaultSummaryRatio
			}
			if c.PreserveRecentMessages == 0 {
				c.PreserveRecentMessages = DefaultPreserveMsgs
			}
		}
		if b := cp.Budget; b != nil && b.WarnThreshold == 0 {
			b.WarnThreshold = DefaultWarnThreshold
		}
		if n := cp.Notes; n != nil && n.Enabled {
			if n.File == "" {
				n.File = DefaultNotesFile
			}
			if n.LastN == 0 {
				n.LastN = DefaultNotesLastN
			}
		}
	}
}

func normalizeRuntime(rt *spec.Runtime) {
	if rt.MaxParallel == 0 {
		rt.MaxParallel = DefaultMaxParallel
	}
	if rt.FailurePolicy.Backoff == "" {
		rt.FailurePolicy.Backoff = DefaultBackoff
	}
}
