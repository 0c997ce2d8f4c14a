// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package errdefs defines the engine's error taxonomy and the deterministic
// mapping from terminal error classes to process exit codes.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kinds are classes of failure, not Go types:
// any error can be tagged with a kind and the tag survives wrapping.
type Kind int

const (
	// KindUnknown is an unclassified error.
	KindUnknown Kind = iota

	// KindUsage is a malformed CLI invocation or missing required input.
	KindUsage

	// KindSchema is a spec rejected by JSON-Schema validation.
	KindSchema

	// KindUnsupported is a capability-gate violation.
	KindUnsupported

	// KindTemplate is a template/expression sandbox violation.
	KindTemplate

	// KindProviderTransient is a retryable provider failure (5xx, 429, timeout).
	KindProviderTransient

	// KindProviderPermanent is a non-retryable provider failure (other 4xx).
	KindProviderPermanent

	// KindTool is a tool failure: input validation, SSRF block, path traversal,
	// or a tool-internal error.
	KindTool

	// KindSession is a session store failure (checkpoint write, corrupt resume).
	KindSession

	// KindIO is an artifact or filesystem failure outside the session store.
	KindIO

	// KindBudget is a token/step/duration budget exhaustion.
	KindBudget

	// KindHITLPause is an orderly human-in-the-loop pause. Not a failure.
	KindHITLPause
)

// Exit codes, stable across releases.
const (
	ExitOK          = 0
	ExitUsage       = 2
	ExitSchema      = 3
	ExitRuntime     = 10
	ExitSession     = 11
	ExitIO          = 12
	ExitUnsupported = 18
	ExitBudget      = 19
	ExitHITLPause   = 20
	ExitUnexpected  = 70
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindSchema:
		return "schema"
	case KindUnsupported:
		return "unsupported"
	case KindTemplate:
		return "template"
	case KindProviderTransient:
		return "provider_transient"
	case KindProviderPermanent:
		return "provider_permanent"
	case KindTool:
		return "tool"
	case KindSession:
		return "session"
	case KindIO:
		return "io"
	case KindBudget:
		return "budget"
	case KindHITLPause:
		return "hitl_pause"
	default:
		return "unknown"
	}
}

// Error is a classified error. Location identifies the offending construct
// (agent id, step index, task id, or a JSON pointer into the spec) and
// Remediation is a one-sentence fix hint shown to the user.
type Error struct {
	Kind        Kind
	Location    string
	Remediation string
	msg         string
	cause       error
}

func (e *Error) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.msg, e.Location)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a classified error.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind. The original error remains
// reachable through errors.Unwrap.
func Wrap(err error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: err}
}

// At attaches a location to the error and returns it.
func (e *Error) At(location string) *Error {
	e.Location = location
	return e
}

// Hint attaches a remediation hint to the error and returns it.
func (e *Error) Hint(remediation string) *Error {
	e.Remediation = remediation
	return e
}

// KindOf extracts the kind from an error chain. Unclassified errors report
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the executor retry loop may recover this error.
func IsRetryable(err error) bool {
	return KindOf(err) == KindProviderTransient
}

// ExitCode maps a terminal error to its deterministic exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindUsage:
		return ExitUsage
	case KindSchema:
		return ExitSchema
	case KindUnsupported:
		return ExitUnsupported
	case KindTemplate, KindProviderTransient, KindProviderPermanent, KindTool:
		return ExitRuntime
	case KindSession:
		return ExitSession
	case KindIO:
		return ExitIO
	case KindBudget:
		return ExitBudget
	case KindHITLPause:
		return ExitHITLPause
	default:
		return ExitUnexpected
	}
}

// ClassifyHTTPStatus tags provider HTTP failures: 5xx and 429 are transient,
// any other 4xx is permanent.
func ClassifyHTTPStatus(status int) Kind {
	switch {
	case status >= 500, status == 429:
		return KindProviderTransient
	case status >= 400:
		return KindProviderPermanent
	default:
		return KindUnknown
	}
}
