// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"context"
	"errors"
	"net"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/teradata-labs/weft/pkg/errdefs"
)

// ClassifyProviderError wraps a raw provider failure as transient or
// permanent. Transient failures are retried by the agent's failure policy;
// permanent ones surface immediately.
func ClassifyProviderError(err error, provider string) error {
	if err == nil {
		return nil
	}

	// Context ends are neither: let them propagate unchanged so the engine
	// can distinguish cancellation from provider trouble.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	kind := classify(err)
	return errdefs.Wrap(err, kind, "%s invocation failed", provider)
}

func classify(err error) errdefs.Kind {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errdefs.KindProviderTransient
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return errdefs.ClassifyHTTPStatus(respErr.HTTPStatusCode())
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException",
			"ModelTimeoutException", "InternalServerException":
			return errdefs.KindProviderTransient
		}
		return errdefs.KindProviderPermanent
	}

	// Unclassifiable transport errors get one retry cycle rather than none.
	return errdefs.KindProviderTransient
}

// ClassifyHTTPError maps a raw HTTP status from the openai/ollama clients.
func ClassifyHTTPError(status int, body string, provider string) error {
	kind := errdefs.ClassifyHTTPStatus(status)
	return errdefs.New(kind, "%s returned HTTP %d: %s", provider, status, body)
}
