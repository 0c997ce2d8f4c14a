// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"

	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
)

// routerVerdict is the JSON object the router agent must produce.
type routerVerdict struct {
	Route     string `json:"route"`
	Rationale string `json:"rationale,omitempty"`
}

// runRouting invokes the router once, then executes the chosen route as a
// chain. An undeclared route falls back to the declared default; with no
// default it is a routing failure.
func runRouting(ctx context.Context, rc *runContext, prior *session.PatternState) (*outcome, error) {
	p := rc.spec.Pattern.Routing
	st := &RoutingState{}
	if err := decodeState(prior, spec.PatternRouting, st); err != nil {
		return nil, err
	}

	if st.Route == "" {
		prompt, err := renderInput(p.Router.Input, rc.scope)
		if err != nil {
			return nil, err
		}
		res, err := rc.invoke(ctx, p.Router.Agent, prompt, nil)
		if err != nil {
			return nil, err
		}

		var verdict routerVerdict
		if err := decodeModelJSON(res.Response, &verdict); err != nil || verdict.Route == "" {
			return nil, errdefs.New(errdefs.KindProviderPermanent,
				"router %q did not return a JSON object with a route field: %.120s",
				p.Router.Agent, res.Response).
				Hint("instruct the router to answer with {\"route\": ..., \"rationale\": ...}")
		}

		route := verdict.Route
		if _, ok := p.Routes[route]; !ok {
			if p.Default == "" {
				return nil, errdefs.New(errdefs.KindProviderPermanent,
					"router chose unknown route %q", route).
					Hint("declare the route or set a default")
			}
			route = p.Default
		}

		st.Route = route
		st.Rationale = verdict.Rationale
		if err := rc.checkpoint(st); err != nil {
			return nil, err
		}
		rc.publish(events.RouteChosen, map[string]interface{}{
			"route":     route,
			"rationale": verdict.Rationale,
		})
	}

	rc.scope.SetPath("route.name", st.Route)
	rc.scope.SetPath("route.rationale", st.Rationale)

	runner := &stepRunner{
		rc:         rc,
		steps:      p.Routes[st.Route],
		st:         &st.Chain,
		scope:      rc.scope,
		allowPause: true,
		save:       func() error { return rc.checkpoint(st) },
	}
	return runner.run(ctx)
}
