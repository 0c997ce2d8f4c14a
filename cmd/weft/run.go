// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/weft/internal/config"
	"github.com/teradata-labs/weft/pkg/agent"
	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/errdefs"
	"github.com/teradata-labs/weft/pkg/events"
	"github.com/teradata-labs/weft/pkg/gate"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/llm/factory"
	"github.com/teradata-labs/weft/pkg/orchestration"
	"github.com/teradata-labs/weft/pkg/policy"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
	"github.com/teradata-labs/weft/pkg/tools"
	"github.com/teradata-labs/weft/pkg/tools/builtin"
	"github.com/teradata-labs/weft/pkg/types"
)

var (
	runOutputDir string
	runForce     bool
	runQuiet     bool
)

var runCmd = &cobra.Command{
	Use:   "run <spec.yaml> [key=value ...]",
	Short: "Run a workflow spec",
	Long: `Run a workflow spec to completion or to its first manual gate.

Inputs declared in the spec are passed as key=value arguments:

  weft run review.yaml topic="error handling" max_length=500

A paused workflow prints its session id and exits with code 20; continue it
with weft resume.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVarP(&runOutputDir, "output-dir", "o", "", "artifact output directory (overrides config)")
	runCmd.Flags().BoolVar(&runForce, "force", false, "overwrite existing artifact files")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "suppress progress output")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runOutputDir != "" {
		cfg.OutputDir = runOutputDir
	}

	s, err := spec.Load(args[0])
	if err != nil {
		return err
	}

	overrides, err := spec.ParseOverrides(args[1:])
	if err != nil {
		return err
	}
	variables, err := s.ResolveInputs(overrides)
	if err != nil {
		return err
	}

	registry := newToolRegistry(cfg, s)
	report := gate.New(registry.IsRegistered, registry.Guard()).Check(s)
	printWarnings(report)
	if err := report.Err(); err != nil {
		return err
	}

	eng, bus, err := buildEngine(cfg, s, variables, runForce, 0)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flush := streamEvents(bus, runQuiet)
	res, err := eng.Run(ctx, variables)
	flush()
	if err != nil {
		return err
	}
	return printResult(res)
}

// newToolRegistry builds the runtime tool registry with the built-in tools
// and the spec's security settings applied to the guard.
func newToolRegistry(cfg *config.Config, s *spec.Spec) *tools.Registry {
	gc := tools.GuardConfig{ArtifactsDir: cfg.OutputDir}
	if sec := s.Security; sec != nil {
		gc.AllowPrivateNetworks = sec.AllowPrivateNetworks
		gc.BypassToolConsent = sec.BypassToolConsent
	}
	registry := tools.NewRegistry(tools.NewGuard(gc))
	builtin.RegisterAll(registry)
	return registry
}

// buildEngine wires the store, client pool, agent builder and artifact
// writer for one workflow. usedTokens seeds the run's shared token meter
// with spend from before a pause, so a resumed run keeps counting against
// the same budget.
func buildEngine(cfg *config.Config, s *spec.Spec, variables map[string]interface{}, force bool, usedTokens int) (*orchestration.Engine, *events.Bus, error) {
	store, err := session.NewFileStore(cfg.SessionDir)
	if err != nil {
		return nil, nil, err
	}

	pool := factory.NewPool(factory.WithRateLimiter(llm.RateLimiterConfig{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		TokensPerMinute:   cfg.RateLimit.TokensPerMinute,
	}))

	bus := events.NewBus()

	// System prompts render against the resolved inputs.
	scope := template.NewScope()
	for k, v := range variables {
		scope.Set(k, v)
	}
	scope.Set("inputs", variables)

	var summary types.ModelClient
	if s.ContextPolicy != nil && s.ContextPolicy.Compaction != nil {
		rt := s.Runtime
		if m := s.ContextPolicy.Compaction.Model; m != "" {
			rt.ModelID = m
		}
		summary, err = pool.Client(context.Background(), &rt)
		if err != nil {
			return nil, nil, err
		}
	}

	// One meter per run: every agent's budget hook charges the same
	// workflow-level counter.
	meter := policy.NewTokenMeter(usedTokens)

	builder := agent.NewBuilder(agent.BuilderConfig{
		Agents:   s.Agents,
		Runtime:  s.Runtime,
		Provider: pool,
		Registry: newToolRegistry(cfg, s),
		HookFactory: func(string) []agent.Hook {
			return policy.Hooks(policy.HookSetConfig{
				Policy:        s.ContextPolicy,
				Budgets:       s.Runtime.Budgets,
				Bus:           bus,
				Workflow:      s.Name,
				NotesDir:      cfg.OutputDir,
				SummaryClient: summary,
				Meter:         meter,
			})
		},
		RenderPrompt: func(tpl string) (string, error) {
			return template.Render(tpl, scope)
		},
	})

	eng := orchestration.New(orchestration.Config{
		Spec:    s,
		Store:   store,
		Builder: builder,
		Bus:     bus,
		Writer:  artifacts.NewWriter(cfg.OutputDir, force),
	})
	return eng, bus, nil
}

func printWarnings(report *gate.Report) {
	for _, w := range report.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
}

// streamEvents prints workflow progress to stderr. The returned function
// drains and detaches the subscriber.
func streamEvents(bus *events.Bus, quiet bool) func() {
	if quiet {
		return func() {}
	}
	ch := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			switch ev.Type {
			case events.StepComplete:
				if step, ok := ev.Payload["step"]; ok {
					fmt.Fprintf(os.Stderr, "  step %v done (%v)\n", step, ev.Payload["agent"])
				} else {
					fmt.Fprintf(os.Stderr, "  iteration %v done (score %v)\n", ev.Payload["iteration"], ev.Payload["score"])
				}
			case events.TaskComplete:
				if task, ok := ev.Payload["task"]; ok {
					fmt.Fprintf(os.Stderr, "  task %v done\n", task)
				} else {
					fmt.Fprintf(os.Stderr, "  round %v done (%v worker(s))\n", ev.Payload["round"], ev.Payload["workers"])
				}
			case events.BranchComplete:
				fmt.Fprintf(os.Stderr, "  branch %v %v\n", ev.Payload["branch"], ev.Payload["status"])
			case events.NodeComplete:
				fmt.Fprintf(os.Stderr, "  node %v done (iteration %v)\n", ev.Payload["node"], ev.Payload["iteration"])
			case events.RouteChosen:
				fmt.Fprintf(os.Stderr, "  route: %v\n", ev.Payload["route"])
			case events.BudgetWarning:
				fmt.Fprintf(os.Stderr, "  budget warning: agent %v at %v of %v tokens\n",
					ev.Payload["agent"], ev.Payload["used"], ev.Payload["max_tokens"])
			case events.CompactionRun:
				fmt.Fprintf(os.Stderr, "  compacted conversation for %v\n", ev.Payload["agent"])
			}
		}
	}()
	return func() {
		bus.Unsubscribe(ch)
		<-done
	}
}

// printResult renders a terminal run result. A paused run exits with the
// dedicated pause code so scripts can branch on it.
func printResult(res *orchestration.RunResult) error {
	switch {
	case res.Paused():
		fmt.Printf("Workflow paused at gate %q (session %s)\n\n", res.Interrupt.GateID, res.SessionID)
		fmt.Printf("%s\n\n", res.Interrupt.Prompt)
		if res.Interrupt.TimeoutAt != nil {
			fmt.Printf("Respond before %s.\n", res.Interrupt.TimeoutAt.Format(time.RFC3339))
		}
		fmt.Printf("Continue with:\n  weft resume %s approve\n  weft resume %s reject --feedback \"...\"\n  weft resume %s modify --feedback \"...\"\n",
			res.SessionID, res.SessionID, res.SessionID)
		_ = os.Stdout.Sync()
		os.Exit(errdefs.ExitHITLPause)
		return nil
	case res.Status == session.StatusFailed:
		fmt.Fprintf(os.Stderr, "session %s failed\n", res.SessionID)
		return nil
	default:
		fmt.Println(res.Response)
		if len(res.Artifacts) > 0 {
			fmt.Fprintf(os.Stderr, "artifacts: %s\n", strings.Join(res.Artifacts, ", "))
		}
		fmt.Fprintf(os.Stderr, "session %s completed (%d tokens)\n", res.SessionID, res.Usage.TotalTokens)
		return nil
	}
}
