// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/weft/pkg/gate"
	"github.com/teradata-labs/weft/pkg/session"
	"github.com/teradata-labs/weft/pkg/spec"
)

var resumeFeedback string

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id> <approve|reject|modify>",
	Short: "Resume a paused workflow",
	Long: `Resume a workflow paused at a manual gate.

  approve  continue past the gate
  reject   stop the workflow; --feedback records why
  modify   redo the step before the gate with --feedback applied

The spec snapshot stored with the session is used, so the original file may
change or disappear without affecting the resumed run.`,
	Args: cobra.ExactArgs(2),
	RunE: resumeWorkflow,
}

func init() {
	resumeCmd.Flags().StringVarP(&resumeFeedback, "feedback", "f", "", "feedback for reject or modify")
}

func resumeWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := session.NewFileStore(cfg.SessionDir)
	if err != nil {
		return err
	}
	sess, err := store.Load(args[0])
	if err != nil {
		return err
	}
	snapshot, err := store.SpecSnapshot(sess.ID)
	if err != nil {
		return err
	}
	s, err := spec.Parse(snapshot)
	if err != nil {
		return err
	}

	registry := newToolRegistry(cfg, s)
	report := gate.New(registry.IsRegistered, registry.Guard()).Check(s)
	printWarnings(report)
	if err := report.Err(); err != nil {
		return err
	}

	// Tokens spent before the pause keep counting against the budget.
	eng, bus, err := buildEngine(cfg, s, sess.Variables, true, sess.TokenUsage.TotalTokens)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flush := streamEvents(bus, false)
	res, err := eng.Resume(ctx, sess.ID, args[1], resumeFeedback)
	flush()
	if err != nil {
		return err
	}
	return printResult(res)
}
