// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/weft/pkg/session"
)

var (
	listStatus       string
	listWorkflow     string
	cleanupOlderThan time.Duration
	cleanupKeepDone  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	RunE:  listSessions,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session and its pattern state",
	Args:  cobra.ExactArgs(1),
	RunE:  showSession,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and all its files",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteSession,
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete sessions not updated recently",
	RunE:  cleanupSessions,
}

func init() {
	sessionsListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status: running, paused, completed or failed")
	sessionsListCmd.Flags().StringVar(&listWorkflow, "workflow", "", "filter by workflow name")
	sessionsCleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 7*24*time.Hour, "delete sessions older than this")
	sessionsCleanupCmd.Flags().BoolVar(&cleanupKeepDone, "keep-completed", false, "keep completed sessions regardless of age")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)
}

func openStore() (*session.FileStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return session.NewFileStore(cfg.SessionDir)
}

func listSessions(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	sessions, err := store.List(session.ListFilter{
		Status:   session.Status(listStatus),
		Workflow: listWorkflow,
	})
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWORKFLOW\tPATTERN\tSTATUS\tUPDATED\tTOKENS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			s.ID,
			s.Metadata.WorkflowName,
			s.Metadata.PatternType,
			s.Metadata.Status,
			s.Metadata.UpdatedAt.Local().Format("2006-01-02 15:04"),
			s.TokenUsage.TotalTokens)
	}
	return w.Flush()
}

func showSession(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	sess, err := store.Load(args[0])
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	state, err := store.LoadPatternState(sess.ID)
	if err != nil {
		return err
	}
	if state != nil {
		fmt.Printf("\npattern state (%s):\n", state.Type)
		pretty, err := json.MarshalIndent(json.RawMessage(state.Data), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(pretty))
	}
	return nil
}

func deleteSession(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func cleanupSessions(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	removed, err := store.Cleanup(cleanupOlderThan, cleanupKeepDone)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d session(s)\n", removed)
	return nil
}
