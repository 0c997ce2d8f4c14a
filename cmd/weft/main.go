// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/weft/internal/config"
	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/errdefs"
)

var (
	cfgFile    string
	sessionDir string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Run declarative agentic workflows",
	Long: `Weft executes YAML workflow specs: multi-agent patterns (chain, routing,
parallel, workflow DAG, evaluator-optimizer, orchestrator-workers, graph)
with durable sessions, human-in-the-loop gates and artifact outputs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: weft.yaml in . or ~/.weft)")
	rootCmd.PersistentFlags().StringVar(&sessionDir, "session-dir", "", "session store root (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig resolves the frozen process config, applies flag overrides and
// installs the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if sessionDir != "" {
		cfg.SessionDir = sessionDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	log.SetLogger(logger)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var classified *errdefs.Error
		if errors.As(err, &classified) && classified.Remediation != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", classified.Remediation)
		}
		_ = log.Sync()
		os.Exit(errdefs.ExitCode(err))
	}
	_ = log.Sync()
}
