// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/weft/pkg/gate"
	"github.com/teradata-labs/weft/pkg/spec"
)

var validateCmd = &cobra.Command{
	Use:   "validate <spec.yaml>",
	Short: "Validate a workflow spec without running it",
	Long: `Validate a workflow spec: schema, agent and tool references, pattern
structure and capability limits. Warnings do not fail validation.`,
	Args: cobra.ExactArgs(1),
	RunE: validateSpec,
}

func validateSpec(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := spec.Load(args[0])
	if err != nil {
		return err
	}

	registry := newToolRegistry(cfg, s)
	report := gate.New(registry.IsRegistered, registry.Guard()).Check(s)
	printWarnings(report)
	if err := report.Err(); err != nil {
		return err
	}

	fmt.Printf("%s: spec %q is valid (%s pattern, %d agent(s))\n",
		args[0], s.Name, s.Pattern.Type, len(s.Agents))
	return nil
}
