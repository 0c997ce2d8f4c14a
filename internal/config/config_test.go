// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/errdefs"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "./artifacts", cfg.OutputDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.NotEmpty(t, cfg.SessionDir)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weft.yaml")
	doc := "session_dir: /var/lib/weft\nlog_level: warn\nrate_limit:\n  enabled: true\n  requests_per_second: 5\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/weft", cfg.SessionDir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5.0, cfg.RateLimit.RequestsPerSecond)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUsage, errdefs.KindOf(err))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("WEFT_LOG_LEVEL", "debug")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	cfg := &Config{LogLevel: "loud", LogFormat: "console"}
	_, err := cfg.Logger()
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUsage, errdefs.KindOf(err))
}

func TestLoggerBuildsJSON(t *testing.T) {
	cfg := &Config{LogLevel: "info", LogFormat: "json"}
	logger, err := cfg.Logger()
	require.NoError(t, err)
	require.NotNil(t, logger)
}
