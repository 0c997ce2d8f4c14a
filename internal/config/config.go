// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config loads process-level settings. Values come from an optional
// config file and WEFT_* environment variables, are read once, and are
// frozen into an immutable Config. Per-workflow settings belong in the spec,
// not here.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teradata-labs/weft/pkg/errdefs"
)

// Config is the frozen process configuration.
type Config struct {
	// SessionDir is the root under which the session store keeps its
	// sessions/ tree.
	SessionDir string

	// OutputDir is where declared artifacts are written.
	OutputDir string

	LogLevel  string
	LogFormat string

	RateLimit RateLimit
}

// RateLimit tunes client-side model throttling.
type RateLimit struct {
	Enabled           bool
	RequestsPerSecond float64
	TokensPerMinute   int
}

// Load reads configuration. With an explicit file the file must exist;
// otherwise weft.yaml is searched in the working directory and ~/.weft and
// is optional. Environment variables use the WEFT_ prefix with underscores
// (WEFT_SESSION_DIR, WEFT_LOG_LEVEL, WEFT_RATE_LIMIT_ENABLED).
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("session_dir", defaultSessionDir())
	v.SetDefault("output_dir", "./artifacts")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.tokens_per_minute", 80000)

	v.SetEnvPrefix("WEFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errdefs.Wrap(err, errdefs.KindUsage, "read config file %s", file)
		}
	} else {
		v.SetConfigName("weft")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultSessionDir())
		// Missing default config is fine; a malformed one is not.
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, errdefs.Wrap(err, errdefs.KindUsage, "read config file %s", v.ConfigFileUsed())
			}
		}
	}

	return &Config{
		SessionDir: v.GetString("session_dir"),
		OutputDir:  v.GetString("output_dir"),
		LogLevel:   v.GetString("log_level"),
		LogFormat:  v.GetString("log_format"),
		RateLimit: RateLimit{
			Enabled:           v.GetBool("rate_limit.enabled"),
			RequestsPerSecond: v.GetFloat64("rate_limit.requests_per_second"),
			TokensPerMinute:   v.GetInt("rate_limit.tokens_per_minute"),
		},
	}, nil
}

// Logger builds a zap logger per the configured level and format.
func (c *Config) Logger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, errdefs.New(errdefs.KindUsage, "unknown log level %q", c.LogLevel).
			Hint("use debug, info, warn or error")
	}

	var zc zap.Config
	switch c.LogFormat {
	case "console":
		zc = zap.NewDevelopmentConfig()
	case "json":
		zc = zap.NewProductionConfig()
	default:
		return nil, errdefs.New(errdefs.KindUsage, "unknown log format %q", c.LogFormat).
			Hint("use console or json")
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindUsage, "build logger")
	}
	return logger, nil
}

func defaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".weft"
	}
	return filepath.Join(home, ".weft")
}
