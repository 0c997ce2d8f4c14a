// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/errdefs"
)

func staticResolver(hosts map[string][]string) func(string) ([]net.IP, error) {
	return func(host string) ([]net.IP, error) {
		addrs, ok := hosts[host]
		if !ok {
			return nil, &net.DNSError{Err: "no such host", Name: host}
		}
		ips := make([]net.IP, len(addrs))
		for i, a := range addrs {
			ips[i] = net.ParseIP(a)
		}
		return ips, nil
	}
}

func TestCheckURLBlocksSSRFTargets(t *testing.T) {
	g := NewGuard(GuardConfig{
		LookupIP: staticResolver(map[string][]string{
			"api.example.com":  {"93.184.216.34"},
			"internal.corp":    {"10.1.2.3"},
			"metadata.sneaky":  {"169.254.169.254"},
			"localhost-by-dns": {"127.0.0.1"},
		}),
	})

	tests := []struct {
		name    string
		url     string
		blocked bool
	}{
		{"public host ok", "https://api.example.com/data", false},
		{"plain http ok", "http://api.example.com", false},
		{"loopback literal", "http://127.0.0.1:8080/admin", true},
		{"loopback ipv6", "http://[::1]/", true},
		{"loopback via dns", "http://localhost-by-dns/", true},
		{"metadata literal", "http://169.254.169.254/latest/meta-data/", true},
		{"metadata via dns", "http://metadata.sneaky/", true},
		{"rfc1918 literal", "http://192.168.1.1/", true},
		{"rfc1918 via dns", "http://internal.corp/", true},
		{"file scheme", "file:///etc/passwd", true},
		{"gopher scheme", "gopher://api.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CheckURL(tt.url)
			if tt.blocked {
				require.Error(t, err)
				assert.Equal(t, errdefs.KindTool, errdefs.KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckURLPrivateWhitelist(t *testing.T) {
	g := NewGuard(GuardConfig{
		AllowPrivateNetworks: []string{"10.1.0.0/16"},
		LookupIP:             staticResolver(nil),
	})

	assert.NoError(t, g.CheckURL("http://10.1.2.3/health"))
	assert.Error(t, g.CheckURL("http://10.2.0.1/health"))
	assert.Error(t, g.CheckURL("http://192.168.0.1/health"))
}

func TestCheckWritePath(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(GuardConfig{ArtifactsDir: dir})

	assert.NoError(t, g.CheckWritePath("out.txt"))
	assert.NoError(t, g.CheckWritePath("nested/dir/out.txt"))
	assert.Error(t, g.CheckWritePath(""))
	assert.Error(t, g.CheckWritePath("/etc/passwd"))
	assert.Error(t, g.CheckWritePath("../escape.txt"))
	assert.Error(t, g.CheckWritePath("nested/../../escape.txt"))
}

func TestCheckWritePathRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	g := NewGuard(GuardConfig{ArtifactsDir: dir})
	err := g.CheckWritePath("link/out.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symlink")
}

func TestCheckReadPath(t *testing.T) {
	g := NewGuard(GuardConfig{})

	f := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))

	assert.NoError(t, g.CheckReadPath(f))
	assert.Error(t, g.CheckReadPath("relative.txt"))
	assert.Error(t, g.CheckReadPath(""))
}

func TestConsentGate(t *testing.T) {
	dir := t.TempDir()

	denied := NewGuard(GuardConfig{ArtifactsDir: dir})
	err := denied.checkConsent("out.txt")
	require.Error(t, err)

	bypassed := NewGuard(GuardConfig{ArtifactsDir: dir, BypassToolConsent: true})
	assert.NoError(t, bypassed.checkConsent("out.txt"))

	interactive := NewGuard(GuardConfig{ArtifactsDir: dir})
	interactive.SetConsentFunc(func(string) bool { return true })
	assert.NoError(t, interactive.checkConsent("out.txt"))
}

func TestValidateInput(t *testing.T) {
	schema := NewObjectSchema("test", map[string]*JSONSchema{
		"name": NewStringSchema("a name"),
		"mode": NewStringSchema("a mode").WithEnum("fast", "slow"),
		"n":    NewNumberSchema("a count"),
	}, []string{"name"})

	assert.NoError(t, ValidateInput(schema, map[string]interface{}{"name": "x"}))
	assert.NoError(t, ValidateInput(schema, map[string]interface{}{"name": "x", "mode": "fast", "n": 3.0}))
	assert.Error(t, ValidateInput(schema, map[string]interface{}{}))
	assert.Error(t, ValidateInput(schema, map[string]interface{}{"name": 42}))
	assert.Error(t, ValidateInput(schema, map[string]interface{}{"name": "x", "mode": "medium"}))
}
