// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/teradata-labs/weft/pkg/errdefs"
)

// GuardConfig configures the safety guard.
type GuardConfig struct {
	// ArtifactsDir is the only directory filesystem-write tools may touch.
	ArtifactsDir string

	// AllowPrivateNetworks whitelists RFC1918 CIDRs for network tools.
	AllowPrivateNetworks []string

	// BypassToolConsent skips interactive write consent.
	BypassToolConsent bool

	// LookupIP overrides DNS resolution, for tests. Defaults to net.LookupIP.
	LookupIP func(host string) ([]net.IP, error)
}

// Guard enforces the registry's safety rules: SSRF screening for network
// tools and path sandboxing for filesystem tools.
type Guard struct {
	artifactsDir  string
	allowPrivate  []*net.IPNet
	bypassConsent bool
	lookupIP      func(host string) ([]net.IP, error)
	consentFn     func(path string) bool
}

var linkLocalNet = mustCIDR("169.254.0.0/16")

var rfc1918Nets = []*net.IPNet{
	mustCIDR("10.0.0.0/8"),
	mustCIDR("172.16.0.0/12"),
	mustCIDR("192.168.0.0/16"),
}

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// NewGuard creates a guard. Invalid whitelist CIDRs are ignored rather than
// silently widening the screen.
func NewGuard(cfg GuardConfig) *Guard {
	g := &Guard{
		artifactsDir:  cfg.ArtifactsDir,
		bypassConsent: cfg.BypassToolConsent,
		lookupIP:      cfg.LookupIP,
	}
	if g.lookupIP == nil {
		g.lookupIP = net.LookupIP
	}
	for _, c := range cfg.AllowPrivateNetworks {
		if _, n, err := net.ParseCIDR(c); err == nil {
			g.allowPrivate = append(g.allowPrivate, n)
		}
	}
	return g
}

// SetConsentFunc installs the interactive consent prompt used for
// filesystem writes. Nil means consent is denied unless bypassed.
func (g *Guard) SetConsentFunc(fn func(path string) bool) {
	g.consentFn = fn
}

// Check applies the guard appropriate to the tool's side-effect class.
func (g *Guard) Check(tool Tool, params map[string]interface{}) error {
	switch tool.SideEffect() {
	case SideEffectNetwork:
		if rawURL, ok := params["url"].(string); ok {
			return g.CheckURL(rawURL)
		}
		return nil
	case SideEffectFilesystemWrite:
		path, _ := params["path"].(string)
		if err := g.CheckWritePath(path); err != nil {
			return err
		}
		return g.checkConsent(path)
	case SideEffectFilesystemRead:
		path, _ := params["path"].(string)
		return g.CheckReadPath(path)
	default:
		return nil
	}
}

// CheckURL screens a URL against SSRF: scheme must be http or https, and
// the host must not resolve to loopback, link-local metadata addresses, or
// RFC1918 space unless explicitly whitelisted.
func (g *Guard) CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindTool, "invalid URL %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errdefs.New(errdefs.KindTool, "URL scheme %q is not allowed", u.Scheme).
			Hint("only http and https URLs are permitted")
	}

	host := u.Hostname()
	if host == "" {
		return errdefs.New(errdefs.KindTool, "URL %q has no host", rawURL)
	}

	ips, err := g.resolveHost(host)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindTool, "cannot resolve host %q", host)
	}
	for _, ip := range ips {
		if err := g.screenIP(host, ip); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guard) resolveHost(host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	return g.lookupIP(host)
}

func (g *Guard) screenIP(host string, ip net.IP) error {
	if ip.IsLoopback() || ip.IsUnspecified() {
		return errdefs.New(errdefs.KindTool, "host %q resolves to loopback address %s", host, ip).
			Hint("loopback targets are blocked by SSRF screening")
	}
	if linkLocalNet.Contains(ip) || ip.IsLinkLocalUnicast() {
		return errdefs.New(errdefs.KindTool, "host %q resolves to link-local address %s", host, ip).
			Hint("cloud metadata addresses are blocked")
	}
	for _, private := range rfc1918Nets {
		if !private.Contains(ip) {
			continue
		}
		allowed := false
		for _, allow := range g.allowPrivate {
			if allow.Contains(ip) {
				allowed = true
				break
			}
		}
		if !allowed {
			return errdefs.New(errdefs.KindTool, "host %q resolves to private address %s", host, ip).
				Hint("whitelist the network under security.allow_private_networks")
		}
	}
	return nil
}

// CheckWritePath sandboxes a write path to the artifacts directory:
// relative only, no `..` components, no symlinks anywhere on the resolved
// path.
func (g *Guard) CheckWritePath(path string) error {
	if path == "" {
		return errdefs.New(errdefs.KindTool, "write path is empty")
	}
	if filepath.IsAbs(path) {
		return errdefs.New(errdefs.KindTool, "absolute write path %q rejected", path).
			Hint("write paths are relative to the artifacts directory")
	}
	if hasDotDot(path) {
		return errdefs.New(errdefs.KindTool, "write path %q contains '..'", path)
	}
	if g.artifactsDir == "" {
		return errdefs.New(errdefs.KindTool, "no artifacts directory configured")
	}

	full := filepath.Join(g.artifactsDir, filepath.Clean(path))
	rel, err := filepath.Rel(g.artifactsDir, full)
	if err != nil || hasDotDot(rel) {
		return errdefs.New(errdefs.KindTool, "write path %q escapes the artifacts directory", path)
	}
	return rejectSymlinks(g.artifactsDir, full)
}

// CheckReadPath validates a read path: absolute only, no symlinks.
func (g *Guard) CheckReadPath(path string) error {
	if path == "" {
		return errdefs.New(errdefs.KindTool, "read path is empty")
	}
	if !filepath.IsAbs(path) {
		return errdefs.New(errdefs.KindTool, "read path %q must be absolute", path)
	}
	if hasDotDot(path) {
		return errdefs.New(errdefs.KindTool, "read path %q contains '..'", path)
	}
	return rejectSymlinks(string(filepath.Separator), path)
}

// ResolveWritePath returns the absolute path for a sandboxed write.
func (g *Guard) ResolveWritePath(path string) (string, error) {
	if err := g.CheckWritePath(path); err != nil {
		return "", err
	}
	return filepath.Join(g.artifactsDir, filepath.Clean(path)), nil
}

func (g *Guard) checkConsent(path string) error {
	if g.bypassConsent {
		return nil
	}
	if g.consentFn != nil && g.consentFn(path) {
		return nil
	}
	return errdefs.New(errdefs.KindTool, "write to %q requires consent", path).
		Hint("re-run interactively or set bypass_tool_consent")
}

func hasDotDot(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// rejectSymlinks walks each existing component of path below base and fails
// on the first symlink. Components that do not exist yet are fine: they will
// be created by the write itself.
func rejectSymlinks(base, path string) error {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindTool, "cannot resolve %q", path)
	}
	cur := base
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "." || part == "" {
			continue
		}
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errdefs.Wrap(err, errdefs.KindTool, "cannot stat %q", cur)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return errdefs.New(errdefs.KindTool, "symlink %q rejected", cur)
		}
	}
	return nil
}
