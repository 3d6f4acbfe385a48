// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFullConfig(t *testing.T) {
	data := []byte(`
default:
  agent: claude
  image: my-custom-image:latest
  allow_domains: "github.com pypi.org"
  volumes:
    - /tmp:/scratch:ro
  env:
    - MY_VAR=value
    - ANOTHER=var
  auth_home: /home/user/.config/warden
resources:
  memory: 8g
  cpus: "6"
  pids_limit: "512"
security:
  seccomp_profile: ./seccomp/custom.json
  dns_servers: "8.8.8.8 1.1.1.1"
  audit_log: verbose
`)
	cfg, err := ParseProjectConfig(data, ".warden.yaml")
	if err != nil {
		t.Fatalf("ParseProjectConfig failed: %v", err)
	}
	if cfg.Default.Agent != "claude" {
		t.Errorf("agent = %q", cfg.Default.Agent)
	}
	if cfg.Default.AllowDomains != "github.com pypi.org" {
		t.Errorf("allow_domains = %q", cfg.Default.AllowDomains)
	}
	if len(cfg.Default.Volumes) != 1 || len(cfg.Default.Env) != 2 {
		t.Errorf("volumes/env not parsed: %+v", cfg.Default)
	}
	if cfg.Resources.Memory != "8g" || cfg.Resources.CPUs != "6" || cfg.Resources.PidsLimit != "512" {
		t.Errorf("resources not parsed: %+v", cfg.Resources)
	}
	if cfg.Security.SeccompProfile != "./seccomp/custom.json" {
		t.Errorf("seccomp_profile = %q", cfg.Security.SeccompProfile)
	}
	if cfg.Security.AuditLog != "verbose" {
		t.Errorf("audit_log = %q", cfg.Security.AuditLog)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	cfg, err := ParseProjectConfig([]byte("default:\n  allow_domains: github.com\n"), "x")
	if err != nil {
		t.Fatalf("ParseProjectConfig failed: %v", err)
	}
	if cfg.Default.AllowDomains != "github.com" {
		t.Errorf("allow_domains = %q", cfg.Default.AllowDomains)
	}
	if cfg.Resources.Memory != "" {
		t.Errorf("memory should be unset, got %q", cfg.Resources.Memory)
	}
}

func TestParseEmptyConfig(t *testing.T) {
	cfg, err := ParseProjectConfig(nil, "x")
	if err != nil {
		t.Fatalf("empty config rejected: %v", err)
	}
	if cfg == nil {
		t.Fatal("empty config returned nil")
	}
}

func TestRejectUnknownFields(t *testing.T) {
	data := []byte("default:\n  foo_bar: value\n")
	_, err := ParseProjectConfig(data, ".warden.yaml")
	if err == nil {
		t.Fatal("unknown field accepted")
	}
	if !strings.Contains(err.Error(), "foo_bar") {
		t.Errorf("error %q does not name the unknown field", err.Error())
	}
}

func TestRejectUnknownTopLevelSection(t *testing.T) {
	if _, err := ParseProjectConfig([]byte("netwrk:\n  policy: strict\n"), "x"); err == nil {
		t.Fatal("unknown section accepted")
	}
}

func TestLoadMissingFileIsNil(t *testing.T) {
	cfg, err := LoadProjectConfig(filepath.Join(t.TempDir(), ConfigFileName))
	if err != nil {
		t.Fatalf("missing file treated as error: %v", err)
	}
	if cfg != nil {
		t.Error("missing file returned a config")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte("default:\n  image: img:1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadProjectConfig(path)
	if err != nil {
		t.Fatalf("LoadProjectConfig failed: %v", err)
	}
	if cfg.Default.Image != "img:1" {
		t.Errorf("image = %q", cfg.Default.Image)
	}
}
