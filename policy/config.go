// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional project-level configuration file,
// looked up in the working directory.
const ConfigFileName = ".warden.yaml"

// ProjectConfig is the declarative project configuration. Every field
// is optional; absent fields fall through to CLI flags and defaults
// during Merge.
//
// Unknown keys are a hard error, never a warning: a typo like
// "alow_domains" would otherwise silently disable a protection.
type ProjectConfig struct {
	Default   DefaultSection  `yaml:"default"`
	Resources ResourceSection `yaml:"resources"`
	Security  SecuritySection `yaml:"security"`
}

// DefaultSection holds the default invocation settings.
type DefaultSection struct {
	// Agent is the agent to run (e.g. "claude").
	Agent string `yaml:"agent"`
	// Image is the container image reference.
	Image string `yaml:"image"`
	// AllowDomains is a space-separated outbound allow-list.
	AllowDomains string `yaml:"allow_domains"`
	// Volumes are extra mounts in hostPath:containerPath[:ro] form.
	Volumes []string `yaml:"volumes"`
	// Env are KEY=VALUE pairs passed into the container.
	Env []string `yaml:"env"`
	// AuthHome is the persistent auth directory on the host.
	AuthHome string `yaml:"auth_home"`
}

// ResourceSection holds the resource ceilings.
type ResourceSection struct {
	Memory    string `yaml:"memory"`
	CPUs      string `yaml:"cpus"`
	PidsLimit string `yaml:"pids_limit"`
}

// SecuritySection holds the security settings.
type SecuritySection struct {
	// SeccompProfile is a profile file path, or "none" to disable.
	// Empty selects the embedded default profile.
	SeccompProfile string `yaml:"seccomp_profile"`
	// DNSServers is a space-separated resolver allow-list. Empty
	// leaves DNS unrestricted.
	DNSServers string `yaml:"dns_servers"`
	// AuditLog is the firewall audit level: off, basic, verbose.
	AuditLog string `yaml:"audit_log"`
}

// LoadProjectConfig reads and strictly decodes a project config file.
// A missing file returns (nil, nil): the file is optional. A file that
// exists but does not parse, or that contains unknown keys, is a
// ValidationError: the launch must not proceed on a config the
// operator did not write.
func LoadProjectConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseProjectConfig(data, path)
}

// ParseProjectConfig decodes project config bytes with strict field
// checking.
func ParseProjectConfig(data []byte, path string) (*ProjectConfig, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var cfg ProjectConfig
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: treated as a present-but-empty config.
			return &ProjectConfig{}, nil
		}
		return nil, &ValidationError{
			Field:  "config",
			Value:  path,
			Reason: err.Error(),
		}
	}
	return &cfg, nil
}
