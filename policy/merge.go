// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"os"
	"path/filepath"
	"strings"
)

// Overrides carries the command-line inputs into Merge. Zero values
// mean "not supplied"; a supplied value beats the project config, which
// beats the built-in defaults.
type Overrides struct {
	Agent     string
	AgentArgs []string
	Image     string

	// AllowDomains, when non-empty, fully REPLACES any project-config
	// domain list. This is asymmetric with Volumes below, which append;
	// the asymmetry is long-standing observed behavior and is kept
	// deliberately (see DESIGN.md).
	AllowDomains   string
	AllowDomainSet bool

	// Volumes are APPENDED to project-config volumes.
	Volumes []string
	// Env entries are merged over project-config entries by key.
	Env []string

	AuthHome string

	Memory    string
	CPUs      string
	PidsLimit string

	SeccompProfile    string
	SeccompProfileSet bool
	DNSServers        string
	DNSServersSet     bool
	AuditLog          string
}

// DefaultAgent is run when neither flag nor config names one.
const DefaultAgent = "claude"

// DefaultImage is the image used when none is configured.
const DefaultImage = "warden-agent:latest"

// anthropicDomains are appended to the allow-list for the claude agent
// so a bare "warden" invocation can reach its own API.
var anthropicDomains = []string{"api.anthropic.com", "anthropic.com"}

// EnvAllowDomains is the host-side environment fallback for the domain
// allow-list, honored only when neither the CLI nor the project config
// supplies one.
const EnvAllowDomains = "WARDEN_ALLOW_DOMAINS"

// Merge resolves defaults, the optional project config, and CLI
// overrides into one Policy. It is the sole Policy constructor: every
// untrusted string crosses a validator here, and any failure aborts the
// merge with the offending value and reason.
//
// Precedence is field-by-field, not document-level. For most scalar
// fields CLI beats config beats default. Two list fields differ:
// domains replace, volumes append.
func Merge(cfg *ProjectConfig, o Overrides) (*Policy, error) {
	p := &Policy{
		Agent: DefaultAgent,
		Image: DefaultImage,
		Env:   make(map[string]string),
		Resources: ResourceLimits{
			Memory:    Limit{Unlimited: true},
			CPUs:      Limit{Unlimited: true},
			PidsLimit: Limit{Unlimited: true},
		},
		Seccomp:         SeccompPolicy{Mode: SeccompDefault},
		Audit:           AuditOff,
		DNSUnrestricted: true,
	}

	if cfg == nil {
		cfg = &ProjectConfig{}
	}

	// Agent and trailing arguments.
	if cfg.Default.Agent != "" {
		p.Agent = cfg.Default.Agent
	}
	if o.Agent != "" {
		p.Agent = o.Agent
	}
	p.AgentArgs = o.AgentArgs

	// Image.
	if cfg.Default.Image != "" {
		p.Image = cfg.Default.Image
	}
	if o.Image != "" {
		p.Image = o.Image
	}

	// Domain allow-list: CLI replaces config replaces env fallback.
	domainSource := ""
	switch {
	case o.AllowDomainSet:
		domainSource = o.AllowDomains
	case cfg.Default.AllowDomains != "":
		domainSource = cfg.Default.AllowDomains
	default:
		domainSource = os.Getenv(EnvAllowDomains)
	}
	domains, err := ValidateDomainList(domainSource)
	if err != nil {
		return nil, err
	}
	p.AllowedDomains = domains

	// The claude agent always gets its API domains.
	if p.Agent == DefaultAgent {
		p.AllowedDomains = appendMissing(p.AllowedDomains, anthropicDomains)
	}

	// Volumes: config then CLI, accumulated in order.
	for _, spec := range cfg.Default.Volumes {
		mount, err := ValidateVolume(spec)
		if err != nil {
			return nil, err
		}
		p.Volumes = append(p.Volumes, mount)
	}
	for _, spec := range o.Volumes {
		mount, err := ValidateVolume(spec)
		if err != nil {
			return nil, err
		}
		p.Volumes = append(p.Volumes, mount)
	}

	// Environment: config first, CLI wins per key.
	for _, kv := range cfg.Default.Env {
		key, value, err := splitEnv(kv)
		if err != nil {
			return nil, err
		}
		p.Env[key] = value
	}
	for _, kv := range o.Env {
		key, value, err := splitEnv(kv)
		if err != nil {
			return nil, err
		}
		p.Env[key] = value
	}

	// Auth home: CLI > config > default under the user config dir.
	authHome := o.AuthHome
	if authHome == "" {
		authHome = cfg.Default.AuthHome
	}
	if authHome == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			configDir = filepath.Join(os.Getenv("HOME"), ".config")
		}
		authHome = filepath.Join(configDir, "warden")
	}
	p.AuthHome = authHome

	// Resource ceilings, each independently overridable.
	if p.Resources.Memory, err = resolveLimit(o.Memory, cfg.Resources.Memory, ResourceMemory); err != nil {
		return nil, err
	}
	if p.Resources.CPUs, err = resolveLimit(o.CPUs, cfg.Resources.CPUs, ResourceCPUs); err != nil {
		return nil, err
	}
	if p.Resources.PidsLimit, err = resolveLimit(o.PidsLimit, cfg.Resources.PidsLimit, ResourcePids); err != nil {
		return nil, err
	}

	// Syscall filter: resolved into the closed variant exactly once.
	seccompSource := cfg.Security.SeccompProfile
	if o.SeccompProfileSet {
		seccompSource = o.SeccompProfile
	}
	switch seccompSource {
	case "":
		p.Seccomp = SeccompPolicy{Mode: SeccompDefault}
	case "none":
		p.Seccomp = SeccompPolicy{Mode: SeccompDisabled}
	default:
		p.Seccomp = SeccompPolicy{Mode: SeccompCustom, Path: seccompSource}
	}

	// DNS resolver pins.
	dnsSource := cfg.Security.DNSServers
	if o.DNSServersSet {
		dnsSource = o.DNSServers
	}
	if strings.TrimSpace(dnsSource) != "" {
		servers, err := ValidateDNSList(dnsSource)
		if err != nil {
			return nil, err
		}
		p.DNSServers = servers
		p.DNSUnrestricted = false
	}

	// Audit level.
	auditSource := cfg.Security.AuditLog
	if o.AuditLog != "" {
		auditSource = o.AuditLog
	}
	if auditSource != "" {
		level, err := ParseAuditLevel(auditSource)
		if err != nil {
			return nil, err
		}
		p.Audit = level
	}

	return p, nil
}

// resolveLimit applies CLI-over-config precedence for one ceiling and
// validates whichever source won. Absent at both levels means
// unlimited.
func resolveLimit(cli, file string, kind ResourceKind) (Limit, error) {
	source := file
	if cli != "" {
		source = cli
	}
	if source == "" {
		return Limit{Unlimited: true}, nil
	}
	return ValidateResource(source, kind)
}

func splitEnv(kv string) (string, string, error) {
	key, value, ok := strings.Cut(kv, "=")
	if !ok || key == "" {
		return "", "", &ValidationError{
			Field: "environment variable", Value: kv,
			Reason: "must be KEY=VALUE",
		}
	}
	return key, value, nil
}

func appendMissing(list []string, extra []string) []string {
	seen := make(map[string]bool, len(list))
	for _, d := range list {
		seen[d] = true
	}
	for _, d := range extra {
		if !seen[d] {
			list = append(list, d)
			seen[d] = true
		}
	}
	return list
}
