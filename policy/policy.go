// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy defines the trust-boundary description for one agent
// launch and the only path that produces it.
//
// A Policy is valid by construction: it can only be obtained from
// Merge, which runs every input through the validators in validate.go
// first. Code downstream of Merge (the invocation compiler, the
// contract encoder) never re-checks shapes it already trusts, with one
// deliberate exception: the in-container firewall re-validates domains
// and resolver addresses defensively, because it executes a resolution
// command with them and runs on the other side of a process boundary.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// AuditLevel controls firewall audit logging inside the container.
type AuditLevel string

const (
	AuditOff     AuditLevel = "off"
	AuditBasic   AuditLevel = "basic"
	AuditVerbose AuditLevel = "verbose"
)

// ParseAuditLevel validates an audit level string.
func ParseAuditLevel(s string) (AuditLevel, error) {
	switch AuditLevel(s) {
	case AuditOff, AuditBasic, AuditVerbose:
		return AuditLevel(s), nil
	case "none":
		// Accepted alias from older config files.
		return AuditOff, nil
	}
	return "", &ValidationError{Field: "audit_log", Value: s, Reason: "must be off, basic, or verbose"}
}

// SeccompMode discriminates the syscall-filter variant. The string
// supplied by the operator is resolved into this closed set exactly
// once, during Merge; nothing downstream re-matches the raw string.
type SeccompMode int

const (
	// SeccompDefault attaches the profile embedded in the binary.
	SeccompDefault SeccompMode = iota
	// SeccompCustom attaches an operator-supplied profile file.
	SeccompCustom
	// SeccompDisabled runs the container unconfined.
	SeccompDisabled
)

// SeccompPolicy is the resolved syscall-filter selection.
type SeccompPolicy struct {
	Mode SeccompMode
	// Path is the profile file for SeccompCustom; empty otherwise.
	Path string
}

// VolumeMount is one validated host-to-container bind mount.
type VolumeMount struct {
	Host      string
	Container string
	ReadOnly  bool
}

// String renders the mount in docker -v syntax.
func (v VolumeMount) String() string {
	s := v.Host + ":" + v.Container
	if v.ReadOnly {
		s += ":ro"
	}
	return s
}

// Limit is one resource ceiling: either a bounded value with its unit
// suffix intact, or unlimited. Unlimited ceilings are omitted from the
// compiled invocation entirely rather than passed as a literal.
type Limit struct {
	Value     string
	Unlimited bool
}

// ResourceLimits holds the three ceilings warden enforces.
type ResourceLimits struct {
	Memory    Limit
	CPUs      Limit
	PidsLimit Limit
}

// Policy is the fully resolved configuration for one launch. It is
// never mutated after Merge returns it; the compiler and the contract
// encoder share it read-only.
type Policy struct {
	// Agent is the agent binary name inside the container.
	Agent string
	// AgentArgs is the trailing argument vector forwarded verbatim.
	// Empty means the compiler appends the agent's default
	// skip-confirmation flag instead.
	AgentArgs []string

	// Image is the container image reference.
	Image string

	// AllowedDomains is the ordered, deduplicated outbound allow-list.
	AllowedDomains []string

	// DNSServers are pinned resolver IPv4 literals. Ignored when
	// DNSUnrestricted is set.
	DNSServers      []string
	DNSUnrestricted bool

	// Volumes is the ordered list of extra mounts beyond the working
	// directory and auth home.
	Volumes []VolumeMount

	// Env is passed into the container after the contract variables.
	Env map[string]string

	Resources ResourceLimits
	Seccomp   SeccompPolicy
	Audit     AuditLevel

	// AuthHome is the host directory persisted across sessions and
	// mounted at AuthHomeContainerPath.
	AuthHome string
}

// AuthHomeContainerPath is where the persistent auth directory is
// mounted inside the container. Part of the image layout; changing it
// breaks existing credential stores.
const AuthHomeContainerPath = "/home/agent/.config/warden"

// WorkdirContainerPath is where the host working directory is mounted.
const WorkdirContainerPath = "/app"

// Digest returns the blake3 digest of the canonical policy encoding,
// used by the launch ledger to identify identical configurations across
// sessions. The encoding is deterministic: map keys are sorted and
// every field participates.
func (p *Policy) Digest() [32]byte {
	var b strings.Builder
	b.WriteString("agent=" + p.Agent + "\n")
	b.WriteString("args=" + strings.Join(p.AgentArgs, "\x00") + "\n")
	b.WriteString("image=" + p.Image + "\n")
	b.WriteString("domains=" + strings.Join(p.AllowedDomains, " ") + "\n")
	if p.DNSUnrestricted {
		b.WriteString("dns=any\n")
	} else {
		b.WriteString("dns=" + strings.Join(p.DNSServers, " ") + "\n")
	}
	for _, v := range p.Volumes {
		b.WriteString("volume=" + v.String() + "\n")
	}
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("env=" + k + "=" + p.Env[k] + "\n")
	}
	b.WriteString(fmt.Sprintf("resources=%+v\n", p.Resources))
	b.WriteString(fmt.Sprintf("seccomp=%d:%s\n", p.Seccomp.Mode, p.Seccomp.Path))
	b.WriteString("audit=" + string(p.Audit) + "\n")
	b.WriteString("auth_home=" + p.AuthHome + "\n")
	return blake3.Sum256([]byte(b.String()))
}
