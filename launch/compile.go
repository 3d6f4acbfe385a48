// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package launch compiles a validated policy into a docker invocation
// and runs it. The compiler is a pure function of the policy: it emits
// the argument vector in a fixed order and never consults global state,
// so the same policy always produces the same invocation.
package launch

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/term"

	"github.com/bureau-foundation/warden/contract"
	"github.com/bureau-foundation/warden/policy"
)

// Options holds the compiler inputs beyond the policy itself.
type Options struct {
	// Policy is the merged, validated launch policy.
	Policy *policy.Policy

	// Workdir is the absolute host path mounted at the container
	// working directory.
	Workdir string

	// SeccompOpt is the value for --security-opt seccomp=, produced by
	// ResolveSeccomp.
	SeccompOpt string

	// UID and GID are the host identity the agent will assume inside
	// the container after the privilege drop.
	UID int
	GID int
}

// defaultAgentArgs is appended when the operator supplies no agent
// arguments of their own. Explicit arguments suppress it entirely; an
// operator who types arguments is taking control of the agent's
// behavior flags.
var defaultAgentArgs = map[string][]string{
	"claude": {"--dangerously-skip-permissions"},
}

// Builder compiles docker run invocations. The terminal probe is
// injectable so argv construction is testable off a TTY.
type Builder struct {
	isTerminal func(fd int) bool
}

// NewBuilder returns a Builder that probes the real stdin.
func NewBuilder() *Builder {
	return &Builder{isTerminal: term.IsTerminal}
}

// Build produces the complete docker run argument vector. Flag groups
// appear in a fixed order: lifecycle, stdio, capability policy,
// security options, resource ceilings, mounts, working directory,
// environment, image, agent command. Within the environment group the
// contract variables come first in their canonical order, then the
// operator's variables sorted by key.
func (b *Builder) Build(opts *Options) ([]string, error) {
	p := opts.Policy
	if p == nil {
		return nil, fmt.Errorf("policy is required")
	}
	if opts.Workdir == "" {
		return nil, fmt.Errorf("workdir is required")
	}
	if opts.SeccompOpt == "" {
		return nil, fmt.Errorf("seccomp option is required")
	}

	args := []string{"docker", "run", "--rm"}

	if b.isTerminal(int(os.Stdin.Fd())) {
		args = append(args, "-it")
	} else {
		args = append(args, "-i")
	}

	// Capability policy: drop everything, then re-add only what the
	// in-container setup needs. NET_ADMIN installs the firewall, CHOWN
	// reconciles mount ownership, SETUID/SETGID perform the drop. The
	// drop must precede the re-adds or docker applies them in the
	// wrong order.
	args = append(args, "--cap-drop=ALL")
	for _, capability := range []string{"NET_ADMIN", "CHOWN", "SETUID", "SETGID"} {
		args = append(args, "--cap-add="+capability)
	}
	args = append(args,
		"--security-opt", "no-new-privileges",
		"--security-opt", "seccomp="+opts.SeccompOpt,
	)

	// Resource ceilings. An unlimited ceiling contributes no argument
	// at all; docker's own defaults are the absence of a limit, and
	// passing a sentinel like "-1" means different things to different
	// docker versions.
	if !p.Resources.Memory.Unlimited {
		args = append(args, "--memory="+p.Resources.Memory.Value)
	}
	if !p.Resources.CPUs.Unlimited {
		args = append(args, "--cpus="+p.Resources.CPUs.Value)
	}
	if !p.Resources.PidsLimit.Unlimited {
		args = append(args, "--pids-limit="+p.Resources.PidsLimit.Value)
	}

	// Pinned resolvers are installed on both sides of the boundary:
	// --dns points the container's stub resolver at them, and the
	// in-container firewall only opens port 53 to the same literals.
	// Without the --dns half, lookups would go through docker's
	// embedded loopback resolver and escape the port-53 pin.
	if !p.DNSUnrestricted {
		for _, server := range p.DNSServers {
			args = append(args, "--dns", server)
		}
	}

	// Mounts: workdir, auth home, then operator volumes in their
	// accumulated order.
	args = append(args, "-v", opts.Workdir+":"+policy.WorkdirContainerPath)
	args = append(args, "-v", p.AuthHome+":"+policy.AuthHomeContainerPath)
	for _, v := range p.Volumes {
		args = append(args, "-v", v.String())
	}
	args = append(args, "-w", policy.WorkdirContainerPath)

	for _, kv := range contractEnv(opts) {
		args = append(args, "-e", kv)
	}
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+p.Env[k])
	}

	args = append(args, p.Image)

	agentArgs := p.AgentArgs
	if len(agentArgs) == 0 {
		agentArgs = defaultAgentArgs[p.Agent]
	}
	args = append(args, p.Agent)
	args = append(args, agentArgs...)

	return args, nil
}

// contractEnv encodes the policy's security-relevant slice as the
// versioned environment contract consumed by the in-container setup.
func contractEnv(opts *Options) []string {
	p := opts.Policy
	env := contract.Env{
		UID:             opts.UID,
		GID:             opts.GID,
		AllowedDomains:  p.AllowedDomains,
		DNSServers:      p.DNSServers,
		DNSUnrestricted: p.DNSUnrestricted,
		AuditLog:        string(p.Audit),
		PersistentDirs:  persistentDirs(p),
	}
	return env.Encode()
}

// persistentDirs lists the container paths whose ownership must match
// the agent identity: the working tree, the credential store, and
// every writable operator mount.
func persistentDirs(p *policy.Policy) []string {
	dirs := []string{policy.WorkdirContainerPath, policy.AuthHomeContainerPath}
	for _, v := range p.Volumes {
		if !v.ReadOnly {
			dirs = append(dirs, v.Container)
		}
	}
	return dirs
}
