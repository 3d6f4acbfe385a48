// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package privdrop

import (
	"strings"
)

// AgentEnv builds the environment the agent execs with: the incoming
// environment minus the named setup variables, with the identity
// variables rewritten for the agent user. The contract variables
// carried the security policy into the container; the agent has no
// business reading them, so they are stripped before the exec.
func AgentEnv(environ []string, scrub []string) []string {
	drop := make(map[string]bool, len(scrub)+3)
	for _, name := range scrub {
		drop[name] = true
	}
	// Rewritten below with agent values.
	drop["HOME"] = true
	drop["USER"] = true
	drop["LOGNAME"] = true

	out := make([]string, 0, len(environ)+3)
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || drop[name] {
			continue
		}
		out = append(out, kv)
	}
	out = append(out,
		"HOME="+agentHome,
		"USER="+agentUser,
		"LOGNAME="+agentUser,
	)
	return out
}
