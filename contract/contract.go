// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package contract defines the environment-variable schema that carries
// the resolved policy from the host CLI into the container entrypoint.
//
// The host compiler (cmd/warden) encodes one Env per launch; the
// container entrypoint (cmd/warden-init) decodes it before the agent
// starts. Both sides link this package, so the variable names, the
// encoding of each field, and the schema version live in exactly one
// place. The encoding must stay byte-for-byte stable: a host binary and
// a container image built from different trees must either agree on the
// contract or refuse to run.
package contract

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the schema version of the environment contract. Bump it
// whenever a variable is added, removed, or changes meaning; the
// decoder rejects any mismatch rather than guessing.
const Version = "1"

// Environment variable names. These are the wire format: renaming one
// is a breaking change to every published container image.
const (
	EnvVersion        = "WARDEN_CONTRACT_VERSION"
	EnvUID            = "WARDEN_UID"
	EnvGID            = "WARDEN_GID"
	EnvAllowedDomains = "WARDEN_ALLOWED_DOMAINS"
	EnvDNSServers     = "WARDEN_DNS_SERVERS"
	EnvAuditLog       = "WARDEN_AUDIT_LOG"
	EnvPersistentDirs = "WARDEN_PERSISTENT_DIRS"
)

// DNSUnrestricted is the sentinel value of WARDEN_DNS_SERVERS meaning
// "allow DNS to any resolver". It is deliberately not a valid IPv4
// literal so it can never collide with a pinned resolver.
const DNSUnrestricted = "any"

// Env is the decoded form of the contract. Lists are space-separated on
// the wire because domains and IPv4 literals can never contain spaces
// (the host-side validators guarantee it).
type Env struct {
	// UID and GID are the numeric identity of the host user that
	// invoked warden. The privilege dropper aligns the container's
	// unprivileged identity with these so files created by the agent
	// are owned correctly on the host.
	UID int
	GID int

	// AllowedDomains are the validated domains the firewall resolves
	// and allows outbound traffic to. May be empty.
	AllowedDomains []string

	// DNSServers are the pinned resolver IPv4 literals, or nil when
	// Unrestricted is set.
	DNSServers []string

	// DNSUnrestricted means port-53 traffic is allowed to any
	// destination instead of pinned resolvers.
	DNSUnrestricted bool

	// AuditLog is the firewall audit level: "off", "basic", "verbose".
	AuditLog string

	// PersistentDirs are container paths whose ownership must be fixed
	// before the privilege drop (the auth home, at minimum).
	PersistentDirs []string
}

// Encode renders the contract as KEY=VALUE strings suitable for
// docker run -e arguments. Output order is fixed.
func (e Env) Encode() []string {
	dns := DNSUnrestricted
	if !e.DNSUnrestricted {
		dns = strings.Join(e.DNSServers, " ")
	}
	return []string{
		EnvVersion + "=" + Version,
		EnvUID + "=" + strconv.Itoa(e.UID),
		EnvGID + "=" + strconv.Itoa(e.GID),
		EnvAllowedDomains + "=" + strings.Join(e.AllowedDomains, " "),
		EnvDNSServers + "=" + dns,
		EnvAuditLog + "=" + e.AuditLog,
		EnvPersistentDirs + "=" + strings.Join(e.PersistentDirs, " "),
	}
}

// ParseEnviron decodes the contract from a process environment as
// returned by os.Environ(). It fails on a missing or mismatched schema
// version and on a malformed numeric identity; a container started
// with a partial contract must not proceed to firewall setup.
func ParseEnviron(environ []string) (Env, error) {
	vars := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		vars[key] = value
	}

	if got := vars[EnvVersion]; got != Version {
		return Env{}, fmt.Errorf("contract version mismatch: host sent %q, this binary speaks %q (rebuild the image or the CLI)", got, Version)
	}

	uid, err := parseID(vars[EnvUID], EnvUID)
	if err != nil {
		return Env{}, err
	}
	gid, err := parseID(vars[EnvGID], EnvGID)
	if err != nil {
		return Env{}, err
	}

	env := Env{
		UID:            uid,
		GID:            gid,
		AllowedDomains: splitList(vars[EnvAllowedDomains]),
		AuditLog:       vars[EnvAuditLog],
		PersistentDirs: splitList(vars[EnvPersistentDirs]),
	}

	switch dns := vars[EnvDNSServers]; dns {
	case DNSUnrestricted:
		env.DNSUnrestricted = true
	default:
		env.DNSServers = splitList(dns)
	}

	if env.AuditLog == "" {
		env.AuditLog = "off"
	}

	return env, nil
}

// ContractVars lists every variable owned by the contract. The
// privilege dropper scrubs these from the agent's environment: the
// agent has no business knowing its own firewall configuration.
func ContractVars() []string {
	return []string{
		EnvVersion, EnvUID, EnvGID, EnvAllowedDomains,
		EnvDNSServers, EnvAuditLog, EnvPersistentDirs,
	}
}

func parseID(s, name string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%s is not set", name)
	}
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%s: %q is not a valid numeric id", name, s)
	}
	return id, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
