// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ValidationError reports a rejected untrusted input. It always carries
// the offending literal and the reason, so the operator sees exactly
// what was refused and why before anything launches.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ValidateDomain canonicalizes a domain name for the outbound
// allow-list. The accepted alphabet is a strict allow-list (ASCII
// letters, digits, '.', '-', '_') because the value is later handed
// to a name-resolution command inside the container. Anything outside
// that alphabet, shell metacharacters included, is rejected here and
// never reaches the container.
func ValidateDomain(s string) (string, error) {
	if s == "" {
		return "", &ValidationError{Field: "domain", Value: s, Reason: "empty"}
	}
	if len(s) > 253 {
		return "", &ValidationError{Field: "domain", Value: s, Reason: "longer than 253 bytes"}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '_':
		default:
			return "", &ValidationError{
				Field:  "domain",
				Value:  s,
				Reason: fmt.Sprintf("character %q is not in the allowed set [a-zA-Z0-9._-]", c),
			}
		}
	}
	return strings.ToLower(s), nil
}

// ValidateIPv4 parses a dotted-quad IPv4 literal. IPv6, zones, and
// host:port forms are rejected: resolver pins are installed as iptables
// destination matches and must be plain IPv4 addresses.
func ValidateIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, &ValidationError{Field: "ip address", Value: s, Reason: "not a valid IP literal"}
	}
	if !addr.Is4() {
		return netip.Addr{}, &ValidationError{Field: "ip address", Value: s, Reason: "not an IPv4 address"}
	}
	return addr, nil
}

// protectedPath is a host path class that must never be mounted into
// the container. Matching is by canonical path prefix after symlink
// resolution, so /foo/../var/run/docker.sock and symlinks pointing at a
// protected root are caught the same as the literal path.
type protectedPath struct {
	prefix string
	class  string
}

var protectedPaths = []protectedPath{
	{"/var/run/docker.sock", "container runtime control socket"},
	{"/run/docker.sock", "container runtime control socket"},
	{"/proc", "kernel pseudo-filesystem"},
	{"/sys", "kernel pseudo-filesystem"},
	{"/dev", "device filesystem"},
	{"/etc", "system configuration root"},
	{"/boot", "boot partition"},
}

// ValidateVolume parses a volume specifier of the form
// "hostPath:containerPath[:ro]" and rejects mounts whose host path is,
// or descends from, a protected path. The host path is canonicalized
// (absolute, symlinks resolved) before matching; a raw string-prefix
// comparison would be bypassable with traversal segments or symlinks.
func ValidateVolume(spec string) (VolumeMount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return VolumeMount{}, &ValidationError{
			Field: "volume", Value: spec,
			Reason: "must be hostPath:containerPath[:ro]",
		}
	}

	host, container := parts[0], parts[1]
	readOnly := false
	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			readOnly = true
		case "rw":
		default:
			return VolumeMount{}, &ValidationError{
				Field: "volume", Value: spec,
				Reason: fmt.Sprintf("mount mode %q must be ro or rw", parts[2]),
			}
		}
	}
	if host == "" || container == "" {
		return VolumeMount{}, &ValidationError{
			Field: "volume", Value: spec,
			Reason: "host and container paths must be non-empty",
		}
	}
	if !filepath.IsAbs(container) {
		return VolumeMount{}, &ValidationError{
			Field: "volume", Value: spec,
			Reason: "container path must be absolute",
		}
	}

	canonical, err := canonicalHostPath(host)
	if err != nil {
		return VolumeMount{}, &ValidationError{
			Field: "volume", Value: spec,
			Reason: fmt.Sprintf("cannot resolve host path: %v", err),
		}
	}

	for _, p := range protectedPaths {
		if canonical == p.prefix || strings.HasPrefix(canonical, p.prefix+string(filepath.Separator)) {
			return VolumeMount{}, &ValidationError{
				Field: "volume", Value: spec,
				Reason: fmt.Sprintf("host path resolves to %s, which is a protected %s", canonical, p.class),
			}
		}
	}

	return VolumeMount{Host: canonical, Container: container, ReadOnly: readOnly}, nil
}

// canonicalHostPath resolves a host path to its absolute, symlink-free
// form. Paths that do not exist yet are resolved through their nearest
// existing ancestor so a dangling leaf cannot dodge the deny-list.
func canonicalHostPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return filepath.Clean(resolved), nil
	}
	// Leaf missing: resolve the parent and re-attach the base so the
	// check still sees through symlinked ancestors.
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	return filepath.Clean(filepath.Join(parent, filepath.Base(abs))), nil
}

// ResourceKind selects the expected shape for ValidateResource.
type ResourceKind int

const (
	// ResourceMemory accepts a positive integer with a k/m/g suffix or
	// a plain byte count.
	ResourceMemory ResourceKind = iota
	// ResourceCPUs accepts a positive decimal core count.
	ResourceCPUs
	// ResourcePids accepts a positive integer process count.
	ResourcePids
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceMemory:
		return "memory limit"
	case ResourceCPUs:
		return "cpu limit"
	case ResourcePids:
		return "process limit"
	}
	return "resource limit"
}

// UnlimitedLiteral disables a ceiling; the compiler then omits the
// corresponding docker argument entirely.
const UnlimitedLiteral = "unlimited"

// ValidateResource checks one resource-limit string against the
// expected shape for its kind. Zero and negative values are rejected:
// a zero ceiling is always a typo, never an intent.
func ValidateResource(s string, kind ResourceKind) (Limit, error) {
	if s == UnlimitedLiteral {
		return Limit{Unlimited: true}, nil
	}
	if s == "" {
		return Limit{}, &ValidationError{Field: kind.String(), Value: s, Reason: "empty"}
	}

	switch kind {
	case ResourceMemory:
		num := s
		switch s[len(s)-1] {
		case 'k', 'K', 'm', 'M', 'g', 'G':
			num = s[:len(s)-1]
		}
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return Limit{}, &ValidationError{Field: kind.String(), Value: s, Reason: "must be a number with an optional k/m/g suffix, or \"unlimited\""}
		}
		if n <= 0 {
			return Limit{}, &ValidationError{Field: kind.String(), Value: s, Reason: "must be positive"}
		}

	case ResourceCPUs:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Limit{}, &ValidationError{Field: kind.String(), Value: s, Reason: "must be a decimal core count, or \"unlimited\""}
		}
		if f <= 0 {
			return Limit{}, &ValidationError{Field: kind.String(), Value: s, Reason: "must be positive"}
		}

	case ResourcePids:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Limit{}, &ValidationError{Field: kind.String(), Value: s, Reason: "must be an integer, or \"unlimited\""}
		}
		if n <= 0 {
			return Limit{}, &ValidationError{Field: kind.String(), Value: s, Reason: "must be positive"}
		}
	}

	return Limit{Value: s}, nil
}

// ValidateDomainList validates a space-separated domain list and
// returns the canonical, deduplicated slice, preserving first-seen
// order.
func ValidateDomainList(s string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range strings.Fields(s) {
		domain, err := ValidateDomain(raw)
		if err != nil {
			return nil, err
		}
		if seen[domain] {
			continue
		}
		seen[domain] = true
		out = append(out, domain)
	}
	return out, nil
}

// ValidateDNSList validates a space-separated resolver list.
func ValidateDNSList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Fields(s) {
		addr, err := ValidateIPv4(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr.String())
	}
	return out, nil
}
