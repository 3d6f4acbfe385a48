// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package firewall

import (
	"fmt"
	"net/netip"
	"os/exec"
	"strings"

	"github.com/bureau-foundation/warden/policy"
)

// GetentLookup resolves a domain by executing `getent ahosts` as a
// discrete argument vector. getent consults nsswitch, so it sees the
// same answers the agent's own libc calls will see once the filter is
// up.
//
// The domain is validated again immediately before the exec. This is
// the last code to touch the string before it becomes a process
// argument, so the check lives here regardless of what callers did.
func GetentLookup(domain string) ([]netip.Addr, error) {
	domain, err := policy.ValidateDomain(domain)
	if err != nil {
		return nil, err
	}
	out, err := exec.Command("getent", "ahosts", domain).Output()
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", domain, err)
	}
	return parseAhosts(out)
}

// parseAhosts extracts the unique IPv4 addresses from `getent ahosts`
// output. Each line is "ADDRESS TYPE [NAME]"; IPv6 answers are skipped
// since the IPv6 stack is disabled before any traffic flows.
func parseAhosts(out []byte) ([]netip.Addr, error) {
	var addrs []netip.Addr
	seen := make(map[netip.Addr]bool)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		if !addr.Is4() || seen[addr] {
			continue
		}
		seen[addr] = true
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no IPv4 addresses in resolver output")
	}
	return addrs, nil
}
