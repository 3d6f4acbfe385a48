// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package firewall builds and installs the container's default-deny
// packet filter. It runs inside the container as part of the privileged
// entrypoint, strictly before the agent process exists.
//
// The entire filter is modeled as one ordered, append-only rule list
// produced by a single function (BuildRuleset) rather than as state
// mutated from scattered call sites. Rule order is semantically
// significant (first match wins, and the OUTPUT policy is the terminal
// default), so keeping the whole sequence in one data structure lets
// the ordering invariants be checked by inspecting that structure.
package firewall

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/bureau-foundation/warden/policy"
)

// Family selects which packet filter a rule belongs to.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

// Stage identifies where in the mandatory ordering a rule sits. Stages
// must appear in nondecreasing order in a valid Ruleset; the tests and
// Validate enforce this.
type Stage int

const (
	// StageLockdown sets the default-deny policy and the loopback and
	// established/related accepts.
	StageLockdown Stage = iota
	// StageIPv6 shuts down the secondary network stack. Mandatory and
	// not configurable: an open IPv6 stack bypasses every IPv4 rule.
	StageIPv6
	// StageDNS allows resolver traffic, pinned or unrestricted.
	StageDNS
	// StageDomain allows traffic to resolved allow-list addresses.
	StageDomain
	// StageAudit appends the terminal log-before-drop rule.
	StageAudit
)

// Rule is one packet-filter rule: an argument vector for iptables (or
// ip6tables), never a shell string. Args are passed to the binary as
// discrete argv entries, so no value in them is ever interpreted by a
// shell.
type Rule struct {
	Family  Family
	Stage   Stage
	Args    []string
	Comment string
}

// Ruleset is the complete ordered filter for one container, plus the
// non-fatal warnings accumulated while building it (unresolvable
// domains, unrestricted-DNS notice).
type Ruleset struct {
	Rules    []Rule
	Warnings []string
}

// Config is the firewall's slice of the launch policy, decoded from
// the environment contract by the entrypoint.
type Config struct {
	AllowedDomains  []string
	DNSServers      []string
	DNSUnrestricted bool
	Audit           policy.AuditLevel
}

// Lookup resolves a domain to its current IPv4 addresses. The
// production implementation shells out to getent (see resolve.go);
// tests inject a fixed map.
type Lookup func(domain string) ([]netip.Addr, error)

// logPrefixAllow and logPrefixDrop tag audit log lines. Kernel log
// prefixes are limited to 29 characters including the trailing space.
const (
	logPrefixDrop  = "warden-drop: "
	logPrefixAllow = "warden-allow: "
)

// BuildRuleset produces the complete ordered filter for cfg.
//
// Every domain and resolver is re-validated here even though the host
// already validated them: this code runs on the other side of a process
// boundary, the values arrived through environment variables, and the
// domain strings are about to be handed to a resolution command. A
// value that fails re-validation is a hard error, not a skip: it means
// the contract was tampered with or the host is broken.
//
// A domain that validates but does not resolve is the one tolerated
// failure: it is recorded as a warning and contributes no rule (the
// agent may simply not need that destination this session).
func BuildRuleset(cfg Config, lookup Lookup, logger *slog.Logger) (*Ruleset, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rs := &Ruleset{}

	// Stage 1: lockdown. The deny policy is installed before any
	// accept so there is no window with an open filter.
	rs.add(Rule{Family: IPv4, Stage: StageLockdown,
		Args:    []string{"-P", "OUTPUT", "DROP"},
		Comment: "default-deny outbound"})
	rs.add(Rule{Family: IPv4, Stage: StageLockdown,
		Args:    []string{"-A", "OUTPUT", "-o", "lo", "-j", "ACCEPT"},
		Comment: "loopback"})
	rs.add(Rule{Family: IPv4, Stage: StageLockdown,
		Args:    []string{"-A", "OUTPUT", "-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED", "-j", "ACCEPT"},
		Comment: "established/related"})

	// Stage 2: kill the IPv6 stack. Not configurable.
	for _, chain := range []string{"INPUT", "OUTPUT", "FORWARD"} {
		rs.add(Rule{Family: IPv6, Stage: StageIPv6,
			Args:    []string{"-P", chain, "DROP"},
			Comment: "ipv6 " + chain + " deny"})
	}

	// Stage 3: DNS.
	if cfg.DNSUnrestricted {
		rs.Warnings = append(rs.Warnings,
			"DNS is unrestricted: port-53 traffic is allowed to any destination")
		logger.Warn("DNS is unrestricted, allowing port 53 to any destination")
		for _, proto := range []string{"udp", "tcp"} {
			rs.allowWithAudit(cfg, Rule{Family: IPv4, Stage: StageDNS,
				Args:    []string{"-A", "OUTPUT", "-p", proto, "--dport", "53", "-j", "ACCEPT"},
				Comment: "dns any (" + proto + ")"})
		}
	} else {
		for _, server := range cfg.DNSServers {
			addr, err := policy.ValidateIPv4(server)
			if err != nil {
				return nil, fmt.Errorf("resolver %q failed re-validation: %w", server, err)
			}
			for _, proto := range []string{"udp", "tcp"} {
				rs.allowWithAudit(cfg, Rule{Family: IPv4, Stage: StageDNS,
					Args:    []string{"-A", "OUTPUT", "-p", proto, "-d", addr.String(), "--dport", "53", "-j", "ACCEPT"},
					Comment: "dns " + addr.String() + " (" + proto + ")"})
			}
		}
	}

	// Stage 4: allowed domains, resolved once for the container's
	// lifetime. Addresses are never refreshed; if a CDN rotates its
	// records mid-session the stale rules drop legitimate traffic and
	// the fix is restarting the container.
	for _, raw := range cfg.AllowedDomains {
		domain, err := policy.ValidateDomain(raw)
		if err != nil {
			return nil, fmt.Errorf("domain %q failed re-validation: %w", raw, err)
		}
		addrs, err := lookup(domain)
		if err != nil || len(addrs) == 0 {
			msg := fmt.Sprintf("domain %s did not resolve, no allow rule installed", domain)
			rs.Warnings = append(rs.Warnings, msg)
			logger.Warn("domain resolution failed",
				"domain", domain, "error", err)
			continue
		}
		for _, addr := range addrs {
			if !addr.Is4() {
				continue
			}
			rs.allowWithAudit(cfg, Rule{Family: IPv4, Stage: StageDomain,
				Args:    []string{"-A", "OUTPUT", "-d", addr.String(), "-j", "ACCEPT"},
				Comment: "allow " + domain + " -> " + addr.String()})
		}
		logger.Info("domain allowed", "domain", domain, "addresses", len(addrs))
	}

	// Stage 5: audit. The terminal LOG rule sits immediately before
	// the policy drop so every dropped packet leaves a trace.
	if cfg.Audit == policy.AuditBasic || cfg.Audit == policy.AuditVerbose {
		rs.add(Rule{Family: IPv4, Stage: StageAudit,
			Args:    []string{"-A", "OUTPUT", "-j", "LOG", "--log-prefix", logPrefixDrop},
			Comment: "log before default drop"})
	}

	if err := rs.Validate(); err != nil {
		// Construction bug, not an input problem: BuildRuleset itself
		// violated its ordering invariant.
		return nil, err
	}
	return rs, nil
}

// allowWithAudit appends an accept rule, preceded at verbose audit
// level by a LOG rule carrying the same comment tag.
func (rs *Ruleset) allowWithAudit(cfg Config, rule Rule) {
	if cfg.Audit == policy.AuditVerbose {
		logArgs := make([]string, 0, len(rule.Args)+2)
		// Same match predicate, LOG target instead of ACCEPT.
		logArgs = append(logArgs, rule.Args[:len(rule.Args)-2]...)
		logArgs = append(logArgs, "-j", "LOG", "--log-prefix", logPrefixAllow)
		rs.add(Rule{Family: rule.Family, Stage: rule.Stage,
			Args:    logArgs,
			Comment: "audit " + rule.Comment})
	}
	rs.add(rule)
}

func (rs *Ruleset) add(r Rule) {
	rs.Rules = append(rs.Rules, r)
}

// Validate checks the ordering invariant: lockdown and IPv6 shutdown
// precede every allow rule, and every allow rule precedes the terminal
// audit rule. A ruleset violating this would leave a window with no
// filtering, so Apply refuses to install one.
func (rs *Ruleset) Validate() error {
	last := StageLockdown
	for i, r := range rs.Rules {
		if r.Stage < last {
			return fmt.Errorf("rule %d (%s) at stage %d appears after stage %d: ordering invariant violated",
				i, r.Comment, r.Stage, last)
		}
		last = r.Stage
	}
	if len(rs.Rules) == 0 {
		return fmt.Errorf("empty ruleset: lockdown rules are mandatory")
	}
	if rs.Rules[0].Stage != StageLockdown {
		return fmt.Errorf("first rule is %q, want lockdown", rs.Rules[0].Comment)
	}
	return nil
}
