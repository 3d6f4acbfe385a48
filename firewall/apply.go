// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package firewall

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// sysctl knobs that remove the IPv6 stack. Written before any ip6tables
// rule so a missing ip6tables binary cannot leave the stack open.
var ipv6SysctlPaths = []string{
	"/proc/sys/net/ipv6/conf/all/disable_ipv6",
	"/proc/sys/net/ipv6/conf/default/disable_ipv6",
}

// Applier installs a Ruleset into the kernel. Its execution and sysctl
// hooks are injectable so the ordering and fail-closed behavior are
// testable without NET_ADMIN.
type Applier struct {
	run      func(binary string, args []string) error
	sysctl   func(path, value string) error
	lookPath func(binary string) (string, error)
	logger   *slog.Logger
}

// NewApplier returns an Applier that runs the real iptables binaries
// and writes real /proc/sys entries.
func NewApplier(logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		run: func(binary string, args []string) error {
			out, err := exec.Command(binary, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s %s: %w (%s)", binary, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
			}
			return nil
		},
		sysctl: func(path, value string) error {
			return os.WriteFile(path, []byte(value), 0644)
		},
		lookPath: exec.LookPath,
		logger:   logger,
	}
}

// Apply installs every rule in order and fails closed: the first error
// aborts the launch entirely rather than proceeding with a partial
// filter. By the time an error surfaces the OUTPUT policy is already
// DROP (it is the first rule), so an aborted apply leaves the
// container unable to speak, not unfiltered.
func (a *Applier) Apply(rs *Ruleset) error {
	if err := rs.Validate(); err != nil {
		return fmt.Errorf("refusing to apply ruleset: %w", err)
	}

	ipv6Absent, err := a.disableIPv6()
	if err != nil {
		return err
	}

	skipIPv6Rules := false
	if ipv6Absent {
		if _, err := a.lookPath("ip6tables"); err != nil {
			// No IPv6 stack and no ip6tables: there is nothing to
			// filter and nothing to filter it with.
			a.logger.Info("IPv6 stack absent, skipping ip6tables rules")
			skipIPv6Rules = true
		}
	}

	for _, rule := range rs.Rules {
		binary := "iptables"
		if rule.Family == IPv6 {
			if skipIPv6Rules {
				continue
			}
			binary = "ip6tables"
		}
		if err := a.run(binary, rule.Args); err != nil {
			return fmt.Errorf("installing rule %q: %w", rule.Comment, err)
		}
		a.logger.Debug("rule installed", "binary", binary, "rule", rule.Comment)
	}
	return nil
}

// disableIPv6 writes the disable knobs. A missing /proc/sys entry means
// the kernel has no IPv6 support at all, which satisfies the invariant
// by a stronger means; every other error is fatal.
func (a *Applier) disableIPv6() (absent bool, err error) {
	for _, path := range ipv6SysctlPaths {
		if werr := a.sysctl(path, "1"); werr != nil {
			if errors.Is(werr, fs.ErrNotExist) {
				absent = true
				continue
			}
			return false, fmt.Errorf("disabling IPv6 via %s: %w", path, werr)
		}
	}
	return absent, nil
}
