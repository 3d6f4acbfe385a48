// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden-init is the container entrypoint. It runs as root with a
// minimal capability set, performs the in-container half of the launch
// (firewall, ownership, privilege drop), and replaces itself with the
// agent command passed as its arguments.
//
// The sequence is strictly ordered and fails closed: if any step
// errors, the container exits before the agent ever runs. There is no
// fallback path that starts the agent with a partial firewall or as
// root.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/warden/contract"
	"github.com/bureau-foundation/warden/firewall"
	"github.com/bureau-foundation/warden/policy"
	"github.com/bureau-foundation/warden/privdrop"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("WARDEN_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if err := run(logger, os.Args[1:]); err != nil {
		logger.Error("container setup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, agentArgv []string) error {
	if len(agentArgv) == 0 {
		return fmt.Errorf("no agent command given")
	}

	env, err := contract.ParseEnviron(os.Environ())
	if err != nil {
		return err
	}

	audit, err := policy.ParseAuditLevel(env.AuditLog)
	if err != nil {
		return err
	}

	// Firewall first: no agent-reachable network state exists until
	// the filter is complete.
	ruleset, err := firewall.BuildRuleset(firewall.Config{
		AllowedDomains:  env.AllowedDomains,
		DNSServers:      env.DNSServers,
		DNSUnrestricted: env.DNSUnrestricted,
		Audit:           audit,
	}, firewall.GetentLookup, logger)
	if err != nil {
		return err
	}
	if err := firewall.NewApplier(logger).Apply(ruleset); err != nil {
		return err
	}
	logger.Info("firewall installed",
		"rules", len(ruleset.Rules),
		"warnings", len(ruleset.Warnings),
	)

	id := privdrop.Identity{UID: env.UID, GID: env.GID}
	if err := privdrop.NewReconciler(logger).FixOwnership(env.PersistentDirs, id); err != nil {
		return err
	}

	dropper := privdrop.NewDropper()
	if err := dropper.Drop(id); err != nil {
		return err
	}
	logger.Debug("privileges dropped", "uid", id.UID, "gid", id.GID)

	agentEnv := privdrop.AgentEnv(os.Environ(), contract.ContractVars())
	return dropper.ExecAgent(agentArgv, agentEnv)
}
