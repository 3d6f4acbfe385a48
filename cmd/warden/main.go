// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden launches AI coding agents inside a firewalled container.
//
// Usage:
//
//	warden [flags] [agent] [-- <agent args>...]
//	warden update
//	warden history [-n N]
//	warden version
//
// The default command compiles the project's trust boundaries (from
// .warden.yaml, the environment, and flags) into a docker invocation
// and runs the agent inside it. Everything the agent can reach on the
// network or the filesystem is decided before the container starts.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warden/launch"
	"github.com/bureau-foundation/warden/launchlog"
	"github.com/bureau-foundation/warden/lib/version"
	"github.com/bureau-foundation/warden/policy"
)

// Exit codes. The agent's own exit code is passed through unchanged,
// so these are chosen to be distinguishable from common agent exits.
const (
	exitValidation = 2
	exitLaunch     = 3
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("WARDEN_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	args := os.Args[1:]
	subcommand := ""
	if len(args) > 0 {
		subcommand = args[0]
	}

	var err error
	switch subcommand {
	case "update":
		err = updateCmd(args[1:], logger)
	case "history":
		err = historyCmd(args[1:], logger)
	case "version", "--version":
		fmt.Printf("warden %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		err = runCmd(args, logger)
	}

	if err == nil {
		return
	}
	if code, ok := launch.IsExitError(err); ok {
		os.Exit(code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var verr *policy.ValidationError
	if errors.As(err, &verr) {
		os.Exit(exitValidation)
	}
	os.Exit(exitLaunch)
}

func printUsage() {
	fmt.Print(`warden - Run AI coding agents inside a firewalled container

USAGE
    warden [flags] [agent] [-- <agent args>...]
    warden <command>

COMMANDS
    update     Pull the latest agent image
    history    Show recent launches
    version    Show version

FLAGS
    --image            Container image
    --allow-domains    Space-separated outbound allow-list (replaces config)
    -v, --volume       Extra mount host:container[:ro], repeatable (appends)
    -e, --env          Extra environment variable KEY=VALUE, repeatable
    --auth-home        Persistent credential directory
    --memory           Memory ceiling (e.g. 4g, or "unlimited")
    --cpus             CPU ceiling (e.g. 2)
    --pids-limit       Process count ceiling
    --dns              Space-separated resolver IPv4 pins
    --seccomp-profile  Custom seccomp profile path, or "none"
    --audit-log        Firewall audit level: off, basic, verbose
    --dry-run          Print the docker invocation without running it

EXAMPLES
    # Run claude with the project's .warden.yaml boundaries
    warden

    # Run a different agent
    warden codex

    # One-off extra domain and a scratch mount
    warden --allow-domains "github.com pypi.org" -v /tmp/scratch:/scratch

    # Forward arguments to the agent itself
    warden -- --resume

ENVIRONMENT
    WARDEN_ALLOW_DOMAINS  Fallback allow-list when config and flags are silent
    WARDEN_DEBUG          Enable debug logging
`)
}

// runCmd implements the default launch command.
func runCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.Usage = printUsage

	image := fs.String("image", "", "container image")
	allowDomains := fs.String("allow-domains", "", "outbound allow-list")
	volumes := fs.StringArrayP("volume", "v", nil, "extra mount")
	env := fs.StringArrayP("env", "e", nil, "extra environment variable")
	authHome := fs.String("auth-home", "", "credential directory")
	memory := fs.String("memory", "", "memory ceiling")
	cpus := fs.String("cpus", "", "cpu ceiling")
	pidsLimit := fs.String("pids-limit", "", "process count ceiling")
	dns := fs.String("dns", "", "resolver pins")
	seccompProfile := fs.String("seccomp-profile", "", "seccomp profile")
	auditLog := fs.String("audit-log", "", "audit level")
	dryRun := fs.Bool("dry-run", false, "print invocation only")

	if err := fs.Parse(args); err != nil {
		return err
	}

	agent, agentArgs, err := splitPositionals(fs.Args(), fs.ArgsLenAtDash())
	if err != nil {
		return err
	}

	workdir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	cfg, err := policy.LoadProjectConfig(filepath.Join(workdir, policy.ConfigFileName))
	if err != nil {
		return err
	}
	if cfg != nil {
		logger.Debug("project config loaded", "path", policy.ConfigFileName)
	}

	pol, err := policy.Merge(cfg, policy.Overrides{
		Agent:             agent,
		AgentArgs:         agentArgs,
		Image:             *image,
		AllowDomains:      *allowDomains,
		AllowDomainSet:    fs.Changed("allow-domains"),
		Volumes:           *volumes,
		Env:               *env,
		AuthHome:          *authHome,
		Memory:            *memory,
		CPUs:              *cpus,
		PidsLimit:         *pidsLimit,
		SeccompProfile:    *seccompProfile,
		SeccompProfileSet: fs.Changed("seccomp-profile"),
		DNSServers:        *dns,
		DNSServersSet:     fs.Changed("dns"),
		AuditLog:          *auditLog,
	})
	if err != nil {
		return err
	}

	// The auth home must exist before docker mounts it, or docker
	// creates it root-owned on the host.
	if err := os.MkdirAll(pol.AuthHome, 0o700); err != nil {
		return fmt.Errorf("creating auth home: %w", err)
	}

	seccompOpt, err := launch.ResolveSeccomp(pol.Seccomp, filepath.Join(pol.AuthHome, "state"))
	if err != nil {
		return err
	}

	argv, err := launch.NewBuilder().Build(&launch.Options{
		Policy:     pol,
		Workdir:    workdir,
		SeccompOpt: seccompOpt,
		UID:        os.Getuid(),
		GID:        os.Getgid(),
	})
	if err != nil {
		return err
	}

	if *dryRun {
		fmt.Println(strings.Join(argv, " \\\n  "))
		return nil
	}

	logger.Info("launching agent",
		"agent", pol.Agent,
		"image", pol.Image,
		"domains", len(pol.AllowedDomains),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	started := time.Now()
	runErr := launch.NewLauncher(logger).Run(ctx, argv)

	exitCode := 0
	if code, ok := launch.IsExitError(runErr); ok {
		exitCode = code
	}
	recordLaunch(ctx, logger, pol, started, exitCode)

	return runErr
}

// splitPositionals separates the positional agent name from the
// forwarded agent argument vector. The first positional before "--"
// names the agent (empty means the configured default); everything
// after "--" goes to the agent verbatim. lenAtDash is pflag's
// ArgsLenAtDash: how many positionals preceded "--", or -1 when no
// "--" was given.
func splitPositionals(positionals []string, lenAtDash int) (agent string, agentArgs []string, err error) {
	before := positionals
	if lenAtDash >= 0 {
		before = positionals[:lenAtDash]
		agentArgs = positionals[lenAtDash:]
	}
	switch len(before) {
	case 0:
	case 1:
		agent = before[0]
	default:
		return "", nil, fmt.Errorf("unexpected argument %q: agent arguments go after --", before[1])
	}
	return agent, agentArgs, nil
}

// recordLaunch appends the session to the ledger. The ledger is
// observational: any failure here is logged and swallowed so it can
// never mask the agent's own exit status.
func recordLaunch(ctx context.Context, logger *slog.Logger, pol *policy.Policy, started time.Time, exitCode int) {
	ledger, err := launchlog.Open(filepath.Join(pol.AuthHome, launchlog.FileName), logger)
	if err != nil {
		logger.Warn("launch ledger unavailable", "error", err)
		return
	}
	defer ledger.Close()

	err = ledger.Record(ctx, launchlog.Entry{
		StartedAt:    started,
		FinishedAt:   time.Now(),
		Agent:        pol.Agent,
		Image:        pol.Image,
		PolicyDigest: pol.Digest(),
		Domains:      len(pol.AllowedDomains),
		ExitCode:     exitCode,
	})
	if err != nil {
		logger.Warn("launch not recorded", "error", err)
	}
}

// updateCmd pulls the configured image. Image freshness is docker's
// problem; warden only resolves which image the project uses.
func updateCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("update", pflag.ContinueOnError)
	image := fs.String("image", "", "image to pull")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := *image
	if target == "" {
		workdir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		cfg, err := policy.LoadProjectConfig(filepath.Join(workdir, policy.ConfigFileName))
		if err != nil {
			return err
		}
		pol, err := policy.Merge(cfg, policy.Overrides{})
		if err != nil {
			return err
		}
		target = pol.Image
	}

	logger.Info("pulling image", "image", target)
	return launch.NewLauncher(logger).Pull(context.Background(), target)
}

// historyCmd prints recent launches from the ledger.
func historyCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	limit := fs.IntP("limit", "n", 20, "entries to show")
	authHome := fs.String("auth-home", "", "credential directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	home := *authHome
	if home == "" {
		pol, err := policy.Merge(nil, policy.Overrides{})
		if err != nil {
			return err
		}
		home = pol.AuthHome
	}

	ledger, err := launchlog.Open(filepath.Join(home, launchlog.FileName), logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	entries, err := ledger.Recent(context.Background(), *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No recorded launches.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-8s  %-24s  domains=%-3d  exit=%d  policy=%x\n",
			e.StartedAt.Local().Format("2006-01-02 15:04"),
			e.Agent, e.Image, e.Domains, e.ExitCode, e.PolicyDigest[:4])
	}
	return nil
}
