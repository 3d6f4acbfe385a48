// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"strings"
	"testing"

	"github.com/bureau-foundation/warden/policy"
)

func testBuilder(tty bool) *Builder {
	return &Builder{isTerminal: func(fd int) bool { return tty }}
}

func mergePolicy(t *testing.T, o policy.Overrides) *policy.Policy {
	t.Helper()
	t.Setenv(policy.EnvAllowDomains, "")
	p, err := policy.Merge(nil, o)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	return p
}

func buildArgs(t *testing.T, p *policy.Policy) []string {
	t.Helper()
	args, err := testBuilder(false).Build(&Options{
		Policy:     p,
		Workdir:    "/home/dev/project",
		SeccompOpt: "/state/seccomp-default.json",
		UID:        1000,
		GID:        1000,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return args
}

func TestBuildBasicShape(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{})
	args := buildArgs(t, p)
	joined := strings.Join(args, " ")

	if args[0] != "docker" || args[1] != "run" || args[2] != "--rm" {
		t.Errorf("invocation prefix = %v", args[:3])
	}
	for _, want := range []string{
		"--cap-drop=ALL",
		"--cap-add=NET_ADMIN",
		"--security-opt no-new-privileges",
		"--security-opt seccomp=/state/seccomp-default.json",
		"-v /home/dev/project:" + policy.WorkdirContainerPath,
		"-w " + policy.WorkdirContainerPath,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in: %s", want, joined)
		}
	}
}

func TestBuildCapDropPrecedesAdds(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{})
	joined := strings.Join(buildArgs(t, p), " ")
	drop := strings.Index(joined, "--cap-drop=ALL")
	add := strings.Index(joined, "--cap-add=")
	if drop == -1 || add == -1 || drop > add {
		t.Errorf("cap-drop must precede cap-add: %s", joined)
	}
}

func TestBuildUnlimitedOmitsResourceFlags(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{Memory: "4g", CPUs: "2"})
	joined := strings.Join(buildArgs(t, p), " ")
	if !strings.Contains(joined, "--memory=4g") || !strings.Contains(joined, "--cpus=2") {
		t.Errorf("bounded ceilings missing: %s", joined)
	}
	if strings.Contains(joined, "--pids-limit") {
		t.Errorf("unlimited ceiling produced a flag: %s", joined)
	}

	p = mergePolicy(t, policy.Overrides{})
	joined = strings.Join(buildArgs(t, p), " ")
	for _, flag := range []string{"--memory", "--cpus", "--pids-limit"} {
		if strings.Contains(joined, flag) {
			t.Errorf("unlimited policy produced %s: %s", flag, joined)
		}
	}
}

func TestBuildContractEnvironment(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{
		AllowDomains:   "github.com",
		AllowDomainSet: true,
		DNSServers:     "8.8.8.8",
		DNSServersSet:  true,
	})
	joined := strings.Join(buildArgs(t, p), " ")

	for _, want := range []string{
		"-e WARDEN_CONTRACT_VERSION=1",
		"-e WARDEN_UID=1000",
		"-e WARDEN_GID=1000",
		"-e WARDEN_DNS_SERVERS=8.8.8.8",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in: %s", want, joined)
		}
	}
	if !strings.Contains(joined, "github.com") {
		t.Errorf("allow-list missing from contract: %s", joined)
	}
}

func TestBuildPinnedResolversEmitDNSFlags(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{
		DNSServers:    "8.8.8.8 1.1.1.1",
		DNSServersSet: true,
	})
	joined := strings.Join(buildArgs(t, p), " ")

	// Both halves of the pin: the container's stub resolver must point
	// at the same literals the firewall opens port 53 to.
	for _, want := range []string{"--dns 8.8.8.8", "--dns 1.1.1.1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("pinned resolver produced no %q argument: %s", want, joined)
		}
	}
	if !strings.Contains(joined, "-e WARDEN_DNS_SERVERS=8.8.8.8 1.1.1.1") {
		t.Errorf("resolver pins missing from contract: %s", joined)
	}
}

func TestBuildUnrestrictedDNSOmitsDNSFlags(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{})
	if !p.DNSUnrestricted {
		t.Fatal("default policy should leave DNS unrestricted")
	}
	joined := strings.Join(buildArgs(t, p), " ")
	if strings.Contains(joined, "--dns") {
		t.Errorf("unrestricted policy produced a --dns argument: %s", joined)
	}
}

func TestBuildDNSUnrestrictedSentinel(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{})
	joined := strings.Join(buildArgs(t, p), " ")
	if !strings.Contains(joined, "-e WARDEN_DNS_SERVERS=any") {
		t.Errorf("unrestricted sentinel missing: %s", joined)
	}
}

func TestBuildOperatorEnvSortedAfterContract(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{Env: []string{"ZED=1", "ALPHA=2"}})
	joined := strings.Join(buildArgs(t, p), " ")

	contractIdx := strings.Index(joined, "WARDEN_CONTRACT_VERSION")
	alphaIdx := strings.Index(joined, "ALPHA=2")
	zedIdx := strings.Index(joined, "ZED=1")
	if contractIdx == -1 || alphaIdx == -1 || zedIdx == -1 {
		t.Fatalf("environment entries missing: %s", joined)
	}
	if !(contractIdx < alphaIdx && alphaIdx < zedIdx) {
		t.Errorf("env order wrong (want contract, then sorted operator vars): %s", joined)
	}
}

func TestBuildImagePrecedesAgentCommand(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{})
	args := buildArgs(t, p)
	joined := strings.Join(args, " ")

	imageIdx := strings.Index(joined, p.Image)
	agentIdx := strings.LastIndex(joined, p.Agent)
	if imageIdx == -1 || agentIdx == -1 || imageIdx > agentIdx {
		t.Errorf("image must precede agent command: %s", joined)
	}
}

func TestBuildDefaultAgentFlag(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{})
	joined := strings.Join(buildArgs(t, p), " ")
	if !strings.Contains(joined, "claude --dangerously-skip-permissions") {
		t.Errorf("default agent flag missing: %s", joined)
	}

	// Explicit arguments suppress the default.
	p = mergePolicy(t, policy.Overrides{AgentArgs: []string{"--resume"}})
	joined = strings.Join(buildArgs(t, p), " ")
	if strings.Contains(joined, "--dangerously-skip-permissions") {
		t.Errorf("default flag not suppressed by explicit args: %s", joined)
	}
	if !strings.HasSuffix(joined, "claude --resume") {
		t.Errorf("explicit args not forwarded verbatim: %s", joined)
	}
}

func TestBuildVolumeOrderAndPersistentDirs(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	p := mergePolicy(t, policy.Overrides{
		Volumes: []string{dirA + ":/data", dirB + ":/ref:ro"},
	})
	joined := strings.Join(buildArgs(t, p), " ")

	workIdx := strings.Index(joined, "/home/dev/project:"+policy.WorkdirContainerPath)
	authIdx := strings.Index(joined, policy.AuthHomeContainerPath)
	dataIdx := strings.Index(joined, dirA+":/data")
	if !(workIdx < authIdx && authIdx < dataIdx) {
		t.Errorf("mount order wrong: %s", joined)
	}

	// Writable mounts join the ownership-fix list; read-only ones do
	// not.
	var persistent string
	for _, arg := range buildArgs(t, p) {
		if strings.HasPrefix(arg, "WARDEN_PERSISTENT_DIRS=") {
			persistent = arg
		}
	}
	want := "WARDEN_PERSISTENT_DIRS=" + policy.WorkdirContainerPath + " " + policy.AuthHomeContainerPath + " /data"
	if persistent != want {
		t.Errorf("persistent dirs = %q, want %q (read-only mounts excluded)", persistent, want)
	}
}

func TestBuildTTYSelection(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{})
	opts := &Options{Policy: p, Workdir: "/w", SeccompOpt: "unconfined", UID: 1, GID: 1}

	args, err := testBuilder(true).Build(opts)
	if err != nil {
		t.Fatal(err)
	}
	if args[3] != "-it" {
		t.Errorf("interactive launch got %q, want -it", args[3])
	}

	args, err = testBuilder(false).Build(opts)
	if err != nil {
		t.Fatal(err)
	}
	if args[3] != "-i" {
		t.Errorf("piped launch got %q, want -i", args[3])
	}
}

func TestBuildRejectsIncompleteOptions(t *testing.T) {
	p := mergePolicy(t, policy.Overrides{})
	cases := []*Options{
		{Workdir: "/w", SeccompOpt: "unconfined"},
		{Policy: p, SeccompOpt: "unconfined"},
		{Policy: p, Workdir: "/w"},
	}
	for i, opts := range cases {
		if _, err := testBuilder(false).Build(opts); err == nil {
			t.Errorf("case %d: incomplete options accepted", i)
		}
	}
}
