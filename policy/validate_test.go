// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateDomainAccepts(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"github.com", "github.com"},
		{"api.anthropic.com", "api.anthropic.com"},
		{"GitHub.COM", "github.com"},
		{"my_host.internal", "my_host.internal"},
		{"a-b-c.example", "a-b-c.example"},
		{"localhost", "localhost"},
		{"123.example.org", "123.example.org"},
	}
	for _, tc := range cases {
		got, err := ValidateDomain(tc.in)
		if err != nil {
			t.Errorf("ValidateDomain(%q) rejected: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ValidateDomain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateDomainRejects(t *testing.T) {
	cases := []string{
		"",
		"github.com; rm -rf /",
		"$(whoami).evil.com",
		"`id`.example.org",
		"foo|bar",
		"foo&bar",
		"foo bar",
		"foo>out",
		"foo'quote",
		"foo\"quote",
		"foo\\escape",
		"exämple.com",
		"host:8080",
		"http://github.com",
		strings.Repeat("a", 254),
	}
	for _, in := range cases {
		if _, err := ValidateDomain(in); err == nil {
			t.Errorf("ValidateDomain(%q) accepted, want rejection", in)
		}
	}
}

func TestValidateDomainErrorNamesOffender(t *testing.T) {
	_, err := ValidateDomain("evil;domain")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Value != "evil;domain" {
		t.Errorf("error value = %q, want the offending literal", verr.Value)
	}
	if !strings.Contains(err.Error(), "evil;domain") {
		t.Errorf("error message %q does not name the offender", err.Error())
	}
}

func TestValidateIPv4(t *testing.T) {
	for _, ok := range []string{"8.8.8.8", "1.1.1.1", "255.255.255.255", "0.0.0.0", "192.168.0.1"} {
		if _, err := ValidateIPv4(ok); err != nil {
			t.Errorf("ValidateIPv4(%q) rejected: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "256.1.1.1", "1.2.3", "1.2.3.4.5", "::1", "2001:db8::1", "8.8.8.8:53", "dns.google", "8.8.8.8;", "1.2.3.4%eth0"} {
		if _, err := ValidateIPv4(bad); err == nil {
			t.Errorf("ValidateIPv4(%q) accepted, want rejection", bad)
		}
	}
}

func TestValidateVolumeAccepts(t *testing.T) {
	dir := t.TempDir()

	mount, err := ValidateVolume(dir + ":/data")
	if err != nil {
		t.Fatalf("ValidateVolume rejected plain mount: %v", err)
	}
	if mount.ReadOnly {
		t.Error("mount without mode flagged read-only")
	}

	mount, err = ValidateVolume(dir + ":/data:ro")
	if err != nil {
		t.Fatalf("ValidateVolume rejected ro mount: %v", err)
	}
	if !mount.ReadOnly {
		t.Error("ro flag not preserved")
	}
	if mount.Container != "/data" {
		t.Errorf("container path = %q", mount.Container)
	}
}

func TestValidateVolumeRejectsControlSocket(t *testing.T) {
	_, err := ValidateVolume("/var/run/docker.sock:/var/run/docker.sock")
	if err == nil {
		t.Fatal("docker control socket mount accepted")
	}
	if !strings.Contains(err.Error(), "control socket") {
		t.Errorf("rejection %q does not name the control-socket class", err.Error())
	}
}

func TestValidateVolumeRejectsProtectedRoots(t *testing.T) {
	cases := []string{
		"/proc:/host-proc",
		"/sys:/host-sys",
		"/sys/kernel:/k",
		"/dev:/host-dev",
		"/etc:/host-etc",
		"/etc/shadow:/shadow",
		"/boot:/boot",
	}
	for _, spec := range cases {
		if _, err := ValidateVolume(spec); err == nil {
			t.Errorf("ValidateVolume(%q) accepted, want rejection", spec)
		}
	}
}

func TestValidateVolumeResolvesTraversal(t *testing.T) {
	// A traversal-laden spelling of a protected path must still be
	// caught after canonicalization.
	if _, err := ValidateVolume("/tmp/../etc/passwd:/pw"); err == nil {
		t.Error("traversal spelling of /etc accepted")
	}
}

func TestValidateVolumeResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "innocent")
	if err := os.Symlink("/etc", link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}
	if _, err := ValidateVolume(link + ":/data"); err == nil {
		t.Error("symlink to /etc accepted")
	}
}

func TestValidateVolumeMalformed(t *testing.T) {
	for _, spec := range []string{"", "noseparator", "/a:/b:badmode", "/a:/b:ro:extra", ":/b", "/a:", "/a:relative"} {
		if _, err := ValidateVolume(spec); err == nil {
			t.Errorf("ValidateVolume(%q) accepted, want rejection", spec)
		}
	}
}

func TestValidateResource(t *testing.T) {
	cases := []struct {
		in   string
		kind ResourceKind
		ok   bool
	}{
		{"4g", ResourceMemory, true},
		{"512m", ResourceMemory, true},
		{"1024k", ResourceMemory, true},
		{"1073741824", ResourceMemory, true},
		{"unlimited", ResourceMemory, true},
		{"0", ResourceMemory, false},
		{"-4g", ResourceMemory, false},
		{"4x", ResourceMemory, false},
		{"lots", ResourceMemory, false},
		{"", ResourceMemory, false},

		{"4", ResourceCPUs, true},
		{"0.5", ResourceCPUs, true},
		{"unlimited", ResourceCPUs, true},
		{"0", ResourceCPUs, false},
		{"-1", ResourceCPUs, false},
		{"two", ResourceCPUs, false},

		{"512", ResourcePids, true},
		{"unlimited", ResourcePids, true},
		{"0", ResourcePids, false},
		{"-5", ResourcePids, false},
		{"1.5", ResourcePids, false},
	}
	for _, tc := range cases {
		limit, err := ValidateResource(tc.in, tc.kind)
		if tc.ok && err != nil {
			t.Errorf("ValidateResource(%q, %v) rejected: %v", tc.in, tc.kind, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidateResource(%q, %v) accepted, want rejection", tc.in, tc.kind)
		}
		if tc.in == UnlimitedLiteral && !limit.Unlimited {
			t.Errorf("unlimited literal not flagged for kind %v", tc.kind)
		}
	}
}

func TestValidateDomainListDeduplicates(t *testing.T) {
	got, err := ValidateDomainList("github.com pypi.org github.com")
	if err != nil {
		t.Fatalf("ValidateDomainList failed: %v", err)
	}
	want := []string{"github.com", "pypi.org"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestValidateDomainListPropagatesRejection(t *testing.T) {
	if _, err := ValidateDomainList("github.com evil;host"); err == nil {
		t.Error("list containing a bad domain accepted")
	}
}
