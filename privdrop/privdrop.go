// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package privdrop performs the final, irrevocable step of container
// setup: shedding root and becoming the agent process. There is no
// supervising privileged process afterward; once Exec returns control
// to the kernel the container holds exactly one process, running as
// the unprivileged agent identity, with the packet filter and syscall
// filter already in force.
package privdrop

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Identity is the unprivileged uid/gid the agent runs as. Both values
// come from the launch contract and were validated as numeric there.
type Identity struct {
	UID int
	GID int
}

const (
	agentHome = "/home/agent"
	agentUser = "agent"
)

// Dropper wraps the identity-changing syscalls so the sequencing and
// verification logic is testable without root. The zero value is not
// usable; construct with NewDropper.
type Dropper struct {
	setgroups func(gids []int) error
	setresgid func(rgid, egid, sgid int) error
	setresuid func(ruid, euid, suid int) error
	getuid    func() int
	geteuid   func() int
	getgid    func() int
	getegid   func() int
	exec      func(argv0 string, argv []string, envv []string) error
}

// NewDropper returns a Dropper backed by the real syscalls.
func NewDropper() *Dropper {
	return &Dropper{
		setgroups: unix.Setgroups,
		setresgid: unix.Setresgid,
		setresuid: unix.Setresuid,
		getuid:    os.Getuid,
		geteuid:   os.Geteuid,
		getgid:    os.Getgid,
		getegid:   os.Getegid,
		exec:      unix.Exec,
	}
}

// Drop switches the process to id, permanently. Order matters: groups
// and gid must change while still root, because after Setresuid the
// process has no privilege left to change them. All three uid slots
// (real, effective, saved) are set so there is no saved-root identity
// to return to.
//
// The identity is verified after the switch. A kernel that silently
// ignored one of the calls would otherwise let a root agent through.
func (d *Dropper) Drop(id Identity) error {
	if err := d.setgroups([]int{id.GID}); err != nil {
		return fmt.Errorf("setgroups(%d): %w", id.GID, err)
	}
	if err := d.setresgid(id.GID, id.GID, id.GID); err != nil {
		return fmt.Errorf("setresgid(%d): %w", id.GID, err)
	}
	if err := d.setresuid(id.UID, id.UID, id.UID); err != nil {
		return fmt.Errorf("setresuid(%d): %w", id.UID, err)
	}

	if uid, euid := d.getuid(), d.geteuid(); uid != id.UID || euid != id.UID {
		return fmt.Errorf("uid verification failed: uid=%d euid=%d, want %d", uid, euid, id.UID)
	}
	if gid, egid := d.getgid(), d.getegid(); gid != id.GID || egid != id.GID {
		return fmt.Errorf("gid verification failed: gid=%d egid=%d, want %d", gid, egid, id.GID)
	}
	return nil
}

// ExecAgent replaces the current process image with the agent. argv[0]
// is resolved through PATH so the contract can name a bare command. On
// success this never returns.
func (d *Dropper) ExecAgent(argv []string, env []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty agent command")
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("agent binary %q: %w", argv[0], err)
	}
	if err := d.exec(path, argv, env); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}
