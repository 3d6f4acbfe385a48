// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package privdrop

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// Reconciler aligns filesystem ownership with the agent identity
// before the drop. Host bind mounts carry host ownership into the
// container, and the agent uid rarely matches, so without this pass
// the agent starts unable to write its own working tree.
type Reconciler struct {
	chown  func(path string, uid, gid int) error
	logger *slog.Logger
}

// NewReconciler returns a Reconciler using the real chown.
func NewReconciler(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{chown: os.Lchown, logger: logger}
}

// FixOwnership makes each listed directory writable by id. A missing
// directory is created; an existing one is walked and re-owned entry
// by entry.
//
// Failure on the directory itself is fatal: an agent that cannot write
// its persistent state or its workdir is broken from the start.
// Failure on an individual entry inside is only a warning, since a
// single odd file (a socket, an immutable artifact) should not abort
// the launch.
func (r *Reconciler) FixOwnership(dirs []string, id Identity) error {
	for _, dir := range dirs {
		if err := r.fixDir(dir, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) fixDir(dir string, id Identity) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		if err := r.chown(dir, id.UID, id.GID); err != nil {
			return fmt.Errorf("owning %s: %w", dir, err)
		}
		r.logger.Info("created persistent directory", "path", dir)
		return nil
	case err != nil:
		return fmt.Errorf("inspecting %s: %w", dir, err)
	case !info.IsDir():
		return fmt.Errorf("%s exists but is not a directory", dir)
	}

	if err := r.chown(dir, id.UID, id.GID); err != nil {
		return fmt.Errorf("owning %s: %w", dir, err)
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			r.logger.Warn("skipping unreadable entry", "path", path, "error", err)
			return nil
		}
		if path == dir {
			return nil
		}
		if owned(d, id) {
			return nil
		}
		if cerr := r.chown(path, id.UID, id.GID); cerr != nil {
			r.logger.Warn("could not re-own entry", "path", path, "error", cerr)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walking %s: %w", dir, walkErr)
	}
	return nil
}

// owned reports whether the entry already belongs to id, so unchanged
// trees cost one stat per entry instead of one chown.
func owned(d fs.DirEntry, id Identity) bool {
	info, err := d.Info()
	if err != nil {
		return false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return int(st.Uid) == id.UID && int(st.Gid) == id.GID
}
