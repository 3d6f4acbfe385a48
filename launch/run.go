// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// ExitError represents a non-zero exit from the agent container. The
// code is propagated to warden's own exit status unchanged.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("agent exited with code %d", e.Code)
}

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

// Launcher runs compiled docker invocations with the operator's stdio
// attached. The command constructor is injectable for tests.
type Launcher struct {
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	logger  *slog.Logger
}

// NewLauncher returns a Launcher that runs real commands.
func NewLauncher(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{command: exec.CommandContext, logger: logger}
}

// Run executes the compiled invocation and blocks until the container
// exits. The agent owns the terminal for the duration. A non-zero
// agent exit comes back as *ExitError; a failure to start docker at
// all comes back as an ordinary error, which callers map to the launch
// failure exit code.
func (l *Launcher) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty invocation")
	}
	cmd := l.command(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	l.logger.Debug("launching container", "argv", argv)
	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("starting container: %w", err)
}

// Pull refreshes the configured image. Image updates are entirely
// docker's business; warden adds nothing beyond running the pull with
// the operator's stdio attached so progress is visible.
func (l *Launcher) Pull(ctx context.Context, image string) error {
	cmd := l.command(ctx, "docker", "pull", image)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pulling %s: %w", image, err)
	}
	return nil
}
