// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/warden/policy"
)

// defaultSeccompProfile ships inside the binary so a fresh install
// needs no profile file on disk.
//
//go:embed seccomp_default.json
var defaultSeccompProfile []byte

// seccompProfile is the subset of docker's profile schema we validate.
// Docker does the full parse; this catches a profile that is valid
// JSON but not a seccomp profile at all, before the container starts.
type seccompProfile struct {
	DefaultAction string            `json:"defaultAction"`
	Syscalls      []json.RawMessage `json:"syscalls"`
}

// ResolveSeccomp turns the policy's seccomp selection into the value
// for docker's --security-opt seccomp= flag. Profile files are
// materialized under stateDir because docker needs a readable path and
// operator-supplied profiles may carry //-comments, which docker's
// JSON parser rejects.
func ResolveSeccomp(sp policy.SeccompPolicy, stateDir string) (string, error) {
	switch sp.Mode {
	case policy.SeccompDisabled:
		return "unconfined", nil

	case policy.SeccompCustom:
		raw, err := os.ReadFile(sp.Path)
		if err != nil {
			return "", fmt.Errorf("seccomp profile %s: %w", sp.Path, err)
		}
		stripped := jsonc.ToJSON(raw)
		if err := validateProfile(stripped, sp.Path); err != nil {
			return "", err
		}
		path := filepath.Join(stateDir, "seccomp-custom.json")
		if err := writeFileAtomic(path, stripped); err != nil {
			return "", err
		}
		return path, nil

	default:
		if err := validateProfile(defaultSeccompProfile, "embedded default"); err != nil {
			return "", err
		}
		path := filepath.Join(stateDir, "seccomp-default.json")
		if err := writeFileAtomic(path, defaultSeccompProfile); err != nil {
			return "", err
		}
		return path, nil
	}
}

func validateProfile(data []byte, source string) error {
	var profile seccompProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("seccomp profile %s: %w", source, err)
	}
	if profile.DefaultAction == "" {
		return fmt.Errorf("seccomp profile %s: missing defaultAction", source)
	}
	return nil
}

// writeFileAtomic writes via a temp file and rename so a crashed write
// never leaves a truncated profile for the next launch to attach.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".seccomp-*")
	if err != nil {
		return fmt.Errorf("writing seccomp profile: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing seccomp profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing seccomp profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing seccomp profile: %w", err)
	}
	return nil
}
