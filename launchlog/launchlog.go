// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package launchlog records every container launch in a local SQLite
// ledger under the auth home. The ledger answers "what policy did that
// session actually run with" after the fact: each entry carries the
// policy digest, the agent, the image, and the exit code. It is purely
// observational; a ledger failure never blocks a launch.
package launchlog

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// FileName is the ledger file under the auth home directory.
const FileName = "history.db"

const schema = `
CREATE TABLE IF NOT EXISTS launches (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL,
	agent         TEXT NOT NULL,
	image         TEXT NOT NULL,
	policy_digest TEXT NOT NULL,
	domains       INTEGER NOT NULL,
	exit_code     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS launches_started_at ON launches(started_at);
`

// Entry is one recorded launch.
type Entry struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Agent        string
	Image        string
	PolicyDigest [32]byte
	// Domains is the size of the allow-list, kept as a quick signal of
	// how open the session was without storing the list itself.
	Domains  int
	ExitCode int
}

// Ledger is the launch history store. Pool size is fixed at 1: the CLI
// is a single process writing one row per run, and a size-1 pool also
// makes :memory: databases usable in tests.
type Ledger struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger at path.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 1,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			} {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("launchlog: %s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("launchlog: opening %s: %w", path, err)
	}
	return &Ledger{pool: pool, logger: logger}, nil
}

// Close closes the ledger.
func (l *Ledger) Close() error {
	return l.pool.Close()
}

// Record appends one launch to the ledger.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("launchlog: %w", err)
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO launches (started_at, finished_at, agent, image, policy_digest, domains, exit_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				e.StartedAt.UTC().Format(time.RFC3339),
				e.FinishedAt.UTC().Format(time.RFC3339),
				e.Agent,
				e.Image,
				hex.EncodeToString(e.PolicyDigest[:]),
				e.Domains,
				e.ExitCode,
			},
		})
	if err != nil {
		return fmt.Errorf("launchlog: recording launch: %w", err)
	}
	return nil
}

// Recent returns up to limit launches, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("launchlog: %w", err)
	}
	defer l.pool.Put(conn)

	var entries []Entry
	err = sqlitex.Execute(conn,
		`SELECT started_at, finished_at, agent, image, policy_digest, domains, exit_code
		 FROM launches ORDER BY id DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var e Entry
				started, err := time.Parse(time.RFC3339, stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("launchlog: bad started_at: %w", err)
				}
				finished, err := time.Parse(time.RFC3339, stmt.ColumnText(1))
				if err != nil {
					return fmt.Errorf("launchlog: bad finished_at: %w", err)
				}
				e.StartedAt = started
				e.FinishedAt = finished
				e.Agent = stmt.ColumnText(2)
				e.Image = stmt.ColumnText(3)
				digest, err := hex.DecodeString(stmt.ColumnText(4))
				if err != nil || len(digest) != len(e.PolicyDigest) {
					return fmt.Errorf("launchlog: bad policy digest %q", stmt.ColumnText(4))
				}
				copy(e.PolicyDigest[:], digest)
				e.Domains = stmt.ColumnInt(5)
				e.ExitCode = stmt.ColumnInt(6)
				entries = append(entries, e)
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
