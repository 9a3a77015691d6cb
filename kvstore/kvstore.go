// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package kvstore is the durable per-host key-value store. The link
// registry mirrors its bindings here so a host restart does not lose
// them, advertised actor claims are cached across restarts, and the
// control plane's config commands read and write through it.
//
// Keys are namespaced by convention with a short prefix and an
// underscore ("link_", "claims_", "config_"). Values are opaque bytes;
// callers bring their own encoding.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("kvstore: key not found")

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Use ":memory:" in tests.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 4.
	PoolSize int

	// Logger receives operational messages. If nil, logs are
	// discarded.
	Logger *slog.Logger
}

// Store is a durable string→bytes map backed by SQLite in WAL mode.
// Safe for concurrent use.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
}

// Open creates or opens the store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("kvstore: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range []string{
				"PRAGMA journal_mode=WAL;",
				"PRAGMA synchronous=NORMAL;",
				"PRAGMA busy_timeout=5000;",
			} {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("applying %q: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, `
CREATE TABLE IF NOT EXISTS kv (
    key   TEXT PRIMARY KEY,
    value BLOB NOT NULL
) WITHOUT ROWID;
`, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: opening %s: %w", cfg.Path, err)
	}

	logger.Info("kv store opened", "path", cfg.Path, "pool_size", poolSize)
	return &Store{pool: pool, logger: logger}, nil
}

// Get returns the value for key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("kvstore: take: %w", err)
	}
	defer s.pool.Put(conn)

	var value []byte
	found := false
	err = sqlitex.Execute(conn, "SELECT value FROM kv WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

// Put stores value under key, replacing any existing value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("kvstore: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return fmt.Errorf("kvstore: put %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("kvstore: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM kv WHERE key = ?",
		&sqlitex.ExecOptions{Args: []any{key}})
	if err != nil {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return nil
}

// List returns every key/value pair whose key starts with prefix, in
// key order.
func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("kvstore: take: %w", err)
	}
	defer s.pool.Put(conn)

	result := make(map[string][]byte)
	err = sqlitex.Execute(conn,
		"SELECT key, value FROM kv WHERE key >= ? AND key < ? || x'ff' ORDER BY key",
		&sqlitex.ExecOptions{
			Args: []any{prefix, prefix},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, value)
				result[stmt.ColumnText(0)] = value
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("kvstore: list %q: %w", prefix, err)
	}
	return result, nil
}

// Close shuts down the connection pool. In-flight operations complete
// first.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("kvstore: close: %w", err)
	}
	return nil
}
