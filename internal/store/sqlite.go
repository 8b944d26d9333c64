// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	// Register the pure-Go "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// sqlitePragmas are applied to every connection. _txlock=immediate takes the
// write lock at BEGIN.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

// SQLiteDSN returns the modernc.org/sqlite data source name for the file at path.
func SQLiteDSN(path string) string {
	return filepath.Clean(path) + "?" + sqlitePragmas
}

// OpenSQLite opens the SQLite database file at path, creating it if needed.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, oops.Code("DB_CONFIG_INVALID").Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "open sqlite").
			With("path", path).
			Wrap(err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping sqlite").
			With("path", path).
			Wrap(err)
	}
	return db, nil
}
