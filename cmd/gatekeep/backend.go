// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
	"github.com/gatekeep/gatekeep/internal/auth/sqlite"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/store"
	"github.com/gatekeep/gatekeep/internal/xdg"
)

// Backend is an open storage backend.
type Backend struct {
	Users    auth.UserRepository
	Sessions auth.SessionRepository
	// Ping reports whether the database is reachable.
	Ping  func(ctx context.Context) error
	Close func()
}

// openBackend connects to the database the configuration selects.
func openBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.Driver() {
	case store.DriverPostgres:
		pool, err := store.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Users:    postgres.NewUserRepository(pool),
			Sessions: postgres.NewSessionRepository(pool),
			Ping:     pool.Ping,
			Close:    pool.Close,
		}, nil
	default:
		path, err := sqlitePath(cfg)
		if err != nil {
			return nil, err
		}
		db, err := store.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Users:    sqlite.NewUserRepository(db),
			Sessions: sqlite.NewSessionRepository(db),
			Ping:     db.PingContext,
			Close:    func() { _ = db.Close() },
		}, nil
	}
}

// migrationLocation returns where migrations apply for the configured driver.
func migrationLocation(cfg *config.Config) (string, error) {
	if cfg.Driver() == store.DriverPostgres {
		return cfg.Database.URL, nil
	}
	return sqlitePath(cfg)
}

// sqlitePath resolves the SQLite file and makes sure its directory exists.
func sqlitePath(cfg *config.Config) (string, error) {
	path := cfg.Database.Path
	if path == "" {
		var err error
		if path, err = xdg.DatabaseFile(); err != nil {
			return "", oops.Code("CONFIG_INVALID").
				With("key", "database.path").
				Wrap(err)
		}
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}
	return path, nil
}

// newMigrator opens a migrator for the configured database.
func newMigrator(cfg *config.Config) (*store.Migrator, error) {
	location, err := migrationLocation(cfg)
	if err != nil {
		return nil, err
	}
	return store.NewMigrator(cfg.Driver(), location)
}
