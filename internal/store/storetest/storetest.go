// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package storetest provisions migrated databases for tests.
package storetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gatekeep/gatekeep/internal/store"
)

// PostgresContainer is a running PostgreSQL testcontainer with the schema applied.
type PostgresContainer struct {
	DSN       string
	container *postgres.PostgresContainer
}

// StartPostgres starts a PostgreSQL container and migrates it to the latest version.
func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gatekeep_test"),
		postgres.WithUsername("gatekeep"),
		postgres.WithPassword("gatekeep"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, oops.Code("TEST_CONTAINER_FAILED").With("operation", "start postgres").Wrap(err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx) //nolint:errcheck // connection string error takes precedence
		return nil, oops.Code("TEST_CONTAINER_FAILED").With("operation", "connection string").Wrap(err)
	}

	if err := migrateUp(store.DriverPostgres, dsn); err != nil {
		_ = container.Terminate(ctx) //nolint:errcheck // migration error takes precedence
		return nil, err
	}

	return &PostgresContainer{DSN: dsn, container: container}, nil
}

// Terminate stops the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.container.Terminate(ctx)
}

// SQLite opens a migrated SQLite database in a temporary directory that is
// removed when the test ends.
func SQLite(t testing.TB) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeep.db")
	require.NoError(t, migrateUp(store.DriverSQLite, path))

	db, err := store.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func migrateUp(driver store.Driver, location string) error {
	migrator, err := store.NewMigrator(driver, location)
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close() //nolint:errcheck // migration error takes precedence
		return err
	}
	return migrator.Close()
}
