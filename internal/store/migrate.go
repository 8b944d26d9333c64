// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	// Register modernc sqlite database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migration versions per driver, computed once since the embedded FS is immutable.
var (
	versionCacheMu sync.Mutex
	versionCache   = map[Driver][]uint{}
)

// migrateIface is the part of *migrate.Migrate the Migrator uses.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator wraps golang-migrate for database schema management.
type Migrator struct {
	m      migrateIface
	driver Driver
}

// migrationsDir returns the embedded directory holding driver's migrations.
func migrationsDir(driver Driver) string {
	return path.Join("migrations", string(driver))
}

// MigrationURL converts a database location into the URL golang-migrate expects.
// Postgres URLs with postgres:// or postgresql:// get the pgx5:// scheme;
// SQLite file paths get the sqlite:// scheme.
func MigrationURL(driver Driver, location string) (string, error) {
	switch driver {
	case DriverPostgres:
		if rest, found := strings.CutPrefix(location, "postgres://"); found {
			return "pgx5://" + rest, nil
		}
		if rest, found := strings.CutPrefix(location, "postgresql://"); found {
			return "pgx5://" + rest, nil
		}
		return location, nil
	case DriverSQLite:
		if strings.HasPrefix(location, "sqlite://") {
			return location, nil
		}
		if strings.TrimSpace(location) == "" {
			return "", oops.Code("MIGRATION_INIT_FAILED").Errorf("sqlite path is required")
		}
		return "sqlite://" + location, nil
	default:
		return "", oops.Code("STORE_UNKNOWN_DRIVER").With("driver", string(driver)).Errorf("unknown database driver %q", driver)
	}
}

// NewMigrator creates a Migrator for driver. location is a PostgreSQL
// connection string for DriverPostgres and a file path for DriverSQLite.
func NewMigrator(driver Driver, location string) (*Migrator, error) {
	migrateURL, err := MigrationURL(driver, location)
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrationsFS, migrationsDir(driver))
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "create migration source").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL)
	if err != nil {
		_ = source.Close() //nolint:errcheck // cleanup for embedded FS; init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").
			With("operation", "initialize migrator").
			With("driver", string(driver)).
			Wrap(err)
	}

	return &Migrator{m: m, driver: driver}, nil
}

// Driver returns the database engine the migrator targets.
func (m *Migrator) Driver() Driver {
	return m.driver
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down rolls back all migrations to version 0, dropping every table and its data.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Steps applies n migrations. Positive n migrates up, negative n migrates down.
func (m *Migrator) Steps(n int) error {
	if err := m.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Version returns the current migration version and dirty state.
// A dirty state indicates a migration failed partway through and requires manual intervention.
// Returns version 0 with dirty=false if no migrations have been applied.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations.
// Use only for recovering from a dirty state after manually fixing the database.
// Negative versions are rejected.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("MIGRATION_INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Close releases resources.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr != nil && dbErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").
			With("component", "both").
			Errorf("source: %v; database: %v", srcErr, dbErr)
	}
	if srcErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "source").Wrap(srcErr)
	}
	if dbErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "database").Wrap(dbErr)
	}
	return nil
}

// allMigrationVersions returns the sorted migration versions available for
// driver. The returned slice is a copy of the cache.
func allMigrationVersions(driver Driver) ([]uint, error) {
	versionCacheMu.Lock()
	defer versionCacheMu.Unlock()

	cached, ok := versionCache[driver]
	if !ok {
		loaded, err := loadMigrationVersions(driver)
		if err != nil {
			return nil, err
		}
		versionCache[driver] = loaded
		cached = loaded
	}

	result := make([]uint, len(cached))
	copy(result, cached)
	return result, nil
}

// loadMigrationVersions reads driver's embedded migrations and parses version
// numbers. Files not named NNNNNN_name.up.sql are logged and skipped.
func loadMigrationVersions(driver Driver) ([]uint, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir(driver))
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").
			With("operation", "read migrations dir").
			With("driver", string(driver)).
			Wrap(err)
	}

	versionSet := make(map[uint]struct{})
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var version uint
		if _, err := fmt.Sscanf(name, "%06d", &version); err != nil {
			slog.Warn("migration file name doesn't match expected format, skipping",
				"filename", name,
				"expected_format", "NNNNNN_name.up.sql",
				"error", err)
			continue
		}
		versionSet[version] = struct{}{}
	}

	versions := make([]uint, 0, len(versionSet))
	for v := range versionSet {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// MigrationName returns the NNNNNN_name of driver's migration at version,
// or "" with a nil error when no such migration exists.
func MigrationName(driver Driver, version uint) (string, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir(driver))
	if err != nil {
		return "", oops.Code("MIGRATION_READ_FAILED").
			With("operation", "read migrations dir").
			With("driver", string(driver)).
			Wrap(err)
	}

	prefix := fmt.Sprintf("%06d_", version)
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".up.sql") {
			return strings.TrimSuffix(name, ".up.sql"), nil
		}
	}
	return "", nil
}

// PendingMigrations returns the versions Up would apply, ascending.
func (m *Migrator) PendingMigrations() ([]uint, error) {
	currentVersion, _, err := m.Version()
	if err != nil {
		return nil, oops.With("operation", "get pending migrations").Wrap(err)
	}

	allVersions, err := allMigrationVersions(m.driver)
	if err != nil {
		return nil, oops.With("operation", "get pending migrations").Wrap(err)
	}

	var pending []uint
	for _, v := range allVersions {
		if v > currentVersion {
			pending = append(pending, v)
		}
	}
	return pending, nil
}

// AppliedMigrations returns the versions already applied, ascending.
func (m *Migrator) AppliedMigrations() ([]uint, error) {
	currentVersion, _, err := m.Version()
	if err != nil {
		return nil, oops.With("operation", "get applied migrations").Wrap(err)
	}

	if currentVersion == 0 {
		return nil, nil
	}

	allVersions, err := allMigrationVersions(m.driver)
	if err != nil {
		return nil, oops.With("operation", "get applied migrations").Wrap(err)
	}

	var applied []uint
	for _, v := range allVersions {
		if v <= currentVersion {
			applied = append(applied, v)
		}
	}
	return applied, nil
}
