// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package store opens the backing databases and manages their schema.
package store

import (
	"strings"

	"github.com/samber/oops"
)

// Driver names a supported database engine.
type Driver string

// Supported drivers.
const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// ParseDriver returns the Driver named by s, case-insensitively.
func ParseDriver(s string) (Driver, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(s))) {
	case DriverPostgres:
		return DriverPostgres, nil
	case DriverSQLite:
		return DriverSQLite, nil
	default:
		return "", oops.Code("STORE_UNKNOWN_DRIVER").
			With("driver", s).
			Errorf("unknown database driver %q (want postgres or sqlite)", s)
	}
}

// String implements fmt.Stringer.
func (d Driver) String() string {
	return string(d)
}
