// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package auth provides password authentication and server-side sessions.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates a User with a fresh ID from an email and password hash
//   - NewSession - creates a Fresh Session for a user with a token hash and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Session Lifecycle
//
// A session is Fresh after it is issued or rotated, goes Stale once less than
// the refresh window of its lifetime remains, and is Expired after ExpiresAt.
// SessionManager.Validate rotates Stale sessions, handing the caller a new
// Cookie; absent and expired sessions yield a blank Cookie. Tokens are 256
// random bits and only their SHA-256 is stored.
//
// # Services
//
//   - SessionManager - issue, validate (with rotation), invalidate
//   - Service - sign-up, login, and logout over submitted credentials
//   - SessionSweeper - background removal of expired sessions
//
// Concrete stores live in the postgres and sqlite subpackages.
package auth
