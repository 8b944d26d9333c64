// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionTokenBytes is the entropy of a session token: 32 bytes = 256 bits, 64 hex chars.
const SessionTokenBytes = 32

// SessionState is the freshness of a session at a point in time.
type SessionState int

// Session states. Unissued and Invalidated sessions have no record and are
// never observed as a SessionState.
const (
	SessionFresh SessionState = iota
	SessionStale
	SessionExpired
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case SessionFresh:
		return "fresh"
	case SessionStale:
		return "stale"
	case SessionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Session is a server-side record granting a user's identity to the bearer
// of its token. Only the SHA-256 of the token is stored.
type Session struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time

	// ReplacedBy is the ID of the session that rotated this one out, or zero
	// while this session is current.
	ReplacedBy ulid.ULID

	// Fresh is not persisted. It is true when the session was just issued or
	// rotated, or was read while still fresh; a stale session whose rotation
	// did not happen is returned with Fresh false.
	Fresh bool
}

// NewSession creates a validated Session in the Fresh state.
func NewSession(userID ulid.ULID, tokenHash string, expiresAt time.Time) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &Session{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
		Fresh:     true,
	}, nil
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Replaced reports whether the session has been rotated out.
func (s *Session) Replaced() bool {
	return s.ReplacedBy.Compare(ulid.ULID{}) != 0
}

// StateAt returns the session state at t. A session goes stale once less
// than refreshWindow of its lifetime remains.
func (s *Session) StateAt(t time.Time, refreshWindow time.Duration) SessionState {
	if s.IsExpiredAt(t) {
		return SessionExpired
	}
	if s.ExpiresAt.Sub(t) < refreshWindow {
		return SessionStale
	}
	return SessionFresh
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the client; the hash is stored.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the SHA256 hash of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash.
	// Returns ErrNotFound if there is none.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Rotate atomically marks the session with oldID as replaced by next,
	// caps its expiry at retireAt, and stores next. Returns ErrNotFound,
	// storing nothing, if oldID no longer exists or was already replaced.
	Rotate(ctx context.Context, oldID ulid.ULID, next *Session, retireAt time.Time) error

	// Delete removes a session by ID.
	// Returns ErrNotFound if there is none.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteExpired removes all sessions expired at now and returns the count
	// of deleted records.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
