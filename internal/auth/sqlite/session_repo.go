// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// SessionRepository implements auth.SessionRepository using SQLite.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session.
// Returns auth.ErrNotFound if the owning user no longer exists.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	return insertSession(ctx, r.db, session)
}

// GetByTokenHash retrieves a session by the hash of its token.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, created_at, COALESCE(replaced_by, '')
		 FROM sessions WHERE token_hash = ?`,
		tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_QUERY_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	return session, nil
}

// Rotate marks oldID as replaced by next, caps its expiry at retireAt, and
// inserts next in one transaction. The connection opens transactions with
// BEGIN IMMEDIATE, so concurrent rotations serialize on the write lock and
// every loser sees zero rows updated.
func (r *SessionRepository) Rotate(ctx context.Context, oldID ulid.ULID, next *auth.Session, retireAt time.Time) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "begin transaction").
			With("session_id", oldID.String()).
			Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback() //nolint:errcheck // rotation error takes precedence
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET replaced_by = ?, expires_at = MIN(expires_at, ?)
		 WHERE id = ? AND replaced_by IS NULL`,
		next.ID.String(), toMillis(retireAt), oldID.String())
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "retire old session").
			With("session_id", oldID.String()).
			Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "rows affected").
			With("session_id", oldID.String()).
			Wrap(err)
	}
	if n == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("session_id", oldID.String()).
			Wrap(auth.ErrNotFound)
	}

	if err = insertSession(ctx, tx, next); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "commit").
			With("session_id", oldID.String()).
			Wrap(err)
	}
	return nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			With("id", id.String()).
			Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "rows affected").
			With("id", id.String()).
			Wrap(err)
	}
	if n == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes every session whose expiry is at or before now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "rows affected").
			Wrap(err)
	}
	return n, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSession(ctx context.Context, db execer, session *auth.Session) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID.String(),
		session.UserID.String(),
		session.TokenHash,
		toMillis(session.ExpiresAt),
		toMillis(session.CreatedAt),
	)
	if err == nil {
		return nil
	}
	if isForeignKeyViolation(err) {
		return oops.Code("SESSION_USER_MISSING").
			With("user_id", session.UserID.String()).
			Wrap(auth.ErrNotFound)
	}
	return oops.Code("SESSION_CREATE_FAILED").
		With("operation", "insert session").
		With("user_id", session.UserID.String()).
		Wrap(err)
}

func scanSession(row *sql.Row) (*auth.Session, error) {
	var (
		idStr, userIDStr     string
		replacedByStr        string
		session              auth.Session
		expiresAt, createdAt int64
	)
	if err := row.Scan(&idStr, &userIDStr, &session.TokenHash, &expiresAt, &createdAt, &replacedByStr); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", idStr).Wrap(err)
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}

	if replacedByStr != "" {
		session.ReplacedBy, err = ulid.Parse(replacedByStr)
		if err != nil {
			return nil, oops.Code("SESSION_INVALID_REPLACED_BY").With("replaced_by", replacedByStr).Wrap(err)
		}
	}

	session.ID = id
	session.UserID = userID
	session.ExpiresAt = fromMillis(expiresAt)
	session.CreatedAt = fromMillis(createdAt)
	return &session, nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
