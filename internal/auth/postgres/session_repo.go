// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool poolIface
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool poolIface) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a new session.
// Returns auth.ErrNotFound if the owning user no longer exists.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	return insertSession(ctx, r.pool, session)
}

// GetByTokenHash retrieves a session by the hash of its token.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, token_hash, expires_at, created_at, COALESCE(replaced_by, '')
		 FROM sessions WHERE token_hash = $1`,
		tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
// inserts next in one transaction. When oldID is gone or already replaced the
// transaction is rolled back and auth.ErrNotFound returned. The update
// re-checks replaced_by under the row lock, so exactly one concurrent
// rotation wins.
func (r *SessionRepository) Rotate(ctx context.Context, oldID ulid.ULID, next *auth.Session, retireAt time.Time) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "begin transaction").
			With("session_id", oldID.String()).
			Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // rotation error takes precedence
		}
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET replaced_by = $2, expires_at = LEAST(expires_at, $3)
		 WHERE id = $1 AND replaced_by IS NULL`,
		oldID.String(), next.ID.String(), retireAt)
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "retire old session").
			With("session_id", oldID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("session_id", oldID.String()).
			Wrap(auth.ErrNotFound)
	}

	if err = insertSession(ctx, tx, next); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "commit").
			With("session_id", oldID.String()).
			Wrap(err)
	}
	return nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes every session whose expiry is at or before now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertSession(ctx context.Context, db execer, session *auth.Session) error {
	_, err := db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
		session.ID.String(),
		session.UserID.String(),
		session.TokenHash,
		session.ExpiresAt,
		session.CreatedAt,
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
		return oops.Code("SESSION_USER_MISSING").
			With("user_id", session.UserID.String()).
			Wrap(auth.ErrNotFound)
	}
	return oops.Code("SESSION_CREATE_FAILED").
		With("operation", "insert session").
		With("user_id", session.UserID.String()).
		Wrap(err)
}

func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr, userIDStr     string
		replacedByStr        string
		session              auth.Session
		expiresAt, createdAt time.Time
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
	session.ExpiresAt = expiresAt.UTC()
	session.CreatedAt = createdAt.UTC()
	return &session, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
