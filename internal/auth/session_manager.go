// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("gatekeep/auth")

// Validation is the outcome of SessionManager.Validate.
type Validation struct {
	// User and Session are both nil when the token is not backed by a valid session.
	User    *User
	Session *Session
	// Cookie is non-nil when the caller must deliver a new artifact: a
	// rotated token, or a blank cookie clearing a dead one.
	Cookie *Cookie
}

// Valid reports whether the token authenticated a user.
func (v *Validation) Valid() bool {
	return v != nil && v.User != nil && v.Session != nil
}

// SessionManagerOption configures a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *slog.Logger) SessionManagerOption {
	return func(m *SessionManager) {
		m.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SessionManagerOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// SessionManager issues, validates, rotates, and invalidates sessions.
// It holds no session state itself; the SessionRepository is the only
// synchronization point.
type SessionManager struct {
	sessions SessionRepository
	users    UserRepository
	opts     SessionOptions
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(sessions SessionRepository, users UserRepository, opts SessionOptions, options ...SessionManagerOption) (*SessionManager, error) {
	if sessions == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("sessions repository is required")
	}
	if users == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("users repository is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	m := &SessionManager{
		sessions: sessions,
		users:    users,
		opts:     opts,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.logger == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("logger cannot be nil")
	}
	if m.now == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("clock cannot be nil")
	}
	return m, nil
}

// CookieName returns the name of the session cookie.
func (m *SessionManager) CookieName() string {
	return m.opts.CookieName
}

// BlankCookie returns the artifact that clears the client's token.
func (m *SessionManager) BlankCookie() Cookie {
	return m.opts.blankCookie()
}

// Issue creates a Fresh session for userID and the artifact carrying its token.
func (m *SessionManager) Issue(ctx context.Context, userID ulid.ULID) (_ *Session, _ Cookie, err error) {
	ctx, span := tracer.Start(ctx, "session.issue",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer endSpan(span, &err)

	session, cookie, err := m.newSession(userID)
	if err != nil {
		return nil, Cookie{}, oops.Code("SESSION_ISSUE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, Cookie{}, oops.Code("SESSION_ISSUE_FAILED").
			With("operation", "persist session").
			With("user_id", userID.String()).
			Wrap(err)
	}

	recordSessionEvent(EventIssued)
	return session, cookie, nil
}

// Validate resolves token to its user and session.
//
// An absent, expired, or orphaned session yields an empty Validation with a
// blank Cookie. A stale session is rotated: the returned Session and Cookie
// carry the new token and the presented one keeps working only for the
// rotation grace period. A token that was already rotated out validates as
// stale with no Cookie. Rotation never fails the call; if it cannot happen
// the stale session is returned as is. Storage errors while resolving the
// token are returned.
func (m *SessionManager) Validate(ctx context.Context, token string) (_ *Validation, err error) {
	ctx, span := tracer.Start(ctx, "session.validate")
	defer endSpan(span, &err)

	if token == "" {
		return m.invalid(), nil
	}

	session, err := m.sessions.GetByTokenHash(ctx, HashSessionToken(token))
	if errors.Is(err, ErrNotFound) {
		return m.invalid(), nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	span.SetAttributes(attribute.String("session.id", session.ID.String()))

	now := m.now()
	state := session.StateAt(now, m.opts.RefreshWindow)
	if state == SessionExpired {
		recordSessionEvent(EventExpired)
		m.discard(ctx, session, "delete_expired")
		return m.invalid(), nil
	}

	user, err := m.users.GetByID(ctx, session.UserID)
	if errors.Is(err, ErrNotFound) {
		m.discard(ctx, session, "delete_orphaned")
		return m.invalid(), nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get user by id").
			With("session_id", session.ID.String()).
			Wrap(err)
	}

	if session.Replaced() {
		// Raced a rotation that has already committed.
		session.Fresh = false
		recordSessionEvent(EventRotationLost)
		return &Validation{User: user, Session: session}, nil
	}

	if state == SessionFresh {
		session.Fresh = true
		return &Validation{User: user, Session: session}, nil
	}

	span.SetAttributes(attribute.Bool("session.stale", true))
	rotated, cookie, err := m.rotate(ctx, session, now)
	if err != nil {
		session.Fresh = false
		if errors.Is(err, ErrNotFound) {
			// A concurrent validation already rotated this session.
			recordSessionEvent(EventRotationLost)
			m.logger.DebugContext(ctx, "session rotation lost to concurrent validation",
				"session_id", session.ID.String())
		} else {
			recordSessionEvent(EventRotationFailed)
			m.logger.WarnContext(ctx, "best-effort session rotation failed",
				"operation", "rotate_session",
				"session_id", session.ID.String(),
				"user_id", session.UserID.String(),
				"error", err.Error())
		}
		return &Validation{User: user, Session: session}, nil
	}

	recordSessionEvent(EventRotated)
	return &Validation{User: user, Session: rotated, Cookie: &cookie}, nil
}

// Invalidate destroys the session behind token. It always returns the blank
// Cookie; the error is ErrNoActiveSession when nothing was live to destroy.
func (m *SessionManager) Invalidate(ctx context.Context, token string) (_ Cookie, err error) {
	ctx, span := tracer.Start(ctx, "session.invalidate")
	defer func() {
		if errors.Is(err, ErrNoActiveSession) {
			span.SetAttributes(attribute.Bool("session.absent", true))
			span.End()
			return
		}
		endSpan(span, &err)
	}()

	blank := m.BlankCookie()
	if token == "" {
		return blank, oops.Code("SESSION_NOT_FOUND").Wrap(ErrNoActiveSession)
	}

	session, err := m.sessions.GetByTokenHash(ctx, HashSessionToken(token))
	if errors.Is(err, ErrNotFound) {
		return blank, oops.Code("SESSION_NOT_FOUND").Wrap(ErrNoActiveSession)
	}
	if err != nil {
		return blank, oops.Code("SESSION_INVALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	err = m.sessions.Delete(ctx, session.ID)
	if errors.Is(err, ErrNotFound) {
		return blank, oops.Code("SESSION_NOT_FOUND").
			With("session_id", session.ID.String()).
			Wrap(ErrNoActiveSession)
	}
	if err != nil {
		return blank, oops.Code("SESSION_INVALIDATE_FAILED").
			With("operation", "delete session").
			With("session_id", session.ID.String()).
			Wrap(err)
	}

	if session.IsExpiredAt(m.now()) {
		recordSessionEvent(EventExpired)
		return blank, oops.Code("SESSION_NOT_FOUND").
			With("session_id", session.ID.String()).
			Wrap(ErrNoActiveSession)
	}

	// A token still inside its rotation grace also ends its successor.
	if session.Replaced() {
		err = m.sessions.Delete(ctx, session.ReplacedBy)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return blank, oops.Code("SESSION_INVALIDATE_FAILED").
				With("operation", "delete successor session").
				With("session_id", session.ID.String()).
				With("successor_id", session.ReplacedBy.String()).
				Wrap(err)
		}
	}

	recordSessionEvent(EventInvalidated)
	return blank, nil
}

// rotate replaces old with a new Fresh session for the same user. old stays
// readable until now plus the rotation grace.
func (m *SessionManager) rotate(ctx context.Context, old *Session, now time.Time) (*Session, Cookie, error) {
	next, cookie, err := m.newSession(old.UserID)
	if err != nil {
		return nil, Cookie{}, err
	}
	if err := m.sessions.Rotate(ctx, old.ID, next, now.Add(m.opts.RotationGrace)); err != nil {
		return nil, Cookie{}, oops.Code("SESSION_ROTATE_FAILED").
			With("session_id", old.ID.String()).
			Wrap(err)
	}
	return next, cookie, nil
}

func (m *SessionManager) newSession(userID ulid.ULID) (*Session, Cookie, error) {
	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, Cookie{}, err
	}

	expiresAt := m.now().Add(m.opts.Lifetime).UTC()
	session, err := NewSession(userID, tokenHash, expiresAt)
	if err != nil {
		return nil, Cookie{}, err
	}
	return session, m.opts.sessionCookie(token, expiresAt), nil
}

func (m *SessionManager) invalid() *Validation {
	blank := m.BlankCookie()
	return &Validation{Cookie: &blank}
}

// discard deletes a session that can no longer authenticate. Failures are logged only.
func (m *SessionManager) discard(ctx context.Context, session *Session, operation string) {
	err := m.sessions.Delete(ctx, session.ID)
	if err == nil || errors.Is(err, ErrNotFound) {
		return
	}
	m.logger.WarnContext(ctx, "best-effort session cleanup failed",
		"operation", operation,
		"session_id", session.ID.String(),
		"error", err.Error())
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
