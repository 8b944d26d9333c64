// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
)

// Credential validation constraints.
const MinPasswordLength = 8

// Field names used in FieldErrors.
const (
	FieldEmail    = "email"
	FieldPassword = "password"
)

// Field error messages.
const (
	MsgInvalidEmail     = "Invalid email address"
	MsgPasswordTooShort = "Password must be at least 8 characters long"
	MsgEmailInUse       = "already in use"
	MsgEmailNotFound    = "email not found"
	MsgInvalidPassword  = "invalid password"
	MsgNoSessionFound   = "no session found"
)

// Operation labels for metrics and spans.
const (
	opSignUp = "signup"
	opLogin  = "login"
)

// Credentials is a submitted email/password pair. Never persisted.
type Credentials struct {
	Email    string
	Password string
}

// FieldErrors maps a field name to a single human-readable message.
// A missing key means the field is valid.
type FieldErrors map[string]string

// Result is the outcome of SignUp or Login.
type Result struct {
	User    *User
	Session *Session
	// Cookie carries the new session's token for delivery to the client.
	Cookie *Cookie
	Errors FieldErrors
}

// OK reports whether a session was issued.
func (r *Result) OK() bool {
	return r != nil && r.Session != nil && len(r.Errors) == 0
}

// LogoutResult is the outcome of Logout.
type LogoutResult struct {
	// Cookie is always the blank artifact; the caller must deliver it.
	Cookie Cookie
	// Error is MsgNoSessionFound when there was no session to end.
	Error string
}

// Service validates submitted credentials and drives the SessionManager.
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	sessions *SessionManager
	logger   *slog.Logger
	// dummyHash is verified against when the email is unknown so that both
	// login branches pay the configured hashing cost. It matches no password
	// a client can know.
	dummyHash string
}

// NewAuthService creates a new Service using the default logger.
func NewAuthService(users UserRepository, hasher PasswordHasher, sessions *SessionManager) (*Service, error) {
	return NewAuthServiceWithLogger(users, hasher, sessions, slog.Default())
}

// NewAuthServiceWithLogger creates a new Service with an explicit logger.
func NewAuthServiceWithLogger(users UserRepository, hasher PasswordHasher, sessions *SessionManager, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session manager is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("logger is required")
	}

	secret, _, err := GenerateSessionToken()
	if err != nil {
		return nil, oops.Code("AUTH_SERVICE_INIT_FAILED").
			With("operation", "generate dummy password").
			Wrap(err)
	}
	dummyHash, err := hasher.Hash(secret)
	if err != nil {
		return nil, oops.Code("AUTH_SERVICE_INIT_FAILED").
			With("operation", "hash dummy password").
			Wrap(err)
	}

	return &Service{
		users:     users,
		hasher:    hasher,
		sessions:  sessions,
		logger:    logger,
		dummyHash: dummyHash,
	}, nil
}

// Sessions returns the SessionManager the service issues sessions through.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// ValidateCredentials checks the shape of a sign-up submission and reports
// every violated field. Returns nil when the submission is acceptable.
func ValidateCredentials(creds Credentials) FieldErrors {
	errs := FieldErrors{}
	if !strings.Contains(creds.Email, "@") {
		errs[FieldEmail] = MsgInvalidEmail
	}
	if utf8.RuneCountInString(strings.TrimSpace(creds.Password)) < MinPasswordLength {
		errs[FieldPassword] = MsgPasswordTooShort
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// SignUp creates a user and issues its first session.
// Field problems come back in Result.Errors; only storage failures are errors.
func (s *Service) SignUp(ctx context.Context, creds Credentials) (_ *Result, err error) {
	ctx, span := tracer.Start(ctx, "auth.signup")
	defer endSpan(span, &err)

	if errs := ValidateCredentials(creds); errs != nil {
		recordAuthAttempt(opSignUp, StatusInvalid)
		return &Result{Errors: errs}, nil
	}

	start := time.Now()
	passwordHash, err := s.hasher.Hash(creds.Password)
	recordHashDuration("hash", time.Since(start))
	if err != nil {
		recordAuthAttempt(opSignUp, StatusError)
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(creds.Email, passwordHash)
	if err != nil {
		recordAuthAttempt(opSignUp, StatusError)
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "build user").
			Wrap(err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			recordAuthAttempt(opSignUp, StatusDuplicate)
			return &Result{Errors: FieldErrors{FieldEmail: MsgEmailInUse}}, nil
		}
		recordAuthAttempt(opSignUp, StatusError)
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create user").
			Wrap(err)
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	session, cookie, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		recordAuthAttempt(opSignUp, StatusError)
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "issue session").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	recordAuthAttempt(opSignUp, StatusSuccess)
	s.logger.InfoContext(ctx, "user signed up", "user_id", user.ID.String())
	return &Result{User: user, Session: session, Cookie: &cookie}, nil
}

// Login verifies credentials and issues a session.
//
// Unknown emails and wrong passwords are reported on different fields, which
// discloses whether an account exists. The hasher runs in both cases so the
// difference is not also observable through timing.
func (s *Service) Login(ctx context.Context, creds Credentials) (_ *Result, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer endSpan(span, &err)

	user, lookupErr := s.users.GetByEmail(ctx, creds.Email)
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		recordAuthAttempt(opLogin, StatusError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	targetHash := s.dummyHash
	if user != nil {
		targetHash = user.PasswordHash
	}

	start := time.Now()
	valid := s.hasher.Verify(creds.Password, targetHash)
	recordHashDuration("verify", time.Since(start))

	if user == nil {
		recordAuthAttempt(opLogin, StatusNotFound)
		return &Result{Errors: FieldErrors{FieldEmail: MsgEmailNotFound}}, nil
	}
	if !valid {
		recordAuthAttempt(opLogin, StatusMismatch)
		return &Result{Errors: FieldErrors{FieldPassword: MsgInvalidPassword}}, nil
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	session, cookie, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		recordAuthAttempt(opLogin, StatusError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue session").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	recordAuthAttempt(opLogin, StatusSuccess)
	return &Result{User: user, Session: session, Cookie: &cookie}, nil
}

// Logout ends the session behind token. The result is non-nil even when an
// error is returned, so the caller can always clear the client's token.
func (s *Service) Logout(ctx context.Context, token string) (*LogoutResult, error) {
	cookie, err := s.sessions.Invalidate(ctx, token)
	result := &LogoutResult{Cookie: cookie}
	if errors.Is(err, ErrNoActiveSession) {
		result.Error = MsgNoSessionFound
		return result, nil
	}
	if err != nil {
		return result, oops.Code("AUTH_LOGOUT_FAILED").Wrap(err)
	}
	return result, nil
}
