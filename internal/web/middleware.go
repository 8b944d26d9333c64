// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

type sessionKey struct{}

// requestSession is what LoadSession learned about the caller.
type requestSession struct {
	validation *auth.Validation
	// token is the caller's current token: the rotated one if rotation
	// happened on this request.
	token string
	// presented is the token the request carried.
	presented string
}

// SessionFromContext returns the validation LoadSession stored on ctx. The
// result is never nil; an anonymous caller gets an invalid Validation.
func SessionFromContext(ctx context.Context) *auth.Validation {
	if rs, ok := ctx.Value(sessionKey{}).(*requestSession); ok && rs.validation != nil {
		return rs.validation
	}
	return &auth.Validation{}
}

func tokenFromContext(ctx context.Context) string {
	if rs, ok := ctx.Value(sessionKey{}).(*requestSession); ok {
		return rs.token
	}
	return ""
}

func presentedFromContext(ctx context.Context) string {
	if rs, ok := ctx.Value(sessionKey{}).(*requestSession); ok {
		return rs.presented
	}
	return ""
}

// LoadSession validates the session cookie on every request and writes back
// whatever artifact validation produced: a rotated token, or a blank cookie
// when there is no valid session.
func LoadSession(sessions *auth.SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := readToken(r, sessions.CookieName())

			validation, err := sessions.Validate(ctx, token)
			if err != nil {
				errutil.LogErrorContext(ctx, logger, slog.LevelError, "session validation failed", err)
				writeError(w, http.StatusInternalServerError, msgInternal)
				return
			}

			rs := &requestSession{validation: validation, token: token, presented: token}
			if validation.Cookie != nil {
				writeCookie(w, *validation.Cookie)
				rs.token = validation.Cookie.Value
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionKey{}, rs)))
		})
	}
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	//nolint:wrapcheck // ResponseWriter passthrough
	return s.ResponseWriter.Write(b)
}

// Instrument records request counts and latency, labelled by the mux
// pattern that matches the request.
func Instrument(metrics *observability.Metrics, mux *http.ServeMux) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			_, route := mux.Handler(r)
			if route == "" {
				route = "unmatched"
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			metrics.ObserveRequest(route, status, time.Since(start))
		})
	}
}
