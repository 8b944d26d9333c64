// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

// maxFormBytes caps the credential form body.
const maxFormBytes = 8 << 10

// Handler serves the credential flows.
type Handler struct {
	service *auth.Service
	logger  *slog.Logger
	metrics *observability.Metrics
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics records request metrics into m.
func WithMetrics(m *observability.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a Handler for service.
func NewHandler(service *auth.Service, opts ...HandlerOption) (*Handler, error) {
	if service == nil {
		return nil, oops.Code("WEB_HANDLER_INVALID").Errorf("auth service is required")
	}
	h := &Handler{service: service, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		return nil, oops.Code("WEB_HANDLER_INVALID").Errorf("logger cannot be nil")
	}
	return h, nil
}

// Routes returns the routed and instrumented handler.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /signup", h.signUp)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /logout", h.logout)
	mux.HandleFunc("GET /session", h.session)

	var handler http.Handler = mux
	handler = LoadSession(h.service.Sessions(), h.logger)(handler)
	handler = Instrument(h.metrics, mux)(handler)
	return handler
}

func (h *Handler) signUp(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.credentials(w, r)
	if !ok {
		return
	}
	result, err := h.service.SignUp(r.Context(), creds)
	if err == nil && result.OK() {
		h.endPriorSession(r.Context())
	}
	h.respondCredentials(w, r, result, err, http.StatusCreated)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.credentials(w, r)
	if !ok {
		return
	}
	result, err := h.service.Login(r.Context(), creds)
	if err == nil && result.OK() {
		h.endPriorSession(r.Context())
	}
	h.respondCredentials(w, r, result, err, http.StatusOK)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.service.Logout(ctx, tokenFromContext(ctx))
	if result != nil {
		writeCookie(w, result.Cookie)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, h.logger, slog.LevelError, "logout failed", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	h.retirePresented(ctx)
	if result.Error != "" {
		writeFieldErrors(w, auth.FieldErrors{fieldSession: result.Error})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// endPriorSession ends the session the request arrived with, once signup or
// login has issued its replacement.
func (h *Handler) endPriorSession(ctx context.Context) {
	if !SessionFromContext(ctx).Valid() {
		return
	}
	h.invalidate(ctx, tokenFromContext(ctx))
	h.retirePresented(ctx)
}

// retirePresented ends the token the request carried when LoadSession rotated
// it, so the rotated-out record does not outlive its successor.
func (h *Handler) retirePresented(ctx context.Context) {
	presented := presentedFromContext(ctx)
	if presented == "" || presented == tokenFromContext(ctx) {
		return
	}
	h.invalidate(ctx, presented)
}

func (h *Handler) invalidate(ctx context.Context, token string) {
	_, err := h.service.Sessions().Invalidate(ctx, token)
	if err != nil && !errors.Is(err, auth.ErrNoActiveSession) {
		errutil.LogErrorContext(ctx, h.logger, slog.LevelWarn, "prior session invalidation failed", err)
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	v := SessionFromContext(r.Context())
	if !v.Valid() {
		writeError(w, http.StatusUnauthorized, auth.MsgNoSessionFound)
		return
	}
	writeJSON(w, http.StatusOK, successBody{
		User:    newUserBody(v.User),
		Session: &sessionBody{ExpiresAt: v.Session.ExpiresAt, Fresh: v.Session.Fresh},
	})
}

func (h *Handler) credentials(w http.ResponseWriter, r *http.Request) (auth.Credentials, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, msgBadForm)
		return auth.Credentials{}, false
	}
	return auth.Credentials{
		Email:    r.PostForm.Get("email"),
		Password: r.PostForm.Get("password"),
	}, true
}

func (h *Handler) respondCredentials(w http.ResponseWriter, r *http.Request, result *auth.Result, err error, status int) {
	if err != nil {
		errutil.LogErrorContext(r.Context(), h.logger, slog.LevelError, "credential flow failed", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if !result.OK() {
		writeFieldErrors(w, result.Errors)
		return
	}
	writeCookie(w, *result.Cookie)
	writeJSON(w, status, successBody{User: newUserBody(result.User)})
}
