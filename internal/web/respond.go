// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gatekeep/gatekeep/internal/auth"
)

const (
	msgInternal  = "internal error"
	msgBadForm   = "malformed form body"
	fieldSession = "session"
)

type userBody struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionBody struct {
	ExpiresAt time.Time `json:"expires_at"`
	Fresh     bool      `json:"fresh"`
}

type successBody struct {
	User    userBody     `json:"user"`
	Session *sessionBody `json:"session,omitempty"`
}

type fieldErrorsBody struct {
	Errors auth.FieldErrors `json:"errors"`
}

type errorBody struct {
	Error string `json:"error"`
}

func newUserBody(u *auth.User) userBody {
	return userBody{ID: u.ID.String(), Email: u.Email, CreatedAt: u.CreatedAt}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may have disconnected
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeFieldErrors(w http.ResponseWriter, errs auth.FieldErrors) {
	writeJSON(w, http.StatusUnprocessableEntity, fieldErrorsBody{Errors: errs})
}
