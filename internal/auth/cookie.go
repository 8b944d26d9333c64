// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// Session defaults.
const (
	DefaultCookieName    = "auth_session"
	DefaultCookiePath    = "/"
	DefaultLifetime      = 30 * 24 * time.Hour
	DefaultRefreshWindow = DefaultLifetime / 2
	DefaultRotationGrace = 30 * time.Second
)

// SameSite values for CookieAttributes.
const (
	SameSiteLax    = "lax"
	SameSiteStrict = "strict"
)

// Cookie is the transport artifact handed to the caller. The caller must
// deliver it to the client unchanged, overwriting any previous value.
type Cookie struct {
	Name       string
	Value      string
	Attributes CookieAttributes
}

// CookieAttributes are the delivery attributes of a Cookie.
type CookieAttributes struct {
	Path string
	// Expires is zero when the cookie should live only as long as the
	// client's browsing session.
	Expires time.Time
	// MaxAge < 0 instructs the client to drop the cookie immediately.
	MaxAge   int
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// IsBlank reports whether the cookie clears the client's token.
func (c Cookie) IsBlank() bool {
	return c.Value == ""
}

// SessionOptions configures session lifetime and the cookie artifact.
type SessionOptions struct {
	CookieName string
	// Lifetime is how long an issued or rotated session stays valid.
	Lifetime time.Duration
	// RefreshWindow is the remaining lifetime below which a session is stale
	// and gets rotated on its next validation.
	RefreshWindow time.Duration
	// RotationGrace is how long a rotated-out token keeps authenticating,
	// as a stale session, for requests that raced the rotation. Zero
	// retires it immediately.
	RotationGrace time.Duration
	// Secure marks the cookie secure. Must be on in production.
	Secure bool
	// PersistentCookie gives the cookie an Expires matching the session.
	// When false the cookie has no expiry.
	PersistentCookie bool
}

// DefaultSessionOptions returns the default session options.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		CookieName:    DefaultCookieName,
		Lifetime:      DefaultLifetime,
		RefreshWindow: DefaultRefreshWindow,
		RotationGrace: DefaultRotationGrace,
	}
}

// Validate checks the options are consistent.
func (o SessionOptions) Validate() error {
	if o.CookieName == "" {
		return oops.Code("SESSION_INVALID_OPTIONS").Errorf("cookie name cannot be empty")
	}
	if o.Lifetime <= 0 {
		return oops.Code("SESSION_INVALID_OPTIONS").
			With("lifetime", o.Lifetime.String()).
			Errorf("session lifetime must be positive")
	}
	if o.RefreshWindow <= 0 || o.RefreshWindow > o.Lifetime {
		return oops.Code("SESSION_INVALID_OPTIONS").
			With("refresh_window", o.RefreshWindow.String()).
			With("lifetime", o.Lifetime.String()).
			Errorf("refresh window must be within (0, lifetime]")
	}
	if o.RotationGrace < 0 || o.RotationGrace >= o.RefreshWindow {
		return oops.Code("SESSION_INVALID_OPTIONS").
			With("rotation_grace", o.RotationGrace.String()).
			With("refresh_window", o.RefreshWindow.String()).
			Errorf("rotation grace must be within [0, refresh window)")
	}
	return nil
}

// sessionCookie builds the artifact carrying token for a session expiring at expiresAt.
func (o SessionOptions) sessionCookie(token string, expiresAt time.Time) Cookie {
	attrs := o.baseAttributes()
	if o.PersistentCookie {
		attrs.Expires = expiresAt
	}
	return Cookie{Name: o.CookieName, Value: token, Attributes: attrs}
}

// blankCookie builds the artifact that clears the client's token.
func (o SessionOptions) blankCookie() Cookie {
	attrs := o.baseAttributes()
	attrs.MaxAge = -1
	return Cookie{Name: o.CookieName, Value: "", Attributes: attrs}
}

func (o SessionOptions) baseAttributes() CookieAttributes {
	return CookieAttributes{
		Path:     DefaultCookiePath,
		Secure:   o.Secure,
		HTTPOnly: true,
		SameSite: SameSiteLax,
	}
}
