// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package web

import (
	"net/http"
	"strings"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// httpCookie converts a session artifact to its HTTP form.
func httpCookie(c auth.Cookie) *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Attributes.Path,
		Expires:  c.Attributes.Expires,
		MaxAge:   c.Attributes.MaxAge,
		Secure:   c.Attributes.Secure,
		HttpOnly: c.Attributes.HTTPOnly,
	}
	switch c.Attributes.SameSite {
	case auth.SameSiteStrict:
		hc.SameSite = http.SameSiteStrictMode
	case auth.SameSiteLax:
		hc.SameSite = http.SameSiteLaxMode
	}
	return hc
}

// writeCookie sets c on the response, dropping any Set-Cookie already queued
// for the same name.
func writeCookie(w http.ResponseWriter, c auth.Cookie) {
	prefix := c.Name + "="
	header := w.Header()
	kept := header["Set-Cookie"][:0]
	for _, v := range header["Set-Cookie"] {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		header.Del("Set-Cookie")
	} else {
		header["Set-Cookie"] = kept
	}
	http.SetCookie(w, httpCookie(c))
}

// readToken returns the session token the client presented, or "".
func readToken(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
