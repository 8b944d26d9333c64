// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth_test

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

func TestNewSession(t *testing.T) {
	userID := ulid.Make()
	expiresAt := time.Now().Add(time.Hour)

	t.Run("creates fresh session", func(t *testing.T) {
		session, err := auth.NewSession(userID, "hash", expiresAt)
		require.NoError(t, err)
		assert.NotEqual(t, ulid.ULID{}, session.ID)
		assert.Equal(t, userID, session.UserID)
		assert.Equal(t, "hash", session.TokenHash)
		assert.Equal(t, expiresAt, session.ExpiresAt)
		assert.True(t, session.Fresh)
		assert.False(t, session.CreatedAt.IsZero())
	})

	t.Run("rejects zero user", func(t *testing.T) {
		_, err := auth.NewSession(ulid.ULID{}, "hash", expiresAt)
		errutil.AssertErrorCode(t, err, "SESSION_INVALID_USER")
	})

	t.Run("rejects empty token hash", func(t *testing.T) {
		_, err := auth.NewSession(userID, "", expiresAt)
		errutil.AssertErrorCode(t, err, "SESSION_INVALID_HASH")
	})

	t.Run("rejects zero expiry", func(t *testing.T) {
		_, err := auth.NewSession(userID, "hash", time.Time{})
		errutil.AssertErrorCode(t, err, "SESSION_INVALID_EXPIRY")
	})
}

func TestSession_Replaced(t *testing.T) {
	session, err := auth.NewSession(ulid.Make(), "hash", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, session.Replaced())

	session.ReplacedBy = ulid.Make()
	assert.True(t, session.Replaced())
}

func TestSession_StateAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	window := 15 * 24 * time.Hour

	tests := []struct {
		name      string
		expiresAt time.Time
		want      auth.SessionState
	}{
		{name: "full lifetime remaining", expiresAt: now.Add(30 * 24 * time.Hour), want: auth.SessionFresh},
		{name: "exactly the window remaining", expiresAt: now.Add(window), want: auth.SessionFresh},
		{name: "just under the window", expiresAt: now.Add(window - time.Second), want: auth.SessionStale},
		{name: "one second left", expiresAt: now.Add(time.Second), want: auth.SessionStale},
		{name: "expiring right now", expiresAt: now, want: auth.SessionExpired},
		{name: "expired yesterday", expiresAt: now.Add(-24 * time.Hour), want: auth.SessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &auth.Session{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, s.StateAt(now, window))
			assert.Equal(t, tt.want == auth.SessionExpired, s.IsExpiredAt(now))
		})
	}
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "fresh", auth.SessionFresh.String())
	assert.Equal(t, "stale", auth.SessionStale.String())
	assert.Equal(t, "expired", auth.SessionExpired.String())
	assert.Equal(t, "unknown", auth.SessionState(42).String())
}

func TestGenerateSessionToken(t *testing.T) {
	token, hash, err := auth.GenerateSessionToken()
	require.NoError(t, err)

	raw, err := hex.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, auth.SessionTokenBytes)
	assert.GreaterOrEqual(t, len(raw)*8, 128, "token must carry at least 128 bits")
	assert.Equal(t, auth.HashSessionToken(token), hash)
	assert.NotEqual(t, token, hash)

	seen := map[string]bool{token: true}
	for range 100 {
		next, _, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		assert.False(t, seen[next], "tokens must not repeat")
		seen[next] = true
	}
}

func TestHashSessionToken(t *testing.T) {
	// sha256("abc")
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		auth.HashSessionToken("abc"))
}

func TestSessionOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*auth.SessionOptions)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*auth.SessionOptions) {}},
		{name: "empty cookie name", mutate: func(o *auth.SessionOptions) { o.CookieName = "" }, wantErr: true},
		{name: "zero lifetime", mutate: func(o *auth.SessionOptions) { o.Lifetime = 0 }, wantErr: true},
		{name: "zero refresh window", mutate: func(o *auth.SessionOptions) { o.RefreshWindow = 0 }, wantErr: true},
		{name: "refresh window beyond lifetime", mutate: func(o *auth.SessionOptions) { o.RefreshWindow = o.Lifetime + time.Second }, wantErr: true},
		{name: "refresh window equal to lifetime", mutate: func(o *auth.SessionOptions) { o.RefreshWindow = o.Lifetime }},
		{name: "zero rotation grace", mutate: func(o *auth.SessionOptions) { o.RotationGrace = 0 }},
		{name: "negative rotation grace", mutate: func(o *auth.SessionOptions) { o.RotationGrace = -time.Second }, wantErr: true},
		{name: "rotation grace equal to refresh window", mutate: func(o *auth.SessionOptions) { o.RotationGrace = o.RefreshWindow }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := auth.DefaultSessionOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "SESSION_INVALID_OPTIONS")
				return
			}
			assert.NoError(t, err)
		})
	}
}
