// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// memUsers is an in-memory auth.UserRepository.
type memUsers struct {
	mu      sync.Mutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
}

func newMemUsers() *memUsers {
	return &memUsers{
		byID:    map[ulid.ULID]*auth.User{},
		byEmail: map[string]ulid.ULID{},
	}
}

func (r *memUsers) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byEmail[user.Email]; taken {
		return auth.ErrDuplicateEmail
	}
	u := *user
	r.byID[u.ID] = &u
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *memUsers) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	userCopy := *u
	return &userCopy, nil
}

func (r *memUsers) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	id, ok := r.byEmail[email]
	r.mu.Unlock()
	if !ok {
		return nil, auth.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// memSessions is an in-memory auth.SessionRepository.
type memSessions struct {
	mu     sync.Mutex
	byID   map[ulid.ULID]*auth.Session
	byHash map[string]ulid.ULID
}

func newMemSessions() *memSessions {
	return &memSessions{
		byID:   map[ulid.ULID]*auth.Session{},
		byHash: map[string]ulid.ULID{},
	}
}

func (r *memSessions) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(session)
	return nil
}

func (r *memSessions) put(session *auth.Session) {
	s := *session
	s.Fresh = false
	r.byID[s.ID] = &s
	r.byHash[s.TokenHash] = s.ID
}

func (r *memSessions) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHash[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	s := *r.byID[id]
	return &s, nil
}

func (r *memSessions) Rotate(_ context.Context, oldID ulid.ULID, next *auth.Session, retireAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byID[oldID]
	if !ok || old.Replaced() {
		return auth.ErrNotFound
	}
	old.ReplacedBy = next.ID
	if retireAt.Before(old.ExpiresAt) {
		old.ExpiresAt = retireAt
	}
	r.put(next)
	return nil
}

func (r *memSessions) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.remove(id) {
		return auth.ErrNotFound
	}
	return nil
}

func (r *memSessions) remove(id ulid.ULID) bool {
	s, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byHash, s.TokenHash)
	return true
}

func (r *memSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.byID {
		if s.IsExpiredAt(now) {
			r.remove(id)
			n++
		}
	}
	return n, nil
}

func (r *memSessions) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// current counts the sessions that have not been rotated out.
func (r *memSessions) current() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.byID {
		if !s.Replaced() {
			n++
		}
	}
	return n
}

// setExpiry moves a stored session's expiry.
func (r *memSessions) setExpiry(id ulid.ULID, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id].ExpiresAt = expiresAt
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	_ auth.UserRepository    = (*memUsers)(nil)
	_ auth.SessionRepository = (*memSessions)(nil)
)
