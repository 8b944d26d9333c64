// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package web_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/sqlite"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/internal/store"
	"github.com/gatekeep/gatekeep/internal/web"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
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

type stack struct {
	db      *sql.DB
	clock   *clock
	metrics *observability.Metrics
	routes  http.Handler
}

func newStack() *stack {
	ctx := context.Background()
	path := filepath.Join(GinkgoT().TempDir(), "web.db")

	migrator, err := store.NewMigrator(store.DriverSQLite, path)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	Expect(migrator.Close()).To(Succeed())

	db, err := store.OpenSQLite(ctx, path)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(db.Close)

	logger := slog.New(slog.DiscardHandler)
	c := &clock{now: time.Now().UTC()}
	users := sqlite.NewUserRepository(db)
	manager, err := auth.NewSessionManager(sqlite.NewSessionRepository(db), users, auth.DefaultSessionOptions(),
		auth.WithClock(c.Now), auth.WithLogger(logger))
	Expect(err).NotTo(HaveOccurred())

	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 64, Threads: 1})
	Expect(err).NotTo(HaveOccurred())
	service, err := auth.NewAuthServiceWithLogger(users, hasher, manager, logger)
	Expect(err).NotTo(HaveOccurred())

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	handler, err := web.NewHandler(service, web.WithLogger(logger), web.WithMetrics(metrics))
	Expect(err).NotTo(HaveOccurred())

	return &stack{db: db, clock: c, metrics: metrics, routes: handler.Routes()}
}

func (s *stack) do(method, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	rec := httptest.NewRecorder()
	s.routes.ServeHTTP(rec, req)
	return rec
}

func credentials(email, password string) url.Values {
	return url.Values{"email": {email}, "password": {password}}
}

func sessionCookies(rec *httptest.ResponseRecorder) []*http.Cookie {
	var out []*http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.DefaultCookieName {
			out = append(out, c)
		}
	}
	return out
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	cookies := sessionCookies(rec)
	Expect(cookies).To(HaveLen(1), "exactly one session cookie is written")
	return cookies[0]
}

func decode(rec *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed(), rec.Body.String())
	return body
}

func fieldErrors(rec *httptest.ResponseRecorder) map[string]any {
	Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
	errs, ok := decode(rec)["errors"].(map[string]any)
	Expect(ok).To(BeTrue(), rec.Body.String())
	return errs
}

func (s *stack) countSessions() int {
	var n int
	Expect(s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n)).To(Succeed())
	return n
}

func (s *stack) currentSessions() int {
	var n int
	Expect(s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE replaced_by IS NULL`).Scan(&n)).To(Succeed())
	return n
}

var _ = Describe("credential flows over HTTP", func() {
	var s *stack

	BeforeEach(func() {
		s = newStack()
	})

	Describe("POST /signup", func() {
		It("creates the user and delivers a session cookie", func() {
			rec := s.do(http.MethodPost, "/signup", credentials("ann@example.com", "correct horse"), nil)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(decode(rec)["user"]).To(HaveKeyWithValue("email", "ann@example.com"))

			c := sessionCookie(rec)
			Expect(c.Value).To(MatchRegexp(`^[0-9a-f]{64}$`))
			Expect(c.HttpOnly).To(BeTrue())
			Expect(c.Path).To(Equal("/"))
			Expect(c.SameSite).To(Equal(http.SameSiteLaxMode))
			Expect(c.Expires.IsZero()).To(BeTrue(), "browser-session cookie by default")
			Expect(s.countSessions()).To(Equal(1))
		})

		It("reports field errors without creating anything", func() {
			rec := s.do(http.MethodPost, "/signup", credentials("not-an-email", "short"), nil)

			errs := fieldErrors(rec)
			Expect(errs).To(HaveKeyWithValue("email", auth.MsgInvalidEmail))
			Expect(errs).To(HaveKeyWithValue("password", auth.MsgPasswordTooShort))
			Expect(s.countSessions()).To(BeZero())
		})

		It("rejects a taken email", func() {
			Expect(s.do(http.MethodPost, "/signup", credentials("ann@example.com", "correct horse"), nil).Code).
				To(Equal(http.StatusCreated))

			rec := s.do(http.MethodPost, "/signup", credentials("ann@example.com", "another horse"), nil)
			Expect(fieldErrors(rec)).To(HaveKeyWithValue("email", auth.MsgEmailInUse))
		})

		It("ends the session the caller was holding for another account", func() {
			ann := sessionCookie(s.do(http.MethodPost, "/signup", credentials("ann@example.com", "correct horse"), nil))

			rec := s.do(http.MethodPost, "/signup", credentials("bob@example.com", "correct horse"), ann)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(s.countSessions()).To(Equal(1))
			Expect(s.do(http.MethodGet, "/session", nil, ann).Code).To(Equal(http.StatusUnauthorized))
			body := decode(s.do(http.MethodGet, "/session", nil, sessionCookie(rec)))
			Expect(body["user"]).To(HaveKeyWithValue("email", "bob@example.com"))
		})

		It("rejects an oversized form", func() {
			rec := s.do(http.MethodPost, "/signup", credentials(strings.Repeat("a", 9000)+"@example.com", "correct horse"), nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("counts the request by route and status", func() {
			s.do(http.MethodPost, "/signup", credentials("ann@example.com", "correct horse"), nil)
			Expect(testutil.ToFloat64(s.metrics.RequestsTotal.WithLabelValues("POST /signup", "201"))).To(BeNumerically("==", 1))
		})
	})

	Describe("POST /login", func() {
		BeforeEach(func() {
			Expect(s.do(http.MethodPost, "/signup", credentials("ann@example.com", "correct horse"), nil).Code).
				To(Equal(http.StatusCreated))
		})

		It("issues a new session for the right password", func() {
			rec := s.do(http.MethodPost, "/login", credentials("ann@example.com", "correct horse"), nil)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(sessionCookie(rec).Value).NotTo(BeEmpty())
			Expect(s.countSessions()).To(Equal(2))
		})

		It("ends the session the caller was already holding", func() {
			prior := sessionCookie(s.do(http.MethodPost, "/login", credentials("ann@example.com", "correct horse"), nil))
			Expect(s.countSessions()).To(Equal(2))

			rec := s.do(http.MethodPost, "/login", credentials("ann@example.com", "correct horse"), prior)

			Expect(rec.Code).To(Equal(http.StatusOK))
			next := sessionCookie(rec)
			Expect(next.Value).NotTo(Equal(prior.Value))
			Expect(s.countSessions()).To(Equal(2), "the prior login session is gone")
			Expect(s.do(http.MethodGet, "/session", nil, prior).Code).To(Equal(http.StatusUnauthorized))
			Expect(s.do(http.MethodGet, "/session", nil, next).Code).To(Equal(http.StatusOK))
		})

		It("ends a held session that this request rotated", func() {
			prior := sessionCookie(s.do(http.MethodPost, "/login", credentials("ann@example.com", "correct horse"), nil))
			s.clock.Advance(auth.DefaultLifetime - auth.DefaultRefreshWindow + time.Hour)

			rec := s.do(http.MethodPost, "/login", credentials("ann@example.com", "correct horse"), prior)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(s.currentSessions()).To(Equal(2), "signup session plus the new login")
			Expect(s.countSessions()).To(Equal(2), "neither the prior token nor its rotation survive")
		})

		It("keeps the held session when the password is wrong", func() {
			prior := sessionCookie(s.do(http.MethodPost, "/login", credentials("ann@example.com", "correct horse"), nil))

			rec := s.do(http.MethodPost, "/login", credentials("ann@example.com", "wrong horse"), prior)

			Expect(fieldErrors(rec)).To(HaveKeyWithValue("password", auth.MsgInvalidPassword))
			Expect(s.do(http.MethodGet, "/session", nil, prior).Code).To(Equal(http.StatusOK))
		})

		It("reports a wrong password on the password field", func() {
			rec := s.do(http.MethodPost, "/login", credentials("ann@example.com", "wrong horse"), nil)
			Expect(fieldErrors(rec)).To(HaveKeyWithValue("password", auth.MsgInvalidPassword))
		})

		It("reports an unknown email on the email field", func() {
			rec := s.do(http.MethodPost, "/login", credentials("bob@example.com", "correct horse"), nil)
			Expect(fieldErrors(rec)).To(HaveKeyWithValue("email", auth.MsgEmailNotFound))
		})

		It("fails with 500 when storage is gone", func() {
			Expect(s.db.Close()).To(Succeed())
			rec := s.do(http.MethodPost, "/login", credentials("ann@example.com", "correct horse"), nil)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(decode(rec)).To(HaveKeyWithValue("error", "internal error"))
		})
	})

	Describe("GET /session", func() {
		var cookie *http.Cookie

		BeforeEach(func() {
			cookie = sessionCookie(s.do(http.MethodPost, "/signup", credentials("ann@example.com", "correct horse"), nil))
		})

		It("returns the user for a fresh session without a new cookie", func() {
			rec := s.do(http.MethodGet, "/session", nil, cookie)

			Expect(rec.Code).To(Equal(http.StatusOK))
			body := decode(rec)
			Expect(body["user"]).To(HaveKeyWithValue("email", "ann@example.com"))
			Expect(body["session"]).To(HaveKeyWithValue("fresh", true))
			Expect(sessionCookies(rec)).To(BeEmpty())
		})

		It("clears the cookie when there is no session", func() {
			rec := s.do(http.MethodGet, "/session", nil, nil)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			c := sessionCookie(rec)
			Expect(c.Value).To(BeEmpty())
			Expect(c.MaxAge).To(BeNumerically("<", 0))
		})

		It("rotates a stale session and retires the old token", func() {
			s.clock.Advance(auth.DefaultLifetime - auth.DefaultRefreshWindow + time.Hour)

			rec := s.do(http.MethodGet, "/session", nil, cookie)
			Expect(rec.Code).To(Equal(http.StatusOK))
			rotated := sessionCookie(rec)
			Expect(rotated.Value).NotTo(Equal(cookie.Value))
			Expect(s.currentSessions()).To(Equal(1))

			late := s.do(http.MethodGet, "/session", nil, cookie)
			Expect(late.Code).To(Equal(http.StatusOK), "a request that raced the rotation stays signed in")
			Expect(sessionCookies(late)).To(BeEmpty())

			s.clock.Advance(auth.DefaultRotationGrace)
			Expect(s.do(http.MethodGet, "/session", nil, cookie).Code).To(Equal(http.StatusUnauthorized))
			Expect(s.do(http.MethodGet, "/session", nil, rotated).Code).To(Equal(http.StatusOK))
			Expect(s.countSessions()).To(Equal(1))
		})

		It("rejects an expired session", func() {
			s.clock.Advance(auth.DefaultLifetime)

			rec := s.do(http.MethodGet, "/session", nil, cookie)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(sessionCookie(rec).Value).To(BeEmpty())
			Expect(s.countSessions()).To(BeZero(), "expired record is removed on read")
		})

		It("fails with 500 when storage is gone", func() {
			Expect(s.db.Close()).To(Succeed())
			Expect(s.do(http.MethodGet, "/session", nil, cookie).Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("POST /logout", func() {
		var cookie *http.Cookie

		BeforeEach(func() {
			cookie = sessionCookie(s.do(http.MethodPost, "/signup", credentials("ann@example.com", "correct horse"), nil))
		})

		It("destroys the session and clears the cookie", func() {
			rec := s.do(http.MethodPost, "/logout", nil, cookie)

			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(sessionCookie(rec).Value).To(BeEmpty())
			Expect(s.countSessions()).To(BeZero())
			Expect(s.do(http.MethodGet, "/session", nil, cookie).Code).To(Equal(http.StatusUnauthorized))
		})

		It("reports when there is no session", func() {
			Expect(s.do(http.MethodPost, "/logout", nil, cookie).Code).To(Equal(http.StatusNoContent))

			rec := s.do(http.MethodPost, "/logout", nil, cookie)
			Expect(fieldErrors(rec)).To(HaveKeyWithValue("session", auth.MsgNoSessionFound))
			Expect(sessionCookie(rec).Value).To(BeEmpty())
		})

		It("ends a session that was rotated by the same request", func() {
			s.clock.Advance(auth.DefaultLifetime - auth.DefaultRefreshWindow + time.Hour)

			rec := s.do(http.MethodPost, "/logout", nil, cookie)

			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(sessionCookie(rec).Value).To(BeEmpty(), "the blank cookie replaces the rotated one")
			Expect(s.countSessions()).To(BeZero())
		})
	})
})
