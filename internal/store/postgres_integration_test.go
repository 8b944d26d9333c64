// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

//go:build integration

package store_test

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/gatekeep/gatekeep/internal/store"
	"github.com/gatekeep/gatekeep/internal/store/storetest"
)

var _ = Describe("OpenPostgres", Ordered, func() {
	var (
		ctx       context.Context
		container *storetest.PostgresContainer
		pool      *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = storetest.StartPostgres(ctx)
		Expect(err).NotTo(HaveOccurred())

		pool, err = store.OpenPostgres(ctx, container.DSN, store.WithMaxConns(4))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			Expect(container.Terminate(ctx)).To(Succeed())
		}
	})

	It("connects and honours the pool size", func() {
		Expect(pool.Ping(ctx)).To(Succeed())
		Expect(pool.Config().MaxConns).To(Equal(int32(4)))
	})

	It("enforces unique emails", func() {
		_, err := pool.Exec(ctx, `INSERT INTO users (id, email, password_hash) VALUES ('u1', 'a@b.com', 'h')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `INSERT INTO users (id, email, password_hash) VALUES ('u2', 'a@b.com', 'h')`)
		Expect(err).To(HaveOccurred())
	})

	It("cascades user deletion to sessions", func() {
		_, err := pool.Exec(ctx, `INSERT INTO users (id, email, password_hash) VALUES ('u3', 'c@d.com', 'h')`)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, `INSERT INTO sessions (id, user_id, token_hash, expires_at) VALUES ('s1', 'u3', 't1', now() + interval '1 day')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `DELETE FROM users WHERE id = 'u3'`)
		Expect(err).NotTo(HaveOccurred())

		var n int
		Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = 'u3'`).Scan(&n)).To(Succeed())
		Expect(n).To(BeZero())
	})
})
