// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/adega/adega/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		migrator  *store.Migrator
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("adega_test"),
			postgres.WithUsername("adega"),
			postgres.WithPassword("adega"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(connStr, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			_ = migrator.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("starts at version 0", func() {
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Current).To(BeZero())
		Expect(status.Pending).NotTo(BeEmpty())
	})

	It("applies every migration", func() {
		Expect(migrator.Up()).To(Succeed())
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Current).To(Equal(status.Latest))
		Expect(status.Dirty).To(BeFalse())
		Expect(status.Pending).To(BeEmpty())
	})

	It("is idempotent", func() {
		Expect(migrator.Up()).To(Succeed())
	})

	It("steps back and forward", func() {
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())

		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(status.Latest - 1))

		Expect(migrator.Steps(1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(status.Latest))
	})

	It("connects with retry", func() {
		pool, err := store.Connect(ctx, connStr, store.DefaultConnectOptions)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		var n int
		Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)).To(Succeed())
		Expect(n).To(BeZero())
	})

	It("rejects an account with no credential", func() {
		pool, err := store.Connect(ctx, connStr, store.DefaultConnectOptions)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		_, err = pool.Exec(ctx,
			`INSERT INTO accounts (id, email, display_name, password_hash, is_federated)
			 VALUES ($1, $2, $3, NULL, FALSE)`,
			"01JNOCREDENTIAL000000000000", "nobody@example.com", "Nobody")
		Expect(err).To(HaveOccurred())

		var pgErr *pgconn.PgError
		Expect(errors.As(err, &pgErr)).To(BeTrue())
		Expect(pgErr.Code).To(Equal(pgerrcode.CheckViolation))
		Expect(pgErr.ConstraintName).To(Equal("accounts_require_credential"))
	})

	It("rolls everything back", func() {
		Expect(migrator.Down()).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
	})
})
