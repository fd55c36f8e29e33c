// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/adega/adega/internal/auth"
	"github.com/adega/adega/internal/auth/authtest"
	"github.com/adega/adega/internal/auth/postgres"
)

var _ = Describe("AccountRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.AccountRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = postgres.NewAccountRepository(testPool)
		_, err := testPool.Exec(ctx, `TRUNCATE accounts`)
		Expect(err).NotTo(HaveOccurred())
	})

	newPassword := func(email string) *auth.Account {
		a, err := auth.NewPasswordAccount(email, "Taster", "$argon2id$hash")
		Expect(err).NotTo(HaveOccurred())
		return a
	}

	newFederated := func(email, subject string) *auth.Account {
		a, err := auth.NewFederatedAccount(email, "", subject)
		Expect(err).NotTo(HaveOccurred())
		return a
	}

	It("round-trips a password account", func() {
		a := newPassword("taster@example.com")
		Expect(repo.Create(ctx, a)).To(Succeed())

		got, err := repo.GetByEmail(ctx, "taster@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(a.ID))
		Expect(got.PasswordHash).NotTo(BeNil())
		Expect(got.FederatedSubjectID).To(BeNil())
		Expect(got.IsFederated).To(BeFalse())
	})

	It("matches email exactly", func() {
		Expect(repo.Create(ctx, newPassword("taster@example.com"))).To(Succeed())
		_, err := repo.GetByEmail(ctx, "Taster@Example.com")
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("rejects duplicate emails", func() {
		Expect(repo.Create(ctx, newPassword("taster@example.com"))).To(Succeed())
		err := repo.Create(ctx, newFederated("taster@example.com", "g-1"))
		Expect(err).To(MatchError(auth.ErrEmailTaken))
	})

	It("rejects duplicate subjects", func() {
		Expect(repo.Create(ctx, newFederated("a@example.com", "g-1"))).To(Succeed())
		err := repo.Create(ctx, newFederated("b@example.com", "g-1"))
		Expect(err).To(MatchError(auth.ErrSubjectTaken))
	})

	It("allows many accounts without a subject", func() {
		Expect(repo.Create(ctx, newPassword("a@example.com"))).To(Succeed())
		Expect(repo.Create(ctx, newPassword("b@example.com"))).To(Succeed())
	})

	It("links a subject through Update", func() {
		a := newPassword("taster@example.com")
		Expect(repo.Create(ctx, a)).To(Succeed())

		subject := "g-7"
		a.FederatedSubjectID = &subject
		a.IsFederated = true
		Expect(repo.Update(ctx, a)).To(Succeed())

		got, err := repo.GetByFederatedSubjectID(ctx, "g-7")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(a.ID))
		Expect(got.HasPassword()).To(BeTrue())
	})

	It("maps update conflicts", func() {
		Expect(repo.Create(ctx, newFederated("a@example.com", "g-1"))).To(Succeed())
		b := newPassword("b@example.com")
		Expect(repo.Create(ctx, b)).To(Succeed())

		subject := "g-1"
		b.FederatedSubjectID = &subject
		b.IsFederated = true
		Expect(repo.Update(ctx, b)).To(MatchError(auth.ErrSubjectTaken))
	})

	It("deletes", func() {
		a := newPassword("taster@example.com")
		Expect(repo.Create(ctx, a)).To(Succeed())
		Expect(repo.Delete(ctx, a.ID)).To(Succeed())
		_, err := repo.GetByID(ctx, a.ID)
		Expect(err).To(MatchError(auth.ErrNotFound))
		Expect(repo.Delete(ctx, a.ID)).To(MatchError(auth.ErrNotFound))
	})

	It("creates exactly one account under concurrent first federated logins", func() {
		tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: authtest.TestTokenSecret})
		Expect(err).NotTo(HaveOccurred())
		verifier := authtest.NewStubVerifier()
		verifier.Add("assertion", auth.IdentityClaim{SubjectID: "g-race", Email: "race@example.com"})
		r, err := auth.NewReconciler(repo, authtest.NewFastHasher(), tokens, verifier)
		Expect(err).NotTo(HaveOccurred())

		const workers = 10
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, errs[i] = r.LoginWithFederatedIdentity(ctx, "assertion")
			}()
		}
		wg.Wait()

		for _, err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}
		var n int
		Expect(testPool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)).To(Succeed())
		Expect(n).To(Equal(1))
	})
})
