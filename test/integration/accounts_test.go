// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/adega/adega/internal/auth"
	"github.com/adega/adega/internal/auth/authtest"
	"github.com/adega/adega/internal/auth/postgres"
	"github.com/adega/adega/internal/httpapi"
)

type apiResult struct {
	status int
	body   map[string]any
}

func call(srv *httptest.Server, method, path, token string, payload any) apiResult {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	res := apiResult{status: resp.StatusCode}
	if len(bytes.TrimSpace(data)) > 0 {
		Expect(json.Unmarshal(data, &res.body)).To(Succeed(), "body: %s", data)
	}
	return res
}

var _ = Describe("Account API", func() {
	var (
		srv      *httptest.Server
		verifier *authtest.StubVerifier
	)

	BeforeEach(func() {
		_, err := testPool.Exec(context.Background(), "TRUNCATE accounts")
		Expect(err).NotTo(HaveOccurred())

		verifier = authtest.NewStubVerifier()
		tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: authtest.TestTokenSecret})
		Expect(err).NotTo(HaveOccurred())
		logger := slog.New(slog.NewTextHandler(GinkgoWriter, nil))

		reconciler, err := auth.NewReconciler(
			postgres.NewAccountRepository(testPool),
			authtest.NewFastHasher(),
			tokens,
			verifier,
			auth.WithLogger(logger),
		)
		Expect(err).NotTo(HaveOccurred())

		srv = httptest.NewServer(httpapi.New(reconciler, httpapi.WithLogger(logger)).Handler())
		DeferCleanup(srv.Close)
	})

	register := func(email, password string) apiResult {
		return call(srv, http.MethodPost, "/v1/accounts", "", map[string]string{
			"email": email, "password": password, "display_name": "Sommelier",
		})
	}
	login := func(email, password string) apiResult {
		return call(srv, http.MethodPost, "/v1/auth/login", "", map[string]string{
			"email": email, "password": password,
		})
	}
	googleLogin := func(assertion string) apiResult {
		return call(srv, http.MethodPost, "/v1/auth/google", "", map[string]string{"id_token": assertion})
	}
	accessToken := func(res apiResult) string {
		Expect(res.status).To(Equal(http.StatusOK), "body: %v", res.body)
		return res.body["access_token"].(string)
	}

	Describe("password accounts", func() {
		It("registers, logs in and reads the profile", func() {
			created := register("ana@example.com", "correct-horse")
			Expect(created.status).To(Equal(http.StatusCreated))

			token := accessToken(login("ana@example.com", "correct-horse"))

			me := call(srv, http.MethodGet, "/v1/accounts/me", token, nil)
			Expect(me.status).To(Equal(http.StatusOK))
			Expect(me.body["id"]).To(Equal(created.body["id"]))
			Expect(me.body["has_password"]).To(BeTrue())
			Expect(me.body["is_federated"]).To(BeFalse())
		})

		It("rejects a duplicate email", func() {
			Expect(register("ana@example.com", "correct-horse").status).To(Equal(http.StatusCreated))

			dup := register("ana@example.com", "another-pass")
			Expect(dup.status).To(Equal(http.StatusConflict))
			Expect(dup.body["code"]).To(Equal(auth.CodeEmailAlreadyRegistered))
		})

		It("answers wrong and unknown credentials identically", func() {
			Expect(register("ana@example.com", "correct-horse").status).To(Equal(http.StatusCreated))

			wrong := login("ana@example.com", "wrong-password")
			unknown := login("nobody@example.com", "wrong-password")
			Expect(wrong.status).To(Equal(http.StatusUnauthorized))
			Expect(unknown.status).To(Equal(wrong.status))
			Expect(unknown.body).To(Equal(wrong.body))
		})

		It("changes the password", func() {
			Expect(register("ana@example.com", "correct-horse").status).To(Equal(http.StatusCreated))
			token := accessToken(login("ana@example.com", "correct-horse"))

			changed := call(srv, http.MethodPost, "/v1/accounts/me/password", token, map[string]string{
				"current_password": "correct-horse", "new_password": "battery-staple",
			})
			Expect(changed.status).To(Equal(http.StatusNoContent))

			Expect(login("ana@example.com", "correct-horse").status).To(Equal(http.StatusUnauthorized))
			Expect(login("ana@example.com", "battery-staple").status).To(Equal(http.StatusOK))
		})

		It("updates the display name", func() {
			Expect(register("ana@example.com", "correct-horse").status).To(Equal(http.StatusCreated))
			token := accessToken(login("ana@example.com", "correct-horse"))

			updated := call(srv, http.MethodPatch, "/v1/accounts/me", token, map[string]string{"display_name": "Ana"})
			Expect(updated.status).To(Equal(http.StatusOK))
			Expect(updated.body["display_name"]).To(Equal("Ana"))
		})
	})

	Describe("federated identities", func() {
		bea := auth.IdentityClaim{
			SubjectID:     "google-sub-1",
			Email:         "bea@example.com",
			DisplayName:   "Bea",
			Issuer:        "https://accounts.google.com",
			EmailVerified: true,
		}

		It("creates an account on first Google sign-in and reuses it", func() {
			verifier.Add("assertion-bea", bea)

			first := googleLogin("assertion-bea")
			Expect(first.status).To(Equal(http.StatusOK))
			account := first.body["account"].(map[string]any)
			Expect(account["is_federated"]).To(BeTrue())
			Expect(account["has_password"]).To(BeFalse())

			second := googleLogin("assertion-bea")
			Expect(second.status).To(Equal(http.StatusOK))
			Expect(second.body["account"].(map[string]any)["id"]).To(Equal(account["id"]))
		})

		It("requires an explicit link for a password account with the same email", func() {
			Expect(register("bea@example.com", "correct-horse").status).To(Equal(http.StatusCreated))
			verifier.Add("assertion-bea", bea)

			refused := googleLogin("assertion-bea")
			Expect(refused.status).To(Equal(http.StatusConflict))
			Expect(refused.body["code"]).To(Equal(auth.CodeAccountExistsWithPassword))

			token := accessToken(login("bea@example.com", "correct-horse"))
			linked := call(srv, http.MethodPost, "/v1/accounts/me/google", token, map[string]string{"id_token": "assertion-bea"})
			Expect(linked.status).To(Equal(http.StatusOK))
			Expect(linked.body["is_federated"]).To(BeTrue())
			Expect(linked.body["has_password"]).To(BeTrue())

			Expect(googleLogin("assertion-bea").status).To(Equal(http.StatusOK))
			Expect(login("bea@example.com", "correct-horse").status).To(Equal(http.StatusOK))
		})

		It("refuses to link a subject held by another account", func() {
			verifier.Add("assertion-bea", bea)
			Expect(googleLogin("assertion-bea").status).To(Equal(http.StatusOK))

			carla := bea
			carla.Email = "carla@example.com"
			verifier.Add("assertion-carla", carla)

			Expect(register("carla@example.com", "correct-horse").status).To(Equal(http.StatusCreated))
			token := accessToken(login("carla@example.com", "correct-horse"))

			linked := call(srv, http.MethodPost, "/v1/accounts/me/google", token, map[string]string{"id_token": "assertion-carla"})
			Expect(linked.status).To(Equal(http.StatusConflict))
			Expect(linked.body["code"]).To(Equal(auth.CodeSubjectAlreadyLinked))
		})

		It("rejects password login for a federated-only account", func() {
			verifier.Add("assertion-bea", bea)
			Expect(googleLogin("assertion-bea").status).To(Equal(http.StatusOK))

			Expect(login("bea@example.com", "any-password").status).To(Equal(http.StatusUnauthorized))
		})
	})

	It("deletes the account and rejects its tokens", func() {
		Expect(register("dora@example.com", "correct-horse").status).To(Equal(http.StatusCreated))
		token := accessToken(login("dora@example.com", "correct-horse"))

		Expect(call(srv, http.MethodDelete, "/v1/accounts/me", token, nil).status).To(Equal(http.StatusNoContent))
		Expect(call(srv, http.MethodGet, "/v1/accounts/me", token, nil).status).To(Equal(http.StatusUnauthorized))
		Expect(login("dora@example.com", "correct-horse").status).To(Equal(http.StatusUnauthorized))
	})
})
