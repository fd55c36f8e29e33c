// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adega/adega/internal/auth"
	"github.com/adega/adega/internal/auth/authtest"
	"github.com/adega/adega/internal/httpapi"
)

type recordedRequest struct {
	route  string
	status int
}

type requestLog struct {
	mu   sync.Mutex
	seen []recordedRequest
}

func (l *requestLog) RecordHTTPRequest(route string, status int, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, recordedRequest{route, status})
}

type apiClient struct {
	t        *testing.T
	srv      *httptest.Server
	repo     *authtest.MemoryAccountRepository
	verifier *authtest.StubVerifier
	requests *requestLog
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	repo := authtest.NewMemoryAccountRepository()
	verifier := authtest.NewStubVerifier()
	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: authtest.TestTokenSecret})
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reconciler, err := auth.NewReconciler(repo, authtest.NewFastHasher(), tokens, verifier, auth.WithLogger(logger))
	require.NoError(t, err)

	requests := &requestLog{}
	api := httpapi.New(reconciler, httpapi.WithLogger(logger), httpapi.WithRequestRecorder(requests))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{t: t, srv: srv, repo: repo, verifier: verifier, requests: requests}
}

func (c *apiClient) do(method, path, token string, body any) (*http.Response, map[string]any) {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			require.NoError(c.t, err)
			raw = string(b)
		}
		payload = strings.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, payload)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	var out map[string]any
	if len(bytes.TrimSpace(data)) > 0 {
		require.NoError(c.t, json.Unmarshal(data, &out), "body: %s", data)
	}
	return resp, out
}

func (c *apiClient) register(email, password string) map[string]any {
	c.t.Helper()
	resp, body := c.do(http.MethodPost, "/v1/accounts", "", map[string]string{
		"email": email, "password": password, "display_name": "Taster",
	})
	require.Equal(c.t, http.StatusCreated, resp.StatusCode, "body: %v", body)
	return body
}

func (c *apiClient) login(email, password string) string {
	c.t.Helper()
	resp, body := c.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(c.t, http.StatusOK, resp.StatusCode, "body: %v", body)
	return body["access_token"].(string)
}

func TestAPI_RegisterLoginMe(t *testing.T) {
	c := newTestAPI(t)

	created := c.register("ana@example.com", "password123")
	assert.Equal(t, "ana@example.com", created["email"])
	assert.Equal(t, true, created["has_password"])
	assert.NotContains(t, created, "password_hash")

	resp, body := c.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bearer", body["token_type"])
	assert.NotEmpty(t, body["expires_at"])
	token := body["access_token"].(string)

	resp, me := c.do(http.MethodGet, "/v1/accounts/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created["id"], me["id"])
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestAPI_RegisterConflictAndValidation(t *testing.T) {
	c := newTestAPI(t)
	c.register("ana@example.com", "password123")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{
			name:   "duplicate email",
			body:   map[string]string{"email": "ana@example.com", "password": "password456", "display_name": "Other"},
			status: http.StatusConflict,
			code:   auth.CodeEmailAlreadyRegistered,
		},
		{
			name:   "short password",
			body:   map[string]string{"email": "bea@example.com", "password": "short", "display_name": "Bea"},
			status: http.StatusBadRequest,
			code:   auth.CodeInvalidPassword,
		},
		{
			name:   "bad email",
			body:   map[string]string{"email": "not-an-email", "password": "password123", "display_name": "Bea"},
			status: http.StatusBadRequest,
			code:   auth.CodeInvalidEmail,
		},
		{
			name:   "unknown field",
			body:   `{"email":"bea@example.com","password":"password123","display_name":"Bea","role":"admin"}`,
			status: http.StatusBadRequest,
			code:   httpapi.CodeMalformedRequest,
		},
		{
			name:   "not json",
			body:   `email=bea@example.com`,
			status: http.StatusBadRequest,
			code:   httpapi.CodeMalformedRequest,
		},
		{
			name:   "trailing data",
			body:   `{"email":"bea@example.com","password":"password123","display_name":"Bea"} {}`,
			status: http.StatusBadRequest,
			code:   httpapi.CodeMalformedRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := c.do(http.MethodPost, "/v1/accounts", "", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestAPI_LoginFailuresLookIdentical(t *testing.T) {
	c := newTestAPI(t)
	c.register("ana@example.com", "password123")

	_, wrongPassword := c.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "password999",
	})
	_, unknownEmail := c.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "nobody@example.com", "password": "password123",
	})

	assert.Equal(t, auth.CodeInvalidCredentials, wrongPassword["code"])
	assert.Equal(t, wrongPassword, unknownEmail)
}

func TestAPI_GoogleLogin(t *testing.T) {
	c := newTestAPI(t)
	c.verifier.Add("google-ana", auth.IdentityClaim{
		SubjectID: "sub-ana", Email: "ana@example.com", DisplayName: "Ana",
	})

	resp, body := c.do(http.MethodPost, "/v1/auth/google", "", map[string]string{"id_token": "google-ana"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	account := body["account"].(map[string]any)
	assert.Equal(t, true, account["is_federated"])
	assert.Equal(t, false, account["has_password"])

	resp, again := c.do(http.MethodPost, "/v1/auth/google", "", map[string]string{"id_token": "google-ana"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, account["id"], again["account"].(map[string]any)["id"])
	assert.Equal(t, 1, c.repo.Len())
}

func TestAPI_GoogleLoginErrors(t *testing.T) {
	c := newTestAPI(t)
	c.register("ana@example.com", "password123")
	c.verifier.Add("google-ana", auth.IdentityClaim{SubjectID: "sub-ana", Email: "ana@example.com"})

	t.Run("password account exists", func(t *testing.T) {
		resp, body := c.do(http.MethodPost, "/v1/auth/google", "", map[string]string{"id_token": "google-ana"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, auth.CodeAccountExistsWithPassword, body["code"])
	})

	t.Run("invalid assertion", func(t *testing.T) {
		resp, body := c.do(http.MethodPost, "/v1/auth/google", "", map[string]string{"id_token": "forged"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, auth.CodeInvalidAssertion, body["code"])
	})

	t.Run("missing id token", func(t *testing.T) {
		resp, body := c.do(http.MethodPost, "/v1/auth/google", "", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, auth.CodeInvalidInput, body["code"])
	})

	t.Run("provider unavailable", func(t *testing.T) {
		c.verifier.FailWith(errUnavailable())
		t.Cleanup(func() { c.verifier.FailWith(nil) })

		resp, body := c.do(http.MethodPost, "/v1/auth/google", "", map[string]string{"id_token": "google-ana"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, auth.CodeVerificationUnavailable, body["code"])
		assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	})
}

func TestAPI_LinkGoogleThenFederatedLogin(t *testing.T) {
	c := newTestAPI(t)
	c.register("ana@example.com", "password123")
	token := c.login("ana@example.com", "password123")
	c.verifier.Add("google-ana", auth.IdentityClaim{SubjectID: "sub-ana", Email: "ana@example.com"})
	c.verifier.Add("google-bea", auth.IdentityClaim{SubjectID: "sub-bea", Email: "bea@example.com"})

	resp, body := c.do(http.MethodPost, "/v1/accounts/me/google", token, map[string]string{"id_token": "google-bea"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, auth.CodeEmailMismatch, body["code"])

	resp, body = c.do(http.MethodPost, "/v1/accounts/me/google", token, map[string]string{"id_token": "google-ana"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	assert.Equal(t, true, body["is_federated"])
	assert.Equal(t, true, body["has_password"])

	resp, _ = c.do(http.MethodPost, "/v1/auth/google", "", map[string]string{"id_token": "google-ana"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_ChangePassword(t *testing.T) {
	c := newTestAPI(t)
	c.register("ana@example.com", "password123")
	token := c.login("ana@example.com", "password123")

	resp, body := c.do(http.MethodPost, "/v1/accounts/me/password", token, map[string]string{
		"current_password": "wrong-password", "new_password": "password456",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, auth.CodeIncorrectPassword, body["code"])

	resp, _ = c.do(http.MethodPost, "/v1/accounts/me/password", token, map[string]string{
		"current_password": "password123", "new_password": "password456",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	c.login("ana@example.com", "password456")
	resp, _ = c.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_ChangePasswordWithoutPassword(t *testing.T) {
	c := newTestAPI(t)
	c.verifier.Add("google-ana", auth.IdentityClaim{SubjectID: "sub-ana", Email: "ana@example.com"})
	_, body := c.do(http.MethodPost, "/v1/auth/google", "", map[string]string{"id_token": "google-ana"})
	token := body["access_token"].(string)

	resp, body := c.do(http.MethodPost, "/v1/accounts/me/password", token, map[string]string{
		"current_password": "anything-at-all", "new_password": "password456",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, auth.CodeNoPasswordSet, body["code"])
}

func TestAPI_UpdateAndDeleteMe(t *testing.T) {
	c := newTestAPI(t)
	c.register("ana@example.com", "password123")
	c.register("bea@example.com", "password123")
	token := c.login("ana@example.com", "password123")

	resp, body := c.do(http.MethodPatch, "/v1/accounts/me", token, map[string]string{"display_name": "Ana S."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ana S.", body["display_name"])

	resp, body = c.do(http.MethodPatch, "/v1/accounts/me", token, map[string]string{"email": "bea@example.com"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, auth.CodeEmailAlreadyRegistered, body["code"])

	resp, body = c.do(http.MethodPatch, "/v1/accounts/me", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, auth.CodeInvalidInput, body["code"])

	resp, _ = c.do(http.MethodDelete, "/v1/accounts/me", token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = c.do(http.MethodGet, "/v1/accounts/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, auth.CodeInvalidToken, body["code"])
}

func TestAPI_BearerRequired(t *testing.T) {
	c := newTestAPI(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic YWxhZGRpbjpvcGVuc2VzYW1l"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, c.srv.URL+"/v1/accounts/me", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := c.srv.Client().Do(req)
			require.NoError(t, err)
			_ = resp.Body.Close()

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")
		})
	}
}

func TestAPI_Logout(t *testing.T) {
	c := newTestAPI(t)
	c.register("ana@example.com", "password123")
	token := c.login("ana@example.com", "password123")

	resp, body := c.do(http.MethodPost, "/v1/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "logged_out", body["status"])

	resp, _ = c.do(http.MethodPost, "/v1/auth/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_RecordsRoutes(t *testing.T) {
	c := newTestAPI(t)
	c.register("ana@example.com", "password123")
	c.do(http.MethodGet, "/nowhere", "", nil)

	c.requests.mu.Lock()
	defer c.requests.mu.Unlock()
	assert.Contains(t, c.requests.seen, recordedRequest{"POST /v1/accounts", http.StatusCreated})
	assert.Contains(t, c.requests.seen, recordedRequest{"unmatched", http.StatusNotFound})
}

func TestAPI_BodyLimit(t *testing.T) {
	repo := authtest.NewMemoryAccountRepository()
	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: authtest.TestTokenSecret})
	require.NoError(t, err)
	reconciler, err := auth.NewReconciler(repo, authtest.NewFastHasher(), tokens, authtest.NewStubVerifier())
	require.NoError(t, err)
	srv := httptest.NewServer(httpapi.New(reconciler, httpapi.WithMaxBodyBytes(32)).Handler())
	t.Cleanup(srv.Close)

	body := `{"email":"ana@example.com","password":"` + strings.Repeat("x", 100) + `","display_name":"Ana"}`
	resp, err := srv.Client().Post(srv.URL+"/v1/accounts", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, repo.Len())
}
