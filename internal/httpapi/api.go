// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

// Package httpapi exposes account operations over JSON/HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/adega/adega/internal/auth"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 64 << 10

// AccountService is the account policy the API delegates to. *auth.Reconciler
// implements it.
type AccountService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Account, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	LoginWithFederatedIdentity(ctx context.Context, assertion string) (*auth.Session, error)
	LinkFederatedIdentity(ctx context.Context, current *auth.Account, assertion string) error
	ChangePassword(ctx context.Context, current *auth.Account, oldPassword, newPassword string) error
	Authenticate(ctx context.Context, token string) (*auth.Account, error)
	UpdateProfile(ctx context.Context, current *auth.Account, update auth.ProfileUpdate) (*auth.Account, error)
	DeleteAccount(ctx context.Context, current *auth.Account) error
}

// RequestRecorder observes completed requests.
type RequestRecorder interface {
	RecordHTTPRequest(route string, status int, elapsed time.Duration)
}

type nopRequestRecorder struct{}

func (nopRequestRecorder) RecordHTTPRequest(string, int, time.Duration) {}

// API is the HTTP layer.
type API struct {
	accounts     AccountService
	mux          *http.ServeMux
	logger       *slog.Logger
	recorder     RequestRecorder
	maxBodyBytes int64
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithRequestRecorder sets the request metrics recorder.
func WithRequestRecorder(rec RequestRecorder) Option {
	return func(a *API) { a.recorder = rec }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) { a.maxBodyBytes = n }
}

// New creates the API and registers its routes.
func New(accounts AccountService, opts ...Option) *API {
	a := &API{
		accounts:     accounts,
		mux:          http.NewServeMux(),
		logger:       slog.Default(),
		recorder:     nopRequestRecorder{},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("POST /v1/accounts", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/google", a.handleGoogleLogin)
	a.mux.HandleFunc("POST /v1/auth/logout", a.requireAccount(a.handleLogout))
	a.mux.HandleFunc("GET /v1/accounts/me", a.requireAccount(a.handleGetMe))
	a.mux.HandleFunc("PATCH /v1/accounts/me", a.requireAccount(a.handleUpdateMe))
	a.mux.HandleFunc("DELETE /v1/accounts/me", a.requireAccount(a.handleDeleteMe))
	a.mux.HandleFunc("POST /v1/accounts/me/password", a.requireAccount(a.handleChangePassword))
	a.mux.HandleFunc("POST /v1/accounts/me/google", a.requireAccount(a.handleLinkGoogle))

	return a
}

// Handler returns the root handler with middleware applied.
func (a *API) Handler() http.Handler {
	return a.instrument(securityHeaders(maxBodyBytes(a.mux, a.maxBodyBytes)))
}
