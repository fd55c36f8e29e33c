// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/adega/adega/internal/auth"
)

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	//nolint:wrapcheck // ResponseWriter passthrough
	return w.ResponseWriter.Write(b)
}

// instrument logs and records every request under its route pattern.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		// The mux fills in Pattern on the same request value.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		a.recorder.RecordHTTPRequest(route, sw.code, elapsed)
		a.logger.InfoContext(r.Context(), "request handled",
			"method", r.Method,
			"route", route,
			"status", sw.code,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func maxBodyBytes(next http.Handler, n int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, n)
		next.ServeHTTP(w, r)
	})
}

type accountContextKey struct{}

// ContextWithAccount returns a context carrying the authenticated account.
func ContextWithAccount(ctx context.Context, account *auth.Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, account)
}

// AccountFromContext returns the account set by the bearer middleware.
func AccountFromContext(ctx context.Context) (*auth.Account, bool) {
	account, ok := ctx.Value(accountContextKey{}).(*auth.Account)
	return account, ok && account != nil
}

// requireAccount resolves the bearer token to an account before calling next.
func (a *API) requireAccount(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		account, err := a.accounts.Authenticate(r.Context(), token)
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		next(w, r.WithContext(ContextWithAccount(r.Context(), account)))
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.NewInvalidTokenError("missing")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", oops.Code(auth.CodeInvalidToken).
			With("reason", "scheme").
			Errorf("authorization scheme must be Bearer")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", auth.NewInvalidTokenError("missing")
	}
	return token, nil
}
