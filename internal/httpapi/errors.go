// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/adega/adega/internal/auth"
	"github.com/adega/adega/pkg/errutil"
)

// Codes for failures detected by the HTTP layer itself.
const (
	CodeMalformedRequest = "HTTP_MALFORMED_REQUEST"
	CodeInternal         = "INTERNAL"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// fixedMessages replaces error text that could describe verification
// internals to the client.
var fixedMessages = map[string]string{
	auth.CodeInvalidToken:            "invalid or missing bearer token",
	auth.CodeExpiredToken:            "token has expired",
	auth.CodeInvalidAssertion:        "identity assertion is not valid",
	auth.CodeUntrustedIdentity:       "identity assertion was not issued for this service",
	auth.CodeVerificationUnavailable: "identity provider is unavailable, try again",
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	code := errutil.Code(err)
	switch code {
	case CodeMalformedRequest:
		return http.StatusBadRequest
	case auth.CodeIncorrectPassword, auth.CodeNoPasswordSet:
		return http.StatusForbidden
	case auth.CodeVerificationUnavailable:
		return http.StatusServiceUnavailable
	}

	switch auth.KindOf(err) {
	case auth.KindInvalidInput:
		return http.StatusBadRequest
	case auth.KindAuthRejected, auth.KindToken, auth.KindFederated:
		return http.StatusUnauthorized
	case auth.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := errutil.Code(err)

	resp := errorResponse{Code: code, Message: err.Error()}
	if msg, ok := fixedMessages[code]; ok {
		resp.Message = msg
	}
	if status == http.StatusInternalServerError {
		errutil.LogError(r.Context(), a.logger.With("route", r.Pattern), "request failed", err)
		resp = errorResponse{Code: CodeInternal, Message: "internal error"}
	}

	switch {
	case auth.KindOf(err) == auth.KindToken:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
