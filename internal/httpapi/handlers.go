// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package httpapi

import (
	"net/http"
)

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	account, err := a.accounts.Register(r.Context(), req.input())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/accounts/me")
	writeJSON(w, http.StatusCreated, newAccountResponse(account))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	session, err := a.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(session))
}

func (a *API) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	session, err := a.accounts.LoginWithFederatedIdentity(r.Context(), req.IDToken)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(session))
}

// handleLogout only acknowledges: tokens are stateless and the client
// discards its copy.
func (a *API) handleLogout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (a *API) handleGetMe(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

func (a *API) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	current, _ := AccountFromContext(r.Context())
	updated, err := a.accounts.UpdateProfile(r.Context(), current, req.update())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(updated))
}

func (a *API) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	current, _ := AccountFromContext(r.Context())
	if err := a.accounts.DeleteAccount(r.Context(), current); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	current, _ := AccountFromContext(r.Context())
	if err := a.accounts.ChangePassword(r.Context(), current, req.CurrentPassword, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLinkGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	current, _ := AccountFromContext(r.Context())
	if err := a.accounts.LinkFederatedIdentity(r.Context(), current, req.IDToken); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(current))
}
