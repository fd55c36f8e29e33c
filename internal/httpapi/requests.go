// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/adega/adega/internal/auth"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (req registerRequest) input() auth.RegisterInput {
	return auth.RegisterInput{Email: req.Email, Password: req.Password, DisplayName: req.DisplayName}
}

func (req registerRequest) Validate() error {
	return req.input().Validate()
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (req loginRequest) Validate() error {
	if req.Email == "" || req.Password == "" {
		return oops.Code(auth.CodeInvalidInput).Errorf("email and password are required")
	}
	return nil
}

type googleRequest struct {
	IDToken string `json:"id_token"`
}

func (req googleRequest) Validate() error {
	if strings.TrimSpace(req.IDToken) == "" {
		return oops.Code(auth.CodeInvalidInput).Errorf("id_token is required")
	}
	return nil
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (req changePasswordRequest) Validate() error {
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return oops.Code(auth.CodeInvalidInput).Errorf("current_password and new_password are required")
	}
	return nil
}

type updateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
}

func (req updateProfileRequest) update() auth.ProfileUpdate {
	return auth.ProfileUpdate{DisplayName: req.DisplayName, Email: req.Email}
}

func (req updateProfileRequest) Validate() error {
	return req.update().Validate()
}

type validator interface {
	Validate() error
}

// decodeJSON reads exactly one JSON object into dst and validates it.
func decodeJSON(r *http.Request, dst validator) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return oops.Code(CodeMalformedRequest).
				With("limit", tooLarge.Limit).
				Errorf("request body is too large")
		}
		return oops.Code(CodeMalformedRequest).Errorf("request body must be a JSON object: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return oops.Code(CodeMalformedRequest).Errorf("request body must contain a single JSON object")
	}
	return dst.Validate()
}

type accountResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	HasPassword bool      `json:"has_password"`
	IsFederated bool      `json:"is_federated"`
	CreatedAt   time.Time `json:"created_at"`
}

func newAccountResponse(a *auth.Account) accountResponse {
	return accountResponse{
		ID:          a.ID.String(),
		Email:       a.Email,
		DisplayName: a.DisplayName,
		HasPassword: a.HasPassword(),
		IsFederated: a.IsFederated,
		CreatedAt:   a.CreatedAt.UTC(),
	}
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Account     accountResponse `json:"account"`
}

func newTokenResponse(s *auth.Session) tokenResponse {
	return tokenResponse{
		AccessToken: s.Token,
		TokenType:   "bearer",
		ExpiresAt:   s.Claims.ExpiresAt.UTC(),
		Account:     newAccountResponse(s.Account),
	}
}
