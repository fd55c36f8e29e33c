// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package auth

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token defaults.
const (
	DefaultTokenTTL       = 30 * time.Minute
	DefaultTokenAlgorithm = "HS256"
	DefaultTokenIssuer    = "adega"
	MinTokenSecretLength  = 16
)

// SupportedTokenAlgorithms lists the symmetric signing algorithms accepted by TokenService.
var SupportedTokenAlgorithms = []string{"HS256", "HS384", "HS512"}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Secret    []byte
	Algorithm string        // defaults to DefaultTokenAlgorithm
	TTL       time.Duration // defaults to DefaultTokenTTL
	Issuer    string        // defaults to DefaultTokenIssuer
}

// Claims are the verified contents of a bearer token.
type Claims struct {
	ID        string
	AccountID ulid.ULID
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenProvider issues and verifies bearer tokens.
type TokenProvider interface {
	// Issue signs a token for the account. A non-positive ttl uses the default.
	Issue(accountID ulid.ULID, email string, ttl time.Duration) (string, Claims, error)

	// Verify checks signature and expiry and returns the embedded claims.
	Verify(token string) (*Claims, error)
}

// tokenClaims is the JWT payload. The subject carries the email.
type tokenClaims struct {
	AccountID string `json:"uid"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies self-contained HMAC-signed tokens.
// It holds no per-token state.
type TokenService struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTokenClock overrides the clock used for issuing and expiry checks.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService creates a TokenService. The configuration is copied and
// never changes afterwards.
func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if len(cfg.Secret) < MinTokenSecretLength {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinTokenSecretLength).
			Errorf("token secret must be at least %d bytes", MinTokenSecretLength)
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = DefaultTokenAlgorithm
	}
	alg = strings.ToUpper(alg)
	if !slices.Contains(SupportedTokenAlgorithms, alg) {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("algorithm", cfg.Algorithm).
			Errorf("unsupported token algorithm %q", cfg.Algorithm)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	if ttl < 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("ttl", ttl.String()).
			Errorf("token ttl must be positive")
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultTokenIssuer
	}

	s := &TokenService{
		secret: slices.Clone(cfg.Secret),
		method: jwt.GetSigningMethod(alg),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DefaultTTL returns the configured token lifetime.
func (s *TokenService) DefaultTTL() time.Duration {
	return s.ttl
}

// Issue signs a token for the account.
func (s *TokenService) Issue(accountID ulid.ULID, email string, ttl time.Duration) (string, Claims, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return "", Claims{}, oops.Code("TOKEN_ISSUE_FAILED").Errorf("account ID cannot be zero")
	}
	if email == "" {
		return "", Claims{}, oops.Code("TOKEN_ISSUE_FAILED").Errorf("email cannot be empty")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now().UTC()
	payload := tokenClaims{
		AccountID: accountID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(s.method, payload).SignedString(s.secret)
	if err != nil {
		return "", Claims{}, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "sign token").
			Wrap(err)
	}

	return signed, Claims{
		ID:        payload.ID,
		AccountID: accountID,
		Email:     email,
		IssuedAt:  payload.IssuedAt.Time,
		ExpiresAt: payload.ExpiresAt.Time,
	}, nil
}

// Verify checks the token's signature, algorithm, issuer and expiry.
// A token past its expiry yields CodeExpiredToken; every other failure
// yields CodeInvalidToken. The referenced account may no longer exist.
func (s *TokenService) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, NewInvalidTokenError("empty")
	}

	var payload tokenClaims
	_, err := jwt.ParseWithClaims(token, &payload,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeExpiredToken).Errorf("token has expired")
		}
		return nil, NewInvalidTokenError(tokenFailureReason(err))
	}

	accountID, err := ulid.Parse(payload.AccountID)
	if err != nil {
		return nil, NewInvalidTokenError("account_id")
	}
	if payload.Subject == "" || payload.IssuedAt == nil {
		return nil, NewInvalidTokenError("missing_claims")
	}

	return &Claims{
		ID:        payload.ID,
		AccountID: accountID,
		Email:     payload.Subject,
		IssuedAt:  payload.IssuedAt.Time,
		ExpiresAt: payload.ExpiresAt.Time,
	}, nil
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return "signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing_claims"
	default:
		return "invalid"
	}
}

// Compile-time interface check.
var _ TokenProvider = (*TokenService)(nil)
