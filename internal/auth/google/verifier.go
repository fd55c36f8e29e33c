// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

// Package google verifies Google-issued OpenID Connect ID tokens.
package google

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/samber/oops"

	"github.com/adega/adega/internal/auth"
)

// Defaults for Google's public OIDC deployment.
const (
	DefaultJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	DefaultTimeout = 5 * time.Second
)

// DefaultIssuers are the issuer values Google puts in ID tokens.
var DefaultIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Config configures a Verifier.
type Config struct {
	// ClientID is the OAuth client ID tokens must be addressed to.
	ClientID string
	// Issuers accepted in the iss claim. Defaults to DefaultIssuers.
	Issuers []string
	// JWKSURL serves the signing keys. Defaults to DefaultJWKSURL.
	JWKSURL string
	// Timeout bounds each verification, including key retrieval.
	Timeout time.Duration
}

// Verifier implements auth.IdentityVerifier for Google ID tokens.
type Verifier struct {
	clientID string
	issuers  []string
	timeout  time.Duration
	keySet   oidc.KeySet
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Verifier.
type Option func(*verifierOptions)

type verifierOptions struct {
	keySet     oidc.KeySet
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// WithKeySet replaces the remote JWKS, typically with an oidc.StaticKeySet.
func WithKeySet(ks oidc.KeySet) Option {
	return func(o *verifierOptions) { o.keySet = ks }
}

// WithHTTPClient sets the client used to fetch the JWKS. A client without a
// timeout gets the verification timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *verifierOptions) { o.httpClient = c }
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *verifierOptions) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *verifierOptions) { o.logger = l }
}

// New creates a Verifier. ClientID is required.
func New(cfg Config, opts ...Option) (*Verifier, error) {
	if cfg.ClientID == "" {
		return nil, oops.Code("GOOGLE_CONFIG_INVALID").Errorf("google client ID is required")
	}
	if cfg.Timeout < 0 {
		return nil, oops.Code("GOOGLE_CONFIG_INVALID").
			With("timeout", cfg.Timeout.String()).
			Errorf("google verification timeout must not be negative")
	}

	o := verifierOptions{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	issuers := slices.Clone(cfg.Issuers)
	if len(issuers) == 0 {
		issuers = slices.Clone(DefaultIssuers)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	keySet := o.keySet
	if keySet == nil {
		jwksURL := cfg.JWKSURL
		if jwksURL == "" {
			jwksURL = DefaultJWKSURL
		}
		// The remote key set fetches with this context, not the caller's, and
		// callers share one in-flight fetch. The client timeout is what ends
		// a stalled fetch so the next call can retry.
		keySet = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), boundedClient(o.httpClient, timeout)), jwksURL)
	}

	return &Verifier{
		clientID: cfg.ClientID,
		issuers:  issuers,
		timeout:  timeout,
		keySet:   keySet,
		now:      o.now,
		logger:   o.logger,
	}, nil
}

// boundedClient returns c, or a copy of it, with a request timeout set.
func boundedClient(c *http.Client, timeout time.Duration) *http.Client {
	if c == nil {
		return &http.Client{Timeout: timeout}
	}
	if c.Timeout > 0 {
		return c
	}
	bounded := *c
	bounded.Timeout = timeout
	return &bounded
}

// googleClaims are the non-registered claims read from a Google ID token.
type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Name          string `json:"name"`
}

// Verify checks the assertion's signature, expiry, issuer and audience and
// returns the identity it asserts.
func (v *Verifier) Verify(ctx context.Context, assertion string) (*auth.IdentityClaim, error) {
	assertion = strings.TrimSpace(assertion)
	if assertion == "" {
		return nil, oops.Code(auth.CodeInvalidAssertion).Errorf("assertion is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	keys := &trackingKeySet{next: v.keySet}
	idToken, err := oidc.NewVerifier("", keys, &oidc.Config{
		SkipClientIDCheck: true,
		SkipIssuerCheck:   true,
		Now:               v.now,
	}).Verify(ctx, assertion)
	if err != nil {
		if fetchErr := keys.unavailable(); fetchErr != nil {
			v.logger.WarnContext(ctx, "google key retrieval failed", "error", fetchErr)
			return nil, oops.Code(auth.CodeVerificationUnavailable).
				Errorf("identity provider keys are unavailable: %v", fetchErr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, oops.Code(auth.CodeVerificationUnavailable).
				Errorf("identity verification timed out: %v", ctxErr)
		}
		reason := "invalid"
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			reason = "expired"
		}
		return nil, oops.Code(auth.CodeInvalidAssertion).
			With("reason", reason).
			Errorf("assertion failed verification: %v", err)
	}

	if !slices.Contains(v.issuers, idToken.Issuer) {
		return nil, oops.Code(auth.CodeUntrustedIdentity).
			With("issuer", idToken.Issuer).
			Errorf("assertion issuer is not trusted")
	}
	if !slices.Contains(idToken.Audience, v.clientID) {
		return nil, oops.Code(auth.CodeUntrustedIdentity).
			With("audience", idToken.Audience).
			Errorf("assertion is not addressed to this client")
	}

	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, oops.Code(auth.CodeInvalidAssertion).
			With("reason", "claims").
			Errorf("assertion claims are malformed: %v", err)
	}
	if claims.Email == "" {
		return nil, oops.Code(auth.CodeInvalidAssertion).
			With("reason", "missing_email").
			Errorf("assertion has no email claim")
	}
	if err := auth.ValidateSubjectID(idToken.Subject); err != nil {
		return nil, err
	}

	return &auth.IdentityClaim{
		SubjectID:     idToken.Subject,
		Email:         claims.Email,
		DisplayName:   claims.Name,
		Issuer:        idToken.Issuer,
		EmailVerified: isTrue(claims.EmailVerified),
	}, nil
}

// isTrue accepts email_verified as a JSON boolean or the string "true";
// Google has emitted both.
func isTrue(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	default:
		return false
	}
}

// trackingKeySet records key retrieval failures. go-oidc folds them into a
// generic signature error, so this is the only place they can be told apart
// from a bad signature.
type trackingKeySet struct {
	next oidc.KeySet

	mu       sync.Mutex
	fetchErr error
}

func (k *trackingKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	payload, err := k.next.VerifySignature(ctx, jwt)
	if err != nil && isFetchFailure(err) {
		k.mu.Lock()
		k.fetchErr = err
		k.mu.Unlock()
	}
	return payload, err
}

func (k *trackingKeySet) unavailable() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.fetchErr
}

func isFetchFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.HasPrefix(err.Error(), "fetching keys")
}

var _ auth.IdentityVerifier = (*Verifier)(nil)
