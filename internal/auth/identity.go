// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package auth

import "context"

// IdentityClaim is a normalized identity extracted from a verified federated
// assertion. It is never persisted.
type IdentityClaim struct {
	SubjectID     string
	Email         string
	DisplayName   string
	Issuer        string
	EmailVerified bool
}

// IdentityVerifier verifies a third-party identity assertion.
//
// Implementations return errors coded CodeInvalidAssertion,
// CodeUntrustedIdentity or CodeVerificationUnavailable. Verify may block on
// a network round trip and must honor ctx.
type IdentityVerifier interface {
	Verify(ctx context.Context, assertion string) (*IdentityClaim, error)
}
