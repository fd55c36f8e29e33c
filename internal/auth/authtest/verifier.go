// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package authtest

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/adega/adega/internal/auth"
)

// StubVerifier is an auth.IdentityVerifier backed by a fixed table of
// assertions. Unknown assertions fail with auth.CodeInvalidAssertion.
type StubVerifier struct {
	mu     sync.RWMutex
	claims map[string]auth.IdentityClaim
	err    error
}

// NewStubVerifier creates an empty StubVerifier.
func NewStubVerifier() *StubVerifier {
	return &StubVerifier{claims: make(map[string]auth.IdentityClaim)}
}

// Add registers the claim returned for assertion.
func (v *StubVerifier) Add(assertion string, claim auth.IdentityClaim) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.claims[assertion] = claim
}

// FailWith makes every Verify call return err. A nil err restores normal behavior.
func (v *StubVerifier) FailWith(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

// Verify returns a copy of the registered claim.
func (v *StubVerifier) Verify(ctx context.Context, assertion string) (*auth.IdentityClaim, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code(auth.CodeVerificationUnavailable).Wrap(err)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.err != nil {
		return nil, v.err
	}
	claim, ok := v.claims[assertion]
	if !ok {
		return nil, oops.Code(auth.CodeInvalidAssertion).Errorf("unknown assertion")
	}
	return &claim, nil
}

var _ auth.IdentityVerifier = (*StubVerifier)(nil)
