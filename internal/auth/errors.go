// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"

	"github.com/adega/adega/pkg/errutil"
)

// Store outcomes. Repository implementations wrap these so callers can
// test for them with errors.Is.
var (
	// ErrNotFound is returned when a requested account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken is returned when a write would duplicate another account's email.
	ErrEmailTaken = errors.New("email already in use")

	// ErrSubjectTaken is returned when a write would attach a federated
	// subject already held by another account.
	ErrSubjectTaken = errors.New("federated subject already in use")
)

// Error codes surfaced by this package.
const (
	// Authentication rejections.
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeIncorrectPassword  = "AUTH_INCORRECT_PASSWORD"
	CodeNoPasswordSet      = "AUTH_NO_PASSWORD_SET"

	// Conflict and policy rejections.
	CodeEmailAlreadyRegistered    = "AUTH_EMAIL_ALREADY_REGISTERED"
	CodeAccountExistsWithPassword = "AUTH_ACCOUNT_EXISTS_WITH_PASSWORD"
	CodeSubjectAlreadyLinked      = "AUTH_SUBJECT_ALREADY_LINKED"
	CodeEmailMismatch             = "AUTH_EMAIL_MISMATCH"
	CodeIdentityMismatch          = "AUTH_IDENTITY_MISMATCH"

	// Token verification.
	CodeInvalidToken = "AUTH_INVALID_TOKEN"
	CodeExpiredToken = "AUTH_EXPIRED_TOKEN"

	// Federated verification.
	CodeInvalidAssertion        = "AUTH_INVALID_ASSERTION"
	CodeUntrustedIdentity       = "AUTH_UNTRUSTED_IDENTITY"
	CodeVerificationUnavailable = "AUTH_VERIFICATION_UNAVAILABLE"

	// Input validation.
	CodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	CodeInvalidDisplayName = "AUTH_INVALID_DISPLAY_NAME"
	CodeInvalidPassword    = "AUTH_INVALID_PASSWORD"
	CodeInvalidInput       = "AUTH_INVALID_INPUT"
)

// Kind groups error codes by how a caller should react to them.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindInvalidInput
	KindAuthRejected
	KindConflict
	KindToken
	KindFederated
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindAuthRejected:
		return "auth_rejected"
	case KindConflict:
		return "conflict"
	case KindToken:
		return "token"
	case KindFederated:
		return "federated"
	default:
		return "internal"
	}
}

var codeKinds = map[string]Kind{
	CodeInvalidCredentials:        KindAuthRejected,
	CodeIncorrectPassword:         KindAuthRejected,
	CodeNoPasswordSet:             KindAuthRejected,
	CodeEmailAlreadyRegistered:    KindConflict,
	CodeAccountExistsWithPassword: KindConflict,
	CodeSubjectAlreadyLinked:      KindConflict,
	CodeEmailMismatch:             KindConflict,
	CodeIdentityMismatch:          KindConflict,
	CodeInvalidToken:              KindToken,
	CodeExpiredToken:              KindToken,
	CodeInvalidAssertion:          KindFederated,
	CodeUntrustedIdentity:         KindFederated,
	CodeVerificationUnavailable:   KindFederated,
	CodeInvalidEmail:              KindInvalidInput,
	CodeInvalidDisplayName:        KindInvalidInput,
	CodeInvalidPassword:           KindInvalidInput,
	CodeInvalidInput:              KindInvalidInput,
	CodeEmptyPassword:             KindInvalidInput,
}

// KindOf classifies err by its code. Unknown codes and plain errors are
// KindInternal.
func KindOf(err error) Kind {
	if kind, ok := codeKinds[errutil.Code(err)]; ok {
		return kind
	}
	return KindInternal
}

// IsRetryable reports whether err is a transient failure the caller may retry.
func IsRetryable(err error) bool {
	return errutil.Code(err) == CodeVerificationUnavailable
}

func errInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

func errEmailAlreadyRegistered(email string) error {
	return oops.Code(CodeEmailAlreadyRegistered).
		With("email", email).
		Errorf("email is already registered")
}

func errSubjectAlreadyLinked() error {
	return oops.Code(CodeSubjectAlreadyLinked).
		Errorf("this federated identity is already linked to another account")
}

// NewInvalidTokenError returns an error reporting a token that failed verification.
func NewInvalidTokenError(reason string) error {
	return oops.Code(CodeInvalidToken).
		With("reason", reason).
		Errorf("invalid token")
}
