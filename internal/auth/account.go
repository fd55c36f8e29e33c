// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Field constraints, matching the accounts table.
const (
	MaxEmailLength       = 150
	MaxDisplayNameLength = 100
	MaxSubjectIDLength   = 100
	MinPasswordLength    = 8
	MaxPasswordLength    = 128
)

// emailRegex is intentionally loose: one "@", no whitespace, a dot in the domain.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Account is a user account. Email is the reconciliation key and is compared
// exactly as stored.
type Account struct {
	ID                 ulid.ULID
	Email              string
	DisplayName        string
	PasswordHash       *string // nil for accounts created purely via federation
	FederatedSubjectID *string // unique across accounts when set
	IsFederated        bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewPasswordAccount creates a validated, locally registered Account.
func NewPasswordAccount(email, displayName, passwordHash string) (*Account, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code(CodeInvalidPassword).Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: &passwordHash,
		IsFederated:  false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewFederatedAccount creates a validated Account backed only by a federated identity.
// An empty displayName falls back to the local part of the email.
func NewFederatedAccount(email, displayName, subjectID string) (*Account, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}
	if utf8.RuneCountInString(displayName) > MaxDisplayNameLength {
		displayName = string([]rune(displayName)[:MaxDisplayNameLength])
	}
	if err := ValidateSubjectID(subjectID); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Account{
		ID:                 ulid.Make(),
		Email:              email,
		DisplayName:        displayName,
		FederatedSubjectID: &subjectID,
		IsFederated:        true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// HasPassword reports whether the account can log in with a password.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// HasFederatedSubject reports whether a federated subject is attached.
func (a *Account) HasFederatedSubject() bool {
	return a.FederatedSubjectID != nil && *a.FederatedSubjectID != ""
}

// Usable reports whether the account holds at least one credential.
func (a *Account) Usable() bool {
	return a.HasPassword() || a.HasFederatedSubject() || a.IsFederated
}

// Clone returns a deep copy so callers can stage changes without touching
// the original until a write succeeds.
func (a *Account) Clone() *Account {
	c := *a
	if a.PasswordHash != nil {
		h := *a.PasswordHash
		c.PasswordHash = &h
	}
	if a.FederatedSubjectID != nil {
		s := *a.FederatedSubjectID
		c.FederatedSubjectID = &s
	}
	return &c
}

// ValidateEmail validates an email address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code(CodeInvalidEmail).
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(email) {
		return oops.Code(CodeInvalidEmail).Errorf("email is not a valid address")
	}
	return nil
}

// ValidateDisplayName validates a display name.
func ValidateDisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return oops.Code(CodeInvalidDisplayName).Errorf("display name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return oops.Code(CodeInvalidDisplayName).
			With("max", MaxDisplayNameLength).
			Errorf("display name must be at most %d characters", MaxDisplayNameLength)
	}
	return nil
}

// ValidatePassword validates a new plaintext password. Existing passwords
// are never re-validated at login.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return oops.Code(CodeInvalidPassword).
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if n > MaxPasswordLength {
		return oops.Code(CodeInvalidPassword).
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// ValidateSubjectID validates a federated subject identifier.
func ValidateSubjectID(subjectID string) error {
	if subjectID == "" {
		return oops.Code(CodeInvalidAssertion).Errorf("federated subject cannot be empty")
	}
	if len(subjectID) > MaxSubjectIDLength {
		return oops.Code(CodeInvalidAssertion).
			With("max", MaxSubjectIDLength).
			Errorf("federated subject must be at most %d characters", MaxSubjectIDLength)
	}
	return nil
}

// RegisterInput is the input to Reconciler.Register.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// Validate checks every field of the input.
func (in RegisterInput) Validate() error {
	if err := ValidateEmail(in.Email); err != nil {
		return err
	}
	if err := ValidateDisplayName(in.DisplayName); err != nil {
		return err
	}
	return ValidatePassword(in.Password)
}

// ProfileUpdate is the input to Reconciler.UpdateProfile. Nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string
	Email       *string
}

// Validate checks the fields that are set.
func (u ProfileUpdate) Validate() error {
	if u.DisplayName == nil && u.Email == nil {
		return oops.Code(CodeInvalidInput).Errorf("at least one field must be provided")
	}
	if u.DisplayName != nil {
		if err := ValidateDisplayName(*u.DisplayName); err != nil {
			return err
		}
	}
	if u.Email != nil {
		if err := ValidateEmail(*u.Email); err != nil {
			return err
		}
	}
	return nil
}

// AccountRepository manages account persistence. Implementations enforce
// uniqueness of Email and FederatedSubjectID and report violations as
// ErrEmailTaken and ErrSubjectTaken.
type AccountRepository interface {
	// Create stores a new account.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by exact email.
	// Returns ErrNotFound if no account has the given email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByFederatedSubjectID retrieves the account holding a federated subject.
	GetByFederatedSubjectID(ctx context.Context, subjectID string) (*Account, error)

	// Update replaces the mutable fields of an existing account.
	Update(ctx context.Context, account *Account) error

	// Delete removes an account.
	Delete(ctx context.Context, id ulid.ULID) error
}
