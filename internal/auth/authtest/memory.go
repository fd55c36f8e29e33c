// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

// Package authtest provides in-memory fakes of the auth interfaces for tests
// that exercise the reconciler end to end without a database.
package authtest

import (
	"context"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/adega/adega/internal/auth"
)

// MemoryAccountRepository is a concurrency-safe auth.AccountRepository that
// enforces the same uniqueness rules as the accounts table.
type MemoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
}

// NewMemoryAccountRepository creates an empty repository.
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[ulid.ULID]*auth.Account)}
}

// Create stores a copy of account.
func (r *MemoryAccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.ID]; ok {
		return oops.Code("ACCOUNT_CREATE_FAILED").With("id", account.ID.String()).Errorf("duplicate id")
	}
	if err := r.checkUnique(account); err != nil {
		return err
	}
	r.accounts[account.ID] = account.Clone()
	return nil
}

// GetByID returns a copy of the account with the given ID.
func (r *MemoryAccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.accounts[id]; ok {
		return a.Clone(), nil
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
}

// GetByEmail returns a copy of the account with exactly the given email.
func (r *MemoryAccountRepository) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.Email == email {
			return a.Clone(), nil
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
}

// GetByFederatedSubjectID returns a copy of the account holding subjectID.
func (r *MemoryAccountRepository) GetByFederatedSubjectID(_ context.Context, subjectID string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.HasFederatedSubject() && *a.FederatedSubjectID == subjectID {
			return a.Clone(), nil
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").With("subject_id", subjectID).Wrap(auth.ErrNotFound)
}

// Update replaces the stored account.
func (r *MemoryAccountRepository) Update(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.ID]; !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", account.ID.String()).Wrap(auth.ErrNotFound)
	}
	if err := r.checkUnique(account); err != nil {
		return err
	}
	r.accounts[account.ID] = account.Clone()
	return nil
}

// Delete removes the account with the given ID.
func (r *MemoryAccountRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(r.accounts, id)
	return nil
}

// All returns copies of every stored account ordered by ID.
func (r *MemoryAccountRepository) All() []*auth.Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*auth.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

// Len returns the number of stored accounts.
func (r *MemoryAccountRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// checkUnique must be called with mu held.
func (r *MemoryAccountRepository) checkUnique(account *auth.Account) error {
	for id, other := range r.accounts {
		if id == account.ID {
			continue
		}
		if other.Email == account.Email {
			return oops.Code("ACCOUNT_EMAIL_TAKEN").With("email", account.Email).Wrap(auth.ErrEmailTaken)
		}
		if account.HasFederatedSubject() && other.HasFederatedSubject() &&
			*other.FederatedSubjectID == *account.FederatedSubjectID {
			return oops.Code("ACCOUNT_SUBJECT_TAKEN").Wrap(auth.ErrSubjectTaken)
		}
	}
	return nil
}

var _ auth.AccountRepository = (*MemoryAccountRepository)(nil)
