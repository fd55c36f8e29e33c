// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/adega/adega/internal/auth"
)

// cleanupT is the subset of testing.TB the constructors need.
type cleanupT interface {
	mock.TestingT
	Cleanup(func())
}

// MockAccountRepository mocks auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t cleanupT) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	return accountArg(args, 0), args.Error(1)
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	args := m.Called(ctx, email)
	return accountArg(args, 0), args.Error(1)
}

func (m *MockAccountRepository) GetByFederatedSubjectID(ctx context.Context, subjectID string) (*auth.Account, error) {
	args := m.Called(ctx, subjectID)
	return accountArg(args, 0), args.Error(1)
}

func (m *MockAccountRepository) Update(ctx context.Context, account *auth.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func accountArg(args mock.Arguments, i int) *auth.Account {
	if v := args.Get(i); v != nil {
		return v.(*auth.Account)
	}
	return nil
}

// MockPasswordHasher mocks auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t cleanupT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	args := m.Called(hash)
	return args.Bool(0)
}

// MockTokenProvider mocks auth.TokenProvider.
type MockTokenProvider struct {
	mock.Mock
}

// NewMockTokenProvider creates a mock that asserts its expectations on cleanup.
func NewMockTokenProvider(t cleanupT) *MockTokenProvider {
	m := &MockTokenProvider{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockTokenProvider) Issue(accountID ulid.ULID, email string, ttl time.Duration) (string, auth.Claims, error) {
	args := m.Called(accountID, email, ttl)
	claims, _ := args.Get(1).(auth.Claims)
	return args.String(0), claims, args.Error(2)
}

func (m *MockTokenProvider) Verify(token string) (*auth.Claims, error) {
	args := m.Called(token)
	if v := args.Get(0); v != nil {
		return v.(*auth.Claims), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockIdentityVerifier mocks auth.IdentityVerifier.
type MockIdentityVerifier struct {
	mock.Mock
}

// NewMockIdentityVerifier creates a mock that asserts its expectations on cleanup.
func NewMockIdentityVerifier(t cleanupT) *MockIdentityVerifier {
	m := &MockIdentityVerifier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockIdentityVerifier) Verify(ctx context.Context, assertion string) (*auth.IdentityClaim, error) {
	args := m.Called(ctx, assertion)
	if v := args.Get(0); v != nil {
		return v.(*auth.IdentityClaim), args.Error(1)
	}
	return nil, args.Error(1)
}

var (
	_ auth.AccountRepository = (*MockAccountRepository)(nil)
	_ auth.PasswordHasher    = (*MockPasswordHasher)(nil)
	_ auth.TokenProvider     = (*MockTokenProvider)(nil)
	_ auth.IdentityVerifier  = (*MockIdentityVerifier)(nil)
)
