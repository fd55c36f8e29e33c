// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

// Package postgres implements auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/adega/adega/internal/auth"
)

// Unique constraints on the accounts table.
const (
	emailConstraint   = "accounts_email_key"
	subjectConstraint = "accounts_federated_subject_id_key"
)

// Querier is the subset of pgxpool.Pool used by the repository.
// pgxmock.PgxPoolIface satisfies it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectAccount = `
	SELECT id, email, display_name, password_hash, federated_subject_id,
	       is_federated, created_at, updated_at
	FROM accounts`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db Querier
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db Querier) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (
			id, email, display_name, password_hash, federated_subject_id,
			is_federated, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		account.ID.String(),
		account.Email,
		account.DisplayName,
		account.PasswordHash,
		account.FederatedSubjectID,
		account.IsFederated,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if conflict := uniqueViolation(err, "ACCOUNT_CREATE_FAILED"); conflict != nil {
			return conflict
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	account, err := scanAccount(r.db.QueryRow(ctx, selectAccount+` WHERE id = $1`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by exact email. Emails are not normalized.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	account, err := scanAccount(r.db.QueryRow(ctx, selectAccount+` WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

// GetByFederatedSubjectID retrieves the account holding a federated subject.
func (r *AccountRepository) GetByFederatedSubjectID(ctx context.Context, subjectID string) (*auth.Account, error) {
	account, err := scanAccount(r.db.QueryRow(ctx, selectAccount+` WHERE federated_subject_id = $1`, subjectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("subject_id", subjectID).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_SUBJECT_FAILED").
			With("operation", "get account by federated subject").
			Wrap(err)
	}
	return account, nil
}

// Update replaces the mutable fields of an existing account.
func (r *AccountRepository) Update(ctx context.Context, account *auth.Account) error {
	updatedAt := account.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET
			email = $2,
			display_name = $3,
			password_hash = $4,
			federated_subject_id = $5,
			is_federated = $6,
			updated_at = $7
		WHERE id = $1
	`,
		account.ID.String(),
		account.Email,
		account.DisplayName,
		account.PasswordHash,
		account.FederatedSubjectID,
		account.IsFederated,
		updatedAt,
	)
	if err != nil {
		if conflict := uniqueViolation(err, "ACCOUNT_UPDATE_FAILED"); conflict != nil {
			return conflict
		}
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("id", account.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", account.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes an account.
func (r *AccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").
			With("operation", "delete account").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// uniqueViolation maps a unique constraint violation to the matching auth
// sentinel. Returns nil for any other error.
func uniqueViolation(err error, code string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case emailConstraint:
		return oops.Code(code).With("constraint", pgErr.ConstraintName).Wrap(auth.ErrEmailTaken)
	case subjectConstraint:
		return oops.Code(code).With("constraint", pgErr.ConstraintName).Wrap(auth.ErrSubjectTaken)
	default:
		return nil
	}
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr     string
		account   auth.Account
		createdAt time.Time
		updatedAt time.Time
	)

	err := row.Scan(
		&idStr,
		&account.Email,
		&account.DisplayName,
		&account.PasswordHash,
		&account.FederatedSubjectID,
		&account.IsFederated,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}

	account.ID = id
	account.CreatedAt = createdAt
	account.UpdatedAt = updatedAt
	return &account, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
