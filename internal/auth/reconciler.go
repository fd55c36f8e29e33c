// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adega/adega/pkg/errutil"
)

// Operation names used for logging, tracing and metrics.
const (
	OpRegister       = "register"
	OpLogin          = "login"
	OpFederatedLogin = "federated_login"
	OpLink           = "link_federated"
	OpChangePassword = "change_password"
	OpAuthenticate   = "authenticate"
	OpUpdateProfile  = "update_profile"
	OpDeleteAccount  = "delete_account"
)

// OutcomeSuccess is the outcome label recorded for successful operations.
// Failed operations record their error code.
const OutcomeSuccess = "success"

// dummyPasswordHash is verified when an account has no usable hash so that
// login timing does not reveal whether the email exists.
// This is NOT a real credential - it will never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Recorder receives one observation per reconciler operation.
type Recorder interface {
	RecordAuthOperation(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthOperation(string, string) {}

// Session is the result of a successful login.
type Session struct {
	Token   string
	Claims  Claims
	Account *Account
}

// Reconciler applies the account reconciliation policy: how password and
// federated credentials map onto accounts in the store.
type Reconciler struct {
	accounts AccountRepository
	hasher   PasswordHasher
	tokens   TokenProvider
	verifier IdentityVerifier
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
	now      func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithLogger sets the logger used for operation events.
func WithLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder Recorder) ReconcilerOption {
	return func(r *Reconciler) {
		r.recorder = recorder
	}
}

// NewReconciler creates a Reconciler. All dependencies are required.
func NewReconciler(
	accounts AccountRepository,
	hasher PasswordHasher,
	tokens TokenProvider,
	verifier IdentityVerifier,
	opts ...ReconcilerOption,
) (*Reconciler, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("token provider is required")
	}
	if verifier == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("identity verifier is required")
	}

	r := &Reconciler{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		verifier: verifier,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer("github.com/adega/adega/internal/auth"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger cannot be nil")
	}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	return r, nil
}

// Register creates a password account. Fails with CodeEmailAlreadyRegistered
// when any account, federated or not, already uses the email.
func (r *Reconciler) Register(ctx context.Context, in RegisterInput) (account *Account, err error) {
	ctx, end := r.start(ctx, OpRegister)
	defer func() { end(err) }()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	if _, err := r.accounts.GetByEmail(ctx, in.Email); err == nil {
		r.reject(ctx, OpRegister, "email_exists")
		return nil, errEmailAlreadyRegistered(in.Email)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	hash, err := r.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err = NewPasswordAccount(in.Email, in.DisplayName, hash)
	if err != nil {
		return nil, err
	}

	// The store's unique constraint settles concurrent registrations.
	if err := r.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			r.reject(ctx, OpRegister, "email_exists")
			return nil, errEmailAlreadyRegistered(in.Email)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	r.logger.InfoContext(ctx, "account registered",
		"event", "account_registered",
		"account_id", account.ID.String(),
	)
	return account, nil
}

// Login authenticates with email and password and issues a token.
//
// Unknown email, an account without a password and a wrong password all
// fail with the same CodeInvalidCredentials error; the distinction is only
// logged. A password is always verified, against a dummy hash if needed,
// to keep response time uniform.
func (r *Reconciler) Login(ctx context.Context, email, password string) (session *Session, err error) {
	ctx, end := r.start(ctx, OpLogin)
	defer func() { end(err) }()

	account, lookupErr := r.accounts.GetByEmail(ctx, email)

	targetHash := dummyPasswordHash
	var reason string
	switch {
	case lookupErr == nil && account.HasPassword():
		targetHash = *account.PasswordHash
	case lookupErr == nil:
		reason = "no_password"
	case errors.Is(lookupErr, ErrNotFound):
		reason = "unknown_email"
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get account by email").
			Wrap(lookupErr)
	}

	valid, verifyErr := r.hasher.Verify(password, targetHash)
	if verifyErr != nil && reason == "" {
		reason = "malformed_hash"
		errutil.LogError(ctx, r.logger, "stored password hash could not be verified", verifyErr)
	}
	if reason == "" && !valid {
		reason = "wrong_password"
	}
	if reason != "" {
		attrs := []any{}
		if account != nil {
			attrs = append(attrs, "account_id", account.ID.String())
		}
		r.reject(ctx, OpLogin, reason, attrs...)
		return nil, errInvalidCredentials()
	}

	if r.hasher.NeedsUpgrade(targetHash) {
		account = r.upgradeHash(ctx, account, password)
	}

	return r.issue(ctx, account)
}

// upgradeHash re-hashes a legacy password hash. Failures are logged and the
// original account is returned; login still succeeds.
func (r *Reconciler) upgradeHash(ctx context.Context, account *Account, password string) *Account {
	newHash, err := r.hasher.Hash(password)
	if err != nil {
		errutil.LogError(ctx, r.logger, "password hash upgrade failed", err)
		return account
	}

	updated := account.Clone()
	updated.PasswordHash = &newHash
	updated.UpdatedAt = r.now()
	if err := r.accounts.Update(ctx, updated); err != nil {
		errutil.LogError(ctx, r.logger, "persisting upgraded password hash failed", err)
		return account
	}

	r.logger.InfoContext(ctx, "password hash upgraded",
		"event", "password_hash_upgraded",
		"account_id", account.ID.String(),
	)
	return updated
}

// LoginWithFederatedIdentity verifies a federated assertion and resolves it
// to an account:
//  1. no account with the claim's email: a federated account is created;
//  2. a federated account: its subject is backfilled if unset, and must
//     otherwise match the claim (CodeIdentityMismatch);
//  3. a password-only account: CodeAccountExistsWithPassword, untouched.
func (r *Reconciler) LoginWithFederatedIdentity(ctx context.Context, assertion string) (session *Session, err error) {
	ctx, end := r.start(ctx, OpFederatedLogin)
	defer func() { end(err) }()

	claim, err := r.verifier.Verify(ctx, assertion)
	if err != nil {
		r.reject(ctx, OpFederatedLogin, errutil.Code(err))
		return nil, err
	}

	account, err := r.resolveFederated(ctx, claim)
	if err != nil {
		return nil, err
	}
	return r.issue(ctx, account)
}

func (r *Reconciler) resolveFederated(ctx context.Context, claim *IdentityClaim) (*Account, error) {
	account, err := r.accounts.GetByEmail(ctx, claim.Email)
	switch {
	case err == nil:
		return r.reconcileExisting(ctx, account, claim)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_FEDERATED_LOGIN_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	account, err = NewFederatedAccount(claim.Email, claim.DisplayName, claim.SubjectID)
	if err != nil {
		return nil, err
	}

	createErr := r.accounts.Create(ctx, account)
	switch {
	case createErr == nil:
		r.logger.InfoContext(ctx, "federated account created",
			"event", "federated_account_created",
			"account_id", account.ID.String(),
		)
		return account, nil
	case errors.Is(createErr, ErrSubjectTaken):
		r.reject(ctx, OpFederatedLogin, "subject_held_by_other_email")
		return nil, errSubjectAlreadyLinked()
	case !errors.Is(createErr, ErrEmailTaken):
		return nil, oops.Code("AUTH_FEDERATED_LOGIN_FAILED").
			With("operation", "create account").
			Wrap(createErr)
	}

	// A concurrent request created the email first; reconcile against it.
	existing, err := r.accounts.GetByEmail(ctx, claim.Email)
	if err != nil {
		return nil, oops.Code("AUTH_FEDERATED_LOGIN_FAILED").
			With("operation", "reload account after conflict").
			Wrap(err)
	}
	return r.reconcileExisting(ctx, existing, claim)
}

func (r *Reconciler) reconcileExisting(ctx context.Context, account *Account, claim *IdentityClaim) (*Account, error) {
	if !account.IsFederated {
		r.reject(ctx, OpFederatedLogin, "password_account", "account_id", account.ID.String())
		return nil, oops.Code(CodeAccountExistsWithPassword).
			Errorf("email is registered with a password; log in with it or link the federated identity")
	}

	if !account.HasFederatedSubject() {
		updated := account.Clone()
		updated.FederatedSubjectID = &claim.SubjectID
		updated.UpdatedAt = r.now()
		if err := r.accounts.Update(ctx, updated); err != nil {
			if errors.Is(err, ErrSubjectTaken) {
				r.reject(ctx, OpFederatedLogin, "backfill_subject_taken", "account_id", account.ID.String())
				return nil, errSubjectAlreadyLinked()
			}
			return nil, oops.Code("AUTH_FEDERATED_LOGIN_FAILED").
				With("operation", "backfill federated subject").
				Wrap(err)
		}
		r.logger.InfoContext(ctx, "federated subject backfilled",
			"event", "federated_subject_backfilled",
			"account_id", account.ID.String(),
		)
		return updated, nil
	}

	if *account.FederatedSubjectID != claim.SubjectID {
		r.logger.ErrorContext(ctx, "federated subject mismatch for account",
			"event", "identity_mismatch",
			"account_id", account.ID.String(),
		)
		return nil, oops.Code(CodeIdentityMismatch).
			Errorf("federated identity does not match the one linked to this account")
	}
	return account, nil
}

// LinkFederatedIdentity attaches a federated identity to an already
// authenticated account. The claim's email must equal the account's.
// Linking the subject the account already holds is a no-op. On failure
// current is left unchanged.
func (r *Reconciler) LinkFederatedIdentity(ctx context.Context, current *Account, assertion string) (err error) {
	ctx, end := r.start(ctx, OpLink)
	defer func() { end(err) }()

	if current == nil {
		return oops.Code(CodeInvalidInput).Errorf("current account is required")
	}

	claim, err := r.verifier.Verify(ctx, assertion)
	if err != nil {
		r.reject(ctx, OpLink, errutil.Code(err), "account_id", current.ID.String())
		return err
	}

	if claim.Email != current.Email {
		r.reject(ctx, OpLink, "email_mismatch", "account_id", current.ID.String())
		return oops.Code(CodeEmailMismatch).
			Errorf("federated identity email must match the account email")
	}

	if current.HasFederatedSubject() {
		if *current.FederatedSubjectID == claim.SubjectID {
			return nil
		}
		r.reject(ctx, OpLink, "different_subject_linked", "account_id", current.ID.String())
		return oops.Code(CodeIdentityMismatch).
			Errorf("a different federated identity is already linked to this account")
	}

	holder, err := r.accounts.GetByFederatedSubjectID(ctx, claim.SubjectID)
	switch {
	case err == nil && holder.ID != current.ID:
		r.reject(ctx, OpLink, "subject_taken", "account_id", current.ID.String())
		return errSubjectAlreadyLinked()
	case err == nil:
		// The stored record already holds the subject; current was stale.
		*current = *holder.Clone()
		return nil
	case !errors.Is(err, ErrNotFound):
		return oops.Code("AUTH_LINK_FAILED").
			With("operation", "get account by federated subject").
			Wrap(err)
	}

	updated := current.Clone()
	updated.FederatedSubjectID = &claim.SubjectID
	updated.IsFederated = true
	updated.UpdatedAt = r.now()
	if err := r.accounts.Update(ctx, updated); err != nil {
		if errors.Is(err, ErrSubjectTaken) {
			r.reject(ctx, OpLink, "subject_taken", "account_id", current.ID.String())
			return errSubjectAlreadyLinked()
		}
		return oops.Code("AUTH_LINK_FAILED").
			With("operation", "update account").
			Wrap(err)
	}

	*current = *updated
	r.logger.InfoContext(ctx, "federated identity linked",
		"event", "federated_identity_linked",
		"account_id", current.ID.String(),
	)
	return nil
}

// ChangePassword replaces the password of an authenticated account after
// verifying the old one. On failure current is left unchanged.
func (r *Reconciler) ChangePassword(ctx context.Context, current *Account, oldPassword, newPassword string) (err error) {
	ctx, end := r.start(ctx, OpChangePassword)
	defer func() { end(err) }()

	if current == nil {
		return oops.Code(CodeInvalidInput).Errorf("current account is required")
	}
	if !current.HasPassword() {
		r.reject(ctx, OpChangePassword, "no_password", "account_id", current.ID.String())
		return oops.Code(CodeNoPasswordSet).Errorf("account has no password set")
	}

	valid, verifyErr := r.hasher.Verify(oldPassword, *current.PasswordHash)
	if verifyErr != nil {
		errutil.LogError(ctx, r.logger, "stored password hash could not be verified", verifyErr)
	}
	if !valid {
		r.reject(ctx, OpChangePassword, "incorrect_password", "account_id", current.ID.String())
		return oops.Code(CodeIncorrectPassword).Errorf("current password is incorrect")
	}

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	newHash, err := r.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	updated := current.Clone()
	updated.PasswordHash = &newHash
	updated.UpdatedAt = r.now()
	if err := r.accounts.Update(ctx, updated); err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "update account").
			Wrap(err)
	}

	*current = *updated
	r.logger.InfoContext(ctx, "password changed",
		"event", "password_changed",
		"account_id", current.ID.String(),
	)
	return nil
}

// Authenticate verifies a bearer token and loads the account it refers to.
// A token whose account was deleted, or whose email no longer matches the
// account, is rejected as invalid.
func (r *Reconciler) Authenticate(ctx context.Context, token string) (account *Account, err error) {
	ctx, end := r.start(ctx, OpAuthenticate)
	defer func() { end(err) }()

	claims, err := r.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	account, err = r.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.reject(ctx, OpAuthenticate, "account_deleted", "account_id", claims.AccountID.String())
			return nil, NewInvalidTokenError("account_not_found")
		}
		return nil, oops.Code("AUTH_AUTHENTICATE_FAILED").
			With("operation", "get account by id").
			Wrap(err)
	}

	if account.Email != claims.Email {
		r.reject(ctx, OpAuthenticate, "email_changed", "account_id", account.ID.String())
		return nil, NewInvalidTokenError("email_changed")
	}
	return account, nil
}

// UpdateProfile changes the display name and/or email of an authenticated
// account. A federated account's email is bound to its identity and cannot
// be changed. On failure current is left unchanged.
func (r *Reconciler) UpdateProfile(ctx context.Context, current *Account, update ProfileUpdate) (account *Account, err error) {
	ctx, end := r.start(ctx, OpUpdateProfile)
	defer func() { end(err) }()

	if current == nil {
		return nil, oops.Code(CodeInvalidInput).Errorf("current account is required")
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}

	updated := current.Clone()
	if update.DisplayName != nil {
		updated.DisplayName = *update.DisplayName
	}

	if update.Email != nil && *update.Email != current.Email {
		if current.IsFederated {
			r.reject(ctx, OpUpdateProfile, "federated_email_change", "account_id", current.ID.String())
			return nil, oops.Code(CodeEmailMismatch).
				Errorf("email of an account linked to a federated identity cannot be changed")
		}
		if _, err := r.accounts.GetByEmail(ctx, *update.Email); err == nil {
			r.reject(ctx, OpUpdateProfile, "email_exists", "account_id", current.ID.String())
			return nil, errEmailAlreadyRegistered(*update.Email)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_UPDATE_PROFILE_FAILED").
				With("operation", "get account by email").
				Wrap(err)
		}
		updated.Email = *update.Email
	}

	updated.UpdatedAt = r.now()
	if err := r.accounts.Update(ctx, updated); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			r.reject(ctx, OpUpdateProfile, "email_exists", "account_id", current.ID.String())
			return nil, errEmailAlreadyRegistered(updated.Email)
		}
		return nil, oops.Code("AUTH_UPDATE_PROFILE_FAILED").
			With("operation", "update account").
			Wrap(err)
	}

	*current = *updated
	r.logger.InfoContext(ctx, "profile updated",
		"event", "profile_updated",
		"account_id", current.ID.String(),
	)
	return current, nil
}

// DeleteAccount removes an authenticated account. Outstanding tokens stop
// authenticating because Authenticate no longer finds the account.
func (r *Reconciler) DeleteAccount(ctx context.Context, current *Account) (err error) {
	ctx, end := r.start(ctx, OpDeleteAccount)
	defer func() { end(err) }()

	if current == nil {
		return oops.Code(CodeInvalidInput).Errorf("current account is required")
	}
	if err := r.accounts.Delete(ctx, current.ID); err != nil {
		return oops.Code("AUTH_DELETE_FAILED").
			With("operation", "delete account").
			With("account_id", current.ID.String()).
			Wrap(err)
	}

	r.logger.InfoContext(ctx, "account deleted",
		"event", "account_deleted",
		"account_id", current.ID.String(),
	)
	return nil
}

func (r *Reconciler) issue(ctx context.Context, account *Account) (*Session, error) {
	token, claims, err := r.tokens.Issue(account.ID, account.Email, 0)
	if err != nil {
		return nil, oops.Code("AUTH_TOKEN_ISSUE_FAILED").
			With("operation", "issue token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	r.logger.InfoContext(ctx, "token issued",
		"event", "token_issued",
		"account_id", account.ID.String(),
		"expires_at", claims.ExpiresAt,
	)
	return &Session{Token: token, Claims: claims, Account: account}, nil
}

// reject logs a rejected attempt with its internal reason. The reason never
// reaches the caller.
func (r *Reconciler) reject(ctx context.Context, operation, reason string, attrs ...any) {
	args := append([]any{"event", operation + "_rejected", "reason", reason}, attrs...)
	r.logger.WarnContext(ctx, "auth attempt rejected", args...)
}

// start opens a span for the operation and returns a function that closes
// it and records the outcome.
func (r *Reconciler) start(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := r.tracer.Start(ctx, "auth."+operation)
	return ctx, func(err error) {
		outcome := OutcomeSuccess
		if err != nil {
			outcome = errutil.Code(err)
			if outcome == "" {
				outcome = "error"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			if KindOf(err) == KindInternal {
				errutil.LogError(ctx, r.logger, "auth operation failed", err)
			}
		}
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		span.End()
		r.recorder.RecordAuthOperation(operation, outcome)
	}
}
