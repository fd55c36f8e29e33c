// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

// Package auth provides account authentication and identity reconciliation
// for Adega.
//
// # Domain Types
//
// Accounts should be created using their constructors:
//   - NewPasswordAccount - a locally registered account with a password hash
//   - NewFederatedAccount - an account backed only by a federated identity
//
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Services
//
//   - PasswordHasher - argon2id hashing, with legacy bcrypt verification
//   - TokenService - stateless HMAC-signed bearer tokens
//   - IdentityVerifier - federated assertion verification (see package google)
//   - Reconciler - register, login, federated login, linking and password changes
//
// Every failure is returned as an oops error carrying one of the Code*
// constants; KindOf groups those codes for callers mapping them to a protocol.
package auth
