// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package authtest

import "github.com/adega/adega/internal/auth"

// FastArgon2Params are minimal argon2id costs for tests.
var FastArgon2Params = auth.Argon2Params{
	Time:    1,
	Memory:  1024,
	Threads: 1,
	SaltLen: 16,
	KeyLen:  32,
}

// NewFastHasher returns a real argon2id hasher with FastArgon2Params.
func NewFastHasher() *auth.Argon2idHasher {
	h, err := auth.NewArgon2idHasherWithParams(FastArgon2Params)
	if err != nil {
		panic(err)
	}
	return h
}

// TestTokenSecret is a token secret long enough for auth.NewTokenService.
var TestTokenSecret = []byte("adega-test-secret-0123456789abcdef")
