// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package httpapi_test

import (
	"github.com/samber/oops"

	"github.com/adega/adega/internal/auth"
)

func errUnavailable() error {
	return oops.Code(auth.CodeVerificationUnavailable).Errorf("keys unavailable")
}
