// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package random

import "errors"

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrRandomUnavailable          = errors.New("secure random source unavailable")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
)
