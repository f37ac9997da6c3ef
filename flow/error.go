// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import "errors"

var (
	ErrNilParameter  = errors.New("nil parameter")
	ErrNotFound      = errors.New("not found")
	ErrStateMismatch = errors.New("returned state does not match the stored state control")
)
