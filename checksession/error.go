// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package checksession

import "errors"

var (
	ErrNilParameter        = errors.New("nil parameter")
	ErrFrameUnavailable    = errors.New("check session iframe does not exist")
	ErrEndpointsNotCached  = errors.New("well known endpoints are not cached")
	ErrCheckSessionMissing = errors.New("check session iframe endpoint is not configured")
)
