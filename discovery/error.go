// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package discovery

import "errors"

var (
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrInvalidCACert         = errors.New("invalid CA certificate")
	ErrMissingCheckSession   = errors.New("check session iframe endpoint is missing")
	ErrDiscoveryFailed       = errors.New("provider discovery failed")
	ErrInvalidEndpointOrigin = errors.New("endpoint has no usable origin")
)
