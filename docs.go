// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// caprp (cap relying party) provides the browser-side state an OIDC relying
// party keeps between an authorization request and its callback: the nonce,
// the state control and the PKCE code verifier, a guard against concurrent
// silent renewals, and an OIDC Session Management check session engine.
//
// See the config, flow and checksession packages.
package caprp
