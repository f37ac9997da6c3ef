// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package discovery fetches the provider endpoints the relying party needs,
// most importantly the OIDC Session Management check_session_iframe.
package discovery

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// providerClaims are the discovery document fields go-oidc doesn't expose
// through its own accessors.
type providerClaims struct {
	JWKSURI            string `json:"jwks_uri"`
	UserinfoEndpoint   string `json:"userinfo_endpoint"`
	EndSessionEndpoint string `json:"end_session_endpoint"`
	CheckSessionIframe string `json:"check_session_iframe"`
}

// Discover makes an http request to the issuer's discovery endpoint and
// returns the endpoints found there.
//
// Supported options:
//   - WithProviderCA
//   - WithHTTPClient
func Discover(ctx context.Context, issuer string, opt ...Option) (*Endpoints, error) {
	const op = "discovery.Discover"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	if _, err := origin(issuer); err != nil {
		return nil, fmt.Errorf("%s: issuer %s is invalid: %w", op, issuer, ErrInvalidParameter)
	}
	opts := getOpts(opt...)

	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = NewHTTPClient(opts.withProviderCA); err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), issuer) // makes http req to issuer for discovery
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrDiscoveryFailed, err)
	}
	var claims providerClaims
	if err := provider.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to read provider claims: %w: %s", op, ErrDiscoveryFailed, err)
	}
	ep := provider.Endpoint()
	return &Endpoints{
		Issuer:                issuer,
		AuthorizationEndpoint: ep.AuthURL,
		TokenEndpoint:         ep.TokenURL,
		UserinfoEndpoint:      claims.UserinfoEndpoint,
		JWKSURI:               claims.JWKSURI,
		EndSessionEndpoint:    claims.EndSessionEndpoint,
		CheckSessionIframe:    claims.CheckSessionIframe,
	}, nil
}

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withProviderCA string
	withHTTPClient *http.Client
}

func getOpts(opt ...Option) options {
	opts := options{}
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithProviderCA provides an optional CA cert to use when sending requests to
// the provider.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withProviderCA = cert
		}
	}
}

// WithHTTPClient provides an optional http client, which takes precedence
// over WithProviderCA.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withHTTPClient = c
		}
	}
}
