// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package discovery

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoints is the subset of a provider's discovery document the relying
// party caches between flows. The JSON names are the cache format, not the
// discovery document's.
type Endpoints struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorizationEndpoint,omitempty"`
	TokenEndpoint         string `json:"tokenEndpoint,omitempty"`
	UserinfoEndpoint      string `json:"userInfoEndpoint,omitempty"`
	JWKSURI               string `json:"jwksUri,omitempty"`
	EndSessionEndpoint    string `json:"endSessionEndpoint,omitempty"`
	CheckSessionIframe    string `json:"checkSessionIframe,omitempty"`
}

// CheckSessionOrigin returns the scheme://host[:port] origin of the check
// session iframe endpoint. The host is lowercased and a default port is
// dropped. Messages are posted to, and only accepted from, this origin.
func (e *Endpoints) CheckSessionOrigin() (string, error) {
	const op = "Endpoints.CheckSessionOrigin"
	if e == nil || e.CheckSessionIframe == "" {
		return "", fmt.Errorf("%s: %w", op, ErrMissingCheckSession)
	}
	return origin(e.CheckSessionIframe)
}

func origin(raw string) (string, error) {
	const op = "discovery.origin"
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%s: unable to parse %q: %w", op, raw, ErrInvalidEndpointOrigin)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s: %q is not absolute: %w", op, raw, ErrInvalidEndpointOrigin)
	}
	// serialized the way a browser reports MessageEvent.origin
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		host += ":" + port
	}
	return scheme + "://" + host, nil
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}
