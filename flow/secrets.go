// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/cap-rp/random"
	"golang.org/x/oauth2"
)

// Secrets are the values bound to one authorization attempt.
type Secrets struct {
	Nonce           string
	StateControl    string
	CodeVerifier    string
	CodeChallenge   string
	ChallengeMethod random.ChallengeMethod
}

// CreateFlowSecrets creates a nonce and a code verifier and gets or creates
// the state control, persisting all three.
func (s *Store) CreateFlowSecrets(ctx context.Context) (*Secrets, error) {
	const op = "Store.CreateFlowSecrets"
	nonce, err := s.CreateNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	stateControl, err := s.GetExistingOrCreateAuthStateControl(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	verifier, err := s.CreateCodeVerifier(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	challenge, err := random.CodeChallenge(random.S256, verifier)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Secrets{
		Nonce:           nonce,
		StateControl:    stateControl,
		CodeVerifier:    verifier,
		CodeChallenge:   challenge,
		ChallengeMethod: random.S256,
	}, nil
}

// AuthCodeOptions returns the nonce and PKCE parameters of the authorization
// request. The state control is passed to oauth2.Config.AuthCodeURL
// directly, see AuthCodeURL.
func (s *Secrets) AuthCodeOptions() []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oidc.Nonce(s.Nonce),
		oauth2.SetAuthURLParam("code_challenge", s.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", string(s.ChallengeMethod)),
	}
}

// AuthCodeURL returns the authorization request URL for c carrying these
// secrets.
func (s *Secrets) AuthCodeURL(c *oauth2.Config) string {
	return c.AuthCodeURL(s.StateControl, s.AuthCodeOptions()...)
}
