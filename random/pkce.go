// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package random

import (
	"fmt"

	"golang.org/x/oauth2"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 code challenge method
	S256 ChallengeMethod = "S256"

	// Plain sends the verifier as its own challenge
	Plain ChallengeMethod = "plain"
)

// CodeChallenge derives the code_challenge sent with the authorization
// request from a code verifier.
func CodeChallenge(method ChallengeMethod, verifier string) (string, error) {
	const op = "random.CodeChallenge"
	if verifier == "" {
		return "", fmt.Errorf("%s: verifier is empty: %w", op, ErrInvalidParameter)
	}
	switch method {
	case S256:
		return oauth2.S256ChallengeFromVerifier(verifier), nil
	case Plain:
		return verifier, nil
	default:
		return "", fmt.Errorf("%s: %q: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}
