// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package random generates the unguessable values carried through an OIDC
// authorization flow: the nonce, the state control and the PKCE code
// verifier.
package random

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-uuid"
)

const (
	// NonceLength is the number of random characters in a nonce, not
	// counting NoncePrefix.
	NonceLength = 40

	// NoncePrefix is prepended to every generated nonce.
	NoncePrefix = "N"

	// StateControlLength is the number of random characters in a state
	// control value, not counting StateControlPrefix.
	StateControlLength = 40

	// StateControlPrefix is prepended to every generated state control
	// value, so a generated one is always StateControlLength+1 characters.
	StateControlPrefix = "S"

	// CodeVerifierLength is the length of a PKCE code verifier. RFC 7636
	// allows 43 to 128 characters.
	CodeVerifierLength = 67
)

// alphabet is the subset of RFC 7636 unreserved characters used for every
// generated value. Providers echo these back unescaped.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// maxUnbiased is the largest multiple of len(alphabet) that fits in a byte.
// Bytes at or above it are rejected so every character is equally likely.
const maxUnbiased = 256 - (256 % len(alphabet))

// String returns n characters drawn uniformly from [A-Za-z0-9] using a
// cryptographically secure source.
//
// Supported options:
//   - WithReader
func String(n int, opt ...Option) (string, error) {
	const op = "random.String"
	if n <= 0 {
		return "", fmt.Errorf("%s: length must be greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)

	out := make([]byte, 0, n)
	for len(out) < n {
		// over-read a bit so one round almost always suffices
		buf, err := opts.read(n - len(out) + n/4 + 1)
		if err != nil {
			return "", fmt.Errorf("%s: %w: %s", op, ErrRandomUnavailable, err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// Nonce returns a new prefixed nonce.
func Nonce(opt ...Option) (string, error) {
	const op = "random.Nonce"
	s, err := String(NonceLength, opt...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return NoncePrefix + s, nil
}

// StateControl returns a new prefixed state control value.
func StateControl(opt ...Option) (string, error) {
	const op = "random.StateControl"
	s, err := String(StateControlLength, opt...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return StateControlPrefix + s, nil
}

// CodeVerifier returns a new PKCE code verifier.
func CodeVerifier(opt ...Option) (string, error) {
	const op = "random.CodeVerifier"
	s, err := String(CodeVerifierLength, opt...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withReader io.Reader
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

// read returns size bytes from the optional reader, or from go-uuid's
// crypto/rand backed generator when no reader was provided.
func (o options) read(size int) ([]byte, error) {
	if o.withReader == nil {
		return uuid.GenerateRandomBytes(size)
	}
	return uuid.GenerateRandomBytesWithReader(size, o.withReader)
}

// WithReader provides an optional source of randomness. It exists for tests;
// production callers should rely on the default secure source.
func WithReader(r io.Reader) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withReader = r
		}
	}
}
