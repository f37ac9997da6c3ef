// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package flow persists the per-flow secrets of an OIDC authorization attempt
// and guards silent token renewal so at most one runs at a time.
package flow

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/cap-rp/config"
	"github.com/hashicorp/cap-rp/discovery"
	"github.com/hashicorp/cap-rp/random"
	"github.com/hashicorp/cap-rp/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Store is a typed view over a storage.Storage. It owns the key each piece
// of flow state lives under and how it's serialized.
type Store struct {
	storage storage.Storage
	config  *config.Config
	clock   clockwork.Clock
	logger  hclog.Logger
	randOpt []random.Option
}

// NewStore creates a Store.
//
// Supported options:
//   - WithClock
//   - WithLogger
//   - WithRandomReader
func NewStore(s storage.Storage, c *config.Config, opt ...Option) (*Store, error) {
	const op = "flow.NewStore"
	if s == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getStoreOpts(opt...)
	st := &Store{
		storage: s,
		config:  c,
		clock:   opts.withClock,
		logger:  opts.withLogger,
	}
	if st.logger == nil {
		st.logger = c.NamedLogger("flow")
	}
	if opts.withRandomReader != nil {
		st.randOpt = append(st.randOpt, random.WithReader(opts.withRandomReader))
	}
	return st, nil
}

// read returns "" when nothing is stored.
func (s *Store) read(ctx context.Context, key storage.Key) (string, error) {
	const op = "Store.read"
	v, _, err := s.storage.Read(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%s: unable to read %s: %w", op, key, err)
	}
	return v, nil
}

func (s *Store) write(ctx context.Context, key storage.Key, value string) error {
	const op = "Store.write"
	if err := s.storage.Write(ctx, key, value); err != nil {
		return fmt.Errorf("%s: unable to write %s: %w", op, key, err)
	}
	return nil
}

// CreateNonce generates a new nonce and persists it, replacing any prior
// nonce.
func (s *Store) CreateNonce(ctx context.Context) (string, error) {
	const op = "Store.CreateNonce"
	nonce, err := random.Nonce(s.randOpt...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("nonce created")
	if err := s.SetNonce(ctx, nonce); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return nonce, nil
}

// Nonce returns the stored nonce, or "" when there isn't one.
func (s *Store) Nonce(ctx context.Context) (string, error) {
	return s.read(ctx, storage.KeyNonce)
}

// SetNonce persists nonce.
func (s *Store) SetNonce(ctx context.Context, nonce string) error {
	return s.write(ctx, storage.KeyNonce, nonce)
}

// AuthStateControl returns the stored state control, or "" when there isn't
// one.
func (s *Store) AuthStateControl(ctx context.Context) (string, error) {
	return s.read(ctx, storage.KeyStateControl)
}

// SetAuthStateControl persists the state control.
func (s *Store) SetAuthStateControl(ctx context.Context, stateControl string) error {
	return s.write(ctx, storage.KeyStateControl, stateControl)
}

// GetExistingOrCreateAuthStateControl returns the stored state control
// unchanged when there is one. Otherwise a new one is generated and
// persisted. Reusing the stored value keeps a page reload in the middle of a
// flow from producing a state mismatch.
func (s *Store) GetExistingOrCreateAuthStateControl(ctx context.Context) (string, error) {
	const op = "Store.GetExistingOrCreateAuthStateControl"
	existing, err := s.AuthStateControl(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if existing != "" {
		return existing, nil
	}
	stateControl, err := random.StateControl(s.randOpt...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("auth state control created")
	if err := s.SetAuthStateControl(ctx, stateControl); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return stateControl, nil
}

// ValidateStateControl compares the state the provider returned with the
// stored state control.
func (s *Store) ValidateStateControl(ctx context.Context, returned string) error {
	const op = "Store.ValidateStateControl"
	stored, err := s.AuthStateControl(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if stored == "" {
		return fmt.Errorf("%s: no state control stored: %w", op, ErrNotFound)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(returned)) != 1 {
		s.logger.Warn("returned state does not match the stored state control")
		return fmt.Errorf("%s: %w", op, ErrStateMismatch)
	}
	return nil
}

// SessionState returns the provider's session_state, or "" when there isn't
// one.
func (s *Store) SessionState(ctx context.Context) (string, error) {
	return s.read(ctx, storage.KeySessionState)
}

// SetSessionState persists the provider's session_state.
func (s *Store) SetSessionState(ctx context.Context, sessionState string) error {
	return s.write(ctx, storage.KeySessionState, sessionState)
}

// CreateCodeVerifier generates a new PKCE code verifier and persists it.
func (s *Store) CreateCodeVerifier(ctx context.Context) (string, error) {
	const op = "Store.CreateCodeVerifier"
	verifier, err := random.CodeVerifier(s.randOpt...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := s.write(ctx, storage.KeyCodeVerifier, verifier); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return verifier, nil
}

// CodeVerifier returns the stored PKCE code verifier, or "" when there isn't
// one.
func (s *Store) CodeVerifier(ctx context.Context) (string, error) {
	return s.read(ctx, storage.KeyCodeVerifier)
}

// WellKnownEndpoints returns the cached discovery endpoints. ok is false when
// nothing is cached.
func (s *Store) WellKnownEndpoints(ctx context.Context) (*discovery.Endpoints, bool, error) {
	const op = "Store.WellKnownEndpoints"
	raw, err := s.read(ctx, storage.KeyWellKnownEndpoints)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if raw == "" {
		return nil, false, nil
	}
	var ep discovery.Endpoints
	if err := json.Unmarshal([]byte(raw), &ep); err != nil {
		return nil, false, fmt.Errorf("%s: unable to decode cached endpoints: %w", op, err)
	}
	return &ep, true, nil
}

// SetWellKnownEndpoints caches the discovery endpoints.
func (s *Store) SetWellKnownEndpoints(ctx context.Context, ep *discovery.Endpoints) error {
	const op = "Store.SetWellKnownEndpoints"
	if ep == nil {
		return fmt.Errorf("%s: endpoints are nil: %w", op, ErrNilParameter)
	}
	raw, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("%s: unable to encode endpoints: %w", op, err)
	}
	return s.write(ctx, storage.KeyWellKnownEndpoints, string(raw))
}

// ResetFlowData clears every flow scoped value in one operation. It's how a
// flow is abandoned or restarted.
func (s *Store) ResetFlowData(ctx context.Context) error {
	const op = "Store.ResetFlowData"
	if err := s.storage.ResetFlowData(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
