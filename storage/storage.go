// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package storage defines the key-value persistence the relying party keeps
// its per-flow state in, along with the canonical key names.
package storage

import (
	"context"
	"errors"
)

// Key is a canonical storage key.
type Key string

const (
	KeyNonce              Key = "authNonce"
	KeyStateControl       Key = "authStateControl"
	KeySessionState       Key = "session_state"
	KeyCodeVerifier       Key = "codeVerifier"
	KeySilentRenewRunning Key = "storageSilentRenewRunning"
	KeyWellKnownEndpoints Key = "authWellKnownEndPoints"
)

// FlowKeys returns the keys cleared by ResetFlowData. The cached discovery
// document is not flow scoped and survives a reset.
func FlowKeys() []Key {
	return []Key{
		KeyNonce,
		KeyStateControl,
		KeySessionState,
		KeyCodeVerifier,
		KeySilentRenewRunning,
	}
}

// ErrInvalidParameter is returned for an empty key.
var ErrInvalidParameter = errors.New("invalid parameter")

// Storage is the persistence collaborator. Implementations are usually
// shared by several relying party instances (browser tabs, processes) on the
// same origin and must be concurrently safe. No locking is expected beyond
// what's needed to keep a single Read or Write consistent.
type Storage interface {
	// Read returns the value stored for key. ok is false when nothing is
	// stored.
	Read(ctx context.Context, key Key) (value string, ok bool, err error)

	// Write stores value under key, replacing any prior value.
	Write(ctx context.Context, key Key, value string) error

	// ResetFlowData clears every key returned by FlowKeys in one operation.
	ResetFlowData(ctx context.Context) error
}
