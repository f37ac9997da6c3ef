// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-memory Storage. It is concurrently safe and may be shared
// by several flow stores to model tabs on one storage origin. The zero value
// is ready to use.
type Memory struct {
	m sync.Mutex
	c map[Key]string
}

// ensure that Memory implements the Storage interface
var _ Storage = (*Memory)(nil)

// NewMemory creates an empty Memory.
func NewMemory() *Memory {
	return &Memory{
		c: map[Key]string{},
	}
}

// Read implements the Storage interface.
func (s *Memory) Read(_ context.Context, key Key) (string, bool, error) {
	const op = "Memory.Read"
	if key == "" {
		return "", false, fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	s.m.Lock()
	defer s.m.Unlock()
	v, ok := s.c[key]
	return v, ok, nil
}

// Write implements the Storage interface.
func (s *Memory) Write(_ context.Context, key Key, value string) error {
	const op = "Memory.Write"
	if key == "" {
		return fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	s.m.Lock()
	defer s.m.Unlock()
	if s.c == nil {
		s.c = map[Key]string{}
	}
	s.c[key] = value
	return nil
}

// ResetFlowData implements the Storage interface.
func (s *Memory) ResetFlowData(_ context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()
	for _, k := range FlowKeys() {
		delete(s.c, k)
	}
	return nil
}
