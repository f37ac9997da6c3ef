// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultSilentRenewTimeout is used when WithSilentRenewTimeout is not
	// provided.
	DefaultSilentRenewTimeout = 20 * time.Second

	// DefaultIframeRefreshInterval is used when WithIframeRefreshInterval is
	// not provided.
	DefaultIframeRefreshInterval = 60 * time.Second

	// DefaultHeartbeatInterval is used when WithHeartbeatInterval is not
	// provided.
	DefaultHeartbeatInterval = 3 * time.Second
)

// Config represents the relying party settings consulted by the flow state
// store, the silent renew guard and the check session engine.
type Config struct {
	// ClientID is the relying party id. It's sent to the provider's check
	// session endpoint along with the current session_state.
	ClientID string

	// SilentRenewTimeout is how long a "running" silent renew record stays
	// valid before it's treated as abandoned.
	SilentRenewTimeout time.Duration

	// StartCheckSession enables the check session engine.
	StartCheckSession bool

	// IframeRefreshInterval is the minimum time between re-navigations of
	// the check session iframe.
	IframeRefreshInterval time.Duration

	// HeartbeatInterval is the time between check session polls.
	HeartbeatInterval time.Duration

	// Logger is used by every component built from this Config. It defaults
	// to a null logger.
	Logger hclog.Logger
}

// NewConfig composes a new Config.
//
// Supported options:
//   - WithSilentRenewTimeout
//   - WithStartCheckSession
//   - WithIframeRefreshInterval
//   - WithHeartbeatInterval
//   - WithLogger
func NewConfig(clientID string, opt ...Option) (*Config, error) {
	const op = "config.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientID:              clientID,
		SilentRenewTimeout:    opts.withSilentRenewTimeout,
		StartCheckSession:     opts.withStartCheckSession,
		IframeRefreshInterval: opts.withIframeRefreshInterval,
		HeartbeatInterval:     opts.withHeartbeatInterval,
		Logger:                opts.withLogger,
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// Validate the Config. Every problem found is reported, not just the first.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter))
	}
	if c.SilentRenewTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s: silent renew timeout must be greater than zero: %w", op, ErrInvalidParameter))
	}
	if c.IframeRefreshInterval < 0 {
		result = multierror.Append(result, fmt.Errorf("%s: iframe refresh interval is negative: %w", op, ErrInvalidParameter))
	}
	if c.StartCheckSession && c.HeartbeatInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s: heartbeat interval must be greater than zero: %w", op, ErrInvalidParameter))
	}
	return result.ErrorOrNil()
}

// NamedLogger returns a sub-logger of the Config's Logger, or a null logger
// when none is set.
func (c *Config) NamedLogger(name string) hclog.Logger {
	if c == nil || c.Logger == nil {
		return hclog.NewNullLogger()
	}
	return c.Logger.Named(name)
}
