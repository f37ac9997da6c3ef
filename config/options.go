// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// configOptions is the set of available options for NewConfig
type configOptions struct {
	withSilentRenewTimeout    time.Duration
	withStartCheckSession     bool
	withIframeRefreshInterval time.Duration
	withHeartbeatInterval     time.Duration
	withLogger                hclog.Logger
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{
		withSilentRenewTimeout:    DefaultSilentRenewTimeout,
		withIframeRefreshInterval: DefaultIframeRefreshInterval,
		withHeartbeatInterval:     DefaultHeartbeatInterval,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSilentRenewTimeout provides an optional duration after which a
// "running" silent renew record is considered stale.
func WithSilentRenewTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSilentRenewTimeout = d
		}
	}
}

// WithStartCheckSession enables the check session engine.
func WithStartCheckSession(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withStartCheckSession = enabled
		}
	}
}

// WithIframeRefreshInterval provides an optional minimum duration between
// re-navigations of the check session iframe.
func WithIframeRefreshInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withIframeRefreshInterval = d
		}
	}
}

// WithHeartbeatInterval provides an optional duration between check session
// polls.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withHeartbeatInterval = d
		}
	}
}

// WithLogger provides an optional logger shared by every component built
// from the Config.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogger = l
		}
	}
}
