// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package checksession

import (
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// engineOptions is the set of available options for New
type engineOptions struct {
	withClock   clockwork.Clock
	withLogger  hclog.Logger
	withFrameID string
}

func engineDefaults() engineOptions {
	return engineOptions{
		withClock:   clockwork.NewRealClock(),
		withFrameID: FrameID,
	}
}

func getOpts(opt ...Option) engineOptions {
	opts := engineDefaults()
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithClock provides an optional clock driving the heartbeat and the iframe
// refresh interval.
func WithClock(clock clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*engineOptions); ok && clock != nil {
			o.withClock = clock
		}
	}
}

// WithLogger provides an optional logger, overriding the Config's.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*engineOptions); ok {
			o.withLogger = l
		}
	}
}

// WithFrameID provides an optional iframe element id. FrameID is used by
// default.
func WithFrameID(id string) Option {
	return func(o interface{}) {
		if o, ok := o.(*engineOptions); ok && id != "" {
			o.withFrameID = id
		}
	}
}
