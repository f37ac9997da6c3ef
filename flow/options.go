// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// storeOptions is the set of available options for Store functions
type storeOptions struct {
	withClock        clockwork.Clock
	withLogger       hclog.Logger
	withRandomReader io.Reader
}

func storeDefaults() storeOptions {
	return storeOptions{
		withClock: clockwork.NewRealClock(),
	}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithClock provides an optional clock used when recording and checking the
// silent renew launch time.
func WithClock(clock clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && clock != nil {
			o.withClock = clock
		}
	}
}

// WithLogger provides an optional logger, overriding the Config's.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withLogger = l
		}
	}
}

// WithRandomReader provides an optional source of randomness for generated
// secrets. It exists for tests.
func WithRandomReader(r io.Reader) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withRandomReader = r
		}
	}
}
