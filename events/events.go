// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package events carries relying party notifications to the application.
package events

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Type identifies an Event.
type Type int

const (
	// SessionChanged is raised when the provider reports that the user's
	// session changed, e.g. a logout in another application.
	SessionChanged Type = iota + 1
)

// String returns the name of the Type.
func (t Type) String() string {
	switch t {
	case SessionChanged:
		return "SessionChanged"
	default:
		return "Unknown"
	}
}

// Event is a notification. Data is optional.
type Event struct {
	Type Type
	Data string
}

// DefaultSubscriberBuffer is the channel capacity of each subscription.
const DefaultSubscriberBuffer = 16

// Bus fans events out to subscribers. Publish never blocks: a subscriber that
// isn't keeping up misses events.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	logger hclog.Logger
}

// NewBus creates a Bus.
//
// Supported options:
//   - WithLogger
//   - WithBuffer
func NewBus(opt ...Option) *Bus {
	opts := getOpts(opt...)
	return &Bus{
		subs:   map[int]chan Event{},
		buffer: opts.withBuffer,
		logger: opts.withLogger,
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish sends e to every current subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Trace("subscriber is full, dropping event", "subscriber", id, "event", e.Type.String())
		}
	}
}

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withLogger hclog.Logger
	withBuffer int
}

func getOpts(opt ...Option) options {
	opts := options{
		withLogger: hclog.NewNullLogger(),
		withBuffer: DefaultSubscriberBuffer,
	}
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithBuffer provides an optional capacity for subscription channels.
func WithBuffer(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && n >= 0 {
			o.withBuffer = n
		}
	}
}
