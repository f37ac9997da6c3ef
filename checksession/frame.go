// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package checksession

import "github.com/hashicorp/cap-rp/events"

// Frame is a handle to a hidden iframe owned by the hosting document.
type Frame interface {
	// ID returns the frame's element id.
	ID() string

	// Navigate points the frame at src.
	Navigate(src string) error

	// PostMessage posts message into the frame's content window, addressed
	// to targetOrigin. It doesn't wait for a reply.
	PostMessage(message, targetOrigin string) error
}

// FrameProvisioner creates and finds frames in the hosting document.
// Frames it creates must be hidden (display: none).
type FrameProvisioner interface {
	// AddFrameToDocumentBody creates a hidden frame with the element id.
	AddFrameToDocumentBody(id string) (Frame, error)

	// ExistingFrameByID returns the frame with the element id, if there is
	// one.
	ExistingFrameByID(id string) (Frame, bool)
}

// MessageEvent is a message delivered to the hosting window.
type MessageEvent struct {
	// Origin is the scheme://host[:port] of the sender.
	Origin string

	// Source is the frame the message came from, when known.
	Source Frame

	// Data is the message payload.
	Data string
}

// Window is the hosting window messages are delivered to.
type Window interface {
	// AddMessageListener registers fn for every message delivered to the
	// window and returns a function that removes it.
	AddMessageListener(fn func(MessageEvent)) (remove func())
}

// Publisher receives the engine's notifications. *events.Bus satisfies it.
type Publisher interface {
	Publish(events.Event)
}
