// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package checksession

import (
	"errors"
	"sync"
)

// TestPostedMessage is a message posted into a TestFrame.
type TestPostedMessage struct {
	Message      string
	TargetOrigin string
}

// TestFrame is an in-memory Frame which records what the engine does to it.
// When Reply is set, it's called for every posted message, which lets tests
// play the provider's part.
type TestFrame struct {
	id     string
	hidden bool

	mu          sync.Mutex
	navigations []string
	posted      []TestPostedMessage
	navigateErr error
	postErr     error
	reply       func(TestPostedMessage)
}

// ensure that TestFrame implements the Frame interface
var _ Frame = (*TestFrame)(nil)

// NewTestFrame creates a hidden TestFrame.
func NewTestFrame(id string) *TestFrame {
	return &TestFrame{id: id, hidden: true}
}

// ID implements the Frame interface.
func (f *TestFrame) ID() string { return f.id }

// Hidden reports whether the frame is styled display: none.
func (f *TestFrame) Hidden() bool { return f.hidden }

// Navigate implements the Frame interface.
func (f *TestFrame) Navigate(src string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navigateErr != nil {
		return f.navigateErr
	}
	f.navigations = append(f.navigations, src)
	return nil
}

// PostMessage implements the Frame interface.
func (f *TestFrame) PostMessage(message, targetOrigin string) error {
	f.mu.Lock()
	if f.postErr != nil {
		f.mu.Unlock()
		return f.postErr
	}
	m := TestPostedMessage{Message: message, TargetOrigin: targetOrigin}
	f.posted = append(f.posted, m)
	reply := f.reply
	f.mu.Unlock()

	if reply != nil {
		reply(m)
	}
	return nil
}

// SetReply sets a function called with every posted message.
func (f *TestFrame) SetReply(fn func(TestPostedMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply = fn
}

// SetNavigateError makes Navigate fail with err.
func (f *TestFrame) SetNavigateError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigateErr = err
}

// SetPostError makes PostMessage fail with err.
func (f *TestFrame) SetPostError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postErr = err
}

// Navigations returns every src the frame was navigated to.
func (f *TestFrame) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// Posted returns every message posted into the frame.
func (f *TestFrame) Posted() []TestPostedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TestPostedMessage(nil), f.posted...)
}

// ErrTestProvisionerDisabled is returned by a disabled TestProvisioner.
var ErrTestProvisionerDisabled = errors.New("test provisioner cannot create frames")

// TestProvisioner is an in-memory FrameProvisioner standing in for the
// hosting document.
type TestProvisioner struct {
	mu       sync.Mutex
	frames   map[string]*TestFrame
	created  int
	disabled bool
}

// ensure that TestProvisioner implements the FrameProvisioner interface
var _ FrameProvisioner = (*TestProvisioner)(nil)

// NewTestProvisioner creates an empty TestProvisioner.
func NewTestProvisioner() *TestProvisioner {
	return &TestProvisioner{frames: map[string]*TestFrame{}}
}

// AddFrameToDocumentBody implements the FrameProvisioner interface.
func (p *TestProvisioner) AddFrameToDocumentBody(id string) (Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled {
		return nil, ErrTestProvisionerDisabled
	}
	f := NewTestFrame(id)
	p.frames[id] = f
	p.created++
	return f, nil
}

// ExistingFrameByID implements the FrameProvisioner interface.
func (p *TestProvisioner) ExistingFrameByID(id string) (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.frames[id]
	if !ok {
		return nil, false
	}
	return f, true
}

// Frame returns the TestFrame with the id, or nil.
func (p *TestProvisioner) Frame(id string) *TestFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames[id]
}

// Created returns how many frames AddFrameToDocumentBody created.
func (p *TestProvisioner) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Disable makes AddFrameToDocumentBody fail.
func (p *TestProvisioner) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = true
}

// TestWindow is an in-memory Window. Dispatch delivers a message to every
// registered listener.
type TestWindow struct {
	mu        sync.Mutex
	listeners map[int]func(MessageEvent)
	nextID    int
	added     int
}

// ensure that TestWindow implements the Window interface
var _ Window = (*TestWindow)(nil)

// NewTestWindow creates a TestWindow without listeners.
func NewTestWindow() *TestWindow {
	return &TestWindow{listeners: map[int]func(MessageEvent){}}
}

// AddMessageListener implements the Window interface.
func (w *TestWindow) AddMessageListener(fn func(MessageEvent)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.added++
	w.listeners[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	}
}

// Dispatch delivers ev to every listener.
func (w *TestWindow) Dispatch(ev MessageEvent) {
	w.mu.Lock()
	fns := make([]func(MessageEvent), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Listeners returns the number of registered listeners.
func (w *TestWindow) Listeners() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners)
}

// ListenersAdded returns how many listeners were ever registered.
func (w *TestWindow) ListenersAdded() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.added
}
