// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package checksession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/cap-rp/config"
	"github.com/hashicorp/cap-rp/discovery"
	"github.com/hashicorp/cap-rp/events"
	"github.com/hashicorp/cap-rp/flow"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

const (
	// FrameID is the element id of the check session iframe.
	FrameID = "myiFrameForCheckSession"

	// MessageChanged is the provider's reply when the session changed.
	MessageChanged = "changed"

	// MessageUnchanged is the provider's reply when the session is the same.
	MessageUnchanged = "unchanged"

	// MessageError is the provider's reply when it couldn't check the
	// session, e.g. a malformed message.
	MessageError = "error"

	// maxOutstandingMessages is how many unanswered polls are tolerated
	// before the engine logs that the provider looks unreachable.
	maxOutstandingMessages = 3
)

// heartbeat is the handle of a scheduled poll loop.
type heartbeat struct {
	ticker clockwork.Ticker
	cancel context.CancelFunc
	done   chan struct{}

	// publishing is set, under Engine.mu, while the loop publishes outside
	// of a poll.
	publishing bool
}

// Engine implements OIDC Session Management's relying party side. It keeps a
// hidden iframe pointed at the provider's check_session_iframe endpoint,
// periodically posts "client_id session_state" into it and classifies the
// provider's replies.
//
// Replies aren't correlated to polls. Only the most recent "changed" matters.
type Engine struct {
	config    *config.Config
	store     *flow.Store
	frames    FrameProvisioner
	window    Window
	publisher Publisher
	clock     clockwork.Clock
	logger    hclog.Logger
	frameID   string

	// pollMu serializes polls, mu guards the fields below it. Frames are
	// never called with mu held, so a frame may deliver replies inline.
	// Changes reported inline are published once the poll is over.
	pollMu sync.Mutex

	mu                   sync.Mutex
	frame                Frame
	lastIframeRefresh    time.Time
	outstandingMessages  int
	checkSessionReceived bool
	expectedOrigin       string
	heartbeat            *heartbeat
	removeListener       func()
	posting              bool
	pendingChange        bool
}

// New creates an Engine. The publisher may be nil, in which case changes are
// only observable through ServerStateChanged.
//
// Supported options:
//   - WithClock
//   - WithLogger
//   - WithFrameID
func New(c *config.Config, store *flow.Store, frames FrameProvisioner, window Window, publisher Publisher, opt ...Option) (*Engine, error) {
	const op = "checksession.New"
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case store == nil:
		return nil, fmt.Errorf("%s: flow store is nil: %w", op, ErrNilParameter)
	case frames == nil:
		return nil, fmt.Errorf("%s: frame provisioner is nil: %w", op, ErrNilParameter)
	case window == nil:
		return nil, fmt.Errorf("%s: window is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	e := &Engine{
		config:    c,
		store:     store,
		frames:    frames,
		window:    window,
		publisher: publisher,
		clock:     opts.withClock,
		logger:    opts.withLogger,
		frameID:   opts.withFrameID,
	}
	if e.logger == nil {
		e.logger = c.NamedLogger("checksession")
	}
	return e, nil
}

// Start schedules the heartbeat and polls once right away. It's a no-op when
// the engine is already started or the Config doesn't enable check session.
// Cancelling ctx stops the heartbeat like Stop does.
func (e *Engine) Start(ctx context.Context, clientID string) {
	if !e.config.StartCheckSession {
		e.logger.Debug("check session is not enabled, not starting")
		return
	}

	e.mu.Lock()
	if e.heartbeat != nil {
		e.mu.Unlock()
		return
	}
	if e.removeListener == nil {
		e.removeListener = e.window.AddMessageListener(e.HandleMessage)
	}
	hbCtx, cancel := context.WithCancel(ctx)
	hb := &heartbeat{
		ticker: e.clock.NewTicker(e.config.HeartbeatInterval),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.heartbeat = hb
	e.outstandingMessages = 0
	e.mu.Unlock()

	e.logger.Debug("starting check session", "client_id", clientID, "interval", e.config.HeartbeatInterval)
	changed := e.pollServerSession(hbCtx, clientID)
	go e.runHeartbeat(hbCtx, hb, clientID)
	if changed {
		e.publishChanged()
	}
}

func (e *Engine) runHeartbeat(ctx context.Context, hb *heartbeat, clientID string) {
	defer close(hb.done)
	defer func() {
		hb.ticker.Stop()
		e.mu.Lock()
		defer e.mu.Unlock()
		// the parent ctx may have been cancelled without a Stop
		if e.heartbeat == hb {
			e.heartbeat = nil
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hb.ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			if e.pollServerSession(ctx, clientID) {
				e.mu.Lock()
				hb.publishing = true
				e.mu.Unlock()
				e.publishChanged()
				e.mu.Lock()
				hb.publishing = false
				e.mu.Unlock()
			}
		}
	}
}

// Stop cancels the heartbeat. Messages already posted can't be retracted,
// and replies to them are still handled. It's a no-op when the engine isn't
// started. No poll runs after Stop returns. Stop may be called by the
// Publisher.
func (e *Engine) Stop() {
	e.mu.Lock()
	hb := e.heartbeat
	if hb == nil {
		e.mu.Unlock()
		return
	}
	e.heartbeat = nil
	// the loop is between polls and checks ctx before the next one
	publishing := hb.publishing
	e.mu.Unlock()

	hb.cancel()
	if !publishing {
		<-hb.done
	}
	e.logger.Debug("stopped check session")
}

// Close stops the engine and removes its message listener. The iframe stays
// in the document and is reused by a later Start of a new engine.
func (e *Engine) Close() {
	e.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removeListener != nil {
		e.removeListener()
		e.removeListener = nil
	}
	e.frame = nil
}

// Running reports whether the heartbeat is scheduled.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.heartbeat != nil
}

// ServerStateChanged reports whether the provider said the session changed.
// It's always false when check session isn't enabled.
func (e *Engine) ServerStateChanged() bool {
	if !e.config.StartCheckSession {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkSessionReceived
}

// OutstandingMessages returns the number of polls posted since the last
// accepted reply. Every accepted reply, whatever its data, resets it to
// zero. It's diagnostic only and never stops a poll.
func (e *Engine) OutstandingMessages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outstandingMessages
}

// pollServerSession runs one heartbeat tick. Failures are logged and the
// tick is abandoned; the next tick retries. It reports whether a reply
// delivered inline said the session changed, which the caller publishes.
func (e *Engine) pollServerSession(ctx context.Context, clientID string) bool {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	frame, ep, err := e.init(ctx)
	switch {
	case errors.Is(err, ErrFrameUnavailable):
		e.logger.Warn("pollServerSession checkSession IFrame does not exist", "client_id", clientID)
		return false
	case err != nil:
		e.logger.Warn("pollServerSession skipped", "error", err)
		return false
	}

	origin, err := ep.CheckSessionOrigin()
	if err != nil {
		e.logger.Warn("pollServerSession check session endpoint has no origin", "check_session_iframe", ep.CheckSessionIframe, "error", err)
		return false
	}

	sessionState, err := e.store.SessionState(ctx)
	if err != nil {
		e.logger.Warn("pollServerSession unable to read session_state", "error", err)
		return false
	}
	if clientID == "" {
		e.logger.Warn("pollServerSession client id is empty, the provider will reply with an error")
	}
	if sessionState == "" {
		e.logger.Debug("pollServerSession session_state is not set, the provider will reply with an error")
	}

	e.mu.Lock()
	e.expectedOrigin = origin
	e.outstandingMessages++
	outstanding := e.outstandingMessages
	e.posting = true
	e.mu.Unlock()

	err = frame.PostMessage(clientID+" "+sessionState, origin)

	e.mu.Lock()
	e.posting = false
	changed := e.pendingChange
	e.pendingChange = false
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("pollServerSession unable to post message", "error", err)
	}
	if outstanding > maxOutstandingMessages {
		e.logger.Error("not receiving check session response messages, server unreachable?", "outstanding", outstanding)
	}
	return changed
}

// init makes sure the iframe exists and points at the check session
// endpoint. The iframe isn't re-navigated until IframeRefreshInterval has
// passed since its last navigation.
func (e *Engine) init(ctx context.Context) (Frame, *discovery.Endpoints, error) {
	const op = "Engine.init"
	ep, ok, err := e.store.WellKnownEndpoints(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		e.logger.Warn("init check session: authWellKnownEndpoints is undefined")
		return nil, nil, fmt.Errorf("%s: %w", op, ErrEndpointsNotCached)
	}
	if ep.CheckSessionIframe == "" {
		e.logger.Warn("init check session: checkSessionIframe is not configured to run")
		return nil, nil, fmt.Errorf("%s: %w", op, ErrCheckSessionMissing)
	}

	frame, err := e.getOrCreateFrame()
	if err != nil {
		e.logger.Debug("unable to get or create check session iframe", "error", err)
		return nil, nil, ErrFrameUnavailable
	}

	now := e.clock.Now()
	e.mu.Lock()
	fresh := !e.lastIframeRefresh.IsZero() && e.lastIframeRefresh.Add(e.config.IframeRefreshInterval).After(now)
	e.mu.Unlock()
	if fresh {
		return frame, ep, nil
	}

	if err := frame.Navigate(ep.CheckSessionIframe); err != nil {
		e.logger.Warn("init check session: unable to navigate iframe", "error", err)
		return nil, nil, ErrFrameUnavailable
	}
	e.mu.Lock()
	e.lastIframeRefresh = now
	e.mu.Unlock()
	e.logger.Debug("init check session: iframe navigated", "check_session_iframe", ep.CheckSessionIframe)
	return frame, ep, nil
}

// getOrCreateFrame returns the engine's iframe, reusing one already in the
// document before creating a new one.
func (e *Engine) getOrCreateFrame() (Frame, error) {
	const op = "Engine.getOrCreateFrame"
	e.mu.Lock()
	frame := e.frame
	e.mu.Unlock()
	if frame != nil {
		return frame, nil
	}

	if existing, ok := e.frames.ExistingFrameByID(e.frameID); ok && existing != nil {
		frame = existing
	} else {
		created, err := e.frames.AddFrameToDocumentBody(e.frameID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if created == nil {
			return nil, fmt.Errorf("%s: %w", op, ErrFrameUnavailable)
		}
		frame = created
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.frame = frame
	return frame, nil
}

// HandleMessage is the engine's window message listener. Messages that
// don't come from the check session origin, or from another frame, are
// dropped without a trace: unrelated page messages are routine.
func (e *Engine) HandleMessage(ev MessageEvent) {
	e.mu.Lock()
	if e.frame == nil || e.expectedOrigin == "" || ev.Origin != e.expectedOrigin {
		e.mu.Unlock()
		return
	}
	if ev.Source != nil && ev.Source.ID() != e.frame.ID() {
		e.mu.Unlock()
		return
	}
	e.outstandingMessages = 0
	changed := ev.Data == MessageChanged
	publish := changed
	if changed {
		e.checkSessionReceived = true
		if e.posting {
			e.pendingChange = true
			publish = false
		}
	}
	e.mu.Unlock()

	switch ev.Data {
	case MessageError:
		e.logger.Warn("error from checksession messageHandler")
	case MessageChanged:
		e.logger.Debug("changed from checksession messageHandler")
	case MessageUnchanged:
		e.logger.Trace("unchanged from checksession messageHandler")
	default:
		e.logger.Debug("unexpected reply from checksession messageHandler", "data", ev.Data)
	}
	if publish {
		e.publishChanged()
	}
}

func (e *Engine) publishChanged() {
	if e.publisher != nil {
		e.publisher.Publish(events.Event{Type: events.SessionChanged})
	}
}
