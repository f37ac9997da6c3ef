// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package checksession

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/cap-rp/config"
	"github.com/hashicorp/cap-rp/discovery"
	"github.com/hashicorp/cap-rp/events"
	"github.com/hashicorp/cap-rp/flow"
	"github.com/hashicorp/cap-rp/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCheckSessionURL = "https://idp.example.com/connect/checksession"
	testOrigin          = "https://idp.example.com"
	testClientID        = "clientId"
	testSessionState    = "session_state"
)

type testEnv struct {
	engine *Engine
	store  *flow.Store
	frames *TestProvisioner
	window *TestWindow
	bus    *events.Bus
	clock  clockwork.FakeClock
	logs   *bytes.Buffer
}

type testEnvOpts struct {
	configOpts    []config.Option
	endpoints     *discovery.Endpoints
	sessionState  string
	skipEndpoints bool
}

func newTestEnv(t *testing.T, o testEnvOpts) *testEnv {
	t.Helper()
	require := require.New(t)
	ctx := context.Background()

	logs := new(bytes.Buffer)
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "test-logger",
		Level:  hclog.Warn,
		Output: logs,
	})
	cfgOpts := append([]config.Option{
		config.WithStartCheckSession(true),
		config.WithHeartbeatInterval(3 * time.Second),
		config.WithIframeRefreshInterval(60 * time.Second),
		config.WithLogger(logger),
	}, o.configOpts...)
	c, err := config.NewConfig(testClientID, cfgOpts...)
	require.NoError(err)

	clock := clockwork.NewFakeClock()
	store, err := flow.NewStore(storage.NewMemory(), c, flow.WithClock(clock))
	require.NoError(err)
	if !o.skipEndpoints {
		ep := o.endpoints
		if ep == nil {
			ep = &discovery.Endpoints{Issuer: testOrigin, CheckSessionIframe: testCheckSessionURL}
		}
		require.NoError(store.SetWellKnownEndpoints(ctx, ep))
	}
	if o.sessionState != "" {
		require.NoError(store.SetSessionState(ctx, o.sessionState))
	}

	env := &testEnv{
		store:  store,
		frames: NewTestProvisioner(),
		window: NewTestWindow(),
		bus:    events.NewBus(),
		clock:  clock,
		logs:   logs,
	}
	env.engine, err = New(c, store, env.frames, env.window, env.bus, WithClock(clock))
	require.NoError(err)
	t.Cleanup(env.engine.Close)
	return env
}

func (env *testEnv) frame() *TestFrame { return env.frames.Frame(FrameID) }

func TestNew(t *testing.T) {
	t.Parallel()
	c, err := config.NewConfig(testClientID)
	require.NoError(t, err)
	store, err := flow.NewStore(storage.NewMemory(), c)
	require.NoError(t, err)

	tests := []struct {
		name      string
		config    *config.Config
		store     *flow.Store
		frames    FrameProvisioner
		window    Window
		wantIsErr error
	}{
		{name: "valid", config: c, store: store, frames: NewTestProvisioner(), window: NewTestWindow()},
		{name: "nil-config", store: store, frames: NewTestProvisioner(), window: NewTestWindow(), wantIsErr: config.ErrNilParameter},
		{name: "nil-store", config: c, frames: NewTestProvisioner(), window: NewTestWindow(), wantIsErr: ErrNilParameter},
		{name: "nil-frames", config: c, store: store, window: NewTestWindow(), wantIsErr: ErrNilParameter},
		{name: "nil-window", config: c, store: store, frames: NewTestProvisioner(), wantIsErr: ErrNilParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := New(tt.config, tt.store, tt.frames, tt.window, nil)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(FrameID, got.frameID)
			assert.False(got.Running())
		})
	}
}

func TestEngine_Start(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("polls-immediately-with-client-id", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})

		env.engine.Start(ctx, testClientID)
		defer env.engine.Stop()

		assert.True(env.engine.Running())
		f := env.frame()
		require.NotNil(f)
		assert.True(f.Hidden())
		assert.Equal([]string{testCheckSessionURL}, f.Navigations())
		assert.Equal([]TestPostedMessage{{Message: "clientId session_state", TargetOrigin: testOrigin}}, f.Posted())
		assert.Equal(1, env.engine.OutstandingMessages())
		assert.Equal(1, env.window.Listeners())
	})
	t.Run("second-start-is-a-no-op", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})

		env.engine.Start(ctx, testClientID)
		defer env.engine.Stop()
		hb := env.engine.heartbeat
		require.NotNil(hb)

		env.engine.Start(ctx, testClientID)
		assert.Same(hb, env.engine.heartbeat)
		assert.Len(env.frame().Posted(), 1)
		assert.Equal(1, env.window.ListenersAdded())

		// exactly one heartbeat is scheduled, so one tick means one poll
		env.clock.BlockUntil(1)
		env.clock.Advance(3 * time.Second)
		assert.Eventually(func() bool { return len(env.frame().Posted()) == 2 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Len(env.frame().Posted(), 2)
	})
	t.Run("heartbeat-polls-without-renavigating", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})

		env.engine.Start(ctx, testClientID)
		defer env.engine.Stop()

		env.clock.BlockUntil(1)
		env.clock.Advance(3 * time.Second)
		assert.Eventually(func() bool { return len(env.frame().Posted()) == 2 }, time.Second, 5*time.Millisecond)
		assert.Len(env.frame().Navigations(), 1)
		assert.Equal(2, env.engine.OutstandingMessages())
	})
	t.Run("disabled", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{
			sessionState: testSessionState,
			configOpts:   []config.Option{config.WithStartCheckSession(false)},
		})

		env.engine.Start(ctx, testClientID)
		assert.False(env.engine.Running())
		assert.Nil(env.frame())
		assert.Zero(env.window.Listeners())
	})
	t.Run("cancelled-context-stops-heartbeat", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})

		cancelCtx, cancel := context.WithCancel(ctx)
		env.engine.Start(cancelCtx, testClientID)
		assert.True(env.engine.Running())
		cancel()
		assert.Eventually(func() bool { return !env.engine.Running() }, time.Second, 5*time.Millisecond)

		// and it can be started again
		env.engine.Start(ctx, testClientID)
		defer env.engine.Stop()
		assert.True(env.engine.Running())
		assert.Len(env.frame().Posted(), 2)
		assert.Equal(1, env.window.ListenersAdded())
	})
}

func TestEngine_Stop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("not-started", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{})
		assert.NotPanics(env.engine.Stop)
		assert.False(env.engine.Running())
		assert.Nil(env.engine.heartbeat)
	})
	t.Run("cancels-heartbeat", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})

		env.engine.Start(ctx, testClientID)
		env.engine.Stop()
		assert.False(env.engine.Running())
		assert.Nil(env.engine.heartbeat)

		env.clock.Advance(10 * time.Second)
		time.Sleep(20 * time.Millisecond)
		assert.Len(env.frame().Posted(), 1)

		// stopping twice is fine
		env.engine.Stop()
	})
	t.Run("replies-after-stop-are-handled", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})

		env.engine.Start(ctx, testClientID)
		env.engine.Stop()
		env.window.Dispatch(MessageEvent{Origin: testOrigin, Source: env.frame(), Data: MessageChanged})
		assert.True(env.engine.ServerStateChanged())
	})
}

func TestEngine_Close(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})

	env.engine.Start(ctx, testClientID)
	env.engine.Close()
	assert.False(env.engine.Running())
	assert.Zero(env.window.Listeners())

	// a new engine in the same document reuses the iframe
	next, err := New(env.engine.config, env.store, env.frames, env.window, env.bus, WithClock(env.clock))
	require.NoError(err)
	next.Start(ctx, testClientID)
	defer next.Close()
	assert.Equal(1, env.frames.Created())
	assert.Len(env.frame().Posted(), 2)
}

func TestEngine_ServerStateChanged(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name              string
		startCheckSession bool
		received          bool
		want              bool
	}{
		{name: "not-configured", startCheckSession: false, received: true, want: false},
		{name: "not-received", startCheckSession: true, received: false, want: false},
		{name: "configured-and-received", startCheckSession: true, received: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			env := newTestEnv(t, testEnvOpts{
				configOpts: []config.Option{config.WithStartCheckSession(tt.startCheckSession)},
			})
			env.engine.checkSessionReceived = tt.received
			assert.Equal(tt.want, env.engine.ServerStateChanged())
		})
	}
}

func TestEngine_pollServerSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("increases-outstanding-messages", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})
		for i := 1; i <= 5; i++ {
			env.engine.pollServerSession(ctx, testClientID)
			assert.Equal(i, env.engine.OutstandingMessages())
		}
		assert.Contains(env.logs.String(), "not receiving check session response messages")
	})
	t.Run("logs-warning-if-iframe-does-not-exist", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})
		env.frames.Disable()

		env.engine.pollServerSession(ctx, testClientID)
		assert.Contains(env.logs.String(), "pollServerSession checkSession IFrame does not exist")
		assert.Zero(env.engine.OutstandingMessages())
	})
	t.Run("navigation-failure-skips-tick", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})
		f := NewTestFrame(FrameID)
		f.SetNavigateError(errors.New("blocked"))
		env.frames.frames[FrameID] = f

		env.engine.pollServerSession(ctx, testClientID)
		assert.Empty(f.Posted())
		assert.Zero(env.engine.OutstandingMessages())
	})
	t.Run("endpoints-not-cached", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState, skipEndpoints: true})

		env.engine.pollServerSession(ctx, testClientID)
		assert.Contains(env.logs.String(), "init check session: authWellKnownEndpoints is undefined")
		assert.Nil(env.frame())
		assert.Zero(env.engine.OutstandingMessages())
	})
	t.Run("check-session-iframe-not-configured", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{
			sessionState: testSessionState,
			endpoints:    &discovery.Endpoints{Issuer: testOrigin},
		})

		env.engine.pollServerSession(ctx, testClientID)
		assert.Contains(env.logs.String(), "init check session: checkSessionIframe is not configured to run")
		assert.Zero(env.engine.OutstandingMessages())
	})
	t.Run("empty-client-id-still-posts", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})

		env.engine.pollServerSession(ctx, "")
		assert.Equal([]TestPostedMessage{{Message: " session_state", TargetOrigin: testOrigin}}, env.frame().Posted())
		assert.Contains(env.logs.String(), "client id is empty")
		assert.Equal(1, env.engine.OutstandingMessages())
	})
	t.Run("missing-session-state-still-posts", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{})

		env.engine.pollServerSession(ctx, testClientID)
		assert.Equal([]TestPostedMessage{{Message: "clientId ", TargetOrigin: testOrigin}}, env.frame().Posted())
		assert.Equal(1, env.engine.OutstandingMessages())
	})
	t.Run("post-failure-is-logged", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})
		f := NewTestFrame(FrameID)
		f.SetPostError(errors.New("detached"))
		env.frames.frames[FrameID] = f

		env.engine.pollServerSession(ctx, testClientID)
		assert.Contains(env.logs.String(), "unable to post message")
	})
	t.Run("reuses-existing-iframe", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})
		existing, err := env.frames.AddFrameToDocumentBody(FrameID)
		require.NoError(err)

		env.engine.pollServerSession(ctx, testClientID)
		assert.Equal(1, env.frames.Created())
		assert.Len(existing.(*TestFrame).Posted(), 1)
	})
	t.Run("iframe-refresh-is-debounced", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})

		env.engine.pollServerSession(ctx, testClientID)
		assert.Len(env.frame().Navigations(), 1)

		env.clock.Advance(30 * time.Second)
		env.engine.pollServerSession(ctx, testClientID)
		assert.Len(env.frame().Navigations(), 1)

		env.clock.Advance(31 * time.Second)
		env.engine.pollServerSession(ctx, testClientID)
		assert.Len(env.frame().Navigations(), 2)
		assert.Len(env.frame().Posted(), 3)
	})
}

func TestEngine_HandleMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("changed-raises-session-changed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})
		ch, cancel := env.bus.Subscribe()
		defer cancel()

		env.engine.pollServerSession(ctx, testClientID)
		env.window.Dispatch(MessageEvent{Origin: testOrigin, Source: env.frame(), Data: MessageChanged})

		assert.True(env.engine.ServerStateChanged())
		assert.Zero(env.engine.OutstandingMessages())
		select {
		case got := <-ch:
			assert.Equal(events.SessionChanged, got.Type)
		default:
			require.Fail("expected a session changed event")
		}
	})
	for _, data := range []string{MessageUnchanged, MessageError, "something else"} {
		data := data
		t.Run("no-notification-for-"+data, func(t *testing.T) {
			assert := assert.New(t)
			env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})
			ch, cancel := env.bus.Subscribe()
			defer cancel()

			env.engine.pollServerSession(ctx, testClientID)
			env.window.Dispatch(MessageEvent{Origin: testOrigin, Source: env.frame(), Data: data})

			assert.False(env.engine.ServerStateChanged())
			assert.Zero(env.engine.OutstandingMessages())
			assert.Empty(ch)
		})
	}
	t.Run("other-origins-are-ignored", func(t *testing.T) {
		for _, origin := range []string{"https://evil.example.com", "https://idp.example.com.evil.com", "http://idp.example.com", "", testCheckSessionURL} {
			for _, data := range []string{MessageChanged, MessageUnchanged, MessageError} {
				assert := assert.New(t)
				env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})
				ch, cancel := env.bus.Subscribe()

				env.engine.pollServerSession(ctx, testClientID)
				env.window.Dispatch(MessageEvent{Origin: origin, Source: env.frame(), Data: data})

				assert.Falsef(env.engine.checkSessionReceived, "origin %q data %q", origin, data)
				assert.Equal(1, env.engine.OutstandingMessages())
				assert.Empty(ch)
				assert.Empty(env.logs.String())
				cancel()
			}
		}
	})
	t.Run("advertised-origin-in-browser-form", func(t *testing.T) {
		for _, endpoint := range []string{
			"https://idp.example.com:443/connect/checksession",
			"https://IdP.Example.com/connect/checksession",
		} {
			assert, require := assert.New(t), require.New(t)
			env := newTestEnv(t, testEnvOpts{
				sessionState: testSessionState,
				endpoints:    &discovery.Endpoints{Issuer: testOrigin, CheckSessionIframe: endpoint},
			})

			env.engine.pollServerSession(ctx, testClientID)
			posted := env.frame().Posted()
			require.Len(posted, 1)
			assert.Equalf(testOrigin, posted[0].TargetOrigin, "endpoint %q", endpoint)

			env.window.Dispatch(MessageEvent{Origin: testOrigin, Source: env.frame(), Data: MessageChanged})
			assert.Truef(env.engine.ServerStateChanged(), "endpoint %q", endpoint)
		}
	})
	t.Run("other-frames-are-ignored", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})

		env.engine.pollServerSession(ctx, testClientID)
		env.window.Dispatch(MessageEvent{Origin: testOrigin, Source: NewTestFrame("idwhichshouldneverexist"), Data: MessageChanged})
		assert.False(env.engine.ServerStateChanged())
	})
	t.Run("before-any-poll", func(t *testing.T) {
		assert := assert.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})
		env.engine.HandleMessage(MessageEvent{Origin: testOrigin, Data: MessageChanged})
		assert.False(env.engine.ServerStateChanged())
	})
}

func TestEngine_providerRoundTrip(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})
	ch, cancel := env.bus.Subscribe()
	defer cancel()

	f, err := env.frames.AddFrameToDocumentBody(FrameID)
	require.NoError(err)
	frame := f.(*TestFrame)
	var reply atomic.Value
	reply.Store(MessageUnchanged)
	frame.SetReply(func(m TestPostedMessage) {
		// the provider answers from its own origin as soon as it's asked
		env.window.Dispatch(MessageEvent{Origin: m.TargetOrigin, Source: frame, Data: reply.Load().(string)})
	})

	env.engine.Start(ctx, testClientID)
	defer env.engine.Stop()
	assert.False(env.engine.ServerStateChanged())
	assert.Zero(env.engine.OutstandingMessages())

	reply.Store(MessageChanged)
	env.clock.BlockUntil(1)
	env.clock.Advance(3 * time.Second)
	assert.Eventually(env.engine.ServerStateChanged, time.Second, 5*time.Millisecond)
	select {
	case got := <-ch:
		assert.Equal(events.SessionChanged, got.Type)
	case <-time.After(time.Second):
		require.Fail("expected a session changed event")
	}
}

// stopOnChange stops the engine from inside Publish, like an application
// tearing down its session on logout.
type stopOnChange struct {
	engine    atomic.Pointer[Engine]
	published atomic.Int32
}

func (p *stopOnChange) Publish(ev events.Event) {
	if ev.Type != events.SessionChanged {
		return
	}
	p.published.Add(1)
	if e := p.engine.Load(); e != nil {
		e.Stop()
	}
}

func TestEngine_publisherStops(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T, firstReply string) (*testEnv, *Engine, *stopOnChange, *atomic.Value) {
		t.Helper()
		require := require.New(t)
		env := newTestEnv(t, testEnvOpts{sessionState: testSessionState})
		pub := &stopOnChange{}
		e, err := New(env.engine.config, env.store, env.frames, env.window, pub, WithClock(env.clock))
		require.NoError(err)
		pub.engine.Store(e)
		t.Cleanup(e.Close)

		f, err := env.frames.AddFrameToDocumentBody(FrameID)
		require.NoError(err)
		frame := f.(*TestFrame)
		reply := &atomic.Value{}
		reply.Store(firstReply)
		frame.SetReply(func(m TestPostedMessage) {
			env.window.Dispatch(MessageEvent{Origin: m.TargetOrigin, Source: frame, Data: reply.Load().(string)})
		})
		return env, e, pub, reply
	}
	startWithin := func(t *testing.T, e *Engine) {
		t.Helper()
		done := make(chan struct{})
		go func() {
			defer close(done)
			e.Start(ctx, testClientID)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			require.FailNow(t, "Start did not return")
		}
	}

	t.Run("on-heartbeat-reply", func(t *testing.T) {
		assert := assert.New(t)
		env, e, pub, reply := setup(t, MessageUnchanged)

		startWithin(t, e)
		assert.True(e.Running())

		reply.Store(MessageChanged)
		env.clock.BlockUntil(1)
		env.clock.Advance(3 * time.Second)
		assert.Eventually(func() bool { return pub.published.Load() == 1 && !e.Running() }, time.Second, 5*time.Millisecond)

		// polls aren't blocked by the stop
		startWithin(t, e)
		assert.Equal(int32(2), pub.published.Load())
		assert.False(e.Running())
	})
	t.Run("on-first-reply", func(t *testing.T) {
		assert := assert.New(t)
		_, e, pub, _ := setup(t, MessageChanged)

		startWithin(t, e)
		assert.Equal(int32(1), pub.published.Load())
		assert.False(e.Running())
		assert.True(e.ServerStateChanged())
	})
}
