package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/api"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/persist"
)

type fakeBridge struct {
	started, stopped atomic.Int32
	subs             []string
}

func (f *fakeBridge) Start(ctx context.Context) { f.started.Add(1) }
func (f *fakeBridge) Stop()                     { f.stopped.Add(1) }
func (f *fakeBridge) Connected() bool           { return false }
func (f *fakeBridge) Subscribe(ch string)       { f.subs = append(f.subs, ch) }
func (f *fakeBridge) Unsubscribe(ch string)     {}

type fakeScheduler struct{ runs atomic.Int32 }

func (f *fakeScheduler) Run(ctx context.Context) {
	f.runs.Add(1)
	<-ctx.Done()
}

type fakeReporter struct{ started, stopped atomic.Int32 }

func (f *fakeReporter) Start(ctx context.Context) { f.started.Add(1) }
func (f *fakeReporter) Stop()                     { f.stopped.Add(1) }

type fakeStatus struct {
	err   error
	calls []bool
}

func (f *fakeStatus) SetStatus(ctx context.Context, online bool) error {
	f.calls = append(f.calls, online)
	return f.err
}

func newTestEngine(t *testing.T, backend *fakeStatus) (*Engine, *fakeBridge, *fakeScheduler, *fakeReporter, *persist.Store) {
	t.Helper()
	p, err := persist.NewStore(persist.NewMemoryStore())
	require.NoError(t, err)
	bridge := &fakeBridge{}
	sched := &fakeScheduler{}
	rep := &fakeReporter{}
	e := New(Options{
		Persist:   p,
		Backend:   backend,
		Bridge:    bridge,
		Scheduler: sched,
		Reporter:  rep,
		Logger:    slog.New(slog.DiscardHandler),
	})
	return e, bridge, sched, rep, p
}

func TestOnlineStartsEverything(t *testing.T) {
	backend := &fakeStatus{}
	e, bridge, sched, rep, p := newTestEngine(t, backend)

	require.NoError(t, e.SetOnline(context.Background(), true))
	assert.True(t, e.Online())
	assert.Equal(t, int32(1), bridge.started.Load())
	assert.Equal(t, int32(1), rep.started.Load())
	require.Eventually(t, func() bool { return sched.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	on, err := p.Online()
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, []bool{true}, backend.calls)

	require.NoError(t, e.SetOnline(context.Background(), false))
}

func TestOfflineStopsEverything(t *testing.T) {
	backend := &fakeStatus{}
	e, bridge, _, rep, p := newTestEngine(t, backend)

	require.NoError(t, e.SetOnline(context.Background(), true))
	require.NoError(t, e.SetOnline(context.Background(), false))

	assert.False(t, e.Online())
	assert.Equal(t, int32(1), bridge.stopped.Load())
	assert.Equal(t, int32(1), rep.stopped.Load())
	on, err := p.Online()
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, []bool{true, false}, backend.calls)
}

func TestOnlineRejectedLeavesEverythingDown(t *testing.T) {
	backend := &fakeStatus{err: errors.New("503")}
	e, bridge, _, rep, p := newTestEngine(t, backend)

	err := e.SetOnline(context.Background(), true)
	require.Error(t, err)
	assert.False(t, e.Online())
	assert.Zero(t, bridge.started.Load())
	assert.Zero(t, rep.started.Load())
	on, perr := p.Online()
	require.NoError(t, perr)
	assert.False(t, on)
}

func TestSetOnlineIsIdempotent(t *testing.T) {
	backend := &fakeStatus{}
	e, bridge, _, _, _ := newTestEngine(t, backend)

	require.NoError(t, e.SetOnline(context.Background(), true))
	require.NoError(t, e.SetOnline(context.Background(), true))
	assert.Equal(t, int32(1), bridge.started.Load())
	require.NoError(t, e.SetOnline(context.Background(), false))
}

func TestStartResumesPersistedSession(t *testing.T) {
	backend := &fakeStatus{}
	e, bridge, _, _, p := newTestEngine(t, backend)
	require.NoError(t, p.SetOnline(true))

	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.Online())
	assert.Equal(t, int32(1), bridge.started.Load())
	require.NoError(t, e.SetOnline(context.Background(), false))
}

func TestUnauthorizedOnToggleFiresSessionHook(t *testing.T) {
	backend := &fakeStatus{err: api.ErrUnauthorized}
	p, err := persist.NewStore(persist.NewMemoryStore())
	require.NoError(t, err)
	expired := false
	e := New(Options{
		Persist:          p,
		Backend:          backend,
		Bridge:           &fakeBridge{},
		Scheduler:        &fakeScheduler{},
		Reporter:         &fakeReporter{},
		Logger:           slog.New(slog.DiscardHandler),
		OnSessionExpired: func() { expired = true },
	})

	require.Error(t, e.SetOnline(context.Background(), true))
	assert.True(t, expired)
}

func TestBindRideEventsSubscribesPrivateChannel(t *testing.T) {
	e, bridge, _, _, _ := newTestEngine(t, &fakeStatus{})
	e.BindRideEvents("42")
	assert.Equal(t, []string{"private-ride.42"}, bridge.subs)
}
