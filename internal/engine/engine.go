package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/api"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/persist"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/realtime"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/store"
)

// The realtime bridge, scheduler and reporter are singleton resources whose
// start/stop lifecycle is strictly a function of the online flag. The
// Engine is the only component allowed to flip them; there is no reference
// counting, and exactly one Engine exists per process.

type Bridge interface {
	Start(ctx context.Context)
	Stop()
	Connected() bool
	Subscribe(channel string)
	Unsubscribe(channel string)
}

type Scheduler interface {
	Run(ctx context.Context)
}

type Reporter interface {
	Start(ctx context.Context)
	Stop()
}

// StatusBackend is the single REST call the engine issues itself.
type StatusBackend interface {
	SetStatus(ctx context.Context, online bool) error
}

type Options struct {
	Store     *store.Store
	Persist   *persist.Store
	Backend   StatusBackend
	Bridge    Bridge
	Scheduler Scheduler
	Reporter  Reporter
	Logger    *slog.Logger
	// OnSessionExpired clears credentials after a 401; the engine also
	// forces itself offline.
	OnSessionExpired func()
}

type Engine struct {
	store   *store.Store
	persist *persist.Store
	backend StatusBackend
	bridge  Bridge
	sched   Scheduler
	report  Reporter
	log     *slog.Logger

	onSessionExpired func()

	mu        sync.Mutex
	online    bool
	runCancel context.CancelFunc
	schedDone chan struct{}
}

func New(opts Options) *Engine {
	return &Engine{
		store:            opts.Store,
		persist:          opts.Persist,
		backend:          opts.Backend,
		bridge:           opts.Bridge,
		sched:            opts.Scheduler,
		report:           opts.Reporter,
		log:              opts.Logger,
		onSessionExpired: opts.OnSessionExpired,
	}
}

// Start resumes the persisted online state after a daemon restart.
func (e *Engine) Start(ctx context.Context) error {
	wasOnline, err := e.persist.Online()
	if err != nil {
		return fmt.Errorf("read persisted online flag: %w", err)
	}
	if wasOnline {
		e.log.Info("resuming online session")
		return e.SetOnline(ctx, true)
	}
	return nil
}

// RealtimeConnected exposes bridge health to the control API.
func (e *Engine) RealtimeConnected() bool {
	return e.bridge.Connected()
}

func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline flips the online flag. Going online starts the realtime
// bridge, the sync scheduler and the location watchers; going offline
// tears all three down. The backend is told first, so a rejected toggle
// leaves everything untouched.
func (e *Engine) SetOnline(ctx context.Context, online bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.online == online {
		return nil
	}

	if online {
		if err := e.backend.SetStatus(ctx, true); err != nil {
			e.handleAuth(err)
			return fmt.Errorf("going online rejected: %w", err)
		}
		if err := e.persist.SetOnline(true); err != nil {
			e.log.Warn("persisting online flag failed", "error", err)
		}
		runCtx, cancel := context.WithCancel(context.Background())
		e.runCancel = cancel
		e.schedDone = make(chan struct{})
		e.bridge.Start(runCtx)
		go func(done chan struct{}) {
			defer close(done)
			e.sched.Run(runCtx)
		}(e.schedDone)
		e.report.Start(runCtx)
		e.online = true
		e.log.Info("driver online")
		return nil
	}

	e.stopLocked()
	if err := e.persist.SetOnline(false); err != nil {
		e.log.Warn("persisting online flag failed", "error", err)
	}
	// best effort: the local teardown already happened
	if err := e.backend.SetStatus(ctx, false); err != nil {
		e.handleAuth(err)
		e.log.Warn("reporting offline status failed", "error", err)
	}
	e.online = false
	e.log.Info("driver offline")
	return nil
}

func (e *Engine) stopLocked() {
	if e.runCancel != nil {
		e.runCancel()
		e.runCancel = nil
	}
	e.bridge.Stop()
	e.report.Stop()
	if e.schedDone != nil {
		select {
		case <-e.schedDone:
		case <-time.After(5 * time.Second):
			e.log.Warn("scheduler did not stop in time")
		}
		e.schedDone = nil
	}
}

// Shutdown tears everything down without toggling the persisted flag, so
// the next start resumes the session.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.online {
		e.stopLocked()
		e.online = false
	}
}

// BindRideEvents subscribes the private per-ride channel that delivers
// rating and payment events at the end-of-ride screen.
func (e *Engine) BindRideEvents(rideID string) {
	e.bridge.Subscribe(realtime.PrivateRideChannel(rideID))
}

func (e *Engine) UnbindRideEvents(rideID string) {
	e.bridge.Unsubscribe(realtime.PrivateRideChannel(rideID))
}

// HandleUnauthorized is the central 401 hook wired into the store: clear
// the session and force the engine offline. Runs async because it can fire
// from inside a poll that the teardown itself is cancelling.
func (e *Engine) HandleUnauthorized() {
	e.log.Warn("session expired, forcing offline")
	if e.onSessionExpired != nil {
		e.onSessionExpired()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.SetOnline(ctx, false); err != nil {
			e.log.Warn("forced offline failed", "error", err)
		}
	}()
}

func (e *Engine) handleAuth(err error) {
	if errors.Is(err, api.ErrUnauthorized) && e.onSessionExpired != nil {
		e.onSessionExpired()
	}
}

// Handlers builds the realtime callback set for a store. Offer checks get
// a short deadline of their own; the push event is just a hint, the poller
// remains the fallback.
func Handlers(s *store.Store, log *slog.Logger) realtime.Handlers {
	return realtime.Handlers{
		OnRideRequested: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.CheckForIncomingOffer(ctx); err != nil {
				log.Warn("event-driven offer check failed", "error", err)
			}
		},
		OnRideCancelled:    s.RemoveCancelledRide,
		OnRideRated:        s.ApplyRating,
		OnPaymentConfirmed: s.ConfirmPayment,
	}
}
