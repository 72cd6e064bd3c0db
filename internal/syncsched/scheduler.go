package syncsched

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Syncer is the store surface the scheduler drives.
type Syncer interface {
	SyncCurrentRide(ctx context.Context) error
	CheckForIncomingOffer(ctx context.Context) error
	ExpireOffers(ctx context.Context, maxAge time.Duration)
}

// ConnectionProbe reports realtime channel health; when the push channel is
// live the offer poll is only a slow safety net.
type ConnectionProbe interface {
	Connected() bool
}

type Options struct {
	Tick                time.Duration // cadence of the lightweight check
	CurrentRideInterval time.Duration
	OfferFast           time.Duration // effective offer interval while realtime is down
	OfferSlow           time.Duration // effective offer interval while realtime is healthy
	OfferTTL            time.Duration // auto-decline age; zero disables
}

func (o *Options) applyDefaults() {
	if o.Tick <= 0 {
		o.Tick = 5 * time.Second
	}
	if o.CurrentRideInterval <= 0 {
		o.CurrentRideInterval = 15 * time.Second
	}
	if o.OfferFast <= 0 {
		o.OfferFast = 10 * time.Second
	}
	if o.OfferSlow < o.OfferFast {
		o.OfferSlow = 60 * time.Second
	}
	if o.OfferTTL < 0 {
		o.OfferTTL = 0
	}
}

// Scheduler runs the two reconciliation loops on one ticker. It owns its
// last-poll timestamps, so the tick frequency and the effective poll
// frequencies stay decoupled: a 5s tick with a 60s effective interval still
// polls once a minute.
type Scheduler struct {
	syncer Syncer
	probe  ConnectionProbe
	opts   Options
	log    *slog.Logger

	mu            sync.Mutex
	lastRidePoll  time.Time
	lastOfferPoll time.Time
	now           func() time.Time
}

func New(syncer Syncer, probe ConnectionProbe, opts Options, log *slog.Logger) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		syncer: syncer,
		probe:  probe,
		opts:   opts,
		log:    log,
		now:    time.Now,
	}
}

// Run ticks until ctx is cancelled. The first tick fires immediately so
// going online does not wait a full interval for fresh state.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	pollRide := now.Sub(s.lastRidePoll) >= s.opts.CurrentRideInterval
	if pollRide {
		s.lastRidePoll = now
	}
	pollOffers := now.Sub(s.lastOfferPoll) >= s.effectiveOfferInterval()
	if pollOffers {
		s.lastOfferPoll = now
	}
	s.mu.Unlock()

	// failures are logged inside the store; the next tick retries naturally
	if pollRide {
		_ = s.syncer.SyncCurrentRide(ctx)
	}
	if pollOffers {
		_ = s.syncer.CheckForIncomingOffer(ctx)
	}
	if s.opts.OfferTTL > 0 {
		s.syncer.ExpireOffers(ctx, s.opts.OfferTTL)
	}
}

// effectiveOfferInterval adapts to realtime health, clamped so connection
// flapping can never push the poll below OfferFast or beyond OfferSlow.
func (s *Scheduler) effectiveOfferInterval() time.Duration {
	iv := s.opts.OfferFast
	if s.probe != nil && s.probe.Connected() {
		iv = s.opts.OfferSlow
	}
	if iv < s.opts.OfferFast {
		iv = s.opts.OfferFast
	}
	if iv > s.opts.OfferSlow {
		iv = s.opts.OfferSlow
	}
	return iv
}
