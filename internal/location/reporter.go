package location

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/geo"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/models"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/observability"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/persist"
)

// Source abstracts the GPS device.
type Source interface {
	Current(ctx context.Context) (models.Position, error)
}

// Poster sends one sample to the backend; in production this is the REST
// client's ReportLocation.
type Poster interface {
	ReportLocation(ctx context.Context, pos models.Position, rideID string) error
}

// Telemetry optionally mirrors samples into the fleet pipeline.
type Telemetry interface {
	Publish(ctx context.Context, pos models.Position, rideID string) error
}

// WatcherConfig tunes one watcher: sample cadence and the minimum
// displacement below which a sample is not worth reporting.
type WatcherConfig struct {
	Interval    time.Duration
	MinDistance float64 // meters
}

// Options wires a Reporter. RideID supplies the in-memory current ride id
// for the foreground watcher; the background watcher deliberately reads the
// persisted id instead, because it runs outside the in-memory store.
type Options struct {
	Source     Source
	Poster     Poster
	Persist    *persist.Store
	RideID     func() string
	Telemetry  Telemetry
	Logger     *slog.Logger
	Foreground WatcherConfig
	Background WatcherConfig
	// BackgroundEnabled mirrors the OS background-location permission.
	BackgroundEnabled bool
}

// Reporter runs the foreground and background position watchers. Both are
// best-effort telemetry: failed posts are logged and dropped, never retried
// and never surfaced to the driver.
type Reporter struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReporter(opts Options) *Reporter {
	if opts.Foreground.Interval <= 0 {
		opts.Foreground = WatcherConfig{Interval: 3 * time.Second, MinDistance: 10}
	}
	if opts.Background.Interval <= 0 {
		opts.Background = WatcherConfig{Interval: 10 * time.Second, MinDistance: 20}
	}
	return &Reporter{opts: opts, log: opts.Logger}
}

// Start launches the watchers. Idempotent while running.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.watch(runCtx, "foreground", r.opts.Foreground, r.opts.RideID)

	if r.opts.BackgroundEnabled {
		r.wg.Add(1)
		go r.watch(runCtx, "background", r.opts.Background, r.persistedRideID)
	}
}

// Stop tears down both watchers and waits for them to exit. The background
// watcher must be stopped explicitly, it does not die with the foreground
// one.
func (r *Reporter) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		r.wg.Wait()
	}
}

func (r *Reporter) watch(ctx context.Context, name string, cfg WatcherConfig, rideID func() string) {
	defer r.wg.Done()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	var last *models.Coord
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pos, err := r.opts.Source.Current(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Debug("position read failed", "watcher", name, "error", err)
			}
			continue
		}
		if last != nil && geo.Distance(*last, pos.Coord) < cfg.MinDistance {
			continue
		}
		last = &models.Coord{Lat: pos.Lat, Lon: pos.Lon}

		id := ""
		if rideID != nil {
			id = rideID()
		}
		if err := r.opts.Poster.ReportLocation(ctx, pos, id); err != nil {
			observability.LocationReports.WithLabelValues(name, "error").Inc()
			r.log.Debug("location post dropped", "watcher", name, "error", err)
			continue
		}
		observability.LocationReports.WithLabelValues(name, "ok").Inc()

		if r.opts.Telemetry != nil {
			if err := r.opts.Telemetry.Publish(ctx, pos, id); err != nil {
				r.log.Debug("telemetry publish dropped", "watcher", name, "error", err)
			}
		}
	}
}

func (r *Reporter) persistedRideID() string {
	id, err := r.opts.Persist.ActiveRideID()
	if err != nil {
		r.log.Debug("reading persisted ride id failed", "error", err)
		return ""
	}
	return id
}
