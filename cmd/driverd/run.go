package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/api"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/archive"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/config"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/ctlapi"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/engine"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/location"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/logging"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/persist"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/realtime"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/store"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/syncsched"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log := logging.NewLogger(cfg.LogLevel, cfg.DriverID)

	kv := openKV(cfg, log)
	ps, err := persist.NewStore(kv)
	if err != nil {
		return err
	}
	defer ps.Close()

	client := api.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.APITimeout)

	var archiver store.Archiver
	if cfg.PGDSN != "" {
		pg, err := archive.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		archiver = pg
		log.Info("history archive enabled")
	}

	// The 401 hook points at the engine, which does not exist yet when the
	// store is built; the closure binds late.
	var eng *engine.Engine
	st, err := store.New(store.Options{
		Backend:  client,
		Persist:  ps,
		Logger:   log,
		Notifier: logNotifier{log},
		Archiver: archiver,
		OnUnauthorized: func() {
			if eng != nil {
				eng.HandleUnauthorized()
			}
		},
		HistoryPageSize: cfg.HistoryPageSize,
		StaleAfter:      cfg.StaleRideAfter,
	})
	if err != nil {
		return err
	}

	bridge := realtime.NewBridge(cfg.RealtimeURL, cfg.APIToken, engine.Handlers(st, log), log)
	sched := syncsched.New(st, bridge, syncsched.Options{
		Tick:                cfg.Tick,
		CurrentRideInterval: cfg.CurrentRideInterval,
		OfferFast:           cfg.OfferFastInterval,
		OfferSlow:           cfg.OfferSlowInterval,
		OfferTTL:            cfg.OfferTTL,
	}, log)

	locOpts := location.Options{
		Source:  location.NewStaticSource(cfg.HomeLat, cfg.HomeLon),
		Poster:  client,
		Persist: ps,
		RideID: func() string {
			if r := st.CurrentRide(); r != nil {
				return r.ID
			}
			return ""
		},
		Logger:            log,
		Foreground:        location.WatcherConfig{Interval: cfg.ForegroundInterval, MinDistance: cfg.ForegroundMinDistance},
		Background:        location.WatcherConfig{Interval: cfg.BackgroundInterval, MinDistance: cfg.BackgroundMinDistance},
		BackgroundEnabled: cfg.BackgroundEnabled,
	}
	if len(cfg.KafkaBrokers) > 0 {
		mirror := telemetry.NewKafkaMirror(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.DriverID)
		defer mirror.Close()
		locOpts.Telemetry = mirror
		log.Info("location telemetry mirror enabled", "topic", cfg.KafkaTopic)
	}
	reporter := location.NewReporter(locOpts)

	eng = engine.New(engine.Options{
		Store:     st,
		Persist:   ps,
		Backend:   client,
		Bridge:    bridge,
		Scheduler: sched,
		Reporter:  reporter,
		Logger:    log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		log.Warn("resuming previous session failed", "error", err)
	}

	srv := &http.Server{
		Addr:    cfg.ControlAddr,
		Handler: ctlapi.NewServer(eng, st, ps, log),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("control api listening", "addr", cfg.ControlAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("control api shutdown failed", "error", err)
	}
	// keeps the persisted online flag, so a restart resumes the session
	eng.Shutdown()
	return nil
}

// logNotifier stands in for a UI alert surface; failed actions land in the
// log where the app tails them.
type logNotifier struct{ log *slog.Logger }

func (n logNotifier) Alert(msg string) { n.log.Warn("user alert", "message", msg) }

// openKV picks the persistence backend: Redis when configured, the local
// SQLite file otherwise, memory as the last resort so the daemon still runs
// on a broken disk.
func openKV(cfg config.Config, log *slog.Logger) persist.KV {
	if cfg.RedisAddr != "" {
		log.Info("using redis persistence", "addr", cfg.RedisAddr)
		return persist.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
	}
	kv, err := persist.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		log.Warn("opening sqlite store failed, state will not survive restarts", "path", cfg.SQLitePath, "error", err)
		return persist.NewMemoryStore()
	}
	return kv
}
