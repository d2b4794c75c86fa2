/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine service. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Configure zerolog
  3. Open the selected store (memory, sqlite, or postgres + migrations)
  4. Optionally seed shipped country profiles and rules
  5. Wire engine, orchestrator, NATS publisher, refresh scheduler
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional; env vars with the
           PAYROLL_ prefix override file values)
  -seed    Seed the shipped country profiles and initial rule versions
           on startup (idempotent: already-present versions are kept)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the refresh scheduler (waits for in-flight refreshes)
  2. Stop accepting new connections, drain active requests
  3. Drain the NATS connection
  4. Close the store

SEE ALSO:
  - config/config.go: Configuration shape and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/countries"
	"github.com/warp/payroll-engine/feed"
	"github.com/warp/payroll-engine/metrics"
	"github.com/warp/payroll-engine/notify"
	"github.com/warp/payroll-engine/payroll"
	memstore "github.com/warp/payroll-engine/payroll/store"
	"github.com/warp/payroll-engine/refresh"
	"github.com/warp/payroll-engine/store/postgres"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	seed := flag.Bool("seed", false, "seed shipped country profiles and rules")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := newLogger(cfg.Logging)
	log.Info().
		Str("environment", cfg.Environment).
		Str("driver", cfg.Database.Driver).
		Msg("starting payroll engine")

	store, closeStore, err := openStore(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	ctx := context.Background()
	if *seed {
		if err := seedCountries(ctx, store, log); err != nil {
			log.Fatal().Err(err).Msg("failed to seed country data")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(registry)

	var notifier payroll.Notifier = payroll.NopNotifier{}
	var alerter refresh.Alerter = refresh.NopAlerter{}
	if cfg.NATS.Enabled {
		publisher, err := notify.Connect(cfg.NATS.URL, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("failed to connect to NATS")
		}
		defer publisher.Close()
		notifier = publisher
		alerter = publisher
	}

	engine := payroll.NewEngine(store, collector, log)
	factsSource := &payroll.StoreFactsSource{Store: store}
	orchestrator := payroll.NewOrchestrator(engine, factsSource, notifier, collector, log, cfg.Orchestrator.Workers)

	var scheduler *refresh.Scheduler
	if cfg.Refresh.Enabled {
		countryCodes := make([]payroll.CountryCode, 0, len(cfg.Refresh.Countries))
		for _, c := range cfg.Refresh.Countries {
			countryCodes = append(countryCodes, payroll.CountryCode(c))
		}
		scheduler = refresh.NewScheduler(
			store,
			feed.NewClient(cfg.Refresh.Endpoint, cfg.Refresh.FetchTimeout),
			alerter,
			collector,
			log,
			refresh.Config{
				Countries:      countryCodes,
				Interval:       cfg.Refresh.Interval,
				MaxRetries:     cfg.Refresh.MaxRetries,
				RetryBase:      cfg.Refresh.RetryBase,
				RetryCap:       cfg.Refresh.RetryCap,
				AlertThreshold: cfg.Refresh.AlertThreshold,
			},
		)
		if err := scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start refresh scheduler")
		}
		defer scheduler.Stop()
	}

	handler := api.NewHandler(store, engine, orchestrator, scheduler, log)
	router := api.NewRouter(handler, registry)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if !cfg.Pretty {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// openStore builds the store selected by the config. The returned close
// function is a no-op for the memory store.
func openStore(cfg config.DatabaseConfig, log zerolog.Logger) (payroll.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return memstore.NewMemory(), func() {}, nil

	case "sqlite":
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close sqlite store")
			}
		}, nil

	case "postgres":
		if err := postgres.RunMigrations(cfg.DSN); err != nil {
			return nil, nil, err
		}
		s, err := postgres.Connect(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close postgres store")
			}
		}, nil
	}
	return nil, nil, errors.New("unknown database driver: " + cfg.Driver)
}

// seedCountries loads the shipped profiles and initial rule versions.
// Rule versions already present (same country and effective date) are kept.
func seedCountries(ctx context.Context, store payroll.Store, log zerolog.Logger) error {
	for _, p := range countries.Profiles() {
		if err := store.PutProfile(ctx, p); err != nil {
			return err
		}
	}
	for _, rs := range countries.RuleSets() {
		head, err := store.HeadRuleSet(ctx, rs.Country)
		if err != nil {
			return err
		}
		if head != nil {
			log.Debug().Str("country", string(rs.Country)).Int("version", head.Version).Msg("rules already seeded")
			continue
		}
		if err := store.PutRuleSet(ctx, rs); err != nil {
			return err
		}
		log.Info().Str("country", string(rs.Country)).Msg("seeded initial ruleset")
	}
	return nil
}
