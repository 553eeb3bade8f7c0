package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tubetrace-engine/internal/api"
	"github.com/tubetrace-engine/internal/common/config"
	"github.com/tubetrace-engine/internal/common/db"
	"github.com/tubetrace-engine/internal/common/discord"
	"github.com/tubetrace-engine/internal/common/logger"
	"github.com/tubetrace-engine/internal/common/maintenance"
	"github.com/tubetrace-engine/internal/common/metrics"
	"github.com/tubetrace-engine/internal/common/tracing"
	"github.com/tubetrace-engine/internal/inference"
	"github.com/tubetrace-engine/internal/pipeline"
	"github.com/tubetrace-engine/internal/publisher"
	"github.com/tubetrace-engine/internal/recorder"
	"github.com/tubetrace-engine/internal/topology"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.InitLogger(logger.LoggerConfig{
		Level:           logger.ParseLogLevel(cfg.Logging.Level),
		Console:         true,
		FilePath:        cfg.Logging.FilePath,
		TimeFieldFormat: time.RFC3339,
	})

	log.Info("Tubetrace service starting",
		"version", version,
		"log_level", cfg.Logging.Level,
		"topology_file", cfg.Topology.File,
		"database", cfg.Database.Enabled,
		"nats", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
		Insecure:    true,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialise tracing", "error", err)
	}

	store, err := loadTopology(cfg.Topology.File)
	if err != nil {
		log.Fatal("Failed to load topology", "error", err)
	}
	log.Info("Topology loaded", "lines", store.Lines())

	collector := metrics.NewCollector()
	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = collector.Serve(cfg.Metrics.Addr, log)
	}

	engine := inference.New(store)
	opts := []pipeline.Option{
		pipeline.WithMetrics(collector),
		pipeline.WithHistoryWindow(cfg.Engine.HistoryWindow),
		pipeline.WithParallelism(cfg.Engine.Parallelism),
	}

	var (
		database  *db.DB
		pinger    api.Pinger
		rec       *recorder.Recorder
		scheduler *maintenance.CleanupScheduler
		nats      *publisher.NATSPublisher
	)

	if cfg.Database.Enabled {
		database, err = db.New(ctx, cfg.Database.ConnectionString(), log)
		if err != nil {
			log.Fatal("Failed to connect to database", "error", err)
		}
		defer database.Close()
		pinger = database

		rec = recorder.New(database, log, collector, 256)
		if err := rec.Start(ctx); err != nil {
			log.Fatal("Failed to start recorder", "error", err)
		}
		opts = append(opts, pipeline.WithSinks(rec))

		schedCfg := maintenance.DefaultSchedulerConfig()
		schedCfg.Interval = cfg.Maintenance.Interval
		schedCfg.Retention = cfg.Maintenance.Retention
		scheduler = maintenance.NewCleanupScheduler(database, log, collector, schedCfg)
		if err := scheduler.Start(context.Background()); err != nil {
			log.Fatal("Failed to start cleanup scheduler", "error", err)
		}
	} else {
		log.Info("Recorder disabled (DB_ENABLED is not set)")
	}

	if cfg.NATS.URL != "" {
		nats, err = publisher.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log, collector)
		if err != nil {
			log.Fatal("Failed to connect to NATS", "error", err)
		}
		opts = append(opts, pipeline.WithSinks(nats))
	} else {
		log.Info("NATS publisher disabled (no NATS_URL provided)")
	}

	if cfg.Alerts.DiscordWebhookURL != "" {
		opts = append(opts, pipeline.WithAlerter(discord.NewAlerter(
			discord.NewClient(cfg.Alerts.DiscordWebhookURL),
			discord.AlerterConfig{
				Threshold: cfg.Alerts.UnknownRatioThreshold,
				MinSample: cfg.Alerts.MinSample,
				Cooldown:  cfg.Alerts.Cooldown,
			},
		)))
	}

	p := pipeline.New(engine, log, opts...)
	handler := api.NewHandler(p, engine, pinger, log, cfg.Engine.MaxBatchSize)
	srv := api.NewServer(cfg.HTTP.Addr, api.NewRouter(handler, cfg.HTTP.AllowedOrigins))

	go func() {
		log.Info("API server starting", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("API server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("API server shutdown failed", "error", err)
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	if rec != nil {
		rec.Stop()
	}
	if nats != nil {
		nats.Close()
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("Tracer shutdown failed", "error", err)
	}

	log.Info("Tubetrace service stopped")
}

func loadTopology(path string) (*topology.Store, error) {
	if path == "" {
		return topology.Default()
	}
	return topology.LoadFile(path)
}
