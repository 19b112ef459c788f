package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/flood-alert-service/internal/adapter/http"
	"github.com/couchcryptid/flood-alert-service/internal/adapter/influx"
	kafkaadapter "github.com/couchcryptid/flood-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/flood-alert-service/internal/adapter/postgres"
	"github.com/couchcryptid/flood-alert-service/internal/adapter/sms"
	"github.com/couchcryptid/flood-alert-service/internal/config"
	"github.com/couchcryptid/flood-alert-service/internal/dispatch"
	"github.com/couchcryptid/flood-alert-service/internal/observability"
	"github.com/couchcryptid/flood-alert-service/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DBBootstrap {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		logger.Info("database schema ensured")
	}

	// sent_at and the cooldown gate read time from the same clock.
	clock := clockwork.NewRealClock()
	store := postgres.NewDeliveryStore(db, cfg.MaxAttempts, cfg.ClaimRetries).WithClock(clock)
	readiness := httpadapter.ReadinessChecks{postgres.Readiness{DB: db}}

	// Smoothing and reading storage are enabled by INFLUX_URL.
	var (
		levels   pipeline.LevelSource
		recorder httpadapter.ReadingRecorder
	)
	if cfg.InfluxURL != "" {
		ic := influx.NewClient(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		defer ic.Close()
		levels, recorder = ic, ic
		readiness = append(readiness, ic)
		logger.Info("smoothing enabled", "influx_url", cfg.InfluxURL, "window", cfg.SmoothingWindow)
	} else {
		logger.Warn("INFLUX_URL not set, smoothing disabled, raw values will be classified")
	}

	var (
		publisher pipeline.AlertPublisher
		reader    *kafkaadapter.Reader
		writer    *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
	}

	smoother := pipeline.NewSmoother(levels, cfg.SmoothingWindow, cfg.SmoothingTimeout, logger, metrics)
	gate := pipeline.NewCooldownGate(store, cfg.Thresholds, clock)
	evaluator := pipeline.NewEvaluator(smoother, cfg.Thresholds, gate, store, publisher, logger, metrics)
	queue := dispatch.NewQueue(store, logger, metrics)

	api := &httpadapter.API{
		Secret:            cfg.APISecret,
		Evaluator:         evaluator,
		Recorder:          recorder,
		Queue:             queue,
		EvaluationTimeout: cfg.EvaluationTimeout,
		Logger:            logger,
		Metrics:           metrics,
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, api, readiness, logger)

	var wg sync.WaitGroup

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start readings consumer.
	if reader != nil {
		p := pipeline.New(reader, evaluator, logger, metrics, cfg.BatchSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	}

	// Start dispatcher workers.
	if cfg.DispatchWorkers > 0 {
		sender := sms.NewClient(cfg.SMSGatewayURL, cfg.SMSGatewayToken, cfg.SMSTimeout, logger, metrics)
		pool := dispatch.NewPool(queue, sender, cfg.DispatchWorkers, cfg.DispatchPollInterval, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx)
		}()
	}

	// Start stale-claim sweeper.
	sweeper := dispatch.NewSweeper(store, cfg.ClaimTimeout, cfg.SweepInterval, clock, logger, metrics)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	wg.Wait()

	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
