// Package main wires together the orchestration service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/analysis/httpapi"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/api"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/clock/system"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/config"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/id/uuid"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/logging"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/metrics"
	pubsubpublisher "github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/publisher/pubsub"
	queuememory "github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/queue/memory"
	collyresolver "github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/resolver/colly"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/runner"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/scheduler"
	storagememory "github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/storage/memory"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/storage/postgres"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/webhook"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store studio.Store
	switch cfg.Store.Provider {
	case "postgres":
		pgStore, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      cfg.Store.DSN,
			MaxConns: int32(cfg.Store.MaxOpenConns),
		})
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
	default:
		store = storagememory.NewStore()
	}

	clock := system.New()
	idGen := uuid.NewUUIDGenerator()
	queue := queuememory.NewQueue(cfg.Scheduler.QueueDepth)

	var publisher studio.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Warn("pubsub client init failed, events will not be mirrored", zap.Error(err))
		} else {
			defer client.Close()
			pub := pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
			defer pub.Stop()
			publisher = pub
		}
	}

	resolver, err := collyresolver.New(collyresolver.Config{
		RequestTimeout: cfg.TargetTimeout(),
		Parallelism:    cfg.Runner.Concurrency,
	}, logger.Named("resolver"))
	if err != nil {
		logger.Fatal("resolver init failed", zap.Error(err))
	}
	analyzer := httpapi.New(httpapi.Config{
		Endpoint: cfg.Analyzer.Endpoint,
		Timeout:  time.Duration(cfg.Analyzer.TimeoutSeconds) * time.Second,
	})

	backoff := webhook.NewBackoffPolicy(
		cfg.Webhook.MaxAttempts,
		time.Duration(cfg.Webhook.BackoffInitialSeconds)*time.Second,
		time.Duration(cfg.Webhook.BackoffMaxSeconds)*time.Second,
	)
	sink := webhook.NewHTTPSink(time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second)
	dispatcher := webhook.NewDispatcher(store, sink, clock, idGen, backoff, logger.Named("webhook"))

	jobRunner := runner.New(
		store,
		resolver,
		analyzer,
		dispatcher,
		publisher,
		clock,
		idGen,
		runner.Config{
			TargetTimeout: cfg.TargetTimeout(),
			Topic:         cfg.PubSub.TopicName,
		},
		logger.Named("runner"),
	)
	pool := runner.NewPool(queue, jobRunner, cfg.Runner.Concurrency)

	sched := scheduler.New(
		store,
		pool,
		clock,
		idGen,
		scheduler.Config{
			Tick:        cfg.SchedulerTick(),
			DueLimit:    cfg.Scheduler.DueLimit,
			MaxFailures: cfg.Scheduler.MaxFailures,
		},
		logger.Named("scheduler"),
	)

	apiServer := api.NewServer(store, sched, dispatcher, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("runner pool started", zap.Int("concurrency", cfg.Runner.Concurrency))
		pool.Run(ctx)
	}()
	go func() {
		logger.Info("scheduler started", zap.Duration("tick", cfg.SchedulerTick()))
		sched.Run(ctx)
	}()
	go func() {
		logger.Info("delivery sweeper started")
		dispatcher.RunSweeper(ctx, time.Duration(cfg.Webhook.SweepSeconds)*time.Second, cfg.Webhook.SweepLimit)
	}()
	go func() {
		logger.Info("job reaper started", zap.Duration("max_age", cfg.JobTimeout()))
		jobRunner.RunReaper(ctx, time.Duration(cfg.Runner.ReaperSeconds)*time.Second, cfg.JobTimeout())
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}
