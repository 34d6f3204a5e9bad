package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockedby/newsletter-dispatch/internal/config"
	"github.com/blockedby/newsletter-dispatch/internal/database"
	"github.com/blockedby/newsletter-dispatch/internal/dispatcher"
	"github.com/blockedby/newsletter-dispatch/internal/logger"
	"github.com/blockedby/newsletter-dispatch/internal/models"
	"github.com/blockedby/newsletter-dispatch/internal/nats"
	"github.com/blockedby/newsletter-dispatch/internal/publisher"
	"github.com/blockedby/newsletter-dispatch/internal/repository"
	"github.com/blockedby/newsletter-dispatch/internal/scheduler"
	"github.com/blockedby/newsletter-dispatch/internal/web"
	"github.com/blockedby/newsletter-dispatch/internal/web/handlers"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Setup Logger
	if err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Format: cfg.LogFormat}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting scheduler service")

	// 3. Setup context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Setup resources
	// Database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db.GORM); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}
	log.Info().Msg("connected to database")

	// NATS
	natsClient, err := nats.New(ctx, cfg.NatsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer natsClient.Close()
	log.Info().Msg("connected to nats")

	if err := natsClient.EnsureStream(ctx, nats.StreamSpec{
		Name:      models.JobsStream,
		Subjects:  []string{models.DispatchSubject},
		WorkQueue: true,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure jobs stream")
	}

	// Repositories
	contentRepo := repository.NewContentRepository(db.GORM, log)

	// Scanner, publisher and scheduler
	scanner := dispatcher.NewScanner(contentRepo, log.Component("scanner"))
	pub := publisher.NewNATSPublisher(natsClient, cfg.ScanInterval)
	sched := scheduler.New(scheduler.Config{Interval: cfg.ScanInterval}, scanner, pub, log.Component("scheduler"))

	// 5. Start scheduler
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	// Operator API
	srv := web.NewServer(&web.Config{Port: cfg.HTTPPort, AllowedOrigins: cfg.CORSAllowedOrigins}, db)
	srv.RegisterContentHandler(handlers.NewContentHandler(contentRepo))
	srv.RegisterSchedulerHandler(handlers.NewSchedulerHandler(sched))

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("http server listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}

	log.Info().Msg("shutdown complete")
}
