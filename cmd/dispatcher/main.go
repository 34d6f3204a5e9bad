package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	goredislib "github.com/redis/go-redis/v9"

	"github.com/blockedby/newsletter-dispatch/internal/config"
	"github.com/blockedby/newsletter-dispatch/internal/database"
	"github.com/blockedby/newsletter-dispatch/internal/dispatcher"
	"github.com/blockedby/newsletter-dispatch/internal/lock"
	"github.com/blockedby/newsletter-dispatch/internal/logger"
	"github.com/blockedby/newsletter-dispatch/internal/mailer"
	"github.com/blockedby/newsletter-dispatch/internal/models"
	"github.com/blockedby/newsletter-dispatch/internal/nats"
	"github.com/blockedby/newsletter-dispatch/internal/publisher"
	"github.com/blockedby/newsletter-dispatch/internal/repository"
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
	log.Info().Msg("starting dispatcher service")

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
	log.Info().Msg("connected to database")

	// NATS
	natsClient, err := nats.New(ctx, cfg.NatsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer natsClient.Close()
	log.Info().Msg("connected to nats")

	// Ensure streams exist (scheduler creates the jobs stream too)
	streams := []nats.StreamSpec{
		{Name: models.JobsStream, Subjects: []string{models.DispatchSubject}, WorkQueue: true},
		{Name: models.EventsStream, Subjects: []string{models.StatusSubjectPrefix + ">"}, MaxAge: 7 * 24 * time.Hour},
	}
	for _, spec := range streams {
		if err := natsClient.EnsureStream(ctx, spec); err != nil {
			log.Fatal().Err(err).Str("stream", spec.Name).Msg("failed to ensure stream")
		}
	}

	// Dispatch lock, in-process when redis is not configured
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb := goredislib.NewClient(&goredislib.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		rl, err := lock.NewRedisLocker(rdb, cfg.DispatchHardTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create redis locker")
		}
		locker = rl
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis dispatch lock")
	}

	// Repositories
	contentRepo := repository.NewContentRepository(db.GORM, log)
	subscribersRepo := repository.NewSubscribersRepository(db.GORM, log)

	// Mail transport
	sender := mailer.NewFromConfig(cfg, log.Component("mailer"))

	// Executor
	pub := publisher.NewNATSPublisher(natsClient, cfg.ScanInterval)
	exec := dispatcher.NewExecutor(
		contentRepo,
		dispatcher.NewResolver(subscribersRepo, log.Component("resolver")),
		sender,
		dispatcher.RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff},
		dispatcher.ExecutorConfig{
			SendTimeout: cfg.SendTimeout,
			Concurrency: cfg.DispatchConcurrency,
			SoftTimeout: cfg.DispatchSoftTimeout,
		},
		log.Component("executor"),
		dispatcher.WithLocker(locker),
		dispatcher.WithTracker(dispatcher.NewStatusTracker(pub, log.Component("tracker"))),
	)

	// Consumer
	consumer := dispatcher.NewConsumer(natsClient, exec, dispatcher.ConsumerConfig{
		Workers:     cfg.WorkerConcurrency,
		HardTimeout: cfg.DispatchHardTimeout,
		MaxRetries:  cfg.MaxRetries,
	}, log.Component("consumer"))

	// 5. Start Consumer
	if err := consumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start consumer")
	}
	log.Info().Int("workers", cfg.WorkerConcurrency).Msg("consumer started")

	// Wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down, waiting for in-flight dispatches")

	// in-flight dispatches are bounded by the hard timeout
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.DispatchHardTimeout)
	defer stopCancel()
	if err := consumer.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("consumer stop")
	}

	log.Info().Msg("shutdown complete")
}
