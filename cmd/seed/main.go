package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/blockedby/newsletter-dispatch/internal/config"
	"github.com/blockedby/newsletter-dispatch/internal/database"
	"github.com/blockedby/newsletter-dispatch/internal/logger"
	"github.com/blockedby/newsletter-dispatch/internal/models"
	"github.com/blockedby/newsletter-dispatch/internal/repository"
)

func main() {
	topicName := flag.String("topic", "Tech", "topic to create or reuse")
	email := flag.String("email", "reader@example.com", "subscriber email")
	delay := flag.Duration("in", -5*time.Minute, "schedule the content relative to now")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(ctx, db.GORM); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	topics := repository.NewTopicsRepository(db.GORM, log)
	subscribers := repository.NewSubscribersRepository(db.GORM, log)
	subscriptions := repository.NewSubscriptionsRepository(db.GORM, log)
	content := repository.NewContentRepository(db.GORM, log)

	topic, err := findOrCreateTopic(ctx, topics, *topicName)
	if err != nil {
		log.Fatal().Err(err).Msg("seed topic")
	}

	sub, err := subscribers.GetByEmail(ctx, *email)
	if err != nil {
		log.Fatal().Err(err).Msg("look up subscriber")
	}
	if sub == nil {
		sub = &models.Subscriber{Email: *email, IsActive: true}
		if err := subscribers.Create(ctx, sub); err != nil {
			log.Fatal().Err(err).Msg("seed subscriber")
		}
	}

	err = subscriptions.Create(ctx, &models.Subscription{SubscriberID: sub.ID, TopicID: topic.ID, IsActive: true})
	if err != nil && !errors.Is(err, repository.ErrDuplicateSubscription) {
		log.Fatal().Err(err).Msg("seed subscription")
	}

	title := "Hello from " + topic.Name
	c := &models.Content{
		TopicID:     topic.ID,
		Title:       &title,
		Body:        "<h1>" + title + "</h1><p>This issue was seeded for a local run.</p>",
		ScheduledAt: time.Now().Add(*delay),
	}
	if err := content.Create(ctx, c); err != nil {
		log.Fatal().Err(err).Msg("seed content")
	}

	log.Info().
		Int64("topic_id", topic.ID).
		Int64("subscriber_id", sub.ID).
		Int64("content_id", c.ID).
		Time("scheduled_at", c.ScheduledAt).
		Msg("seed complete")
}

func findOrCreateTopic(ctx context.Context, topics *repository.TopicsRepository, name string) (*models.Topic, error) {
	all, err := topics.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == name {
			return &all[i], nil
		}
	}

	t := &models.Topic{Name: name, IsActive: true}
	if err := topics.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
