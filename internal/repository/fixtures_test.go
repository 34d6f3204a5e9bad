package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blockedby/newsletter-dispatch/internal/database/dbtest"
	"github.com/blockedby/newsletter-dispatch/internal/logger"
	"github.com/blockedby/newsletter-dispatch/internal/models"
)

type repos struct {
	db            *gorm.DB
	topics        *TopicsRepository
	subscribers   *SubscribersRepository
	subscriptions *SubscriptionsRepository
	content       *ContentRepository
}

func newRepos(t *testing.T) *repos {
	t.Helper()
	db := dbtest.New(t)
	log := logger.Get()
	return &repos{
		db:            db,
		topics:        NewTopicsRepository(db, log),
		subscribers:   NewSubscribersRepository(db, log),
		subscriptions: NewSubscriptionsRepository(db, log),
		content:       NewContentRepository(db, log),
	}
}

func (r *repos) topic(t *testing.T, name string) *models.Topic {
	t.Helper()
	topic := &models.Topic{Name: name, IsActive: true}
	require.NoError(t, r.topics.Create(context.Background(), topic))
	return topic
}

func (r *repos) subscriber(t *testing.T, email string, active bool) *models.Subscriber {
	t.Helper()
	sub := &models.Subscriber{Email: email, IsActive: active}
	require.NoError(t, r.subscribers.Create(context.Background(), sub))
	return sub
}

func (r *repos) subscribe(t *testing.T, subscriberID, topicID int64, active bool) *models.Subscription {
	t.Helper()
	s := &models.Subscription{SubscriberID: subscriberID, TopicID: topicID, IsActive: active}
	require.NoError(t, r.subscriptions.Create(context.Background(), s))
	return s
}

func (r *repos) contentAt(t *testing.T, topicID int64, at time.Time) *models.Content {
	t.Helper()
	c := &models.Content{TopicID: topicID, Body: "<p>hello</p>", ScheduledAt: at}
	require.NoError(t, r.content.Create(context.Background(), c))
	return c
}

func ptr[T any](v T) *T { return &v }
