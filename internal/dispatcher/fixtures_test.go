package dispatcher

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/newsletter-dispatch/internal/database/dbtest"
	"github.com/blockedby/newsletter-dispatch/internal/logger"
	"github.com/blockedby/newsletter-dispatch/internal/mailer"
	"github.com/blockedby/newsletter-dispatch/internal/models"
	"github.com/blockedby/newsletter-dispatch/internal/repository"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func nopLog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// env is a migrated in-memory store with repositories wired.
type env struct {
	topics        *repository.TopicsRepository
	subscribers   *repository.SubscribersRepository
	subscriptions *repository.SubscriptionsRepository
	content       *repository.ContentRepository
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbtest.New(t)
	log := logger.Get()
	return &env{
		topics:        repository.NewTopicsRepository(db, log),
		subscribers:   repository.NewSubscribersRepository(db, log),
		subscriptions: repository.NewSubscriptionsRepository(db, log),
		content:       repository.NewContentRepository(db, log),
	}
}

func (e *env) topic(t *testing.T, name string) *models.Topic {
	t.Helper()
	topic := &models.Topic{Name: name, IsActive: true}
	require.NoError(t, e.topics.Create(context.Background(), topic))
	return topic
}

// subscribe creates a subscriber for email and subscribes it to topicID.
func (e *env) subscribe(t *testing.T, topicID int64, email string, subActive, subscriptionActive bool) *models.Subscriber {
	t.Helper()
	ctx := context.Background()

	sub, err := e.subscribers.GetByEmail(ctx, email)
	require.NoError(t, err)
	if sub == nil {
		sub = &models.Subscriber{Email: email, IsActive: subActive}
		require.NoError(t, e.subscribers.Create(ctx, sub))
	}

	s := &models.Subscription{SubscriberID: sub.ID, TopicID: topicID, IsActive: subscriptionActive}
	require.NoError(t, e.subscriptions.Create(ctx, s))
	return sub
}

func (e *env) contentAt(t *testing.T, topicID int64, at time.Time) *models.Content {
	t.Helper()
	c := &models.Content{TopicID: topicID, Body: "<p>weekly digest</p>", ScheduledAt: at}
	require.NoError(t, e.content.Create(context.Background(), c))
	return c
}

func (e *env) reload(t *testing.T, id int64) *models.Content {
	t.Helper()
	c, err := e.content.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func (e *env) executor(sender mailer.Sender, opts ...Option) *Executor {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewExecutor(
		e.content,
		NewResolver(e.subscribers, nopLog()),
		sender,
		RetryPolicy{MaxRetries: 3, Backoff: time.Minute},
		ExecutorConfig{SendTimeout: time.Second, Concurrency: 4},
		nopLog(),
		opts...,
	)
}

// fakeSender records deliveries and fails recipients listed in fail.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
	msgs []mailer.Message
	fail map[string]error
}

func (f *fakeSender) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	if err, ok := f.fail[msg.To]; ok {
		return err
	}
	f.sent = append(f.sent, msg.To)
	return nil
}

func (f *fakeSender) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.sent...)
	sort.Strings(out)
	return out
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

// fakeEvents records published status changes.
type fakeEvents struct {
	mu     sync.Mutex
	events []models.StatusChangeEvent
	err    error
}

func (f *fakeEvents) PublishStatusChanged(_ context.Context, event models.StatusChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func ptr[T any](v T) *T { return &v }

func repositoryResult(status models.ContentStatus) repository.DispatchResult {
	res := repository.DispatchResult{Status: status}
	if status == models.ContentStatusSent {
		res.SentAt = ptr(testNow)
	}
	return res
}
