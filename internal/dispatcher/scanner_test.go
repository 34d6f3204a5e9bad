package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/newsletter-dispatch/internal/models"
)

func TestScanner_FindDue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	topic := e.topic(t, "Tech")

	past := e.contentAt(t, topic.ID, testNow.Add(-5*time.Minute))
	exact := e.contentAt(t, topic.ID, testNow)
	older := e.contentAt(t, topic.ID, testNow.Add(-time.Hour))
	future := e.contentAt(t, topic.ID, testNow.Add(time.Second))

	sent := e.contentAt(t, topic.ID, testNow.Add(-2*time.Hour))
	applied, err := e.content.FinalizeDispatch(ctx, sent.ID, repositoryResult(models.ContentStatusSent))
	require.NoError(t, err)
	require.True(t, applied)

	cancelled := e.contentAt(t, topic.ID, testNow.Add(-3*time.Hour))
	require.NoError(t, e.content.Cancel(ctx, cancelled.ID))

	due, err := NewScanner(e.content, nopLog()).FindDue(ctx, testNow)
	require.NoError(t, err)

	ids := make([]int64, 0, len(due))
	for _, c := range due {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{older.ID, past.ID, exact.ID}, ids, "oldest first")
	assert.NotContains(t, ids, future.ID)
	assert.NotContains(t, ids, sent.ID)
	assert.NotContains(t, ids, cancelled.ID)

	// read-only
	assert.Equal(t, models.ContentStatusPending, e.reload(t, past.ID).Status)
}

func TestScanner_NothingDue(t *testing.T) {
	e := newEnv(t)
	topic := e.topic(t, "Tech")
	e.contentAt(t, topic.ID, testNow.Add(time.Hour))

	due, err := NewScanner(e.content, nopLog()).FindDue(context.Background(), testNow)

	require.NoError(t, err)
	assert.Empty(t, due)
}

type dueStoreFunc func(ctx context.Context, now time.Time) ([]models.Content, error)

func (f dueStoreFunc) FindDue(ctx context.Context, now time.Time) ([]models.Content, error) {
	return f(ctx, now)
}

func TestScanner_StoreError(t *testing.T) {
	boom := errors.New("connection refused")
	s := NewScanner(dueStoreFunc(func(context.Context, time.Time) ([]models.Content, error) {
		return nil, boom
	}), nopLog())

	_, err := s.FindDue(context.Background(), testNow)

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "scan due content")
}

func TestScanner_FiltersLaxStore(t *testing.T) {
	s := NewScanner(dueStoreFunc(func(context.Context, time.Time) ([]models.Content, error) {
		return []models.Content{
			{ID: 1, Status: models.ContentStatusPending, ScheduledAt: testNow.Add(-time.Minute)},
			{ID: 2, Status: models.ContentStatusSent, ScheduledAt: testNow.Add(-time.Minute)},
			{ID: 3, Status: models.ContentStatusPending, ScheduledAt: testNow.Add(time.Minute)},
		}, nil
	}), nopLog())

	due, err := s.FindDue(context.Background(), testNow)

	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(1), due[0].ID)
}
