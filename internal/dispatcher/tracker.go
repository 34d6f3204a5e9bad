package dispatcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/newsletter-dispatch/internal/models"
)

// EventPublisher forwards status changes to external listeners.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, event models.StatusChangeEvent) error
}

// StatusTracker reports terminal status transitions of content.
// Publishing is best effort; the database row is the source of truth.
type StatusTracker struct {
	events EventPublisher
	log    *zerolog.Logger
	now    func() time.Time
}

// NewStatusTracker creates a tracker. events may be nil.
func NewStatusTracker(events EventPublisher, log *zerolog.Logger) *StatusTracker {
	return &StatusTracker{events: events, log: log, now: time.Now}
}

// Track records that content moved from one status to another.
func (t *StatusTracker) Track(ctx context.Context, c *models.Content, to models.ContentStatus, out Outcome) {
	from := c.Status
	if !from.CanTransitionTo(to) {
		t.log.Error().
			Int64("content_id", c.ID).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("unexpected status transition")
	}

	t.log.Info().
		Int64("content_id", c.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Int("sent", out.Sent).
		Int("failed", out.Failed).
		Msg("content status changed")

	if t.events == nil {
		return
	}

	event := models.StatusChangeEvent{
		Type:           "content.status_changed",
		ContentID:      c.ID,
		TopicID:        c.TopicID,
		PreviousStatus: from,
		CurrentStatus:  to,
		Sent:           out.Sent,
		Failed:         out.Failed,
		ErrorMessage:   out.ErrorMessage,
		UpdatedAt:      t.now().UTC(),
	}
	if err := t.events.PublishStatusChanged(context.WithoutCancel(ctx), event); err != nil {
		t.log.Warn().Err(err).Int64("content_id", c.ID).Msg("publish status change")
	}
}
