// Package publisher puts dispatch jobs and status events on NATS.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/blockedby/newsletter-dispatch/internal/models"
)

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(ctx context.Context, subject string, data any, opts ...jetstream.PublishOpt) error
}

// NATSPublisher submits dispatch jobs and implements dispatcher.EventPublisher.
type NATSPublisher struct {
	js NATSClient

	// dedupWindow groups enqueues of the same content into one message id
	dedupWindow time.Duration
	now         func() time.Time
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(js NATSClient, dedupWindow time.Duration) *NATSPublisher {
	if dedupWindow <= 0 {
		dedupWindow = time.Minute
	}
	return &NATSPublisher{js: js, dedupWindow: dedupWindow, now: time.Now}
}

// Enqueue submits a dispatch job for contentID. Repeated enqueues of the
// same content within one dedup window are collapsed by JetStream.
func (p *NATSPublisher) Enqueue(ctx context.Context, contentID int64) error {
	now := p.now().UTC()
	job := models.DispatchJob{
		JobID:      uuid.New(),
		ContentID:  contentID,
		EnqueuedAt: now,
	}

	if err := p.js.Publish(ctx, models.DispatchSubject, job, jetstream.WithMsgID(p.msgID(contentID, now))); err != nil {
		return fmt.Errorf("enqueue content %d: %w", contentID, err)
	}
	return nil
}

func (p *NATSPublisher) msgID(contentID int64, now time.Time) string {
	return fmt.Sprintf("dispatch-%d-%d", contentID, now.Truncate(p.dedupWindow).Unix())
}

// PublishStatusChanged publishes a status change event
func (p *NATSPublisher) PublishStatusChanged(ctx context.Context, event models.StatusChangeEvent) error {
	if err := p.js.Publish(ctx, models.StatusSubject(event.CurrentStatus), event); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
