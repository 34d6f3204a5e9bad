package dispatcher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/blockedby/newsletter-dispatch/internal/models"
)

// SubscriberStore is the read side the resolver needs.
type SubscriberStore interface {
	ListEligibleForTopic(ctx context.Context, topicID int64) ([]models.Subscriber, error)
}

// Resolver computes who receives content for a topic.
type Resolver struct {
	store SubscriberStore
	log   *zerolog.Logger
}

// NewResolver creates a new resolver
func NewResolver(store SubscriberStore, log *zerolog.Logger) *Resolver {
	return &Resolver{store: store, log: log}
}

// EligibleSubscribers returns active subscribers holding an active
// subscription to topicID. Each subscriber appears once.
func (r *Resolver) EligibleSubscribers(ctx context.Context, topicID int64) ([]models.Subscriber, error) {
	subs, err := r.store.ListEligibleForTopic(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	seen := make(map[int64]struct{}, len(subs))
	out := make([]models.Subscriber, 0, len(subs))
	for _, s := range subs {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}

		if !s.IsActive {
			continue
		}
		out = append(out, s)
	}

	if dropped := len(subs) - len(out); dropped > 0 {
		r.log.Warn().Int64("topic_id", topicID).Int("dropped", dropped).Msg("dropped duplicate or inactive recipients")
	}
	return out, nil
}
