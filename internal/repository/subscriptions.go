package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/blockedby/newsletter-dispatch/internal/logger"
	"github.com/blockedby/newsletter-dispatch/internal/models"
)

// SubscriptionFilter narrows List results. Zero fields are ignored.
type SubscriptionFilter struct {
	SubscriberID int64
	TopicID      int64
}

// SubscriptionsRepository handles subscription CRUD operations
type SubscriptionsRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewSubscriptionsRepository creates a new subscriptions repository
func NewSubscriptionsRepository(db *gorm.DB, log *logger.Logger) *SubscriptionsRepository {
	return &SubscriptionsRepository{db: db, log: log}
}

// Create links a subscriber to a topic.
// Returns ErrNotFound for a missing side and ErrDuplicateSubscription
// when the pair is already linked.
func (r *SubscriptionsRepository) Create(ctx context.Context, s *models.Subscription) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ref := range []struct {
			model any
			id    int64
		}{
			{&models.Subscriber{}, s.SubscriberID},
			{&models.Topic{}, s.TopicID},
		} {
			ok, err := exists(tx, ref.model, ref.id)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotFound
			}
		}

		var n int64
		err := tx.Model(&models.Subscription{}).
			Where("subscriber_id = ? AND topic_id = ?", s.SubscriberID, s.TopicID).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateSubscription
		}
		return tx.Create(s).Error
	})
	if err != nil {
		return fmt.Errorf("create subscription: %w", translate(err, ErrDuplicateSubscription))
	}

	r.log.Info().
		Int64("subscription_id", s.ID).
		Int64("subscriber_id", s.SubscriberID).
		Int64("topic_id", s.TopicID).
		Msg("created subscription")
	return nil
}

// GetByID returns a subscription or nil when it does not exist.
func (r *SubscriptionsRepository) GetByID(ctx context.Context, id int64) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.WithContext(ctx).First(&s, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by id: %w", err)
	}
	return &s, nil
}

// List returns subscriptions matching the filter ordered by id.
func (r *SubscriptionsRepository) List(ctx context.Context, f SubscriptionFilter) ([]models.Subscription, error) {
	subs := make([]models.Subscription, 0)
	q := r.db.WithContext(ctx).Order("id ASC")
	if f.SubscriberID != 0 {
		q = q.Where("subscriber_id = ?", f.SubscriberID)
	}
	if f.TopicID != 0 {
		q = q.Where("topic_id = ?", f.TopicID)
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// SetActive toggles a subscription without deleting it.
func (r *SubscriptionsRepository) SetActive(ctx context.Context, id int64, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("set subscription active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes one subscription.
func (r *SubscriptionsRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&models.Subscription{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
