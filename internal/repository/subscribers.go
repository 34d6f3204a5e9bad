package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/blockedby/newsletter-dispatch/internal/logger"
	"github.com/blockedby/newsletter-dispatch/internal/models"
)

// SubscribersRepository handles subscriber CRUD operations
type SubscribersRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewSubscribersRepository creates a new subscribers repository
func NewSubscribersRepository(db *gorm.DB, log *logger.Logger) *SubscribersRepository {
	return &SubscribersRepository{db: db, log: log}
}

// Create inserts a subscriber. Emails are unique, compared case-insensitively.
func (r *SubscribersRepository) Create(ctx context.Context, sub *models.Subscriber) error {
	sub.Email = strings.ToLower(strings.TrimSpace(sub.Email))
	if sub.Email == "" {
		return errors.New("create subscriber: email is required")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Subscriber{}).Where("email = ?", sub.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateEmail
		}
		return tx.Create(sub).Error
	})
	if err != nil {
		return fmt.Errorf("create subscriber: %w", translate(err, ErrDuplicateEmail))
	}

	r.log.Info().Int64("subscriber_id", sub.ID).Msg("created subscriber")
	return nil
}

// GetByID returns a subscriber or nil when it does not exist.
func (r *SubscribersRepository) GetByID(ctx context.Context, id int64) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := r.db.WithContext(ctx).First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber by id: %w", err)
	}
	return &sub, nil
}

// GetByEmail returns a subscriber or nil when it does not exist.
func (r *SubscribersRepository) GetByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber by email: %w", err)
	}
	return &sub, nil
}

// List returns subscribers ordered by id.
func (r *SubscribersRepository) List(ctx context.Context, skip, limit int) ([]models.Subscriber, error) {
	subs := make([]models.Subscriber, 0)
	q := r.db.WithContext(ctx).Order("id ASC").Offset(skip)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return subs, nil
}

// SetActive toggles the subscriber's own active flag.
func (r *SubscribersRepository) SetActive(ctx context.Context, id int64, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Subscriber{}).
		Where("id = ?", id).
		Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("set subscriber active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a subscriber and its subscriptions in one transaction.
func (r *SubscribersRepository) Delete(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := exists(tx, &models.Subscriber{}, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if err := tx.Where("subscriber_id = ?", id).Delete(&models.Subscription{}).Error; err != nil {
			return fmt.Errorf("delete subscriptions: %w", err)
		}
		return tx.Delete(&models.Subscriber{}, id).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete subscriber: %w", err)
	}
	return nil
}

// ListEligibleForTopic returns subscribers whose own flag and whose
// subscription to topicID are both active, ordered by subscriber id.
func (r *SubscribersRepository) ListEligibleForTopic(ctx context.Context, topicID int64) ([]models.Subscriber, error) {
	subs := make([]models.Subscriber, 0)
	err := r.db.WithContext(ctx).
		Model(&models.Subscriber{}).
		Select("subscribers.*").
		Joins("JOIN subscriptions ON subscriptions.subscriber_id = subscribers.id").
		Where("subscriptions.topic_id = ?", topicID).
		Where("subscriptions.is_active = ? AND subscribers.is_active = ?", true, true).
		Order("subscribers.id ASC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list eligible subscribers: %w", err)
	}
	return subs, nil
}
