package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/blockedby/newsletter-dispatch/internal/logger"
	"github.com/blockedby/newsletter-dispatch/internal/models"
)

// TopicsRepository handles topic CRUD operations
type TopicsRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewTopicsRepository creates a new topics repository
func NewTopicsRepository(db *gorm.DB, log *logger.Logger) *TopicsRepository {
	return &TopicsRepository{db: db, log: log}
}

// Create inserts a topic. Names are unique.
func (r *TopicsRepository) Create(ctx context.Context, topic *models.Topic) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Topic{}).Where("name = ?", topic.Name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateTopic
		}
		return tx.Create(topic).Error
	})
	if err != nil {
		return fmt.Errorf("create topic: %w", translate(err, ErrDuplicateTopic))
	}

	r.log.Info().Int64("topic_id", topic.ID).Str("name", topic.Name).Msg("created topic")
	return nil
}

// GetByID returns a topic or nil when it does not exist.
func (r *TopicsRepository) GetByID(ctx context.Context, id int64) (*models.Topic, error) {
	var topic models.Topic
	err := r.db.WithContext(ctx).First(&topic, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get topic by id: %w", err)
	}
	return &topic, nil
}

// List returns every topic ordered by id.
func (r *TopicsRepository) List(ctx context.Context) ([]models.Topic, error) {
	topics := make([]models.Topic, 0)
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&topics).Error; err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

// Update saves name, description and the active flag.
func (r *TopicsRepository) Update(ctx context.Context, topic *models.Topic) error {
	res := r.db.WithContext(ctx).
		Model(&models.Topic{}).
		Where("id = ?", topic.ID).
		Updates(map[string]any{
			"name":        topic.Name,
			"description": topic.Description,
			"is_active":   topic.IsActive,
		})
	if res.Error != nil {
		return fmt.Errorf("update topic: %w", translate(res.Error, ErrDuplicateTopic))
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a topic together with its subscriptions and content
// in one transaction.
func (r *TopicsRepository) Delete(ctx context.Context, id int64) error {
	var removedContent, removedSubs int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := exists(tx, &models.Topic{}, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}

		res := tx.Where("topic_id = ?", id).Delete(&models.Subscription{})
		if res.Error != nil {
			return fmt.Errorf("delete subscriptions: %w", res.Error)
		}
		removedSubs = res.RowsAffected

		res = tx.Where("topic_id = ?", id).Delete(&models.Content{})
		if res.Error != nil {
			return fmt.Errorf("delete content: %w", res.Error)
		}
		removedContent = res.RowsAffected

		return tx.Delete(&models.Topic{}, id).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete topic: %w", err)
	}

	r.log.Info().
		Int64("topic_id", id).
		Int64("subscriptions", removedSubs).
		Int64("content", removedContent).
		Msg("deleted topic")
	return nil
}
