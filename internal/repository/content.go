package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/blockedby/newsletter-dispatch/internal/logger"
	"github.com/blockedby/newsletter-dispatch/internal/models"
)

// ContentFilter narrows List results. Nil fields are ignored.
type ContentFilter struct {
	TopicID *int64
	Status  *models.ContentStatus
	Skip    int
	Limit   int
}

// ContentUpdate carries operator edits. Nil fields are left unchanged.
type ContentUpdate struct {
	Title       *string
	Body        *string
	ScheduledAt *time.Time
}

// DispatchResult is the terminal state written when a dispatch completes.
type DispatchResult struct {
	Status       models.ContentStatus
	SentAt       *time.Time
	ErrorMessage *string
}

// ContentRepository handles scheduled content and its delivery state
type ContentRepository struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

// NewContentRepository creates a new content repository
func NewContentRepository(db *gorm.DB, log *logger.Logger) *ContentRepository {
	return &ContentRepository{db: db, log: log, now: time.Now}
}

// Create inserts content in pending status.
func (r *ContentRepository) Create(ctx context.Context, c *models.Content) error {
	if strings.TrimSpace(c.Body) == "" {
		return errors.New("create content: body is required")
	}
	if c.ScheduledAt.IsZero() {
		return errors.New("create content: scheduled_at is required")
	}

	c.Status = models.ContentStatusPending
	c.ScheduledAt = c.ScheduledAt.UTC()
	c.SentAt = nil
	c.DispatchAttempts = 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := exists(tx, &models.Topic{}, c.TopicID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return tx.Omit("Topic").Create(c).Error
	})
	if err != nil {
		return fmt.Errorf("create content: %w", translate(err, nil))
	}

	r.log.Info().
		Int64("content_id", c.ID).
		Int64("topic_id", c.TopicID).
		Time("scheduled_at", c.ScheduledAt).
		Msg("created content")
	return nil
}

// GetByID returns content with its topic loaded, or nil when it does not exist.
func (r *ContentRepository) GetByID(ctx context.Context, id int64) (*models.Content, error) {
	var c models.Content
	err := r.db.WithContext(ctx).Preload("Topic").First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get content by id: %w", err)
	}
	return &c, nil
}

// List returns content ordered by scheduled time.
func (r *ContentRepository) List(ctx context.Context, f ContentFilter) ([]models.Content, error) {
	items := make([]models.Content, 0)
	q := r.db.WithContext(ctx).Order("scheduled_at ASC, id ASC").Offset(f.Skip)
	if f.TopicID != nil {
		q = q.Where("topic_id = ?", *f.TopicID)
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	return items, nil
}

// FindDue returns pending content scheduled at or before now,
// oldest first. It never writes.
func (r *ContentRepository) FindDue(ctx context.Context, now time.Time) ([]models.Content, error) {
	items := make([]models.Content, 0)
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.ContentStatusPending, now.UTC()).
		Order("scheduled_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("find due content: %w", err)
	}
	return items, nil
}

// Update applies operator edits while the content is still pending.
func (r *ContentRepository) Update(ctx context.Context, id int64, u ContentUpdate) error {
	fields := map[string]any{"updated_at": r.now().UTC()}
	if u.Title != nil {
		fields["title"] = *u.Title
	}
	if u.Body != nil {
		if strings.TrimSpace(*u.Body) == "" {
			return errors.New("update content: body must not be empty")
		}
		fields["body"] = *u.Body
	}
	if u.ScheduledAt != nil {
		fields["scheduled_at"] = u.ScheduledAt.UTC()
	}

	return r.updatePending(ctx, id, fields, "update content")
}

// Cancel moves pending content to cancelled.
func (r *ContentRepository) Cancel(ctx context.Context, id int64) error {
	err := r.updatePending(ctx, id, map[string]any{
		"status":     models.ContentStatusCancelled,
		"updated_at": r.now().UTC(),
	}, "cancel content")
	if err != nil {
		return err
	}

	r.log.Info().Int64("content_id", id).Msg("content cancelled")
	return nil
}

// FinalizeDispatch writes the terminal dispatch state if the content is
// still pending. It reports false when another writer got there first.
// A sent result without an error message clears any error recorded by an
// earlier interrupted attempt.
func (r *ContentRepository) FinalizeDispatch(ctx context.Context, id int64, res DispatchResult) (bool, error) {
	if !models.ContentStatusPending.CanTransitionTo(res.Status) || res.Status == models.ContentStatusCancelled {
		return false, fmt.Errorf("finalize dispatch: invalid target status %q", res.Status)
	}

	fields := map[string]any{
		"status":     res.Status,
		"updated_at": r.now().UTC(),
	}
	if res.SentAt != nil {
		fields["sent_at"] = res.SentAt.UTC()
	}
	if res.ErrorMessage != nil {
		fields["error_message"] = *res.ErrorMessage
	} else if res.Status == models.ContentStatusSent {
		fields["error_message"] = nil
	}

	tx := r.db.WithContext(ctx).
		Model(&models.Content{}).
		Where("id = ? AND status = ?", id, models.ContentStatusPending).
		Updates(fields)
	if tx.Error != nil {
		return false, fmt.Errorf("finalize dispatch: %w", tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

// RecordDispatchError stores an infrastructure error on pending content and
// returns how many such errors the item has accumulated.
func (r *ContentRepository) RecordDispatchError(ctx context.Context, id int64, msg string) (int, error) {
	var attempts []int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Content{}).
			Where("id = ? AND status = ?", id, models.ContentStatusPending).
			Updates(map[string]any{
				"dispatch_attempts": gorm.Expr("dispatch_attempts + ?", 1),
				"error_message":     msg,
				"updated_at":        r.now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.notPendingOrMissing(tx, id)
		}
		return tx.Model(&models.Content{}).Where("id = ?", id).Pluck("dispatch_attempts", &attempts).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotPending) {
			return 0, err
		}
		return 0, fmt.Errorf("record dispatch error: %w", err)
	}
	if len(attempts) == 0 {
		return 0, ErrNotFound
	}
	return attempts[0], nil
}

// MarkFailed moves pending content to failed with reason recorded.
func (r *ContentRepository) MarkFailed(ctx context.Context, id int64, reason string) (bool, error) {
	return r.FinalizeDispatch(ctx, id, DispatchResult{
		Status:       models.ContentStatusFailed,
		ErrorMessage: &reason,
	})
}

func (r *ContentRepository) updatePending(ctx context.Context, id int64, fields map[string]any, op string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Content{}).
			Where("id = ? AND status = ?", id, models.ContentStatusPending).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.notPendingOrMissing(tx, id)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotPending) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *ContentRepository) notPendingOrMissing(tx *gorm.DB, id int64) error {
	ok, err := exists(tx, &models.Content{}, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return ErrNotPending
}
