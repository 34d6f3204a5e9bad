package handlers

import (
	"context"

	"github.com/blockedby/newsletter-dispatch/internal/models"
	"github.com/blockedby/newsletter-dispatch/internal/repository"
	"github.com/blockedby/newsletter-dispatch/internal/scheduler"
)

// ContentRepository defines interface for content data access
type ContentRepository interface {
	List(ctx context.Context, filter repository.ContentFilter) ([]models.Content, error)
	GetByID(ctx context.Context, id int64) (*models.Content, error)
}

// SchedulerStatus reports the scheduler loop state
type SchedulerStatus interface {
	Status() scheduler.Status
}
