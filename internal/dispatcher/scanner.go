package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/newsletter-dispatch/internal/models"
)

// DueContentStore is the read side the scanner needs.
type DueContentStore interface {
	FindDue(ctx context.Context, now time.Time) ([]models.Content, error)
}

// Scanner finds content whose delivery time has come.
type Scanner struct {
	store DueContentStore
	log   *zerolog.Logger
}

// NewScanner creates a new scanner
func NewScanner(store DueContentStore, log *zerolog.Logger) *Scanner {
	return &Scanner{store: store, log: log}
}

// FindDue returns every pending item scheduled at or before now, oldest
// first. It does not modify anything. No due items is not an error.
func (s *Scanner) FindDue(ctx context.Context, now time.Time) ([]models.Content, error) {
	items, err := s.store.FindDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("scan due content: %w", err)
	}

	// the store filters already; keep the guard in case of a lax implementation
	due := items[:0]
	for _, c := range items {
		if c.Status == models.ContentStatusPending && !c.ScheduledAt.After(now) {
			due = append(due, c)
		}
	}

	if len(due) > 0 {
		s.log.Debug().Int("count", len(due)).Time("now", now).Msg("found due content")
	}
	return due, nil
}
