package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blockedby/newsletter-dispatch/internal/logger"
	"github.com/blockedby/newsletter-dispatch/internal/models"
	"github.com/blockedby/newsletter-dispatch/internal/repository"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ContentHandler serves delivery status of scheduled content.
type ContentHandler struct {
	repo ContentRepository
	log  *logger.Logger
}

// NewContentHandler creates a new ContentHandler.
func NewContentHandler(repo ContentRepository) *ContentHandler {
	return &ContentHandler{
		repo: repo,
		log:  logger.Get(),
	}
}

// ContentStatusResponse is the operator view of one content item.
type ContentStatusResponse struct {
	ContentID        int64                `json:"content_id"`
	TopicID          int64                `json:"topic_id"`
	Title            *string              `json:"title,omitempty"`
	Status           models.ContentStatus `json:"status"`
	ScheduledAt      time.Time            `json:"scheduled_at"`
	SentAt           *time.Time           `json:"sent_at"`
	ErrorMessage     *string              `json:"error_message"`
	DispatchAttempts int                  `json:"dispatch_attempts"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func newContentStatusResponse(c *models.Content) ContentStatusResponse {
	return ContentStatusResponse{
		ContentID:        c.ID,
		TopicID:          c.TopicID,
		Title:            c.Title,
		Status:           c.Status,
		ScheduledAt:      c.ScheduledAt,
		SentAt:           c.SentAt,
		ErrorMessage:     c.ErrorMessage,
		DispatchAttempts: c.DispatchAttempts,
		UpdatedAt:        c.UpdatedAt,
	}
}

// GetStatus returns the delivery status of one content item.
// GET /api/v1/content/{id}/status
func (h *ContentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid content id")
		return
	}

	c, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("content_id", id).Msg("get content status")
		respondError(w, http.StatusInternalServerError, "failed to load content")
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "content not found")
		return
	}

	respondJSON(w, http.StatusOK, newContentStatusResponse(c))
}

// List returns content ordered by scheduled time with optional filters.
// GET /api/v1/content?status=&topic_id=&skip=&limit=
func (h *ContentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ContentFilter{Limit: defaultListLimit}

	if v := q.Get("status"); v != "" {
		status := models.ContentStatus(v)
		if !status.Valid() {
			respondError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = &status
	}

	if v := q.Get("topic_id"); v != "" {
		topicID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid topic_id")
			return
		}
		filter.TopicID = &topicID
	}

	if v := q.Get("skip"); v != "" {
		skip, err := strconv.Atoi(v)
		if err != nil || skip < 0 {
			respondError(w, http.StatusBadRequest, "invalid skip")
			return
		}
		filter.Skip = skip
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	items, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("list content")
		respondError(w, http.StatusInternalServerError, "failed to list content")
		return
	}

	// Ensure we return empty array, not null
	out := make([]ContentStatusResponse, 0, len(items))
	for i := range items {
		out = append(out, newContentStatusResponse(&items[i]))
	}

	respondJSON(w, http.StatusOK, struct {
		Content []ContentStatusResponse `json:"content"`
		Skip    int                     `json:"skip"`
		Limit   int                     `json:"limit"`
	}{
		Content: out,
		Skip:    filter.Skip,
		Limit:   filter.Limit,
	})
}
