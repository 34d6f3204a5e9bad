package handlers

import (
	"net/http"
)

// SchedulerHandler provides scheduler status information.
type SchedulerHandler struct {
	scheduler SchedulerStatus
}

// NewSchedulerHandler creates a new SchedulerHandler.
func NewSchedulerHandler(s SchedulerStatus) *SchedulerHandler {
	return &SchedulerHandler{scheduler: s}
}

// Status returns the current state of the scheduler loop.
// GET /api/v1/scheduler/status
func (h *SchedulerHandler) Status(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}
