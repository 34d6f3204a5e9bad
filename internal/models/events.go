package models

import (
	"time"

	"github.com/google/uuid"
)

// Queue layout shared by the scheduler and the dispatch workers.
const (
	JobsStream       = "NEWSLETTER_JOBS"
	DispatchSubject  = "newsletter.dispatch"
	DispatchConsumer = "newsletter_dispatcher"

	EventsStream        = "NEWSLETTER_EVENTS"
	StatusSubjectPrefix = "newsletter.content."
)

// StatusSubject is the subject status change events for status go to.
func StatusSubject(status ContentStatus) string {
	return StatusSubjectPrefix + string(status)
}

// DispatchJob is the queue payload asking a worker to dispatch one content item.
type DispatchJob struct {
	JobID      uuid.UUID `json:"job_id"`
	ContentID  int64     `json:"content_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// StatusChangeEvent is emitted when a content item reaches a terminal status.
type StatusChangeEvent struct {
	Type           string        `json:"type"`
	ContentID      int64         `json:"content_id"`
	TopicID        int64         `json:"topic_id"`
	PreviousStatus ContentStatus `json:"previous_status"`
	CurrentStatus  ContentStatus `json:"current_status"`
	Sent           int           `json:"sent"`
	Failed         int           `json:"failed"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
