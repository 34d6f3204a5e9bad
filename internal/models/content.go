package models

import (
	"strings"
	"time"
)

// ContentStatus represents the delivery state of a content item.
type ContentStatus string

// ContentStatus constants define the lifecycle of scheduled content.
const (
	ContentStatusPending   ContentStatus = "pending"
	ContentStatusSent      ContentStatus = "sent"
	ContentStatusFailed    ContentStatus = "failed"
	ContentStatusCancelled ContentStatus = "cancelled"
)

// valid transitions, terminal states map to nothing
var contentTransitions = map[ContentStatus][]ContentStatus{
	ContentStatusPending:   {ContentStatusSent, ContentStatusFailed, ContentStatusCancelled},
	ContentStatusSent:      {},
	ContentStatusFailed:    {},
	ContentStatusCancelled: {},
}

// Valid reports whether s is a known status.
func (s ContentStatus) Valid() bool {
	_, ok := contentTransitions[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s ContentStatus) Terminal() bool {
	return s.Valid() && len(contentTransitions[s]) == 0
}

// CanTransitionTo checks if moving from s to next is allowed.
func (s ContentStatus) CanTransitionTo(next ContentStatus) bool {
	for _, allowed := range contentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Content is a newsletter issue scheduled for delivery to one topic.
type Content struct {
	ID      int64  `json:"id" gorm:"primaryKey"`
	TopicID int64  `json:"topic_id" gorm:"not null;index"`
	Topic   *Topic `json:"-" gorm:"foreignKey:TopicID;constraint:OnDelete:CASCADE"`

	Title       *string   `json:"title,omitempty" gorm:"size:255"`
	Body        string    `json:"body" gorm:"type:text;not null"`
	ScheduledAt time.Time `json:"scheduled_at" gorm:"not null;index:idx_content_due,priority:2"`

	// delivery
	Status           ContentStatus `json:"status" gorm:"size:16;not null;index:idx_content_due,priority:1"`
	SentAt           *time.Time    `json:"sent_at,omitempty"`
	ErrorMessage     *string       `json:"error_message,omitempty" gorm:"type:text"`
	DispatchAttempts int           `json:"dispatch_attempts" gorm:"not null"`

	// timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name used by GORM.
func (Content) TableName() string { return "content" }

// Subject returns the email subject line.
// Falls back to the topic name when the title is empty.
func (c *Content) Subject() string {
	if c.Title != nil && strings.TrimSpace(*c.Title) != "" {
		return *c.Title
	}
	name := ""
	if c.Topic != nil {
		name = c.Topic.Name
	}
	return "Newsletter: " + name
}

// All lists every model managed by the schema.
func All() []any {
	return []any{&Topic{}, &Subscriber{}, &Subscription{}, &Content{}}
}
