// Package models defines shared data types for the application.
package models

import "time"

// Topic is a newsletter subject subscribers opt into.
type Topic struct {
	ID          int64     `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"size:255;not null;uniqueIndex"`
	Description *string   `json:"description,omitempty" gorm:"type:text"`
	IsActive    bool      `json:"is_active" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName pins the table name used by GORM.
func (Topic) TableName() string { return "topics" }

// Subscriber is a recipient address.
type Subscriber struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"size:255;not null;uniqueIndex"`
	IsActive  bool      `json:"is_active" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName pins the table name used by GORM.
func (Subscriber) TableName() string { return "subscribers" }

// Subscription links one subscriber to one topic.
// At most one row exists per (subscriber, topic) pair.
type Subscription struct {
	ID           int64     `json:"id" gorm:"primaryKey"`
	SubscriberID int64     `json:"subscriber_id" gorm:"not null;uniqueIndex:idx_subscription_pair,priority:1"`
	TopicID      int64     `json:"topic_id" gorm:"not null;uniqueIndex:idx_subscription_pair,priority:2;index"`
	IsActive     bool      `json:"is_active" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`

	Subscriber *Subscriber `json:"-" gorm:"foreignKey:SubscriberID;constraint:OnDelete:CASCADE"`
	Topic      *Topic      `json:"-" gorm:"foreignKey:TopicID;constraint:OnDelete:CASCADE"`
}

// TableName pins the table name used by GORM.
func (Subscription) TableName() string { return "subscriptions" }
