package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name     string
		from     ContentStatus
		to       ContentStatus
		expected bool
	}{
		{"pending to sent", ContentStatusPending, ContentStatusSent, true},
		{"pending to failed", ContentStatusPending, ContentStatusFailed, true},
		{"pending to cancelled", ContentStatusPending, ContentStatusCancelled, true},
		{"sent to failed (invalid)", ContentStatusSent, ContentStatusFailed, false},
		{"failed to pending (invalid)", ContentStatusFailed, ContentStatusPending, false},
		{"cancelled to sent (invalid)", ContentStatusCancelled, ContentStatusSent, false},
		{"pending to pending (invalid)", ContentStatusPending, ContentStatusPending, false},
		{"unknown status", ContentStatus("draft"), ContentStatusSent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestContentStatus_Terminal(t *testing.T) {
	assert.False(t, ContentStatusPending.Terminal())
	assert.True(t, ContentStatusSent.Terminal())
	assert.True(t, ContentStatusFailed.Terminal())
	assert.True(t, ContentStatusCancelled.Terminal())
	assert.False(t, ContentStatus("bogus").Terminal())
}

func TestContent_Subject(t *testing.T) {
	title := "Weekly digest"
	blank := "   "
	topic := &Topic{Name: "Tech"}

	tests := []struct {
		name    string
		content Content
		want    string
	}{
		{"uses title", Content{Title: &title, Topic: topic}, "Weekly digest"},
		{"nil title falls back to topic", Content{Topic: topic}, "Newsletter: Tech"},
		{"blank title falls back to topic", Content{Title: &blank, Topic: topic}, "Newsletter: Tech"},
		{"no topic loaded", Content{}, "Newsletter: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.content.Subject())
		})
	}
}
