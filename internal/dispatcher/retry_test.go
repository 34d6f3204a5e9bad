package dispatcher

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blockedby/newsletter-dispatch/internal/mailer"
)

func TestRetryPolicy_Decide(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempts int
		retry    bool
	}{
		{1, true},
		{2, true},
		{3, true},
		{4, false},
		{10, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempts), func(t *testing.T) {
			d := p.Decide(tt.attempts)
			assert.Equal(t, tt.retry, d.Retry)
			if tt.retry {
				assert.Equal(t, time.Minute, d.Delay)
			} else {
				assert.Zero(t, d.Delay)
			}
		})
	}
}

func TestRetryPolicy_NoRetries(t *testing.T) {
	p := RetryPolicy{MaxRetries: 0, Backoff: time.Second}
	assert.False(t, p.Decide(1).Retry)
}

func TestDigest(t *testing.T) {
	assert.Equal(t, "", digest(nil))
	assert.Equal(t, "one", digest([]string{"one"}))
	assert.Equal(t, "1; 2; 3; 4; 5", digest([]string{"1", "2", "3", "4", "5", "6", "7"}))
}

func TestDescribeFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "plain error",
			err:  errors.New("dial tcp: i/o timeout"),
			want: "send to a@example.com: dial tcp: i/o timeout",
		},
		{
			name: "delivery error with status",
			err:  &mailer.DeliveryError{Recipient: "a@example.com", StatusCode: 401, Reason: "unauthorized"},
			want: "send to a@example.com: status 401: unauthorized",
		},
		{
			name: "wrapped delivery error without status",
			err:  fmt.Errorf("brevo: %w", &mailer.DeliveryError{Recipient: "a@example.com", Reason: "circuit open"}),
			want: "send to a@example.com: circuit open",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeFailure("a@example.com", tt.err))
		})
	}
}

func TestOutcome_Final(t *testing.T) {
	assert.True(t, Outcome{Kind: OutcomeSent}.Final())
	assert.True(t, Outcome{Kind: OutcomeFailed}.Final())
	assert.False(t, Outcome{Kind: OutcomeSkipped}.Final())
	assert.False(t, Outcome{Kind: OutcomeNotFound}.Final())
	assert.False(t, Outcome{Kind: OutcomeInfraFailure}.Final())
}
