package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blockedby/newsletter-dispatch/internal/mailer"
	"github.com/blockedby/newsletter-dispatch/internal/models"
)

// OutcomeKind classifies the result of one dispatch.
type OutcomeKind string

// OutcomeKind values.
const (
	// at least one recipient received the content, or there were none
	OutcomeSent OutcomeKind = "sent"

	// every attempted recipient failed
	OutcomeFailed OutcomeKind = "failed"

	// content was not pending, or another dispatch holds it
	OutcomeSkipped OutcomeKind = "skipped"

	OutcomeNotFound OutcomeKind = "not_found"

	// store, lock or deadline failure, see Retry
	OutcomeInfraFailure OutcomeKind = "infra_failure"
)

// maxDigestEntries bounds how many failures are kept in error_message.
const maxDigestEntries = 5

// Outcome is the result of Executor.Dispatch.
type Outcome struct {
	Kind      OutcomeKind          `json:"kind"`
	ContentID int64                `json:"content_id"`
	Status    models.ContentStatus `json:"status,omitempty"`

	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total_subscribers"`

	ErrorMessage string `json:"error_message,omitempty"`
	Reason       string `json:"reason,omitempty"`

	// infrastructure failures only
	Err        error         `json:"-"`
	Attempts   int           `json:"attempts,omitempty"`
	Retry      bool          `json:"retry,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Final reports whether the outcome moved content to a terminal status.
func (o Outcome) Final() bool {
	return o.Kind == OutcomeSent || o.Kind == OutcomeFailed
}

// digest joins the first few failure descriptions.
func digest(failures []string) string {
	if len(failures) > maxDigestEntries {
		failures = failures[:maxDigestEntries]
	}
	return strings.Join(failures, "; ")
}

// describeFailure renders one recipient failure for the digest.
func describeFailure(email string, err error) string {
	var derr *mailer.DeliveryError
	if errors.As(err, &derr) {
		if derr.StatusCode != 0 {
			return fmt.Sprintf("send to %s: status %d: %s", email, derr.StatusCode, derr.Reason)
		}
		return fmt.Sprintf("send to %s: %s", email, derr.Reason)
	}
	return fmt.Sprintf("send to %s: %v", email, err)
}
