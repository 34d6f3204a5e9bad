package dispatcher

import "time"

// RetryPolicy decides whether a dispatch that hit an infrastructure
// failure is attempted again.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryPolicy retries three times, one minute apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Backoff: time.Minute}
}

// Decision is the answer of a RetryPolicy.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide is called with the number of failed attempts so far (1 after the
// first failure). The first attempt plus MaxRetries retries are allowed.
func (p RetryPolicy) Decide(failedAttempts int) Decision {
	if failedAttempts <= p.MaxRetries {
		return Decision{Retry: true, Delay: p.Backoff}
	}
	return Decision{}
}
