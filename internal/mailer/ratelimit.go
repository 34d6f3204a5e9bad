package mailer

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedSender throttles calls to the wrapped sender.
type RateLimitedSender struct {
	next Sender

	// steady-state limit
	limiter *rate.Limiter

	// extra pause after the API answered 429
	pausedUntil time.Time
	mu          sync.Mutex
}

// NewRateLimitedSender wraps next with a limiter of rps requests per second.
func NewRateLimitedSender(next Sender, rps float64, burst int) *RateLimitedSender {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSender{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Send waits for a slot and forwards the message.
func (s *RateLimitedSender) Send(ctx context.Context, msg Message) error {
	if err := s.wait(ctx); err != nil {
		return &DeliveryError{Recipient: msg.To, Reason: "rate limit wait: " + err.Error()}
	}

	err := s.next.Send(ctx, msg)

	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		s.Pause(throttled.RetryAfter)
	}
	return err
}

// Pause holds every caller for d.
func (s *RateLimitedSender) Pause(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(s.pausedUntil) {
		s.pausedUntil = until
	}
}

func (s *RateLimitedSender) wait(ctx context.Context) error {
	s.mu.Lock()
	until := s.pausedUntil
	s.mu.Unlock()

	if d := time.Until(until); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return s.limiter.Wait(ctx)
}
