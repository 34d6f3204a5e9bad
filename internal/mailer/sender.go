// Package mailer delivers single newsletter emails.
//
// A Sender attempts exactly one delivery per call. Any non-nil error is a
// failure for that recipient only; callers do not interpret transport codes.
package mailer

import (
	"context"
	"fmt"
)

// Message is one email to one recipient.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// DeliveryError is a typed transport failure for one recipient.
type DeliveryError struct {
	Recipient  string
	StatusCode int // 0 when no response was received
	Reason     string
	Temporary  bool
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver to %s: status %d: %s", e.Recipient, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("deliver to %s: %s", e.Recipient, e.Reason)
}
