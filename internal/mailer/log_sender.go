package mailer

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender logs messages instead of sending them.
// Used when no API key is configured.
type LogSender struct {
	log *zerolog.Logger
}

// NewLogSender creates a dev-mode sender.
func NewLogSender(log *zerolog.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs the message and reports success.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Recipient: msg.To, Reason: err.Error()}
	}
	s.log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("html_bytes", len(msg.HTML)).
		Msg("dev mode: email not sent")
	return nil
}
