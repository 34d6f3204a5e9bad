package mailer

import (
	"github.com/rs/zerolog"

	"github.com/blockedby/newsletter-dispatch/internal/config"
)

// NewFromConfig builds the transport chain: breaker, rate limit, Brevo.
// Without an API key it returns a LogSender.
func NewFromConfig(cfg *config.Config, log *zerolog.Logger) Sender {
	if cfg.DevMail() {
		log.Warn().Msg("BREVO_API_KEY not set, emails will be logged only")
		return NewLogSender(log)
	}

	brevo := NewBrevoSender(BrevoConfig{
		APIKey:    cfg.BrevoAPIKey,
		BaseURL:   cfg.BrevoAPIURL,
		FromEmail: cfg.BrevoFromEmail,
		FromName:  cfg.BrevoFromName,
		Timeout:   cfg.SendTimeout,
	}, nil, log)

	limited := NewRateLimitedSender(brevo, cfg.MailRatePerSec, cfg.MailBurst)
	return NewBreakerSender(limited, DefaultBreakerConfig(), log)
}
