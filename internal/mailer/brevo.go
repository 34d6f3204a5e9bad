package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// BrevoConfig configures the Brevo transactional email API client.
type BrevoConfig struct {
	APIKey    string
	BaseURL   string // e.g. https://api.brevo.com/v3
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// BrevoSender sends email through the Brevo HTTP API.
type BrevoSender struct {
	cfg        BrevoConfig
	httpClient *http.Client
	log        *zerolog.Logger
}

// NewBrevoSender creates a sender. A nil httpClient gets cfg.Timeout (10s by default).
func NewBrevoSender(cfg BrevoConfig, httpClient *http.Client, log *zerolog.Logger) *BrevoSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &BrevoSender{cfg: cfg, httpClient: httpClient, log: log}
}

type brevoAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoRequest struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
	TextContent string         `json:"textContent,omitempty"`
}

type brevoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Send posts one message to /smtp/email.
func (s *BrevoSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(brevoRequest{
		Sender:      brevoAddress{Name: s.cfg.FromName, Email: s.cfg.FromEmail},
		To:          []brevoAddress{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		TextContent: msg.Text,
	})
	if err != nil {
		return fmt.Errorf("marshal brevo request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/smtp/email", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create brevo request: %w", err)
	}
	req.Header.Set("api-key", s.cfg.APIKey)
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Recipient: msg.To, Reason: err.Error(), Temporary: true}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.log.Debug().Str("to", msg.To).Int("status", resp.StatusCode).Msg("email accepted by brevo")
		return nil
	}

	reason := http.StatusText(resp.StatusCode)
	var apiErr brevoError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		reason = apiErr.Message
	}

	derr := &DeliveryError{
		Recipient:  msg.To,
		StatusCode: resp.StatusCode,
		Reason:     reason,
		Temporary:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &ThrottledError{DeliveryError: derr, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	return derr
}

// ThrottledError is returned when the API asks the client to slow down.
type ThrottledError struct {
	*DeliveryError
	RetryAfter time.Duration
}

func (e *ThrottledError) Unwrap() error { return e.DeliveryError }

// IsTemporary reports whether err is a transport failure worth backing off for.
func IsTemporary(err error) bool {
	var derr *DeliveryError
	return errors.As(err, &derr) && derr.Temporary
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}
