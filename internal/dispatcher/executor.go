// Package dispatcher scans for due newsletter content and delivers it to
// the eligible subscribers of its topic.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blockedby/newsletter-dispatch/internal/lock"
	"github.com/blockedby/newsletter-dispatch/internal/mailer"
	"github.com/blockedby/newsletter-dispatch/internal/metrics"
	"github.com/blockedby/newsletter-dispatch/internal/models"
	"github.com/blockedby/newsletter-dispatch/internal/repository"
)

// recordTimeout bounds bookkeeping writes made after the dispatch context ended.
const recordTimeout = 10 * time.Second

// ContentStore is the content persistence the executor needs.
type ContentStore interface {
	GetByID(ctx context.Context, id int64) (*models.Content, error)
	FinalizeDispatch(ctx context.Context, id int64, res repository.DispatchResult) (bool, error)
	RecordDispatchError(ctx context.Context, id int64, msg string) (int, error)
	MarkFailed(ctx context.Context, id int64, reason string) (bool, error)
}

// ExecutorConfig tunes a dispatch.
type ExecutorConfig struct {
	SendTimeout time.Duration // per recipient
	Concurrency int           // parallel sends within one dispatch
	SoftTimeout time.Duration // whole dispatch, 0 disables
}

// DefaultExecutorConfig returns the production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		SendTimeout: 10 * time.Second,
		Concurrency: 10,
		SoftTimeout: 59 * time.Minute,
	}
}

// Executor dispatches one content item at a time to its recipients.
type Executor struct {
	content  ContentStore
	resolver *Resolver
	sender   mailer.Sender
	policy   RetryPolicy
	cfg      ExecutorConfig
	log      *zerolog.Logger

	locker  lock.Locker
	tracker *StatusTracker
	now     func() time.Time
}

// Option customises an Executor.
type Option func(*Executor)

// WithLocker guards each dispatch with a per-content lock.
func WithLocker(l lock.Locker) Option {
	return func(e *Executor) { e.locker = l }
}

// WithTracker reports terminal transitions.
func WithTracker(t *StatusTracker) Option {
	return func(e *Executor) { e.tracker = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates a new executor
func NewExecutor(
	content ContentStore,
	resolver *Resolver,
	sender mailer.Sender,
	policy RetryPolicy,
	cfg ExecutorConfig,
	log *zerolog.Logger,
	opts ...Option,
) *Executor {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	e := &Executor{
		content:  content,
		resolver: resolver,
		sender:   sender,
		policy:   policy,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch delivers content to every eligible subscriber and commits the
// resulting status. Calling it again for content that is no longer pending
// is a no-op that reports OutcomeSkipped.
func (e *Executor) Dispatch(ctx context.Context, contentID int64) Outcome {
	start := time.Now()

	out := e.dispatch(ctx, contentID)

	metrics.DispatchOutcomes.WithLabelValues(string(out.Kind)).Inc()
	metrics.DispatchDuration.WithLabelValues(string(out.Kind)).Observe(time.Since(start).Seconds())
	e.logOutcome(out)

	return out
}

func (e *Executor) dispatch(ctx context.Context, id int64) Outcome {
	if e.cfg.SoftTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SoftTimeout)
		defer cancel()
	}

	if e.locker != nil {
		handle, ok, err := e.locker.TryLock(ctx, lock.ContentKey(id))
		if err != nil {
			return e.infraFailure(ctx, id, fmt.Errorf("acquire dispatch lock: %w", err))
		}
		if !ok {
			return Outcome{Kind: OutcomeSkipped, ContentID: id, Status: models.ContentStatusPending, Reason: "dispatch in progress"}
		}
		defer func() {
			if err := handle.Unlock(context.WithoutCancel(ctx)); err != nil {
				e.log.Warn().Err(err).Int64("content_id", id).Msg("release dispatch lock")
			}
		}()
	}

	// 1. Load content
	content, err := e.content.GetByID(ctx, id)
	if err != nil {
		return e.infraFailure(ctx, id, fmt.Errorf("load content: %w", err))
	}
	if content == nil {
		return Outcome{Kind: OutcomeNotFound, ContentID: id}
	}

	// 2. Only pending content is dispatched
	if content.Status != models.ContentStatusPending {
		return Outcome{Kind: OutcomeSkipped, ContentID: id, Status: content.Status, Reason: "already processed"}
	}

	// 3. Resolve recipients
	recipients, err := e.resolver.EligibleSubscribers(ctx, content.TopicID)
	if err != nil {
		return e.infraFailure(ctx, id, err)
	}

	// 4. Deliver
	sent, failures := e.deliver(ctx, content, recipients)
	if err := ctx.Err(); err != nil {
		return e.infraFailure(ctx, id, fmt.Errorf("dispatch interrupted after %d of %d recipients: %w",
			sent+len(failures), len(recipients), err))
	}

	// 5. Final status
	out := Outcome{
		ContentID: id,
		Sent:      sent,
		Failed:    len(failures),
		Total:     len(recipients),
	}
	res := repository.DispatchResult{Status: models.ContentStatusFailed}
	if sent > 0 || len(recipients) == 0 {
		now := e.now()
		res.Status = models.ContentStatusSent
		res.SentAt = &now
	}
	if len(failures) > 0 {
		msg := digest(failures)
		res.ErrorMessage = &msg
		out.ErrorMessage = msg
	}

	// 6. Commit only if nobody else finished it meanwhile
	applied, err := e.content.FinalizeDispatch(ctx, id, res)
	if err != nil {
		return e.infraFailure(ctx, id, err)
	}
	if !applied {
		return e.lostRace(ctx, out)
	}

	out.Status = res.Status
	out.Kind = OutcomeFailed
	if res.Status == models.ContentStatusSent {
		out.Kind = OutcomeSent
	}
	if e.tracker != nil {
		e.tracker.Track(ctx, content, res.Status, out)
	}
	return out
}

// deliver sends to every recipient and returns the success count and the
// failure descriptions in recipient order.
func (e *Executor) deliver(ctx context.Context, content *models.Content, recipients []models.Subscriber) (int, []string) {
	if len(recipients) == 0 {
		return 0, nil
	}

	msg := mailer.Message{
		Subject: content.Subject(),
		HTML:    content.Body,
		Text:    content.Body,
	}

	errs := make([]error, len(recipients))

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, sub := range recipients {
		g.Go(func() error {
			m := msg
			m.To = sub.Email
			errs[i] = e.sendOne(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	sent := 0
	var failures []string
	for i, err := range errs {
		if err == nil {
			sent++
			continue
		}
		failures = append(failures, describeFailure(recipientLabel(recipients[i]), err))
	}

	metrics.Deliveries.WithLabelValues("sent").Add(float64(sent))
	metrics.Deliveries.WithLabelValues("failed").Add(float64(len(failures)))
	return sent, failures
}

// sendOne runs a single bounded send. A panicking transport only fails
// its own recipient.
func (e *Executor) sendOne(ctx context.Context, msg mailer.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()

	if strings.TrimSpace(msg.To) == "" {
		return &mailer.DeliveryError{Recipient: msg.To, Reason: "empty recipient address"}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()

	return e.sender.Send(ctx, msg)
}

func recipientLabel(sub models.Subscriber) string {
	if strings.TrimSpace(sub.Email) == "" {
		return fmt.Sprintf("subscriber %d", sub.ID)
	}
	return sub.Email
}

// infraFailure records cause on the content and applies the retry policy.
func (e *Executor) infraFailure(ctx context.Context, id int64, cause error) Outcome {
	out := Outcome{
		Kind:         OutcomeInfraFailure,
		ContentID:    id,
		Status:       models.ContentStatusPending,
		ErrorMessage: cause.Error(),
		Err:          cause,
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	attempts, err := e.content.RecordDispatchError(rctx, id, cause.Error())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return Outcome{Kind: OutcomeNotFound, ContentID: id}
	case errors.Is(err, repository.ErrNotPending):
		return e.lostRace(rctx, out)
	case err != nil:
		// cannot count the attempt, the queue redelivers
		e.log.Error().Err(err).Int64("content_id", id).Msg("record dispatch error")
		out.Retry, out.RetryAfter = true, e.policy.Backoff
		return out
	}

	out.Attempts = attempts
	if d := e.policy.Decide(attempts); d.Retry {
		out.Retry, out.RetryAfter = true, d.Delay
		return out
	}

	reason := fmt.Sprintf("dispatch abandoned after %d attempts: %v", attempts, cause)
	out.ErrorMessage = reason

	applied, err := e.content.MarkFailed(rctx, id, reason)
	if err != nil {
		e.log.Error().Err(err).Int64("content_id", id).Msg("mark content failed")
		out.Retry, out.RetryAfter = true, e.policy.Backoff
		return out
	}
	if applied {
		out.Status = models.ContentStatusFailed
		if e.tracker != nil {
			e.tracker.Track(rctx, &models.Content{ID: id, Status: models.ContentStatusPending}, models.ContentStatusFailed, out)
		}
	}
	return out
}

// lostRace reports a dispatch whose commit found the content already final.
func (e *Executor) lostRace(ctx context.Context, out Outcome) Outcome {
	skipped := Outcome{
		Kind:      OutcomeSkipped,
		ContentID: out.ContentID,
		Reason:    "finalized by another dispatch",
		Sent:      out.Sent,
		Failed:    out.Failed,
		Total:     out.Total,
	}
	if c, err := e.content.GetByID(context.WithoutCancel(ctx), out.ContentID); err == nil && c != nil {
		skipped.Status = c.Status
	}
	return skipped
}

func (e *Executor) logOutcome(out Outcome) {
	var ev *zerolog.Event
	switch out.Kind {
	case OutcomeInfraFailure:
		ev = e.log.Error().Err(out.Err).Int("attempts", out.Attempts).Bool("retry", out.Retry)
	case OutcomeFailed:
		ev = e.log.Warn()
	case OutcomeNotFound:
		ev = e.log.Warn()
	default:
		ev = e.log.Info()
	}

	ev.Int64("content_id", out.ContentID).
		Str("kind", string(out.Kind)).
		Str("status", string(out.Status)).
		Int("sent", out.Sent).
		Int("failed", out.Failed).
		Int("total", out.Total).
		Str("reason", out.Reason).
		Msg("dispatch finished")
}
