package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/newsletter-dispatch/internal/models"
	"github.com/blockedby/newsletter-dispatch/internal/nats"
)

// JobSource delivers queued dispatch jobs. *nats.Client satisfies it.
type JobSource interface {
	Subscribe(ctx context.Context, spec nats.ConsumerSpec, handler func(nats.Message)) (func(), error)
}

// Dispatcher runs one dispatch. *Executor satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, contentID int64) Outcome
}

// ConsumerConfig sizes the worker pool.
type ConsumerConfig struct {
	Workers     int
	HardTimeout time.Duration // upper bound of one dispatch
	MaxRetries  int
}

// Consumer handles consuming dispatch jobs from NATS
type Consumer struct {
	source JobSource
	exec   Dispatcher
	cfg    ConsumerConfig
	log    *zerolog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	stop    func()
	stopped bool
}

// NewConsumer creates a new NATS consumer
func NewConsumer(source JobSource, exec Dispatcher, cfg ConsumerConfig, log *zerolog.Logger) *Consumer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = time.Hour
	}
	return &Consumer{
		source: source,
		exec:   exec,
		cfg:    cfg,
		log:    log,
		sem:    make(chan struct{}, cfg.Workers),
	}
}

// Spec is the durable consumer the workers share.
func (c *Consumer) Spec() nats.ConsumerSpec {
	return nats.ConsumerSpec{
		Stream:        models.JobsStream,
		Durable:       models.DispatchConsumer,
		Subject:       models.DispatchSubject,
		MaxAckPending: c.cfg.Workers,
		AckWait:       c.cfg.HardTimeout,
		// first attempt, retries, and one spare for a crashed worker
		MaxDeliver: c.cfg.MaxRetries + 2,
	}
}

// Start subscribes to newsletter.dispatch and starts processing
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return errors.New("consumer already started")
	}

	c.log.Info().Int("workers", c.cfg.Workers).Msg("starting dispatch consumer")
	stop, err := c.source.Subscribe(ctx, c.Spec(), c.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe dispatch jobs: %w", err)
	}
	c.stop = stop
	c.stopped = false
	return nil
}

// Stop stops receiving jobs and waits for in-flight dispatches until ctx
// is done.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.stopped = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight dispatches: %w", ctx.Err())
	}
}

// handleMessage blocks until a worker is free, then dispatches in the background.
func (c *Consumer) handleMessage(msg nats.Message) {
	var job models.DispatchJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil || job.ContentID <= 0 {
		c.log.Error().Err(err).Msg("invalid dispatch job, terminating")
		if err := msg.Term(); err != nil {
			c.log.Warn().Err(err).Msg("term message")
		}
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		// hand it back for another worker
		_ = msg.NakWithDelay(0)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.sem <- struct{}{}
	go func() {
		defer func() {
			<-c.sem
			c.wg.Done()
		}()
		c.process(msg, job)
	}()
}

func (c *Consumer) process(msg nats.Message, job models.DispatchJob) {
	log := c.log.With().
		Str("job_id", job.JobID.String()).
		Int64("content_id", job.ContentID).
		Logger()
	log.Debug().Msg("received dispatch job")

	// not derived from the subscription context so shutdown lets it finish
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HardTimeout)
	defer cancel()

	out := c.run(ctx, job.ContentID)
	if err := settle(msg, out); err != nil {
		log.Warn().Err(err).Msg("settle dispatch job")
	}
}

// run recovers a panicking dispatch into a retryable failure.
func (c *Consumer) run(ctx context.Context, contentID int64) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Int64("content_id", contentID).Msg("dispatch panicked")
			out = Outcome{
				Kind:       OutcomeInfraFailure,
				ContentID:  contentID,
				Status:     models.ContentStatusPending,
				Err:        fmt.Errorf("dispatch panic: %v", r),
				Retry:      true,
				RetryAfter: time.Minute,
			}
		}
	}()
	return c.exec.Dispatch(ctx, contentID)
}

// settle acknowledges the job unless the outcome asks for a retry.
func settle(msg nats.Message, out Outcome) error {
	if out.Kind == OutcomeInfraFailure && out.Retry {
		return msg.NakWithDelay(out.RetryAfter)
	}
	return msg.Ack()
}
