// Package scheduler periodically scans for due content and submits a
// dispatch job for each item.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blockedby/newsletter-dispatch/internal/metrics"
	"github.com/blockedby/newsletter-dispatch/internal/models"
)

// errors
var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
)

// DueFinder returns content whose delivery time has come.
type DueFinder interface {
	FindDue(ctx context.Context, now time.Time) ([]models.Content, error)
}

// Submitter hands a content id to the dispatch workers without waiting
// for the dispatch itself.
type Submitter interface {
	Enqueue(ctx context.Context, contentID int64) error
}

// Config holds scheduler settings
type Config struct {
	Interval time.Duration
}

// TickReport summarises one scan.
type TickReport struct {
	ID        uuid.UUID     `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Due       int           `json:"due"`
	Enqueued  int           `json:"enqueued"`
	Failed    int           `json:"failed"`
	Error     string        `json:"error,omitempty"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running     bool          `json:"running"`
	Interval    time.Duration `json:"interval"`
	Ticks       int64         `json:"ticks"`
	FailedTicks int64         `json:"failed_ticks"`
	LastTick    *TickReport   `json:"last_tick,omitempty"`
}

// Scheduler drives scans at a fixed interval
// only one loop runs at a time
// thread-safe
type Scheduler struct {
	interval  time.Duration
	finder    DueFinder
	submitter Submitter
	log       *zerolog.Logger
	now       func() time.Time

	mu          sync.Mutex
	cancelFn    context.CancelFunc
	done        chan struct{}
	last        *TickReport
	ticks       int64
	failedTicks int64
}

// New creates a new scheduler
func New(cfg Config, finder DueFinder, submitter Submitter, log *zerolog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{
		interval:  cfg.Interval,
		finder:    finder,
		submitter: submitter,
		log:       log,
		now:       time.Now,
	}
}

// Start runs the first tick immediately and then one per interval until
// ctx is cancelled or Stop is called.
// returns ErrAlreadyRunning if the loop is already running
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelFn != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx, s.done)

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	return nil
}

// Stop stops the loop and waits for the current tick to finish
// safe to call when not running
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancelFn, s.done
	s.cancelFn, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info().Msg("scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelFn != nil
}

// LastTick returns the most recent tick, or nil before the first one.
func (s *Scheduler) LastTick() *TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	last := *s.last
	return &last
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:     s.cancelFn != nil,
		Interval:    s.interval,
		Ticks:       s.ticks,
		FailedTicks: s.failedTicks,
	}
	if s.last != nil {
		last := *s.last
		st.LastTick = &last
	}
	return st
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.release(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// release forgets the loop owning done, unless Stop or a later Start
// already replaced it.
func (s *Scheduler) release(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != done {
		return
	}
	s.cancelFn()
	s.cancelFn, s.done = nil, nil
}

// Tick scans once and submits every due item. A failing scan or
// submission is recorded and never stops later ticks.
func (s *Scheduler) Tick(ctx context.Context) (report TickReport) {
	start := time.Now()
	report.ID = uuid.New()
	report.StartedAt = s.now().UTC()
	result := "ok"
	log := s.log.With().Str("tick_id", report.ID.String()).Logger()

	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			report.Error = fmt.Sprintf("tick panic: %v", r)
			log.Error().Interface("panic", r).Msg("scheduler tick panicked")
		}
		report.Duration = time.Since(start)
		metrics.SchedulerTicks.WithLabelValues(result).Inc()
		s.record(report, result != "ok")
	}()

	due, err := s.finder.FindDue(ctx, report.StartedAt)
	if err != nil {
		result = "scan_error"
		report.Error = err.Error()
		log.Error().Err(err).Msg("scan for due content failed")
		return report
	}
	report.Due = len(due)

	for _, c := range due {
		if ctx.Err() != nil {
			break
		}
		if err := s.submitter.Enqueue(ctx, c.ID); err != nil {
			report.Failed++
			metrics.JobsEnqueued.WithLabelValues("error").Inc()
			log.Error().Err(err).Int64("content_id", c.ID).Msg("submit dispatch job failed")
			continue
		}
		report.Enqueued++
		metrics.JobsEnqueued.WithLabelValues("ok").Inc()
	}

	if report.Failed > 0 {
		result = "submit_error"
		report.Error = fmt.Sprintf("%d of %d submissions failed", report.Failed, report.Due)
	}

	if report.Due > 0 {
		log.Info().
			Int("due", report.Due).
			Int("enqueued", report.Enqueued).
			Int("failed", report.Failed).
			Msg("scheduler tick")
	}
	return report
}

func (s *Scheduler) record(report TickReport, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	if failed {
		s.failedTicks++
	}
	s.last = &report
}
