package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgerisk/internal/metrics"
)

// TickFunc is one unit of periodic work.
type TickFunc func(ctx context.Context) error

// ErrSchedulerStarted is returned by Start when the scheduler is already
// running.
var ErrSchedulerStarted = errors.New("service: scheduler already started")

// Scheduler runs a TickFunc on a fixed period. Ticks never overlap: if a tick
// takes longer than the period the missed ticks are dropped.
type Scheduler struct {
	name     string
	period   time.Duration
	tick     TickFunc
	runFirst bool
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithImmediateTick makes the scheduler run once as soon as it starts instead
// of waiting a full period.
func WithImmediateTick() SchedulerOption {
	return func(s *Scheduler) { s.runFirst = true }
}

// WithSchedulerMetrics records tick durations.
func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(name string, period time.Duration, tick TickFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if period <= 0 {
		period = time.Minute
	}
	s := &Scheduler{
		name:   name,
		period: period,
		tick:   tick,
		logger: logger.With(slog.String("component", "scheduler"), slog.String("scheduler", name)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name returns the scheduler's name.
func (s *Scheduler) Name() string { return s.name }

// Start launches the tick loop in a goroutine. Cancelling ctx stops new ticks
// the same way Stop does. A tick already running keeps ctx's values but not
// its cancellation, so its exchange calls and writes complete; each of those
// is bounded by its own timeout.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerStarted
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stop, s.done)
	return nil
}

// Stop stops issuing new ticks and waits for an in-flight tick to finish. It
// is safe to call more than once and on a scheduler that was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
}

// Run starts the scheduler and blocks until ctx is cancelled, then stops it.
// It fits errgroup-style lifecycles.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	s.logger.InfoContext(ctx, "scheduler: started", slog.Duration("period", s.period))
	defer s.logger.InfoContext(ctx, "scheduler: stopped")

	tickCtx := context.WithoutCancel(ctx)
	if s.runFirst {
		s.runTick(tickCtx)
	}

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			// Prefer stop over a tick that became ready at the same time.
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			s.runTick(tickCtx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	start := time.Now()
	err := s.tick(ctx)
	elapsed := time.Since(start)
	s.metrics.ObserveTick(s.name, elapsed)

	if err != nil {
		s.logger.ErrorContext(ctx, "scheduler: tick failed",
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "scheduler: tick done", slog.Duration("elapsed", elapsed))
}
