package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner is one refresh cycle.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Scheduler runs a Runner every interval. A tick is skipped while the previous cycle is
// still running, and each cycle is bounded by timeout.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	cron     *cron.Cron
}

func NewScheduler(runner Runner, interval, timeout time.Duration) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Start schedules the job; cycles derive their context from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval < time.Second {
		return fmt.Errorf("refresh interval %s is below one second", s.interval)
	}
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule refresh %q: %w", spec, err)
	}
	s.cron.Start()
	slog.Info("scheduler.started", "interval", s.interval.String(), "timeout", s.timeout.String())
	return nil
}

// Stop prevents new cycles and waits for a running one to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("scheduler.stop.timeout")
	}
}

func (s *Scheduler) tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	if _, err := s.runner.Run(ctx); err != nil {
		slog.Error("scheduler.cycle.failed", "error", err)
	}
}

// cronLogger routes cron's logs to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron."+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron."+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
