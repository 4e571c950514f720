// Package scheduler periodically picks due executions and steps them with bounded concurrency.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTickInterval = time.Minute
	DefaultBatchSize    = 100
	DefaultConcurrency  = 10
	DefaultLease        = 5 * time.Minute
)

// Stepper advances one execution. The engine satisfies it.
type Stepper interface {
	Step(ctx context.Context, execution *models.Execution) error
}

type Config struct {
	TickInterval time.Duration
	BatchSize    int
	Concurrency  int
	// Lease is how long a claimed execution stays hidden from other dispatchers.
	Lease time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval: DefaultTickInterval,
		BatchSize:    DefaultBatchSize,
		Concurrency:  DefaultConcurrency,
		Lease:        DefaultLease,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()

	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}

	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}

	if c.Lease <= 0 {
		c.Lease = defaults.Lease
	}

	return c
}

type Scheduler struct {
	executions persistence.ExecutionRepository
	stepper    Stepper
	config     Config
	now        func() time.Time
	logger     *slog.Logger
}

func New(executions persistence.ExecutionRepository, stepper Stepper, config Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		executions: executions,
		stepper:    stepper,
		config:     config.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With("module", "scheduler"),
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run ticks until the context is cancelled. The first tick happens immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started",
		"tick_interval", s.config.TickInterval,
		"batch_size", s.config.BatchSize,
		"concurrency", s.config.Concurrency,
	)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.ErrorContext(ctx, "tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")

			return nil
		case <-ticker.C:
		}
	}
}

// Tick claims up to BatchSize due executions and steps them, at most Concurrency at a time.
// Executions claimed by another dispatcher are skipped. It returns how many executions
// this tick stepped.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()

	due, err := s.executions.Due(ctx, now, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	if len(due) == 0 {
		return 0, nil
	}

	var stepped atomic.Int64

	group := new(errgroup.Group)
	group.SetLimit(s.config.Concurrency)

	for _, execution := range due {
		group.Go(func() error {
			if s.process(ctx, execution, now) {
				stepped.Add(1)
			}

			return nil
		})
	}

	_ = group.Wait()

	s.logger.DebugContext(ctx, "tick done", "due", len(due), "stepped", stepped.Load())

	return int(stepped.Load()), nil
}

func (s *Scheduler) process(ctx context.Context, execution *models.Execution, now time.Time) bool {
	logger := log.WithExecution(s.logger, execution)

	err := s.executions.Claim(ctx, execution, now.Add(s.config.Lease))
	if persistence.IsVersionConflict(err) {
		logger.DebugContext(ctx, "execution claimed elsewhere")

		return false
	}

	if err != nil {
		logger.ErrorContext(ctx, "failed to claim execution", "error", err)

		return false
	}

	if err := s.stepper.Step(ctx, execution); err != nil {
		logger.ErrorContext(ctx, "step failed, retrying after lease", "error", err)
	}

	return true
}
