package scheduler

import (
	"context"
	"time"

	"github.com/elonfeng/demandcast/internal/pipeline"
	"go.uber.org/zap"
)

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context, mode pipeline.Mode) (*pipeline.Report, error)
}

// Scheduler runs the pipeline periodically.
type Scheduler struct {
	runner   Runner
	mode     pipeline.Mode
	interval time.Duration
	logger   *zap.Logger
}

// New creates a new scheduler.
func New(runner Runner, mode pipeline.Mode, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if mode == "" {
		mode = pipeline.ModePredict
	}
	return &Scheduler{
		runner:   runner,
		mode:     mode,
		interval: interval,
		logger:   logger,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.logger.Info("scheduler: initial run", zap.String("mode", string(s.mode)))
	s.runOnce(ctx)

	s.logger.Info("scheduler: running", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	rep, err := s.runner.Run(ctx, s.mode)
	if err != nil {
		s.logger.Error("scheduler: pipeline failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduler: pipeline done",
		zap.String("run_id", rep.RunID),
		zap.Int("forecasts", rep.Forecasts),
		zap.Duration("took", time.Since(start)),
	)
}
