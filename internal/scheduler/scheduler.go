package scheduler

import (
	"context"
	"log/slog"
	"time"

	"arxiv_harvester/internal/domain"
)

// Runner is the harvest entry point driven on an interval in watch mode.
type Runner interface {
	RunRecent(ctx context.Context, setSpecs []string) (*domain.RunStats, error)
}

type Scheduler struct {
	runner   Runner
	setSpecs []string
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(runner Runner, setSpecs []string, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		setSpecs: setSpecs,
		interval: interval,
		logger:   logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	if _, err := s.runner.RunRecent(ctx, s.setSpecs); err != nil {
		s.logger.Error("recent harvest failed", "error", err)
	}
}
