// Package scheduler triggers incremental sync runs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wesm/github-activity-digest/internal/apperrors"
	"github.com/wesm/github-activity-digest/internal/service"
	"github.com/wesm/github-activity-digest/internal/sync"
)

// Syncer runs one sync. *service.Service implements it.
type Syncer interface {
	RunSync(ctx context.Context, req service.SyncRequest) (service.RunResult, error)
}

// Scheduler runs incremental syncs until its context is canceled
type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	logger   *slog.Logger
}

// New creates a scheduler
func New(syncer Syncer, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{syncer: syncer, interval: interval, logger: logger}
}

// Run triggers a sync immediately and then once per interval. A tick that
// finds a run already in progress is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("sync interval must be positive")
	}
	s.logger.Info("Scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.syncer.RunSync(ctx, service.SyncRequest{Mode: sync.ModeIncremental})
	switch {
	case err == nil:
	case apperrors.Is(err, apperrors.ErrRunInProgress), apperrors.Is(err, apperrors.ErrLocked):
		s.logger.Info("Skipping scheduled sync", "reason", apperrors.CodeOf(err))
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Error("Scheduled sync failed", "error", err)
	}
}
