// Package service is the surface the dashboard, scheduler and CLI call into:
// run triggers, read models and mutations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesm/github-activity-digest/internal/apperrors"
	"github.com/wesm/github-activity-digest/internal/attention"
	"github.com/wesm/github-activity-digest/internal/automation"
	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/runs"
	"github.com/wesm/github-activity-digest/internal/snapshot"
	"github.com/wesm/github-activity-digest/internal/sync"
)

// SyncLockKey is the advisory lock shared by full runs and single-item resyncs
const SyncLockKey = "sync"

// Collector is the part of *sync.Collector the service drives
type Collector interface {
	Run(ctx context.Context, opts sync.Options) (sync.Counts, error)
	ResyncItem(ctx context.Context, id string) (sync.Counts, error)
}

// Deps wires the service
type Deps struct {
	DB         *db.DB
	Collector  Collector
	Automation *automation.Job
	Snapshot   *snapshot.Materializer
	Attention  *attention.Engine
	Runs       *runs.Registry
	Logger     *slog.Logger
	// LockTTL bounds how long a crashed process can hold the sync lock
	LockTTL time.Duration
}

// Service coordinates the engine's components
type Service struct {
	db         *db.DB
	collector  Collector
	automation *automation.Job
	snapshot   *snapshot.Materializer
	attention  *attention.Engine
	runs       *runs.Registry
	logger     *slog.Logger
	lockTTL    time.Duration

	// Now is the service's clock; replaced in tests
	Now func() time.Time
}

// New creates a service
func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Runs == nil {
		d.Runs = runs.NewRegistry(0)
	}
	if d.LockTTL <= 0 {
		d.LockTTL = 2 * time.Hour
	}
	return &Service{
		db:         d.DB,
		collector:  d.Collector,
		automation: d.Automation,
		snapshot:   d.Snapshot,
		attention:  d.Attention,
		runs:       d.Runs,
		logger:     d.Logger,
		lockTTL:    d.LockTTL,
		Now:        time.Now,
	}
}

// SyncRequest scopes a sync run
type SyncRequest struct {
	Mode          sync.Mode
	RepositoryIDs []string
}

// RunResult is what a trigger returns
type RunResult struct {
	RunID      string            `json:"run_id"`
	Counts     sync.Counts       `json:"counts"`
	Automation automation.Result `json:"automation"`
	Snapshot   snapshot.Result   `json:"snapshot"`
}

// RunSync collects, applies status automation and rematerializes activity
// items, holding the sync lock throughout. The successful-sync generation
// is stamped only when every phase succeeds.
func (s *Service) RunSync(ctx context.Context, req SyncRequest) (RunResult, error) {
	if req.Mode == "" {
		req.Mode = sync.ModeIncremental
	}
	run, err := s.runs.Start(runs.KindSync)
	if err != nil {
		return RunResult{}, err
	}
	res := RunResult{RunID: run.ID}

	err = s.withSyncLock(ctx, run.ID, func() error {
		// Stamped on the sync state and cached by the automation pass
		generation := s.Now().UTC()
		if err := s.db.MarkSyncStarted(ctx, generation); err != nil {
			return err
		}
		runErr := s.syncPhases(ctx, req, generation, &res)
		if err := s.db.MarkSyncFinished(context.WithoutCancel(ctx), generation, runErr); err != nil {
			s.logger.Error("Failed to record sync outcome", "error", err)
			if runErr == nil {
				runErr = err
			}
		}
		return runErr
	})
	s.runs.Finish(run.ID, res, err)
	if err != nil {
		s.logger.Error("Sync run failed", "run", run.ID, "error", err)
		return res, err
	}
	s.logger.Info("Sync run finished", "run", run.ID, "mode", string(req.Mode),
		"issues", res.Counts.Issues, "pull_requests", res.Counts.PullRequests, "discussions", res.Counts.Discussions)
	return res, nil
}

func (s *Service) syncPhases(ctx context.Context, req SyncRequest, generation time.Time, res *RunResult) error {
	counts, err := s.collector.Run(ctx, sync.Options{Mode: req.Mode, RepositoryIDs: req.RepositoryIDs})
	res.Counts = counts
	if err != nil {
		return fmt.Errorf("collection failed: %w", err)
	}

	// Freshly collected rows always need a pass, whatever the cached state says
	res.Automation, err = s.automation.Run(ctx, automation.Options{Force: true, Trigger: "sync", Generation: &generation})
	if err != nil {
		return mapAutomationErr(err)
	}

	if req.Mode == sync.ModeFull {
		res.Snapshot, err = s.snapshot.Rebuild(ctx)
	} else {
		res.Snapshot, err = s.snapshot.Refresh(ctx, nil)
	}
	return err
}

// ResyncItem refetches one item, then rematerializes it and its linked items
func (s *Service) ResyncItem(ctx context.Context, id string) (RunResult, error) {
	run, err := s.runs.Start(runs.KindResync)
	if err != nil {
		return RunResult{}, err
	}
	res := RunResult{RunID: run.ID}

	err = s.withSyncLock(ctx, run.ID, func() error {
		counts, err := s.collector.ResyncItem(ctx, id)
		res.Counts = counts
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return apperrors.Newf(apperrors.ErrNotFound, "item %s not found", id)
			}
			return err
		}
		// Items linked before and after the refetch both change
		ids := []string{id}
		if item, err := s.db.GetActivityItem(ctx, id); err == nil {
			ids = append(ids, item.LinkedItemIDs...)
		}
		linked, err := s.db.LinkedItemIDs(ctx, id)
		if err != nil {
			return err
		}
		res.Snapshot, err = s.snapshot.Refresh(ctx, uniqueIDs(append(ids, linked...)))
		return err
	})
	s.runs.Finish(run.ID, res, err)
	if err != nil {
		return res, err
	}
	s.logger.Info("Resynced item", "item", id, "run", run.ID)
	return res, nil
}

// AutomationRunResult is returned by RunStatusAutomation
type AutomationRunResult struct {
	RunID  string            `json:"run_id"`
	Result automation.Result `json:"result"`
}

// RunStatusAutomation runs the status automation job on its own. Rows are
// rematerialized when it inserted anything.
func (s *Service) RunStatusAutomation(ctx context.Context, force bool, trigger string) (AutomationRunResult, error) {
	run, err := s.runs.Start(runs.KindAutomation)
	if err != nil {
		return AutomationRunResult{}, err
	}
	out := AutomationRunResult{RunID: run.ID}

	out.Result, err = s.automation.Run(ctx, automation.Options{Force: force, Trigger: trigger})
	if err == nil && out.Result.Inserted() > 0 {
		_, err = s.snapshot.Refresh(ctx, nil)
	}
	err = mapAutomationErr(err)
	s.runs.Finish(run.ID, out.Result, err)
	return out, err
}

// RunStatus returns a run for polling
func (s *Service) RunStatus(id string) (runs.Run, error) {
	return s.runs.Get(id)
}

func (s *Service) withSyncLock(ctx context.Context, holder string, fn func() error) error {
	if err := s.db.AcquireLock(ctx, SyncLockKey, holder, s.Now(), s.lockTTL); err != nil {
		return mapLockErr(err)
	}
	defer func() {
		if err := s.db.ReleaseLock(context.WithoutCancel(ctx), SyncLockKey, holder); err != nil {
			s.logger.Warn("Failed to release sync lock", "error", err)
		}
	}()
	return fn()
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// mapAutomationErr surfaces a held automation lock as LOCKED
func mapAutomationErr(err error) error {
	if automation.IsLocked(err) {
		return &apperrors.AppError{Code: apperrors.ErrLocked, Message: "status automation is running in another process"}
	}
	return err
}

func mapLockErr(err error) error {
	if errors.Is(err, db.ErrLocked) {
		return &apperrors.AppError{Code: apperrors.ErrLocked, Message: err.Error()}
	}
	return err
}
