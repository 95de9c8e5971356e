// Package automation infers issue status transitions the project board
// does not record by itself.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/models"
)

const (
	// JobKey identifies the job's cached run state
	JobKey = "issue-status-automation"
	// LockKey is the advisory lock serializing concurrent runs
	LockKey = "status-automation"

	lockTTL = 10 * time.Minute
)

// Options controls one run
type Options struct {
	// Force runs even when the cached state shows this sync generation was
	// already processed
	Force   bool
	Trigger string
	// Generation is the sync generation being produced when the job runs
	// inside a sync, before the sync state records it. Nil uses the last
	// successful sync.
	Generation *time.Time
}

// Result reports what a run inserted
type Result struct {
	InProgress int        `json:"in_progress"`
	Done       int        `json:"done"`
	Canceled   int        `json:"canceled"`
	Skipped    bool       `json:"skipped"`
	Watermark  *time.Time `json:"watermark,omitempty"`
}

// Inserted is the total number of status events added
func (r Result) Inserted() int {
	return r.InProgress + r.Done + r.Canceled
}

// Job is the status automation job
type Job struct {
	db     *db.DB
	logger *slog.Logger

	// Now is the job's clock; replaced in tests
	Now func() time.Time
}

// New creates the job
func New(database *db.DB, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{db: database, logger: logger, Now: time.Now}
}

// Run applies the in-progress, done and canceled rules in one transaction.
// It is a no-op when the cached state already records a success for the
// current last-successful-sync watermark, unless forced.
func (j *Job) Run(ctx context.Context, opts Options) (Result, error) {
	state, err := j.db.GetSyncState(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load sync state: %w", err)
	}
	res := Result{Watermark: state.LastSuccessfulSyncAt}
	if opts.Generation != nil {
		gen := opts.Generation.UTC()
		res.Watermark = &gen
	}

	if !opts.Force {
		cached, err := j.db.GetAutomationState(ctx, JobKey)
		if err != nil {
			return Result{}, err
		}
		if cached != nil && cached.Status == models.RunSuccess && sameWatermark(cached.SyncWatermark, res.Watermark) {
			j.logger.Debug("Status automation already applied", "watermark", res.Watermark)
			res.Skipped = true
			return res, nil
		}
	}

	holder := uuid.NewString()
	if err := j.db.AcquireLock(ctx, LockKey, holder, j.Now(), lockTTL); err != nil {
		return Result{}, err
	}
	defer func() {
		if err := j.db.ReleaseLock(context.WithoutCancel(ctx), LockKey, holder); err != nil {
			j.logger.Warn("Failed to release automation lock", "error", err)
		}
	}()

	runErr := j.db.InTx(ctx, func(tx *db.DB) error {
		if res.InProgress, err = j.inferInProgress(ctx, tx); err != nil {
			return err
		}
		if res.Done, err = j.inferDone(ctx, tx); err != nil {
			return err
		}
		if res.Canceled, err = j.inferCanceled(ctx, tx, state.Config.TargetProject); err != nil {
			return err
		}
		return tx.SaveAutomationState(ctx, j.state(models.RunSuccess, opts.Trigger, res, nil))
	})
	if runErr != nil {
		// The rules rolled back; record the failure in a transaction of its own
		failed := j.state(models.RunFailed, opts.Trigger, Result{Watermark: res.Watermark}, runErr)
		if err := j.db.SaveAutomationState(context.WithoutCancel(ctx), failed); err != nil {
			j.logger.Error("Failed to record automation failure", "error", err, "cause", runErr)
		}
		return Result{}, fmt.Errorf("status automation failed: %w", runErr)
	}

	j.logger.Info("Status automation finished",
		"in_progress", res.InProgress, "done", res.Done, "canceled", res.Canceled, "trigger", opts.Trigger)
	return res, nil
}

func (j *Job) state(status, trigger string, res Result, runErr error) models.AutomationState {
	metadata, _ := json.Marshal(res)
	st := models.AutomationState{
		JobKey:        JobKey,
		Status:        status,
		Trigger:       trigger,
		SyncWatermark: res.Watermark,
		Metadata:      metadata,
		UpdatedAt:     j.Now().UTC(),
	}
	if runErr != nil {
		st.Error = runErr.Error()
	}
	return st
}

func sameWatermark(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// inferInProgress records in_progress at the earliest linked pull request's
// creation for issues the board has never tracked
func (j *Job) inferInProgress(ctx context.Context, tx *db.DB) (int, error) {
	links, err := tx.InferableIssueLinks(ctx)
	if err != nil {
		return 0, err
	}
	earliest := make(map[string]time.Time)
	var order []string
	for _, l := range links {
		cur, ok := earliest[l.IssueID]
		if !ok {
			order = append(order, l.IssueID)
		}
		if !ok || l.PRCreatedAt.Before(cur) {
			earliest[l.IssueID] = l.PRCreatedAt
		}
	}

	inserted := 0
	for _, id := range order {
		ok, err := tx.InsertStatusEvent(ctx, models.StatusEvent{
			IssueID:    id,
			Status:     models.StatusInProgress,
			OccurredAt: earliest[id],
			Source:     models.SourceActivity,
		})
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// inferDone records done for closed issues with at least one merged linked
// pull request, at the later of the close and the latest merge
func (j *Job) inferDone(ctx context.Context, tx *db.DB) (int, error) {
	links, err := tx.InferableIssueLinks(ctx)
	if err != nil {
		return 0, err
	}
	type candidate struct {
		closedAt *time.Time
		mergedAt time.Time
	}
	done := make(map[string]*candidate)
	var order []string
	for _, l := range links {
		if !l.IssueClosed || !l.PRMerged || l.PRMergedAt == nil {
			continue
		}
		c := done[l.IssueID]
		if c == nil {
			c = &candidate{closedAt: l.IssueClosedAt}
			done[l.IssueID] = c
			order = append(order, l.IssueID)
		}
		if l.PRMergedAt.After(c.mergedAt) {
			c.mergedAt = *l.PRMergedAt
		}
	}

	inserted := 0
	for _, id := range order {
		c := done[id]
		at := c.mergedAt
		if c.closedAt != nil && c.closedAt.After(at) {
			at = *c.closedAt
		}
		ok, err := tx.InsertStatusEvent(ctx, models.StatusEvent{
			IssueID:    id,
			Status:     models.StatusDone,
			OccurredAt: at,
			Source:     models.SourceActivity,
		})
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// inferCanceled records canceled for issues left in_progress on the board
// that no longer belong to the target project
func (j *Job) inferCanceled(ctx context.Context, tx *db.DB, targetProject string) (int, error) {
	if targetProject == "" {
		return 0, nil
	}
	issues, err := tx.IssuesLatestBoardInProgress(ctx)
	if err != nil {
		return 0, err
	}

	now := j.Now().UTC()
	inserted := 0
	for _, issue := range issues {
		titles, ok, err := models.RawProjectTitles(issue.Raw)
		if err != nil {
			j.logger.Warn("Skipping issue with unreadable raw payload", "issue", issue.ID, "error", err)
			continue
		}
		// Without membership data there is nothing to infer from
		if !ok || contains(titles, targetProject) {
			continue
		}
		added, err := tx.InsertStatusEvent(ctx, models.StatusEvent{
			IssueID:    issue.ID,
			Status:     models.StatusCanceled,
			OccurredAt: now,
			Source:     models.SourceTodoProject,
		})
		if err != nil {
			return inserted, err
		}
		if added {
			inserted++
			j.logger.Info("Issue left the project board while in progress", "issue", issue.ID, "number", issue.Number)
		}
	}
	return inserted, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// IsLocked reports whether err means another process holds the job's lock
func IsLocked(err error) bool {
	return errors.Is(err, db.ErrLocked)
}
