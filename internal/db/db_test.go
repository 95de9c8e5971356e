package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/db/dbtest"
	"github.com/wesm/github-activity-digest/internal/models"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func commentIDs(t *testing.T, d *db.DB, itemID string) []string {
	t.Helper()
	comments, err := d.Comments(context.Background(), []string{itemID})
	require.NoError(t, err)
	var ids []string
	for _, c := range comments {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestDeleteCommentsNotInRemovesOnlyDropped(t *testing.T) {
	ctx := context.Background()
	f := dbtest.NewFixture(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", t0)
	f.Issue("I2", 2, "alice", t0)
	for i, id := range []string{"A", "B", "C"} {
		f.Comment(id, "I1", models.ParentIssue, "bob", t0.Add(time.Duration(i)*time.Hour), "alice")
		f.Reaction("R"+id, id, models.ParentComment, "carol", t0.Add(time.Duration(i)*time.Hour))
	}
	// Same comment IDs under another container are out of scope
	f.Comment("D", "I2", models.ParentIssue, "bob", t0)

	n, err := f.DB.DeleteCommentsNotIn(ctx, "I1", []string{"A", "C"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{"A", "C"}, commentIDs(t, f.DB, "I1"))
	assert.Equal(t, []string{"D"}, commentIDs(t, f.DB, "I2"))

	reactions, err := f.DB.Reactions(ctx, []string{"I1"})
	require.NoError(t, err)
	var subjects []string
	for _, r := range reactions {
		subjects = append(subjects, r.SubjectID)
	}
	assert.ElementsMatch(t, []string{"A", "C"}, subjects)

	mentions, err := f.DB.Mentions(ctx, []string{"I1"})
	require.NoError(t, err)
	assert.Len(t, mentions, 2)
}

func TestDeleteCommentsNotInEmptyKeepClearsContainer(t *testing.T) {
	f := dbtest.NewFixture(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", t0)
	f.Comment("A", "I1", models.ParentIssue, "bob", t0)

	n, err := f.DB.DeleteCommentsNotIn(context.Background(), "I1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, commentIDs(t, f.DB, "I1"))
}

func TestDeleteReviewRequestsNotIn(t *testing.T) {
	ctx := context.Background()
	f := dbtest.NewFixture(t, models.SyncConfig{})
	f.PullRequest("P1", 1, "alice", t0)
	f.Request("RR1", "P1", "bob", t0)
	f.Request("RR2", "P1", "carol", t0)

	n, err := f.DB.DeleteReviewRequestsNotIn(ctx, "P1", []string{"RR2"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	requests, err := f.DB.ReviewRequests(ctx, []string{"P1"})
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "carol", requests[0].ReviewerLogin)
}

func TestUpsertsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	f := dbtest.NewFixture(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", t0)
	f.Issue("I1", 1, "alice", t0, func(i *models.Issue) { i.Title = "Renamed" })

	issue, err := f.DB.GetIssue(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", issue.Title)
	assert.Equal(t, t0, issue.CreatedAt.UTC())

	_, err = f.DB.GetIssue(ctx, "missing")
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestInsertStatusEventIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	f := dbtest.NewFixture(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", t0)

	ev := models.StatusEvent{IssueID: "I1", Status: models.StatusInProgress, Source: models.SourceActivity, OccurredAt: t0}
	added, err := f.DB.InsertStatusEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = f.DB.InsertStatusEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, added)

	assert.Len(t, f.History("I1"), 1)
}

func TestInferableIssueLinksSkipBoardTrackedIssues(t *testing.T) {
	ctx := context.Background()
	f := dbtest.NewFixture(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", t0)
	f.Issue("I2", 2, "alice", t0)
	f.PullRequest("P1", 3, "bob", t0.Add(time.Hour))
	f.Link("P1", "I1", "I2")
	f.Status("I2", models.StatusTodo, models.SourceTodoProject, t0)

	links, err := f.DB.InferableIssueLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "I1", links[0].IssueID)
	assert.Equal(t, "P1", links[0].PullRequestID)
	assert.False(t, links[0].IssueClosed)
}

func TestAdvisoryLock(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)

	require.NoError(t, d.AcquireLock(ctx, "sync", "run-1", t0, time.Minute))
	// Re-entrant for the same holder
	require.NoError(t, d.AcquireLock(ctx, "sync", "run-1", t0, time.Minute))

	err := d.AcquireLock(ctx, "sync", "run-2", t0.Add(30*time.Second), time.Minute)
	assert.True(t, errors.Is(err, db.ErrLocked))

	// Expired locks are taken over
	require.NoError(t, d.AcquireLock(ctx, "sync", "run-2", t0.Add(2*time.Minute), time.Minute))

	// Releasing someone else's lock is a no-op
	require.NoError(t, d.ReleaseLock(ctx, "sync", "run-1"))
	err = d.AcquireLock(ctx, "sync", "run-3", t0.Add(2*time.Minute), time.Minute)
	assert.True(t, errors.Is(err, db.ErrLocked))

	require.NoError(t, d.ReleaseLock(ctx, "sync", "run-2"))
	require.NoError(t, d.AcquireLock(ctx, "sync", "run-3", t0.Add(2*time.Minute), time.Minute))
}

func TestWatermarksOnlyMoveForward(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)

	wm, err := d.GetWatermark(ctx, "R1", models.WatermarkIssues)
	require.NoError(t, err)
	assert.True(t, wm.IsZero())

	require.NoError(t, d.AdvanceWatermark(ctx, "R1", models.WatermarkIssues, t0.Add(time.Hour)))
	require.NoError(t, d.AdvanceWatermark(ctx, "R1", models.WatermarkIssues, t0))

	wm, err = d.GetWatermark(ctx, "R1", models.WatermarkIssues)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), wm)

	// Kinds are independent
	wm, err = d.GetWatermark(ctx, "R1", models.WatermarkComments)
	require.NoError(t, err)
	assert.True(t, wm.IsZero())
}

func TestSyncStateKeepsLastSuccessAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := dbtest.NewFixture(t, models.SyncConfig{Organization: "acme"})

	require.NoError(t, f.DB.MarkSyncStarted(ctx, t0))
	require.NoError(t, f.DB.MarkSyncFinished(ctx, t0.Add(time.Minute), nil))
	require.NoError(t, f.DB.MarkSyncStarted(ctx, t0.Add(time.Hour)))
	require.NoError(t, f.DB.MarkSyncFinished(ctx, t0.Add(time.Hour+time.Minute), errors.New("rate limited")))

	state, err := f.DB.GetSyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acme", state.Config.Organization)
	require.NotNil(t, state.LastSuccessfulSyncAt)
	assert.Equal(t, t0.Add(time.Minute), state.LastSuccessfulSyncAt.UTC())
	assert.Equal(t, models.RunFailed, state.LastSyncStatus)
	assert.Equal(t, "rate limited", state.LastSyncError)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	f := dbtest.NewFixture(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", t0)

	boom := errors.New("boom")
	err := f.DB.InTx(ctx, func(tx *db.DB) error {
		_, err := tx.InsertStatusEvent(ctx, models.StatusEvent{
			IssueID: "I1", Status: models.StatusDone, Source: models.SourceActivity, OccurredAt: t0,
		})
		require.NoError(t, err)
		// Nested calls join the outer transaction
		return tx.InTx(ctx, func(inner *db.DB) error { return boom })
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.History("I1"))
}

func TestProjectFieldOverrideClearedWhenEmpty(t *testing.T) {
	ctx := context.Background()
	d := dbtest.New(t)

	high := "high"
	var o models.ProjectFieldOverride
	o.Set(models.FieldPriority, &high, t0)
	require.NoError(t, d.SaveProjectFieldOverride(ctx, "I1", o))

	got, err := d.GetProjectFieldOverride(ctx, "I1")
	require.NoError(t, err)
	require.NotNil(t, got.Priority)
	assert.Equal(t, "high", *got.Priority)

	o.Set(models.FieldPriority, nil, t0.Add(time.Hour))
	require.NoError(t, d.SaveProjectFieldOverride(ctx, "I1", o))
	all, err := d.AllProjectFieldOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
