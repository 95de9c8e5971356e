package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/github-activity-digest/internal/apperrors"
	"github.com/wesm/github-activity-digest/internal/attention"
	"github.com/wesm/github-activity-digest/internal/automation"
	"github.com/wesm/github-activity-digest/internal/businessday"
	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/db/dbtest"
	"github.com/wesm/github-activity-digest/internal/models"
	"github.com/wesm/github-activity-digest/internal/runs"
	"github.com/wesm/github-activity-digest/internal/snapshot"
	"github.com/wesm/github-activity-digest/internal/sync"
)

var (
	monday = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	now    = monday.AddDate(0, 0, 3)
)

type fakeCollector struct {
	run    func(ctx context.Context, opts sync.Options) (sync.Counts, error)
	resync func(ctx context.Context, id string) (sync.Counts, error)
}

func (c *fakeCollector) Run(ctx context.Context, opts sync.Options) (sync.Counts, error) {
	if c.run == nil {
		return sync.Counts{}, nil
	}
	return c.run(ctx, opts)
}

func (c *fakeCollector) ResyncItem(ctx context.Context, id string) (sync.Counts, error) {
	if c.resync == nil {
		return sync.Counts{}, nil
	}
	return c.resync(ctx, id)
}

func newService(t *testing.T, cfg models.SyncConfig) (*Service, *dbtest.Fixture, *fakeCollector) {
	t.Helper()
	f := dbtest.NewFixture(t, cfg)
	cal, err := businessday.New(time.UTC, nil)
	require.NoError(t, err)
	clock := func() time.Time { return now }

	job := automation.New(f.DB, nil)
	job.Now = clock
	mat := snapshot.New(f.DB, nil)
	mat.Now = clock
	engine := attention.NewEngine(f.DB, cal, models.DefaultThresholds(), nil)
	engine.Now = clock
	collector := &fakeCollector{}

	s := New(Deps{
		DB:         f.DB,
		Collector:  collector,
		Automation: job,
		Snapshot:   mat,
		Attention:  engine,
		Runs:       runs.NewRegistry(10),
	})
	s.Now = clock
	return s, f, collector
}

func requireCode(t *testing.T, err error, code apperrors.Code) *apperrors.AppError {
	t.Helper()
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, code, appErr.Code, err.Error())
	return appErr
}

func TestRunSyncAppliesAutomationAndMaterializes(t *testing.T) {
	ctx := context.Background()
	s, f, collector := newService(t, models.SyncConfig{})
	var modes []sync.Mode
	collector.run = func(ctx context.Context, opts sync.Options) (sync.Counts, error) {
		modes = append(modes, opts.Mode)
		f.Issue("I1", 1, "alice", monday, dbtest.Closed(monday.Add(4*time.Hour)))
		f.PullRequest("P1", 2, "bob", monday.Add(time.Hour), dbtest.Merged(monday.Add(3*time.Hour)))
		f.Link("P1", "I1")
		return sync.Counts{Issues: 1, PullRequests: 1}, nil
	}

	res, err := s.RunSync(ctx, SyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.Issues)
	assert.Equal(t, 1, res.Automation.InProgress)
	assert.Equal(t, 1, res.Automation.Done)
	assert.Equal(t, 2, res.Snapshot.Upserted)

	item, err := f.DB.GetActivityItem(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, item.Status)
	assert.Equal(t, models.SourceActivity, item.StatusSource)

	state, err := f.DB.GetSyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, state.LastSyncStatus)
	require.NotNil(t, state.LastSuccessfulSyncAt)
	assert.Equal(t, now, state.LastSuccessfulSyncAt.UTC())

	run, err := s.RunStatus(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, run.Status)

	// The lock is released, so the next run goes through
	_, err = s.RunSync(ctx, SyncRequest{Mode: sync.ModeFull})
	require.NoError(t, err)
	assert.Equal(t, []sync.Mode{sync.ModeIncremental, sync.ModeFull}, modes)
}

func TestRunSyncFailureKeepsLastSuccess(t *testing.T) {
	ctx := context.Background()
	s, f, collector := newService(t, models.SyncConfig{})
	collector.run = func(ctx context.Context, opts sync.Options) (sync.Counts, error) {
		return sync.Counts{}, errors.New("502 Bad Gateway")
	}

	res, err := s.RunSync(ctx, SyncRequest{})
	require.Error(t, err)

	state, err := f.DB.GetSyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, state.LastSyncStatus)
	assert.Contains(t, state.LastSyncError, "502 Bad Gateway")
	assert.Nil(t, state.LastSuccessfulSyncAt)

	run, err := s.RunStatus(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.NotEmpty(t, run.Error)
}

func TestRunSyncRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	s, _, collector := newService(t, models.SyncConfig{})
	started := make(chan struct{})
	release := make(chan struct{})
	collector.run = func(ctx context.Context, opts sync.Options) (sync.Counts, error) {
		close(started)
		<-release
		return sync.Counts{}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.RunSync(ctx, SyncRequest{})
		done <- err
	}()
	<-started

	_, err := s.RunSync(ctx, SyncRequest{})
	requireCode(t, err, apperrors.ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestRunSyncFailsWhileAnotherProcessHoldsLock(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newService(t, models.SyncConfig{})
	require.NoError(t, f.DB.AcquireLock(ctx, SyncLockKey, "other-process", now, time.Hour))

	_, err := s.RunSync(ctx, SyncRequest{})
	requireCode(t, err, apperrors.ErrLocked)

	_, err = s.ResyncItem(ctx, "I1")
	requireCode(t, err, apperrors.ErrLocked)
}

func TestResyncItemUnknown(t *testing.T) {
	s, _, collector := newService(t, models.SyncConfig{})
	collector.resync = func(ctx context.Context, id string) (sync.Counts, error) {
		return sync.Counts{}, db.ErrNotFound
	}
	_, err := s.ResyncItem(context.Background(), "nope")
	requireCode(t, err, apperrors.ErrNotFound)
}

func TestResyncItemRefreshesLinkedItems(t *testing.T) {
	ctx := context.Background()
	s, f, collector := newService(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", monday)
	f.PullRequest("P1", 2, "bob", monday)
	f.Link("P1", "I1")
	_, err := s.snapshot.Rebuild(ctx)
	require.NoError(t, err)

	collector.resync = func(ctx context.Context, id string) (sync.Counts, error) {
		f.PullRequest("P1", 2, "bob", monday, func(p *models.PullRequest) { p.Title = "Renamed" })
		f.Comment("C1", "I1", models.ParentIssue, "bob", monday)
		return sync.Counts{PullRequests: 1}, nil
	}
	res, err := s.ResyncItem(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Snapshot.Upserted)

	pr, err := f.DB.GetActivityItem(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", pr.Title)
	issue, err := f.DB.GetActivityItem(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, 1, issue.CommentCount)
}

func TestResyncItemRefreshesNewlyLinkedIssue(t *testing.T) {
	ctx := context.Background()
	s, f, collector := newService(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", monday)
	f.Issue("I2", 2, "alice", monday)
	f.PullRequest("P1", 3, "bob", monday)
	f.Link("P1", "I1")
	_, err := s.snapshot.Rebuild(ctx)
	require.NoError(t, err)

	// The refetched pull request now closes I2 instead of I1
	collector.resync = func(ctx context.Context, id string) (sync.Counts, error) {
		return sync.Counts{PullRequests: 1}, f.DB.ReplaceLinkedIssues(ctx, "P1", []string{"I2"})
	}
	res, err := s.ResyncItem(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Snapshot.Upserted)

	i2, err := f.DB.GetActivityItem(ctx, "I2")
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, i2.LinkedItemIDs)
	i1, err := f.DB.GetActivityItem(ctx, "I1")
	require.NoError(t, err)
	assert.Empty(t, i1.LinkedItemIDs)
}

func TestStatusAutomationAfterSyncIsSkipped(t *testing.T) {
	ctx := context.Background()
	s, f, collector := newService(t, models.SyncConfig{})
	collector.run = func(ctx context.Context, opts sync.Options) (sync.Counts, error) {
		f.Issue("I1", 1, "alice", monday)
		f.PullRequest("P1", 2, "bob", monday.Add(time.Hour))
		f.Link("P1", "I1")
		return sync.Counts{Issues: 1, PullRequests: 1}, nil
	}
	_, err := s.RunSync(ctx, SyncRequest{})
	require.NoError(t, err)

	// The sync already applied automation for the generation it produced
	out, err := s.RunStatusAutomation(ctx, false, "dashboard")
	require.NoError(t, err)
	assert.True(t, out.Result.Skipped)

	state, err := f.DB.GetAutomationState(ctx, automation.JobKey)
	require.NoError(t, err)
	require.NotNil(t, state.SyncWatermark)
	assert.Equal(t, now, state.SyncWatermark.UTC())
}

func TestRunStatusAutomationMapsHeldLock(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newService(t, models.SyncConfig{})
	require.NoError(t, f.DB.AcquireLock(ctx, automation.LockKey, "other-process", now, time.Minute))

	_, err := s.RunStatusAutomation(ctx, true, "manual")
	requireCode(t, err, apperrors.ErrLocked)
}

func TestRunStatusAutomationRefreshesWhenInserted(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newService(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", monday)
	f.PullRequest("P1", 2, "bob", monday.Add(time.Hour))
	f.Link("P1", "I1")
	_, err := s.snapshot.Rebuild(ctx)
	require.NoError(t, err)

	out, err := s.RunStatusAutomation(ctx, false, "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Result.InProgress)

	item, err := f.DB.GetActivityItem(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, item.Status)

	// Nothing synced since, so an unforced run is skipped
	out, err = s.RunStatusAutomation(ctx, false, "manual")
	require.NoError(t, err)
	assert.True(t, out.Result.Skipped)
}

func TestUpdateIssueStatus(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newService(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", monday)
	f.PullRequest("P1", 2, "bob", monday)

	item, err := s.UpdateIssueStatus(ctx, "I1", "in_progress", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, item.Status)
	require.NotNil(t, item.StatusUpdatedAt)
	assert.Equal(t, now, *item.StatusUpdatedAt)

	// A stale expectation is rejected and nothing changes
	stale := "todo"
	_, err = s.UpdateIssueStatus(ctx, "I1", "done", &stale)
	appErr := requireCode(t, err, apperrors.ErrConflict)
	require.NotNil(t, appErr.Current)
	assert.Equal(t, "in_progress", *appErr.Current)
	assert.Len(t, f.History("I1"), 1)

	current := "in_progress"
	item, err = s.UpdateIssueStatus(ctx, "I1", "done", &current)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, item.Status)

	// Setting the current status again is a no-op
	_, err = s.UpdateIssueStatus(ctx, "I1", "done", nil)
	require.NoError(t, err)
	assert.Len(t, f.History("I1"), 2)

	_, err = s.UpdateIssueStatus(ctx, "I1", "blocked", nil)
	requireCode(t, err, apperrors.ErrInvalidArgument)
	_, err = s.UpdateIssueStatus(ctx, "P1", "done", nil)
	requireCode(t, err, apperrors.ErrInvalidArgument)
	_, err = s.UpdateIssueStatus(ctx, "missing", "done", nil)
	requireCode(t, err, apperrors.ErrNotFound)
}

func TestUpdateIssueStatusLockedByBoard(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newService(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", monday)
	f.Status("I1", models.StatusTodo, models.SourceTodoProject, monday)

	_, err := s.UpdateIssueStatus(ctx, "I1", "done", nil)
	appErr := requireCode(t, err, apperrors.ErrStatusLocked)
	require.NotNil(t, appErr.Current)
	assert.Equal(t, "todo", *appErr.Current)
	assert.Len(t, f.History("I1"), 1)
}

func TestUpdateProjectFieldOverride(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newService(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", monday)
	high, low := "high", "low"

	o, err := s.UpdateProjectFieldOverride(ctx, "I1", "priority", &high, nil)
	require.NoError(t, err)
	require.NotNil(t, o.Priority)
	assert.Equal(t, "high", *o.Priority)
	assert.Equal(t, now, *o.PriorityUpdatedAt)

	// Expected unset, but it is now set
	_, err = s.UpdateProjectFieldOverride(ctx, "I1", "priority", &low, nil)
	appErr := requireCode(t, err, apperrors.ErrConflict)
	require.NotNil(t, appErr.Current)
	assert.Equal(t, "high", *appErr.Current)

	_, err = s.UpdateProjectFieldOverride(ctx, "I1", "priority", &low, &high)
	require.NoError(t, err)
	item, err := f.DB.GetActivityItem(ctx, "I1")
	require.NoError(t, err)
	require.NotNil(t, item.Overrides.Priority)
	assert.Equal(t, "low", *item.Overrides.Priority)

	// An empty value clears the field and drops the empty row
	empty := " "
	o, err = s.UpdateProjectFieldOverride(ctx, "I1", "priority", &empty, &low)
	require.NoError(t, err)
	assert.Nil(t, o.Priority)
	all, err := f.DB.AllProjectFieldOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = s.UpdateProjectFieldOverride(ctx, "I1", "colour", &high, nil)
	requireCode(t, err, apperrors.ErrInvalidArgument)
}

func TestMentionOverrideLifecycle(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newService(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", monday)
	f.Comment("C1", "I1", models.ParentIssue, "bob", monday, "carol")

	m, err := s.SetMentionOverride(ctx, "C1", "@Carol", "suppress")
	require.NoError(t, err)
	assert.Equal(t, "carol", m.MentionedLogin)
	assert.True(t, m.ManualActive())

	// A later classifier verdict makes the manual decision stale
	m, err = s.RecordMentionClassification(ctx, MentionJudgment{
		CommentID: "C1", Login: "carol", RequiresResponse: true, Model: "triage-v1", EvaluatedAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OverrideSuppress, m.ManualState)
	assert.True(t, m.ManualStale())
	requires, known := m.RequiresResponseEffective()
	assert.True(t, known)
	assert.True(t, requires)

	m, err = s.SetMentionOverride(ctx, "C1", "carol", "clear")
	require.NoError(t, err)
	assert.Equal(t, models.OverrideNone, m.ManualState)
	assert.Nil(t, m.ManualUpdatedAt)
	require.NotNil(t, m.RequiresResponse)
	assert.Equal(t, "triage-v1", m.Model)

	_, err = s.SetMentionOverride(ctx, "C404", "carol", "force")
	requireCode(t, err, apperrors.ErrNotFound)
	_, err = s.SetMentionOverride(ctx, "C1", "carol", "ignore")
	requireCode(t, err, apperrors.ErrInvalidArgument)
}

func TestListActivityItems(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newService(t, models.SyncConfig{})
	for i, id := range []string{"P1", "P2", "P3"} {
		f.PullRequest(id, i+1, "bob", monday.Add(time.Duration(i)*time.Hour))
	}
	f.Issue("I1", 10, "alice", monday, dbtest.Closed(monday.Add(time.Hour)))
	f.Request("RR1", "P3", "carol", monday)
	_, err := s.snapshot.Rebuild(ctx)
	require.NoError(t, err)

	page, err := s.ListActivityItems(ctx, ActivityQuery{State: "open"}, Pagination{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, PageInfo{Total: 3, Limit: 2, Offset: 0, HasNextPage: true}, page.PageInfo)
	assert.Equal(t, "P3", page.Items[0].ID)
	assert.Nil(t, page.GeneratedAt)

	page, err = s.ListActivityItems(ctx, ActivityQuery{State: "closed"}, Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "I1", page.Items[0].ID)
	assert.Equal(t, defaultPageSize, page.PageInfo.Limit)

	page, err = s.ListActivityItems(ctx, ActivityQuery{Attention: attention.CategoryReviewerUnassigned}, Pagination{})
	require.NoError(t, err)
	var got []string
	for _, item := range page.Items {
		got = append(got, item.ID)
	}
	assert.ElementsMatch(t, []string{"P1", "P2"}, got)

	_, err = s.ListActivityItems(ctx, ActivityQuery{State: "merged"}, Pagination{})
	requireCode(t, err, apperrors.ErrInvalidArgument)
	_, err = s.ListActivityItems(ctx, ActivityQuery{Attention: "loud"}, Pagination{})
	requireCode(t, err, apperrors.ErrInvalidArgument)
}

func TestGetActivityItemDetail(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newService(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", monday)
	f.PullRequest("P1", 2, "bob", monday)
	f.Link("P1", "I1")
	f.Comment("C1", "P1", models.ParentPullRequest, "carol", monday)
	f.Reaction("R1", "C1", models.ParentComment, "dave", monday)
	f.Reaction("R2", "P1", models.ParentPullRequest, "erin", monday)
	f.Request("RR1", "P1", "carol", monday)
	_, err := s.snapshot.Rebuild(ctx)
	require.NoError(t, err)

	detail, err := s.GetActivityItemDetail(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, detail.Comments, 1)
	require.Len(t, detail.Comments[0].Reactions, 1)
	assert.Equal(t, "dave", detail.Comments[0].Reactions[0].ActorLogin)
	require.Len(t, detail.Reactions, 1)
	assert.Equal(t, "erin", detail.Reactions[0].ActorLogin)
	require.Len(t, detail.LinkedItems, 1)
	assert.Equal(t, "I1", detail.LinkedItems[0].ID)
	assert.Len(t, detail.ReviewRequests, 1)
	assert.Empty(t, detail.Reviews)

	_, err = s.GetActivityItemDetail(ctx, "nope")
	requireCode(t, err, apperrors.ErrNotFound)
}

func TestGetAttentionInsightsReportsSyncState(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newService(t, models.SyncConfig{})
	f.PullRequest("P1", 1, "bob", monday)
	_, err := s.snapshot.Rebuild(ctx)
	require.NoError(t, err)
	require.NoError(t, f.DB.MarkSyncStarted(ctx, monday))
	require.NoError(t, f.DB.MarkSyncFinished(ctx, monday, errors.New("rate limited")))

	report, err := s.GetAttentionInsights(ctx, AttentionQuery{})
	require.NoError(t, err)
	assert.Nil(t, report.GeneratedAt)
	assert.Equal(t, models.RunFailed, report.LastSyncStatus)
	assert.Equal(t, "rate limited", report.LastSyncError)
	require.Len(t, report.Categories[attention.CategoryReviewerUnassigned], 1)
}
