package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/db/dbtest"
	"github.com/wesm/github-activity-digest/internal/models"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// seed builds an issue fixed by a pull request plus a discussion, with
// comments, reactions, mentions and review traffic
func seed(t *testing.T) *dbtest.Fixture {
	f := dbtest.NewFixture(t, models.SyncConfig{})
	f.Issue("I1", 1, "alice", t0)
	f.PullRequest("P1", 2, "bob", t0.Add(time.Hour), dbtest.Draft)
	f.Discussion("D1", 3, "carol", t0)
	f.Link("P1", "I1")
	f.Assign("I1", "dave")

	f.Comment("C1", "I1", models.ParentIssue, "bob", t0.Add(2*time.Hour), "alice")
	f.Comment("C2", "I1", models.ParentIssue, "carol", t0.Add(3*time.Hour), "dave", "alice")
	f.Comment("C3", "I1", models.ParentIssue, "bob", t0.Add(4*time.Hour))
	f.Reaction("R1", "I1", models.ParentIssue, "erin", t0)
	f.Reaction("R2", "C1", models.ParentComment, "erin", t0)
	f.Reaction("R3", "C2", models.ParentComment, "frank", t0)

	f.Request("RR1", "P1", "gina", t0.Add(time.Hour))
	f.Review("RV1", "P1", "hank", "COMMENTED", t0.Add(2*time.Hour))
	f.Review("RV2", "P1", "hank", "APPROVED", t0.Add(3*time.Hour))

	f.Status("I1", models.StatusInProgress, models.SourceActivity, t0.Add(time.Hour))
	f.Status("I1", models.StatusTodo, models.SourceTodoProject, t0.Add(5*time.Hour))
	return f
}

func newMaterializer(f *dbtest.Fixture, now time.Time) *Materializer {
	m := New(f.DB, nil)
	m.Now = func() time.Time { return now }
	return m
}

func all(t *testing.T, d *db.DB) map[string]models.ActivityItem {
	t.Helper()
	items, _, err := d.ListActivityItems(context.Background(), db.ActivityFilter{}, 0, 0)
	require.NoError(t, err)
	out := make(map[string]models.ActivityItem, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out
}

func TestRebuildProjectsSourceRows(t *testing.T) {
	ctx := context.Background()
	f := seed(t)
	high := "high"
	var o models.ProjectFieldOverride
	o.Set(models.FieldPriority, &high, t0)
	require.NoError(t, f.DB.SaveProjectFieldOverride(ctx, "I1", o))

	res, err := newMaterializer(f, t0.Add(24*time.Hour)).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Upserted)

	items := all(t, f.DB)
	require.Len(t, items, 3)

	issue := items["I1"]
	assert.Equal(t, models.ItemIssue, issue.Type)
	assert.Equal(t, "acme/api", issue.Repository)
	assert.Equal(t, "alice", issue.AuthorLogin)
	assert.Equal(t, 3, issue.CommentCount)
	assert.Equal(t, 3, issue.ReactionCount)
	assert.Equal(t, []string{"P1"}, issue.LinkedItemIDs)
	assert.Equal(t, 1, issue.LinkedIssueCount)
	assert.Equal(t, []string{"dave"}, issue.Assignees)
	assert.Equal(t, []string{"alice", "dave"}, issue.MentionedUsers)
	assert.Equal(t, []string{"bob", "carol"}, issue.Commenters)
	assert.Equal(t, []string{"erin", "frank"}, issue.Reactors)
	// The board event wins even though it is not the only event
	assert.Equal(t, models.StatusTodo, issue.Status)
	assert.Equal(t, models.SourceTodoProject, issue.StatusSource)
	assert.True(t, issue.StatusLocked)
	require.Len(t, issue.ProjectHistory, 2)
	assert.Equal(t, models.StatusInProgress, issue.ProjectHistory[0].Status)
	require.NotNil(t, issue.Overrides.Priority)
	assert.Equal(t, "high", *issue.Overrides.Priority)

	pr := items["P1"]
	assert.True(t, pr.IsDraft)
	assert.Equal(t, []string{"I1"}, pr.LinkedItemIDs)
	assert.Equal(t, []string{"gina", "hank"}, pr.Reviewers)
	assert.Equal(t, models.StatusNone, pr.Status)
	assert.Equal(t, models.SourceNone, pr.StatusSource)
	assert.Empty(t, pr.ProjectHistory)

	d := items["D1"]
	assert.Equal(t, models.ItemDiscussion, d.Type)
	assert.Zero(t, d.CommentCount)
	assert.Empty(t, d.Commenters)
}

func TestRebuildIsDeterministic(t *testing.T) {
	ctx := context.Background()
	f := seed(t)

	_, err := newMaterializer(f, t0.Add(24*time.Hour)).Rebuild(ctx)
	require.NoError(t, err)
	first := all(t, f.DB)

	_, err = newMaterializer(f, t0.Add(48*time.Hour)).Rebuild(ctx)
	require.NoError(t, err)
	second := all(t, f.DB)

	ignoreStamps := cmpopts.IgnoreFields(models.ActivityItem{}, "SnapshotInsertedAt", "SnapshotUpdatedAt")
	if diff := cmp.Diff(first, second, ignoreStamps); diff != "" {
		t.Errorf("rebuild changed derived columns (-first +second):\n%s", diff)
	}
}

func TestRefreshKeepsInsertionTimestamp(t *testing.T) {
	ctx := context.Background()
	f := seed(t)
	inserted := t0.Add(24 * time.Hour)
	refreshed := t0.Add(48 * time.Hour)

	_, err := newMaterializer(f, inserted).Rebuild(ctx)
	require.NoError(t, err)

	f.Comment("C4", "I1", models.ParentIssue, "ivan", t0.Add(6*time.Hour))
	res, err := newMaterializer(f, refreshed).Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Upserted)
	assert.Zero(t, res.Deleted)

	issue := all(t, f.DB)["I1"]
	assert.Equal(t, 4, issue.CommentCount)
	assert.Equal(t, inserted, issue.SnapshotInsertedAt)
	assert.Equal(t, refreshed, issue.SnapshotUpdatedAt)
}

func TestRefreshRemovesRowsWithoutSource(t *testing.T) {
	ctx := context.Background()
	f := seed(t)
	m := newMaterializer(f, t0.Add(24*time.Hour))
	_, err := m.Rebuild(ctx)
	require.NoError(t, err)

	for _, id := range []string{"GONE1", "GONE2"} {
		require.NoError(t, f.DB.UpsertActivityItem(ctx, &models.ActivityItem{
			ID: id, Type: models.ItemIssue, RepositoryID: dbtest.RepoID, Status: models.StatusNone, StatusSource: models.SourceNone,
			CreatedAt: t0, UpdatedAt: t0, SnapshotInsertedAt: t0, SnapshotUpdatedAt: t0,
		}))
	}

	// Targeted refresh touches only the named rows
	res, err := m.Refresh(ctx, []string{"I1", "GONE1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Upserted)
	assert.Equal(t, 1, res.Deleted)
	items := all(t, f.DB)
	assert.NotContains(t, items, "GONE1")
	assert.Contains(t, items, "GONE2")

	res, err = m.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Len(t, all(t, f.DB), 3)
}

func TestUniqFoldKeepsFirstSpelling(t *testing.T) {
	assert.Equal(t, []string{"Alice", "bob"}, uniqFold([]string{"bob", "Alice", "", "alice", "BOB"}))
	assert.Equal(t, []string{}, uniqFold(nil))
	assert.Equal(t, []string{"a", "b"}, uniq([]string{"b", "a", "b", ""}))
}
