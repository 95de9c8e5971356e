// Package dbtest builds temp-dir databases populated with fixture rows for
// package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/models"
)

// RepoID is the repository every fixture item belongs to
const RepoID = "R_acme_api"

// New opens an initialized database in a temp dir
func New(t testing.TB) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Initialize())
	return database
}

// Fixture writes rows with compact helpers. Failures stop the test.
type Fixture struct {
	t   testing.TB
	ctx context.Context
	DB  *db.DB
}

// NewFixture opens a database seeded with the sync config and one
// repository, acme/api
func NewFixture(t testing.TB, cfg models.SyncConfig) *Fixture {
	t.Helper()
	f := &Fixture{t: t, ctx: context.Background(), DB: New(t)}
	require.NoError(t, f.DB.SaveSyncConfig(f.ctx, cfg))
	require.NoError(t, f.DB.SaveRepository(f.ctx, &models.Repository{
		ID: RepoID, Owner: "acme", Name: "api", FullName: "acme/api", Visibility: "private",
	}))
	return f
}

// Actor saves a user and returns its ID
func (f *Fixture) Actor(login string) string {
	f.t.Helper()
	if login == "" {
		return ""
	}
	id := "U_" + login
	require.NoError(f.t, f.DB.SaveActor(f.ctx, &models.Actor{ID: id, Login: login, Kind: models.ActorUser}))
	return id
}

// Issue saves an open issue
func (f *Fixture) Issue(id string, number int, author string, created time.Time, mods ...func(*models.Issue)) {
	f.t.Helper()
	issue := &models.Issue{
		ID: id, RepositoryID: RepoID, Number: number, Title: "Issue " + id, State: "OPEN",
		URL: "https://github.com/acme/api/issues/" + id, AuthorID: f.Actor(author),
		CreatedAt: created, UpdatedAt: created, Raw: []byte(`{}`),
	}
	for _, m := range mods {
		m(issue)
	}
	require.NoError(f.t, f.DB.SaveIssue(f.ctx, issue))
}

// PullRequest saves an open, non-draft pull request
func (f *Fixture) PullRequest(id string, number int, author string, created time.Time, mods ...func(*models.PullRequest)) {
	f.t.Helper()
	pr := &models.PullRequest{
		ID: id, RepositoryID: RepoID, Number: number, Title: "PR " + id, State: "OPEN",
		URL: "https://github.com/acme/api/pull/" + id, AuthorID: f.Actor(author),
		CreatedAt: created, UpdatedAt: created, Raw: []byte(`{}`),
	}
	for _, m := range mods {
		m(pr)
	}
	require.NoError(f.t, f.DB.SavePullRequest(f.ctx, pr))
}

// Discussion saves an open discussion
func (f *Fixture) Discussion(id string, number int, author string, created time.Time) {
	f.t.Helper()
	require.NoError(f.t, f.DB.SaveDiscussion(f.ctx, &models.Discussion{
		ID: id, RepositoryID: RepoID, Number: number, Title: "Discussion " + id, State: "OPEN",
		URL: "https://github.com/acme/api/discussions/" + id, AuthorID: f.Actor(author),
		CreatedAt: created, UpdatedAt: created, Raw: []byte(`{}`),
	}))
}

// Link records that a pull request closes issues
func (f *Fixture) Link(prID string, issueIDs ...string) {
	f.t.Helper()
	require.NoError(f.t, f.DB.ReplaceLinkedIssues(f.ctx, prID, issueIDs))
}

// Assign replaces an item's assignees
func (f *Fixture) Assign(itemID string, logins ...string) {
	f.t.Helper()
	var ids []string
	for _, l := range logins {
		ids = append(ids, f.Actor(l))
	}
	require.NoError(f.t, f.DB.ReplaceAssignees(f.ctx, itemID, ids))
}

// Comment saves a comment on an item
func (f *Fixture) Comment(id, parentID string, kind models.ParentKind, author string, at time.Time, mentions ...string) {
	f.t.Helper()
	require.NoError(f.t, f.DB.SaveComment(f.ctx, &models.Comment{
		ID: id, ParentID: parentID, ParentKind: kind, AuthorID: f.Actor(author),
		Body: "comment " + id, CreatedAt: at, UpdatedAt: at, Mentions: mentions,
	}))
}

// Reaction saves a reaction on an item or comment
func (f *Fixture) Reaction(id, subjectID string, kind models.ParentKind, actor string, at time.Time) {
	f.t.Helper()
	require.NoError(f.t, f.DB.SaveReaction(f.ctx, &models.Reaction{
		ID: id, SubjectID: subjectID, SubjectKind: kind, ActorID: f.Actor(actor), Content: "THUMBS_UP", CreatedAt: at,
	}))
}

// Review saves a submitted review
func (f *Fixture) Review(id, prID, author, state string, at time.Time) {
	f.t.Helper()
	require.NoError(f.t, f.DB.SaveReview(f.ctx, &models.Review{
		ID: id, PullRequestID: prID, AuthorID: f.Actor(author), State: state, SubmittedAt: &at, UpdatedAt: at,
	}))
}

// Request saves a standing review request
func (f *Fixture) Request(id, prID, reviewer string, at time.Time) {
	f.t.Helper()
	require.NoError(f.t, f.DB.SaveReviewRequest(f.ctx, &models.ReviewRequest{
		ID: id, PullRequestID: prID, ReviewerID: f.Actor(reviewer), ReviewerLogin: reviewer, RequestedAt: at,
	}))
}

// Status appends a status history event
func (f *Fixture) Status(issueID string, st models.Status, src models.StatusSource, at time.Time) {
	f.t.Helper()
	_, err := f.DB.InsertStatusEvent(f.ctx, models.StatusEvent{IssueID: issueID, Status: st, Source: src, OccurredAt: at})
	require.NoError(f.t, err)
}

// History returns an issue's status history
func (f *Fixture) History(issueID string) []models.StatusEvent {
	f.t.Helper()
	events, err := f.DB.StatusHistory(f.ctx, issueID)
	require.NoError(f.t, err)
	return events
}

// Closed marks an issue closed at t
func Closed(at time.Time) func(*models.Issue) {
	return func(i *models.Issue) {
		i.State = "CLOSED"
		i.ClosedAt = &at
		i.UpdatedAt = at
	}
}

// Merged marks a pull request merged at t
func Merged(at time.Time) func(*models.PullRequest) {
	return func(p *models.PullRequest) {
		p.State = "MERGED"
		p.Merged = true
		p.MergedAt = &at
		p.ClosedAt = &at
		p.UpdatedAt = at
	}
}

// Draft marks a pull request as a draft
func Draft(p *models.PullRequest) {
	p.IsDraft = true
}
