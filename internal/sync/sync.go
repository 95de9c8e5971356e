package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wesm/github-activity-digest/internal/api"
	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/models"
)

// Source is the upstream the collector reads from. *api.GraphQLSource
// implements it.
type Source interface {
	IssuesPage(ctx context.Context, repo models.Repository, cursor string) (api.Page[api.IssueRecord], error)
	PullRequestsPage(ctx context.Context, repo models.Repository, cursor string) (api.Page[api.PullRequestRecord], error)
	DiscussionsPage(ctx context.Context, repo models.Repository, cursor string) (api.Page[api.DiscussionRecord], error)
	CommentsPage(ctx context.Context, repo models.Repository, item api.ItemKey, cursor string) (api.Page[api.CommentRecord], error)
	OpenPullRequestReviewsPage(ctx context.Context, repo models.Repository, cursor string) (api.Page[api.ReviewMetadata], error)
	IssueByNumber(ctx context.Context, repo models.Repository, number int) (*api.IssueRecord, error)
	PullRequestByNumber(ctx context.Context, repo models.Repository, number int) (*api.PullRequestRecord, error)
	DiscussionByNumber(ctx context.Context, repo models.Repository, number int) (*api.DiscussionRecord, error)
	ReviewMetadataByNumber(ctx context.Context, repo models.Repository, number int) (*api.ReviewMetadata, error)
}

// RepositoryClient resolves repository metadata. *api.GitHubClient
// implements it.
type RepositoryClient interface {
	GetRepository(ctx context.Context, owner, name string) (*models.Repository, error)
}

// Mode selects how much of each repository a run walks
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// ParseMode validates a sync mode
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeIncremental:
		return Mode(s), nil
	case "":
		return ModeIncremental, nil
	}
	return "", fmt.Errorf("invalid sync mode %q", s)
}

// Options scopes a collector run
type Options struct {
	Mode Mode
	// RepositoryIDs limits the run to known repositories. Empty means every
	// configured repository.
	RepositoryIDs []string
	// Until closes the incremental window; zero means now
	Until time.Time
}

// Counts tallies rows touched by a run
type Counts struct {
	Repositories   int `json:"repositories"`
	Issues         int `json:"issues"`
	PullRequests   int `json:"pull_requests"`
	Discussions    int `json:"discussions"`
	Comments       int `json:"comments"`
	Reviews        int `json:"reviews"`
	ReviewRequests int `json:"review_requests"`
	Reactions      int `json:"reactions"`
	StatusEvents   int `json:"status_events"`
	Deleted        int `json:"deleted"`
	Backfilled     int `json:"backfilled"`
}

// Collector walks repositories and persists normalized rows
type Collector struct {
	db           *db.DB
	source       Source
	repos        RepositoryClient
	config       models.SyncConfig
	repositories []string
	logger       *slog.Logger

	// Now is the collector's clock; replaced in tests
	Now func() time.Time
}

// New creates a collector. repositories lists the configured "owner/name"
// repositories.
func New(database *db.DB, source Source, repos RepositoryClient, cfg models.SyncConfig, repositories []string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		db:           database,
		source:       source,
		repos:        repos,
		config:       cfg,
		repositories: repositories,
		logger:       logger,
		Now:          time.Now,
	}
}

// window bounds which children an incremental run persists
type window struct {
	since time.Time
	until time.Time
}

func (w window) contains(t time.Time) bool {
	if !w.since.IsZero() && t.Before(w.since) {
		return false
	}
	if !w.until.IsZero() && t.After(w.until) {
		return false
	}
	return true
}

// Run collects every repository in scope, one at a time. Cancellation is
// honoured between repositories.
func (c *Collector) Run(ctx context.Context, opts Options) (Counts, error) {
	var total Counts

	repos, err := c.resolveRepositories(ctx, opts.RepositoryIDs)
	if err != nil {
		return total, err
	}

	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		start := c.Now()
		c.logger.Info("Syncing repository", "repository", repo.FullName, "mode", string(opts.Mode))

		counts, err := c.syncRepository(ctx, repo, opts)
		total.add(counts)
		if err != nil {
			return total, fmt.Errorf("failed to sync repository %s: %w", repo.FullName, err)
		}
		total.Repositories++

		c.logger.Info("Synced repository", "repository", repo.FullName,
			"issues", counts.Issues, "pull_requests", counts.PullRequests, "discussions", counts.Discussions,
			"comments", counts.Comments, "deleted", counts.Deleted, "duration", c.Now().Sub(start).String())
	}
	return total, nil
}

// resolveRepositories refreshes repository metadata over REST and saves it
func (c *Collector) resolveRepositories(ctx context.Context, ids []string) ([]models.Repository, error) {
	names := c.repositories
	if len(ids) > 0 {
		names = nil
		for _, id := range ids {
			repo, err := c.db.GetRepository(ctx, id)
			if err != nil {
				return nil, err
			}
			if repo == nil {
				return nil, fmt.Errorf("unknown repository %s: %w", id, db.ErrNotFound)
			}
			names = append(names, repo.FullName)
		}
	}

	var repos []models.Repository
	for _, fullName := range names {
		owner, name, err := ParseRepositoryString(fullName)
		if err != nil {
			return nil, err
		}
		repo, err := c.repos.GetRepository(ctx, owner, name)
		if err != nil {
			return nil, fmt.Errorf("failed to get repository %s: %w", fullName, err)
		}
		if err := c.db.SaveRepository(ctx, repo); err != nil {
			return nil, fmt.Errorf("failed to save repository %s: %w", fullName, err)
		}
		repos = append(repos, *repo)
	}
	return repos, nil
}

func (c *Collector) window(ctx context.Context, repo models.Repository, kind models.WatermarkKind, opts Options) (window, error) {
	if opts.Mode != ModeIncremental {
		return window{}, nil
	}
	since, err := c.db.GetWatermark(ctx, repo.ID, kind)
	if err != nil {
		return window{}, err
	}
	until := opts.Until
	if until.IsZero() {
		until = c.Now().UTC()
	}
	return window{since: since, until: until}, nil
}

// marks tracks the newest updatedAt seen per kind during one repository
type marks map[models.WatermarkKind]time.Time

func (m marks) observe(kind models.WatermarkKind, t time.Time) {
	if t.After(m[kind]) {
		m[kind] = t
	}
}

func (c *Collector) syncRepository(ctx context.Context, repo models.Repository, opts Options) (Counts, error) {
	var counts Counts
	seen := make(marks)

	wins := make(map[models.WatermarkKind]window)
	for _, kind := range []models.WatermarkKind{
		models.WatermarkIssues, models.WatermarkPullRequests, models.WatermarkDiscussions,
		models.WatermarkComments, models.WatermarkReviews,
	} {
		w, err := c.window(ctx, repo, kind, opts)
		if err != nil {
			return counts, err
		}
		wins[kind] = w
	}

	if err := c.walkIssues(ctx, repo, wins, seen, &counts); err != nil {
		return counts, err
	}
	if err := c.walkPullRequests(ctx, repo, wins, seen, &counts); err != nil {
		return counts, err
	}
	if err := c.walkDiscussions(ctx, repo, wins, seen, &counts); err != nil {
		return counts, err
	}
	if err := c.walkReviewMetadata(ctx, repo, wins, seen, &counts); err != nil {
		return counts, err
	}

	// Watermarks only move once every walk finished, so an aborted run
	// re-reads what it did not reach.
	return counts, c.db.InTx(ctx, func(tx *db.DB) error {
		for kind, wm := range seen {
			if err := tx.AdvanceWatermark(ctx, repo.ID, kind, wm); err != nil {
				return err
			}
		}
		return nil
	})
}

// olderThan reports whether an item falls before the window of an
// incremental walk, which ends the walk since pages are newest first
func olderThan(w window, updatedAt time.Time) bool {
	return !w.since.IsZero() && updatedAt.Before(w.since)
}

func (c *Collector) walkIssues(ctx context.Context, repo models.Repository, wins map[models.WatermarkKind]window, seen marks, counts *Counts) error {
	w := wins[models.WatermarkIssues]
	pageNum := 0
	return api.Walk(ctx,
		func(ctx context.Context, cursor string) (api.Page[api.IssueRecord], error) {
			return c.source.IssuesPage(ctx, repo, cursor)
		},
		func(ctx context.Context, nodes []api.IssueRecord) (bool, error) {
			pageNum++
			more := true
			var batch []api.IssueRecord
			for _, rec := range nodes {
				if olderThan(w, rec.Issue.UpdatedAt) {
					more = false
					break
				}
				comments, err := c.allComments(ctx, repo, api.ItemKey{ID: rec.Issue.ID, Type: models.ItemIssue, Number: rec.Issue.Number}, rec.Thread)
				if err != nil {
					return false, err
				}
				rec.Comments = comments
				batch = append(batch, rec)
			}
			err := c.db.InTx(ctx, func(tx *db.DB) error {
				for _, rec := range batch {
					if err := c.persistIssue(ctx, tx, rec, wins[models.WatermarkComments], seen, counts); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return false, err
			}
			c.logger.Debug("Persisted page", "repository", repo.FullName, "kind", "issues", "page", pageNum, "items", len(batch))
			return more, nil
		})
}

func (c *Collector) walkPullRequests(ctx context.Context, repo models.Repository, wins map[models.WatermarkKind]window, seen marks, counts *Counts) error {
	w := wins[models.WatermarkPullRequests]
	pageNum := 0
	return api.Walk(ctx,
		func(ctx context.Context, cursor string) (api.Page[api.PullRequestRecord], error) {
			return c.source.PullRequestsPage(ctx, repo, cursor)
		},
		func(ctx context.Context, nodes []api.PullRequestRecord) (bool, error) {
			pageNum++
			more := true
			var batch []api.PullRequestRecord
			for _, rec := range nodes {
				if olderThan(w, rec.PullRequest.UpdatedAt) {
					more = false
					break
				}
				comments, err := c.allComments(ctx, repo, api.ItemKey{ID: rec.PullRequest.ID, Type: models.ItemPullRequest, Number: rec.PullRequest.Number}, rec.Thread)
				if err != nil {
					return false, err
				}
				rec.Comments = comments
				batch = append(batch, rec)
			}
			err := c.db.InTx(ctx, func(tx *db.DB) error {
				for _, rec := range batch {
					if err := c.persistPullRequest(ctx, tx, rec, wins[models.WatermarkComments], seen, counts); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return false, err
			}
			c.logger.Debug("Persisted page", "repository", repo.FullName, "kind", "pull_requests", "page", pageNum, "items", len(batch))
			return more, nil
		})
}

func (c *Collector) walkDiscussions(ctx context.Context, repo models.Repository, wins map[models.WatermarkKind]window, seen marks, counts *Counts) error {
	w := wins[models.WatermarkDiscussions]
	pageNum := 0
	return api.Walk(ctx,
		func(ctx context.Context, cursor string) (api.Page[api.DiscussionRecord], error) {
			return c.source.DiscussionsPage(ctx, repo, cursor)
		},
		func(ctx context.Context, nodes []api.DiscussionRecord) (bool, error) {
			pageNum++
			more := true
			var batch []api.DiscussionRecord
			for _, rec := range nodes {
				if olderThan(w, rec.Discussion.UpdatedAt) {
					more = false
					break
				}
				comments, err := c.allComments(ctx, repo, api.ItemKey{ID: rec.Discussion.ID, Type: models.ItemDiscussion, Number: rec.Discussion.Number}, rec.Thread)
				if err != nil {
					return false, err
				}
				rec.Comments = comments
				batch = append(batch, rec)
			}
			err := c.db.InTx(ctx, func(tx *db.DB) error {
				for _, rec := range batch {
					if err := c.persistDiscussion(ctx, tx, rec, wins[models.WatermarkComments], seen, counts); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return false, err
			}
			c.logger.Debug("Persisted page", "repository", repo.FullName, "kind", "discussions", "page", pageNum, "items", len(batch))
			return more, nil
		})
}

// walkReviewMetadata refreshes review requests and reviews of open pull
// requests. A pull request missing locally is fetched by number first so
// review rows never point at nothing.
func (c *Collector) walkReviewMetadata(ctx context.Context, repo models.Repository, wins map[models.WatermarkKind]window, seen marks, counts *Counts) error {
	return api.Walk(ctx,
		func(ctx context.Context, cursor string) (api.Page[api.ReviewMetadata], error) {
			return c.source.OpenPullRequestReviewsPage(ctx, repo, cursor)
		},
		func(ctx context.Context, nodes []api.ReviewMetadata) (bool, error) {
			var backfill []api.PullRequestRecord
			for _, md := range nodes {
				_, ok, err := c.db.PullRequestIDByNumber(ctx, repo.ID, md.Number)
				if err != nil {
					return false, err
				}
				if ok {
					continue
				}
				c.logger.Warn("Backfilling pull request missing locally", "repository", repo.FullName, "number", md.Number)
				rec, err := c.fetchPullRequest(ctx, repo, md.Number)
				if err != nil {
					return false, fmt.Errorf("failed to backfill pull request #%d: %w", md.Number, err)
				}
				backfill = append(backfill, *rec)
			}

			err := c.db.InTx(ctx, func(tx *db.DB) error {
				for _, rec := range backfill {
					if err := c.persistPullRequest(ctx, tx, rec, window{}, seen, counts); err != nil {
						return err
					}
					counts.Backfilled++
				}
				for _, md := range nodes {
					if err := c.persistReviewMetadata(ctx, tx, md, wins[models.WatermarkReviews], seen, counts); err != nil {
						return err
					}
				}
				return nil
			})
			return err == nil, err
		})
}

// allComments completes an item's comment list past the first page
func (c *Collector) allComments(ctx context.Context, repo models.Repository, item api.ItemKey, th api.Thread) ([]api.CommentRecord, error) {
	comments := th.Comments
	cursor := th.CommentsCursor
	for cursor != "" {
		page, err := c.source.CommentsPage(ctx, repo, item, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch comments of #%d: %w", item.Number, err)
		}
		comments = append(comments, page.Nodes...)
		if !page.HasNextPage {
			break
		}
		cursor = page.EndCursor
	}
	return comments, nil
}

func (c *Collector) fetchPullRequest(ctx context.Context, repo models.Repository, number int) (*api.PullRequestRecord, error) {
	rec, err := c.source.PullRequestByNumber(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	comments, err := c.allComments(ctx, repo, api.ItemKey{ID: rec.PullRequest.ID, Type: models.ItemPullRequest, Number: number}, rec.Thread)
	if err != nil {
		return nil, err
	}
	rec.Comments = comments
	return rec, nil
}

func saveActors(ctx context.Context, tx *db.DB, actors ...models.Actor) error {
	for i := range actors {
		if actors[i].IsZero() {
			continue
		}
		if err := tx.SaveActor(ctx, &actors[i]); err != nil {
			return err
		}
	}
	return nil
}

func actorIDs(actors []models.Actor) []string {
	ids := make([]string, 0, len(actors))
	for _, a := range actors {
		if a.ID != "" {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// persistReactions upserts a subject's reactions and, when the fetched set
// is complete, deletes the ones that disappeared upstream
func persistReactions(ctx context.Context, tx *db.DB, subjectID string, reactions []api.ReactionRecord, complete bool, counts *Counts) error {
	keep := make([]string, 0, len(reactions))
	for _, r := range reactions {
		if err := saveActors(ctx, tx, r.Actor); err != nil {
			return err
		}
		reaction := r.Reaction
		if err := tx.SaveReaction(ctx, &reaction); err != nil {
			return err
		}
		keep = append(keep, reaction.ID)
		counts.Reactions++
	}
	if !complete {
		return nil
	}
	n, err := tx.DeleteReactionsNotIn(ctx, subjectID, keep)
	if err != nil {
		return err
	}
	counts.Deleted += n
	return nil
}

// persistThread stores the parts shared by every item kind. comments must
// be the item's complete live comment set; comments outside w are skipped
// but still count as live for reconciliation.
func (c *Collector) persistThread(ctx context.Context, tx *db.DB, itemID string, th api.Thread, w window, seen marks, counts *Counts) error {
	if err := saveActors(ctx, tx, th.Author); err != nil {
		return err
	}
	if err := saveActors(ctx, tx, th.Assignees...); err != nil {
		return err
	}
	if err := tx.ReplaceAssignees(ctx, itemID, actorIDs(th.Assignees)); err != nil {
		return err
	}
	if err := persistReactions(ctx, tx, itemID, th.Reactions, th.ReactionsComplete, counts); err != nil {
		return err
	}

	keep := make([]string, 0, len(th.Comments))
	for _, rec := range th.Comments {
		keep = append(keep, rec.Comment.ID)

		stored := w.contains(rec.Comment.UpdatedAt)
		if stored {
			if err := saveActors(ctx, tx, rec.Author); err != nil {
				return err
			}
			comment := rec.Comment
			if err := tx.SaveComment(ctx, &comment); err != nil {
				return err
			}
			counts.Comments++
			seen.observe(models.WatermarkComments, comment.UpdatedAt)
		} else {
			exists, err := tx.CommentExists(ctx, rec.Comment.ID)
			if err != nil {
				return err
			}
			stored = exists
		}
		// Reactions do not bump a comment's updatedAt, so they are
		// refreshed whenever the comment itself is known.
		if stored {
			if err := persistReactions(ctx, tx, rec.Comment.ID, rec.Reactions, rec.ReactionsComplete, counts); err != nil {
				return err
			}
		}
	}

	n, err := tx.DeleteCommentsNotIn(ctx, itemID, keep)
	if err != nil {
		return err
	}
	if n > 0 {
		c.logger.Debug("Removed comments deleted upstream", "item", itemID, "count", n)
	}
	counts.Deleted += n
	return nil
}

func (c *Collector) persistIssue(ctx context.Context, tx *db.DB, rec api.IssueRecord, w window, seen marks, counts *Counts) error {
	issue := rec.Issue
	if err := tx.SaveIssue(ctx, &issue); err != nil {
		return err
	}
	if err := c.persistThread(ctx, tx, issue.ID, rec.Thread, w, seen, counts); err != nil {
		return err
	}
	if err := c.recordBoardStatus(ctx, tx, rec, counts); err != nil {
		return err
	}
	counts.Issues++
	seen.observe(models.WatermarkIssues, issue.UpdatedAt)
	return nil
}

// recordBoardStatus appends a todo_project event when the tracked board
// shows a status different from the last one recorded
func (c *Collector) recordBoardStatus(ctx context.Context, tx *db.DB, rec api.IssueRecord, counts *Counts) error {
	if c.config.TargetProject == "" {
		return nil
	}
	for _, ps := range rec.ProjectStatuses {
		if ps.ProjectTitle != c.config.TargetProject || ps.Status == "" {
			continue
		}
		status, ok := c.config.MapBoardStatus(ps.Status)
		if !ok {
			c.logger.Debug("Unmapped board status", "issue", rec.Issue.Number, "option", ps.Status)
			continue
		}
		latest, err := tx.LatestStatusEvent(ctx, rec.Issue.ID, models.SourceTodoProject)
		if err != nil {
			return err
		}
		if latest != nil && latest.Status == status {
			continue
		}
		at := ps.UpdatedAt
		if at.IsZero() {
			at = rec.Issue.UpdatedAt
		}
		// The board changed after the latest recorded event (including one
		// inferred locally), so the new event must sort after it
		if latest != nil && !at.After(latest.OccurredAt) {
			at = c.Now().UTC()
			if !at.After(latest.OccurredAt) {
				at = latest.OccurredAt.Add(time.Second)
			}
		}
		inserted, err := tx.InsertStatusEvent(ctx, models.StatusEvent{
			IssueID:    rec.Issue.ID,
			Status:     status,
			OccurredAt: at,
			Source:     models.SourceTodoProject,
		})
		if err != nil {
			return err
		}
		if inserted {
			counts.StatusEvents++
		}
	}
	return nil
}

func (c *Collector) persistPullRequest(ctx context.Context, tx *db.DB, rec api.PullRequestRecord, w window, seen marks, counts *Counts) error {
	pr := rec.PullRequest
	if err := tx.SavePullRequest(ctx, &pr); err != nil {
		return err
	}
	if err := tx.ReplaceLinkedIssues(ctx, pr.ID, rec.LinkedIssueIDs); err != nil {
		return err
	}
	if err := c.persistThread(ctx, tx, pr.ID, rec.Thread, w, seen, counts); err != nil {
		return err
	}
	if pr.State != "OPEN" {
		// Requests only stand while a pull request is open
		n, err := tx.DeleteReviewRequestsNotIn(ctx, pr.ID, nil)
		if err != nil {
			return err
		}
		counts.Deleted += n
	}
	counts.PullRequests++
	seen.observe(models.WatermarkPullRequests, pr.UpdatedAt)
	return nil
}

func (c *Collector) persistDiscussion(ctx context.Context, tx *db.DB, rec api.DiscussionRecord, w window, seen marks, counts *Counts) error {
	d := rec.Discussion
	if err := tx.SaveDiscussion(ctx, &d); err != nil {
		return err
	}
	if err := c.persistThread(ctx, tx, d.ID, rec.Thread, w, seen, counts); err != nil {
		return err
	}
	counts.Discussions++
	seen.observe(models.WatermarkDiscussions, d.UpdatedAt)
	return nil
}

func (c *Collector) persistReviewMetadata(ctx context.Context, tx *db.DB, md api.ReviewMetadata, w window, seen marks, counts *Counts) error {
	if err := saveActors(ctx, tx, md.Assignees...); err != nil {
		return err
	}
	if err := tx.ReplaceAssignees(ctx, md.PullRequestID, actorIDs(md.Assignees)); err != nil {
		return err
	}

	keep := make([]string, 0, len(md.Requests))
	for _, rr := range md.Requests {
		if err := saveActors(ctx, tx, rr.Reviewer); err != nil {
			return err
		}
		req := rr.Request
		if err := tx.SaveReviewRequest(ctx, &req); err != nil {
			return err
		}
		keep = append(keep, req.ID)
		counts.ReviewRequests++
	}
	if md.RequestsComplete {
		n, err := tx.DeleteReviewRequestsNotIn(ctx, md.PullRequestID, keep)
		if err != nil {
			return err
		}
		counts.Deleted += n
	}

	for _, rr := range md.Reviews {
		review := rr.Review
		at := review.UpdatedAt
		if review.SubmittedAt != nil && review.SubmittedAt.After(at) {
			at = *review.SubmittedAt
		}
		if !w.contains(at) {
			continue
		}
		if err := saveActors(ctx, tx, rr.Author); err != nil {
			return err
		}
		if err := tx.SaveReview(ctx, &review); err != nil {
			return err
		}
		counts.Reviews++
		seen.observe(models.WatermarkReviews, at)
	}
	return nil
}

// ResyncItem refetches one issue, pull request or discussion by its node ID
// and persists it in full. It returns db.ErrNotFound for unknown items.
func (c *Collector) ResyncItem(ctx context.Context, id string) (Counts, error) {
	var counts Counts
	ref, err := c.db.LookupItem(ctx, id)
	if err != nil {
		return counts, err
	}
	repo, err := c.db.GetRepository(ctx, ref.RepositoryID)
	if err != nil {
		return counts, err
	}
	if repo == nil {
		return counts, fmt.Errorf("repository of item %s: %w", id, db.ErrNotFound)
	}
	key := api.ItemKey{ID: ref.ID, Type: ref.Type, Number: ref.Number}
	seen := make(marks)

	switch ref.Type {
	case models.ItemIssue:
		rec, err := c.source.IssueByNumber(ctx, *repo, ref.Number)
		if err != nil {
			return counts, err
		}
		if rec.Comments, err = c.allComments(ctx, *repo, key, rec.Thread); err != nil {
			return counts, err
		}
		err = c.db.InTx(ctx, func(tx *db.DB) error {
			return c.persistIssue(ctx, tx, *rec, window{}, seen, &counts)
		})
		if err != nil {
			return counts, err
		}

	case models.ItemPullRequest:
		rec, err := c.fetchPullRequest(ctx, *repo, ref.Number)
		if err != nil {
			return counts, err
		}
		var md *api.ReviewMetadata
		if rec.PullRequest.State == "OPEN" {
			if md, err = c.source.ReviewMetadataByNumber(ctx, *repo, ref.Number); err != nil {
				return counts, err
			}
		}
		err = c.db.InTx(ctx, func(tx *db.DB) error {
			if err := c.persistPullRequest(ctx, tx, *rec, window{}, seen, &counts); err != nil {
				return err
			}
			if md == nil {
				return nil
			}
			return c.persistReviewMetadata(ctx, tx, *md, window{}, seen, &counts)
		})
		if err != nil {
			return counts, err
		}

	case models.ItemDiscussion:
		rec, err := c.source.DiscussionByNumber(ctx, *repo, ref.Number)
		if err != nil {
			return counts, err
		}
		if rec.Comments, err = c.allComments(ctx, *repo, key, rec.Thread); err != nil {
			return counts, err
		}
		err = c.db.InTx(ctx, func(tx *db.DB) error {
			return c.persistDiscussion(ctx, tx, *rec, window{}, seen, &counts)
		})
		if err != nil {
			return counts, err
		}
	}

	c.logger.Info("Resynced item", "item", id, "type", string(ref.Type), "repository", repo.FullName, "number", ref.Number)
	return counts, nil
}

func (c *Counts) add(o Counts) {
	c.Issues += o.Issues
	c.PullRequests += o.PullRequests
	c.Discussions += o.Discussions
	c.Comments += o.Comments
	c.Reviews += o.Reviews
	c.ReviewRequests += o.ReviewRequests
	c.Reactions += o.Reactions
	c.StatusEvents += o.StatusEvents
	c.Deleted += o.Deleted
	c.Backfilled += o.Backfilled
}

// ParseRepositoryString parses a repository string in the format "owner/name"
func ParseRepositoryString(repoStr string) (string, string, error) {
	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format, expected 'owner/name', got '%s'", repoStr)
	}
	return parts[0], parts[1], nil
}
