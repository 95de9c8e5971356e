package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wesm/github-activity-digest/internal/models"
)

// SaveRepository saves a repository to the database
func (db *DB) SaveRepository(ctx context.Context, repo *models.Repository) error {
	query := `
	INSERT INTO repositories (id, owner, name, full_name, visibility, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner = excluded.owner,
		name = excluded.name,
		full_name = excluded.full_name,
		visibility = excluded.visibility,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`

	_, err := db.q.ExecContext(ctx, query, repo.ID, repo.Owner, repo.Name, repo.FullName,
		repo.Visibility, utc(repo.CreatedAt), utc(repo.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save repository: %w", err)
	}

	return nil
}

const repositoryColumns = `id, owner, name, full_name, visibility, created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*models.Repository, error) {
	var repo models.Repository
	var created, updated sql.NullTime
	if err := row.Scan(&repo.ID, &repo.Owner, &repo.Name, &repo.FullName, &repo.Visibility, &created, &updated); err != nil {
		return nil, err
	}
	repo.CreatedAt = created.Time
	repo.UpdatedAt = updated.Time
	return &repo, nil
}

// GetRepositoryByFullName gets a repository by its full name; nil when unknown
func (db *DB) GetRepositoryByFullName(ctx context.Context, fullName string) (*models.Repository, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE full_name = ?`, fullName)
	repo, err := scanRepository(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// GetRepository gets a repository by node ID; nil when unknown
func (db *DB) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)
	repo, err := scanRepository(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// ListRepositories returns every known repository ordered by full name
func (db *DB) ListRepositories(ctx context.Context) ([]models.Repository, error) {
	rows, err := db.q.QueryContext(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY full_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []models.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}
	return repos, rows.Err()
}

// SaveActor saves a user, organization or bot. Actors without an ID
// (deleted accounts) are skipped.
func (db *DB) SaveActor(ctx context.Context, actor *models.Actor) error {
	if actor == nil || actor.ID == "" {
		return nil
	}
	query := `
	INSERT INTO actors (id, login, kind, name, avatar_url)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		login = excluded.login,
		kind = excluded.kind,
		name = excluded.name,
		avatar_url = excluded.avatar_url
	`

	_, err := db.q.ExecContext(ctx, query, actor.ID, actor.Login, string(actor.Kind), actor.Name, actor.AvatarURL)
	if err != nil {
		return fmt.Errorf("failed to save actor %s: %w", actor.Login, err)
	}

	return nil
}

// SaveIssue saves an issue to the database
func (db *DB) SaveIssue(ctx context.Context, issue *models.Issue) error {
	query := `
	INSERT INTO issues (id, repository_id, number, title, state, body, url, author_id, created_at, updated_at, closed_at, raw)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		repository_id = excluded.repository_id,
		number = excluded.number,
		title = excluded.title,
		state = excluded.state,
		body = excluded.body,
		url = excluded.url,
		author_id = excluded.author_id,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		closed_at = excluded.closed_at,
		raw = excluded.raw
	`

	_, err := db.q.ExecContext(ctx, query,
		issue.ID, issue.RepositoryID, issue.Number, issue.Title, issue.State, issue.Body, issue.URL,
		nullString(issue.AuthorID), utc(issue.CreatedAt), utc(issue.UpdatedAt), nullTime(issue.ClosedAt),
		rawOrEmpty(issue.Raw),
	)
	if err != nil {
		return fmt.Errorf("failed to save issue #%d: %w", issue.Number, err)
	}

	return nil
}

// GetIssue loads an issue by node ID
func (db *DB) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	query := `
	SELECT id, repository_id, number, title, state, body, url, COALESCE(author_id, ''),
		created_at, updated_at, closed_at, raw
	FROM issues WHERE id = ?
	`
	var issue models.Issue
	var closed sql.NullTime
	var raw string
	err := db.q.QueryRowContext(ctx, query, id).Scan(&issue.ID, &issue.RepositoryID, &issue.Number,
		&issue.Title, &issue.State, &issue.Body, &issue.URL, &issue.AuthorID,
		&issue.CreatedAt, &issue.UpdatedAt, &closed, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	issue.ClosedAt = timePtr(closed)
	issue.Raw = []byte(raw)
	return &issue, nil
}

// SavePullRequest saves a pull request to the database
func (db *DB) SavePullRequest(ctx context.Context, pr *models.PullRequest) error {
	query := `
	INSERT INTO pull_requests (id, repository_id, number, title, state, body, url, author_id, merged, is_draft,
		created_at, updated_at, closed_at, merged_at, raw)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		repository_id = excluded.repository_id,
		number = excluded.number,
		title = excluded.title,
		state = excluded.state,
		body = excluded.body,
		url = excluded.url,
		author_id = excluded.author_id,
		merged = excluded.merged,
		is_draft = excluded.is_draft,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		closed_at = excluded.closed_at,
		merged_at = excluded.merged_at,
		raw = excluded.raw
	`

	_, err := db.q.ExecContext(ctx, query,
		pr.ID, pr.RepositoryID, pr.Number, pr.Title, pr.State, pr.Body, pr.URL, nullString(pr.AuthorID),
		pr.Merged, pr.IsDraft, utc(pr.CreatedAt), utc(pr.UpdatedAt), nullTime(pr.ClosedAt), nullTime(pr.MergedAt),
		rawOrEmpty(pr.Raw),
	)
	if err != nil {
		return fmt.Errorf("failed to save pull request #%d: %w", pr.Number, err)
	}

	return nil
}

// PullRequestIDByNumber resolves a pull request number within a repository
func (db *DB) PullRequestIDByNumber(ctx context.Context, repositoryID string, number int) (string, bool, error) {
	var id string
	err := db.q.QueryRowContext(ctx,
		`SELECT id FROM pull_requests WHERE repository_id = ? AND number = ?`, repositoryID, number).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up pull request #%d: %w", number, err)
	}
	return id, true, nil
}

// SaveDiscussion saves a discussion to the database
func (db *DB) SaveDiscussion(ctx context.Context, d *models.Discussion) error {
	query := `
	INSERT INTO discussions (id, repository_id, number, title, state, body, url, author_id,
		created_at, updated_at, closed_at, answered_at, raw)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		repository_id = excluded.repository_id,
		number = excluded.number,
		title = excluded.title,
		state = excluded.state,
		body = excluded.body,
		url = excluded.url,
		author_id = excluded.author_id,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		closed_at = excluded.closed_at,
		answered_at = excluded.answered_at,
		raw = excluded.raw
	`

	_, err := db.q.ExecContext(ctx, query,
		d.ID, d.RepositoryID, d.Number, d.Title, d.State, d.Body, d.URL, nullString(d.AuthorID),
		utc(d.CreatedAt), utc(d.UpdatedAt), nullTime(d.ClosedAt), nullTime(d.AnsweredAt), rawOrEmpty(d.Raw),
	)
	if err != nil {
		return fmt.Errorf("failed to save discussion #%d: %w", d.Number, err)
	}

	return nil
}

// ItemRef locates a tracked item by node ID
type ItemRef struct {
	ID           string
	Type         models.ItemType
	RepositoryID string
	Number       int
}

// LookupItem finds which table an item lives in
func (db *DB) LookupItem(ctx context.Context, id string) (*ItemRef, error) {
	query := `
	SELECT 'issue', repository_id, number FROM issues WHERE id = ?1
	UNION ALL
	SELECT 'pull_request', repository_id, number FROM pull_requests WHERE id = ?1
	UNION ALL
	SELECT 'discussion', repository_id, number FROM discussions WHERE id = ?1
	`
	ref := ItemRef{ID: id}
	var typ string
	err := db.q.QueryRowContext(ctx, query, id).Scan(&typ, &ref.RepositoryID, &ref.Number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up item: %w", err)
	}
	ref.Type = models.ItemType(typ)
	return &ref, nil
}

// ReplaceAssignees sets the assignee set of an item to exactly actorIDs
func (db *DB) ReplaceAssignees(ctx context.Context, itemID string, actorIDs []string) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM item_assignees WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("failed to clear assignees: %w", err)
	}
	for _, id := range actorIDs {
		_, err := db.q.ExecContext(ctx,
			`INSERT INTO item_assignees (item_id, actor_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, itemID, id)
		if err != nil {
			return fmt.Errorf("failed to save assignee: %w", err)
		}
	}
	return nil
}

// ReplaceLinkedIssues sets the issues a pull request closes to exactly issueIDs
func (db *DB) ReplaceLinkedIssues(ctx context.Context, pullRequestID string, issueIDs []string) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM pull_request_issues WHERE pull_request_id = ?`, pullRequestID); err != nil {
		return fmt.Errorf("failed to clear linked issues: %w", err)
	}
	for _, id := range issueIDs {
		_, err := db.q.ExecContext(ctx,
			`INSERT INTO pull_request_issues (pull_request_id, issue_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			pullRequestID, id)
		if err != nil {
			return fmt.Errorf("failed to save linked issue: %w", err)
		}
	}
	return nil
}

// LinkedItemIDs returns the items linked to id through closing references,
// in either direction
func (db *DB) LinkedItemIDs(ctx context.Context, id string) ([]string, error) {
	rows, err := db.q.QueryContext(ctx, `
	SELECT issue_id FROM pull_request_issues WHERE pull_request_id = ?
	UNION
	SELECT pull_request_id FROM pull_request_issues WHERE issue_id = ?
	ORDER BY 1
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var linked string
		if err := rows.Scan(&linked); err != nil {
			return nil, fmt.Errorf("failed to scan linked item: %w", err)
		}
		ids = append(ids, linked)
	}
	return ids, rows.Err()
}

// SaveComment saves a comment and its mention list
func (db *DB) SaveComment(ctx context.Context, c *models.Comment) error {
	query := `
	INSERT INTO comments (id, parent_id, parent_kind, author_id, body, url, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		parent_id = excluded.parent_id,
		parent_kind = excluded.parent_kind,
		author_id = excluded.author_id,
		body = excluded.body,
		url = excluded.url,
		updated_at = excluded.updated_at
	`

	_, err := db.q.ExecContext(ctx, query, c.ID, c.ParentID, string(c.ParentKind), nullString(c.AuthorID),
		c.Body, c.URL, utc(c.CreatedAt), utc(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save comment: %w", err)
	}

	// Mentions follow the body, so an edit that drops a mention drops the row
	if _, err := db.q.ExecContext(ctx, `DELETE FROM comment_mentions WHERE comment_id = ?`, c.ID); err != nil {
		return fmt.Errorf("failed to clear mentions: %w", err)
	}
	for _, login := range c.Mentions {
		_, err := db.q.ExecContext(ctx,
			`INSERT INTO comment_mentions (comment_id, login) VALUES (?, ?) ON CONFLICT DO NOTHING`, c.ID, login)
		if err != nil {
			return fmt.Errorf("failed to save mention: %w", err)
		}
	}

	return nil
}

// SaveReview saves a pull request review
func (db *DB) SaveReview(ctx context.Context, r *models.Review) error {
	query := `
	INSERT INTO reviews (id, pull_request_id, author_id, state, body, submitted_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		body = excluded.body,
		submitted_at = excluded.submitted_at,
		updated_at = excluded.updated_at
	`

	_, err := db.q.ExecContext(ctx, query, r.ID, r.PullRequestID, nullString(r.AuthorID), r.State, r.Body,
		nullTime(r.SubmittedAt), utc(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save review: %w", err)
	}

	return nil
}

// SaveReviewRequest saves a standing review request
func (db *DB) SaveReviewRequest(ctx context.Context, r *models.ReviewRequest) error {
	query := `
	INSERT INTO review_requests (id, pull_request_id, reviewer_id, reviewer_login, requested_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		reviewer_id = excluded.reviewer_id,
		reviewer_login = excluded.reviewer_login,
		requested_at = excluded.requested_at
	`

	_, err := db.q.ExecContext(ctx, query, r.ID, r.PullRequestID, nullString(r.ReviewerID), r.ReviewerLogin,
		utc(r.RequestedAt))
	if err != nil {
		return fmt.Errorf("failed to save review request: %w", err)
	}

	return nil
}

// SaveReaction saves a reaction
func (db *DB) SaveReaction(ctx context.Context, r *models.Reaction) error {
	query := `
	INSERT INTO reactions (id, subject_id, subject_kind, actor_id, content, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		content = excluded.content
	`

	_, err := db.q.ExecContext(ctx, query, r.ID, r.SubjectID, string(r.SubjectKind), nullString(r.ActorID),
		r.Content, utc(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save reaction: %w", err)
	}

	return nil
}
