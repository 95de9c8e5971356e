package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wesm/github-activity-digest/internal/models"
)

// CommentView is a comment joined with its author and owning item
type CommentView struct {
	models.Comment
	AuthorLogin string
}

// ReactionView is a reaction joined with its actor and owning item
type ReactionView struct {
	models.Reaction
	ActorLogin string
	ItemID     string
}

// ReviewView is a review joined with its author
type ReviewView struct {
	models.Review
	AuthorLogin string
}

// MentionView is one mention of a user in a comment
type MentionView struct {
	CommentID   string
	ItemID      string
	Login       string
	AuthorLogin string
	CreatedAt   time.Time
}

// Comments returns comments of the given items (every item when nil),
// oldest first
func (db *DB) Comments(ctx context.Context, itemIDs []string) ([]CommentView, error) {
	f, args := inFilter("c.parent_id", itemIDs)
	rows, err := db.q.QueryContext(ctx, `
	SELECT c.id, c.parent_id, c.parent_kind, COALESCE(c.author_id, ''), c.body, c.url, c.created_at, c.updated_at,
		COALESCE(a.login, '')
	FROM comments c LEFT JOIN actors a ON a.id = c.author_id
	WHERE 1 = 1`+f+`
	ORDER BY c.created_at, c.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var out []CommentView
	for rows.Next() {
		var c CommentView
		var kind string
		if err := rows.Scan(&c.ID, &c.ParentID, &kind, &c.AuthorID, &c.Body, &c.URL, &c.CreatedAt, &c.UpdatedAt,
			&c.AuthorLogin); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.ParentKind = models.ParentKind(kind)
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Reactions returns reactions on the given items and on their comments
// (every item when nil), keyed to the owning item
func (db *DB) Reactions(ctx context.Context, itemIDs []string) ([]ReactionView, error) {
	f1, args1 := inFilter("r.subject_id", itemIDs)
	f2, args2 := inFilter("c.parent_id", itemIDs)
	rows, err := db.q.QueryContext(ctx, `
	SELECT r.id, r.subject_id, r.subject_kind, COALESCE(r.actor_id, ''), r.content, r.created_at,
		COALESCE(a.login, ''), r.subject_id
	FROM reactions r LEFT JOIN actors a ON a.id = r.actor_id
	WHERE r.subject_kind != 'comment'`+f1+`
	ORDER BY r.created_at, r.id
	`, args1...)
	if err != nil {
		return nil, fmt.Errorf("failed to query item reactions: %w", err)
	}
	out, err := scanReactions(rows)
	if err != nil {
		return nil, err
	}

	rows, err = db.q.QueryContext(ctx, `
	SELECT r.id, r.subject_id, r.subject_kind, COALESCE(r.actor_id, ''), r.content, r.created_at,
		COALESCE(a.login, ''), c.parent_id
	FROM reactions r
	JOIN comments c ON c.id = r.subject_id
	LEFT JOIN actors a ON a.id = r.actor_id
	WHERE r.subject_kind = 'comment'`+f2+`
	ORDER BY r.created_at, r.id
	`, args2...)
	if err != nil {
		return nil, fmt.Errorf("failed to query comment reactions: %w", err)
	}
	more, err := scanReactions(rows)
	if err != nil {
		return nil, err
	}
	return append(out, more...), nil
}

func scanReactions(rows *sql.Rows) ([]ReactionView, error) {
	defer rows.Close()
	var out []ReactionView
	for rows.Next() {
		var r ReactionView
		var kind string
		if err := rows.Scan(&r.ID, &r.SubjectID, &kind, &r.ActorID, &r.Content, &r.CreatedAt, &r.ActorLogin, &r.ItemID); err != nil {
			return nil, fmt.Errorf("failed to scan reaction: %w", err)
		}
		r.SubjectKind = models.ParentKind(kind)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reviews returns reviews of the given pull requests (every one when nil)
func (db *DB) Reviews(ctx context.Context, pullRequestIDs []string) ([]ReviewView, error) {
	f, args := inFilter("r.pull_request_id", pullRequestIDs)
	rows, err := db.q.QueryContext(ctx, `
	SELECT r.id, r.pull_request_id, COALESCE(r.author_id, ''), r.state, r.body, r.submitted_at, r.updated_at,
		COALESCE(a.login, '')
	FROM reviews r LEFT JOIN actors a ON a.id = r.author_id
	WHERE 1 = 1`+f+`
	ORDER BY r.submitted_at, r.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var out []ReviewView
	for rows.Next() {
		var r ReviewView
		var submitted sql.NullTime
		if err := rows.Scan(&r.ID, &r.PullRequestID, &r.AuthorID, &r.State, &r.Body, &submitted, &r.UpdatedAt,
			&r.AuthorLogin); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		r.SubmittedAt = timePtr(submitted)
		r.UpdatedAt = r.UpdatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReviewRequests returns standing review requests of the given pull
// requests (every one when nil)
func (db *DB) ReviewRequests(ctx context.Context, pullRequestIDs []string) ([]models.ReviewRequest, error) {
	f, args := inFilter("pull_request_id", pullRequestIDs)
	rows, err := db.q.QueryContext(ctx, `
	SELECT id, pull_request_id, COALESCE(reviewer_id, ''), reviewer_login, requested_at
	FROM review_requests WHERE 1 = 1`+f+`
	ORDER BY requested_at, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query review requests: %w", err)
	}
	defer rows.Close()

	var out []models.ReviewRequest
	for rows.Next() {
		var r models.ReviewRequest
		if err := rows.Scan(&r.ID, &r.PullRequestID, &r.ReviewerID, &r.ReviewerLogin, &r.RequestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review request: %w", err)
		}
		r.RequestedAt = r.RequestedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Mentions returns every mention in comments of the given items (every item
// when nil)
func (db *DB) Mentions(ctx context.Context, itemIDs []string) ([]MentionView, error) {
	f, args := inFilter("c.parent_id", itemIDs)
	rows, err := db.q.QueryContext(ctx, `
	SELECT m.comment_id, c.parent_id, m.login, COALESCE(a.login, ''), c.created_at
	FROM comment_mentions m
	JOIN comments c ON c.id = m.comment_id
	LEFT JOIN actors a ON a.id = c.author_id
	WHERE 1 = 1`+f+`
	ORDER BY c.created_at, m.comment_id, m.login
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mentions: %w", err)
	}
	defer rows.Close()

	var out []MentionView
	for rows.Next() {
		var m MentionView
		if err := rows.Scan(&m.CommentID, &m.ItemID, &m.Login, &m.AuthorLogin, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mention: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
