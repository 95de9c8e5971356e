package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/github-activity-digest/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

// InsertStatusEvent appends a status history event. Identical events are
// ignored; the return value reports whether a row was added.
func (db *DB) InsertStatusEvent(ctx context.Context, ev models.StatusEvent) (bool, error) {
	res, err := db.q.ExecContext(ctx, `
	INSERT INTO issue_status_history (issue_id, status, occurred_at, source)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(issue_id, status, occurred_at, source) DO NOTHING
	`, ev.IssueID, string(ev.Status), utc(ev.OccurredAt), string(ev.Source))
	if err != nil {
		return false, fmt.Errorf("failed to insert status event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count inserted status events: %w", err)
	}
	return n > 0, nil
}

func scanStatusEvents(rows *sql.Rows) ([]models.StatusEvent, error) {
	defer rows.Close()
	var events []models.StatusEvent
	for rows.Next() {
		var ev models.StatusEvent
		var status, source string
		if err := rows.Scan(&ev.ID, &ev.IssueID, &status, &ev.OccurredAt, &source); err != nil {
			return nil, fmt.Errorf("failed to scan status event: %w", err)
		}
		ev.Status = models.Status(status)
		ev.Source = models.StatusSource(source)
		ev.OccurredAt = ev.OccurredAt.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// StatusHistory returns an issue's status events oldest first
func (db *DB) StatusHistory(ctx context.Context, issueID string) ([]models.StatusEvent, error) {
	rows, err := db.q.QueryContext(ctx, `
	SELECT id, issue_id, status, occurred_at, source FROM issue_status_history
	WHERE issue_id = ? ORDER BY occurred_at, id
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	return scanStatusEvents(rows)
}

// AllStatusHistory returns every status event grouped by issue, oldest first
func (db *DB) AllStatusHistory(ctx context.Context) (map[string][]models.StatusEvent, error) {
	rows, err := db.q.QueryContext(ctx, `
	SELECT id, issue_id, status, occurred_at, source FROM issue_status_history ORDER BY issue_id, occurred_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	events, err := scanStatusEvents(rows)
	if err != nil {
		return nil, err
	}
	byIssue := make(map[string][]models.StatusEvent)
	for _, ev := range events {
		byIssue[ev.IssueID] = append(byIssue[ev.IssueID], ev)
	}
	return byIssue, nil
}

// LatestStatusEvent returns the newest event of the given source, or nil
func (db *DB) LatestStatusEvent(ctx context.Context, issueID string, source models.StatusSource) (*models.StatusEvent, error) {
	rows, err := db.q.QueryContext(ctx, `
	SELECT id, issue_id, status, occurred_at, source FROM issue_status_history
	WHERE issue_id = ? AND source = ? ORDER BY occurred_at DESC, id DESC LIMIT 1
	`, issueID, string(source))
	if err != nil {
		return nil, fmt.Errorf("failed to query latest status event: %w", err)
	}
	events, err := scanStatusEvents(rows)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

// IssueLink is one (issue, linked pull request) pair used by status inference
type IssueLink struct {
	IssueID       string
	IssueClosedAt *time.Time
	IssueClosed   bool
	PullRequestID string
	PRCreatedAt   time.Time
	PRMerged      bool
	PRMergedAt    *time.Time
}

// InferableIssueLinks returns linked pull requests of issues that have no
// project board status yet. Issues with a todo_project event are excluded
// because the board is authoritative for them.
func (db *DB) InferableIssueLinks(ctx context.Context) ([]IssueLink, error) {
	rows, err := db.q.QueryContext(ctx, `
	SELECT i.id, i.state, i.closed_at, p.id, p.created_at, p.merged, p.merged_at
	FROM pull_request_issues l
	JOIN issues i ON i.id = l.issue_id
	JOIN pull_requests p ON p.id = l.pull_request_id
	WHERE NOT EXISTS (
		SELECT 1 FROM issue_status_history h WHERE h.issue_id = i.id AND h.source = 'todo_project'
	)
	ORDER BY i.id, p.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query issue links: %w", err)
	}
	defer rows.Close()

	var links []IssueLink
	for rows.Next() {
		var l IssueLink
		var state string
		var closed, merged sql.NullTime
		if err := rows.Scan(&l.IssueID, &state, &closed, &l.PullRequestID, &l.PRCreatedAt, &l.PRMerged, &merged); err != nil {
			return nil, fmt.Errorf("failed to scan issue link: %w", err)
		}
		l.IssueClosedAt = timePtr(closed)
		l.IssueClosed = state == "CLOSED" || l.IssueClosedAt != nil
		l.PRCreatedAt = l.PRCreatedAt.UTC()
		l.PRMergedAt = timePtr(merged)
		links = append(links, l)
	}
	return links, rows.Err()
}

// IssuesLatestBoardInProgress returns issues whose most recent status event
// is a todo_project in_progress event
func (db *DB) IssuesLatestBoardInProgress(ctx context.Context) ([]models.Issue, error) {
	rows, err := db.q.QueryContext(ctx, `
	SELECT i.id, i.repository_id, i.number, i.raw
	FROM issue_status_history h
	JOIN issues i ON i.id = h.issue_id
	WHERE h.source = 'todo_project' AND h.status = 'in_progress'
	AND h.id = (
		SELECT h2.id FROM issue_status_history h2
		WHERE h2.issue_id = h.issue_id
		ORDER BY h2.occurred_at DESC, h2.id DESC LIMIT 1
	)
	ORDER BY i.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query board in-progress issues: %w", err)
	}
	defer rows.Close()

	var issues []models.Issue
	for rows.Next() {
		var issue models.Issue
		var raw string
		if err := rows.Scan(&issue.ID, &issue.RepositoryID, &issue.Number, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issue.Raw = []byte(raw)
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}
