package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wesm/github-activity-digest/internal/models"
)

const overrideColumns = `priority, priority_updated_at, weight, weight_updated_at,
	initiation_options, initiation_options_updated_at, start_date, start_date_updated_at`

type overrideScan struct {
	vals [4]sql.NullString
	ts   [4]sql.NullTime
}

func (s *overrideScan) dest() []any {
	return []any{&s.vals[0], &s.ts[0], &s.vals[1], &s.ts[1], &s.vals[2], &s.ts[2], &s.vals[3], &s.ts[3]}
}

func (s *overrideScan) override() models.ProjectFieldOverride {
	str := func(ns sql.NullString) *string {
		if !ns.Valid {
			return nil
		}
		v := ns.String
		return &v
	}
	return models.ProjectFieldOverride{
		Priority:                   str(s.vals[0]),
		PriorityUpdatedAt:          timePtr(s.ts[0]),
		Weight:                     str(s.vals[1]),
		WeightUpdatedAt:            timePtr(s.ts[1]),
		InitiationOptions:          str(s.vals[2]),
		InitiationOptionsUpdatedAt: timePtr(s.ts[2]),
		StartDate:                  str(s.vals[3]),
		StartDateUpdatedAt:         timePtr(s.ts[3]),
	}
}

// GetProjectFieldOverride returns an issue's manual project values; the zero
// value when none are set
func (db *DB) GetProjectFieldOverride(ctx context.Context, issueID string) (models.ProjectFieldOverride, error) {
	var s overrideScan
	err := db.q.QueryRowContext(ctx,
		`SELECT `+overrideColumns+` FROM project_field_overrides WHERE issue_id = ?`, issueID).Scan(s.dest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ProjectFieldOverride{}, nil
		}
		return models.ProjectFieldOverride{}, fmt.Errorf("failed to get project field override: %w", err)
	}
	return s.override(), nil
}

// AllProjectFieldOverrides returns every override keyed by issue ID
func (db *DB) AllProjectFieldOverrides(ctx context.Context) (map[string]models.ProjectFieldOverride, error) {
	rows, err := db.q.QueryContext(ctx, `SELECT issue_id, `+overrideColumns+` FROM project_field_overrides`)
	if err != nil {
		return nil, fmt.Errorf("failed to query project field overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.ProjectFieldOverride)
	for rows.Next() {
		var id string
		var s overrideScan
		if err := rows.Scan(append([]any{&id}, s.dest()...)...); err != nil {
			return nil, fmt.Errorf("failed to scan project field override: %w", err)
		}
		out[id] = s.override()
	}
	return out, rows.Err()
}

// SaveProjectFieldOverride stores an issue's manual project values. When
// every field is empty the row is removed entirely.
func (db *DB) SaveProjectFieldOverride(ctx context.Context, issueID string, o models.ProjectFieldOverride) error {
	if o.Empty() {
		if _, err := db.q.ExecContext(ctx, `DELETE FROM project_field_overrides WHERE issue_id = ?`, issueID); err != nil {
			return fmt.Errorf("failed to clear project field override: %w", err)
		}
		return nil
	}
	str := func(p *string) any {
		if p == nil {
			return nil
		}
		return *p
	}
	_, err := db.q.ExecContext(ctx, `
	INSERT INTO project_field_overrides (issue_id, `+overrideColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(issue_id) DO UPDATE SET
		priority = excluded.priority,
		priority_updated_at = excluded.priority_updated_at,
		weight = excluded.weight,
		weight_updated_at = excluded.weight_updated_at,
		initiation_options = excluded.initiation_options,
		initiation_options_updated_at = excluded.initiation_options_updated_at,
		start_date = excluded.start_date,
		start_date_updated_at = excluded.start_date_updated_at
	`, issueID,
		str(o.Priority), nullTime(o.PriorityUpdatedAt),
		str(o.Weight), nullTime(o.WeightUpdatedAt),
		str(o.InitiationOptions), nullTime(o.InitiationOptionsUpdatedAt),
		str(o.StartDate), nullTime(o.StartDateUpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save project field override: %w", err)
	}
	return nil
}

const mentionColumns = `comment_id, mentioned_login, requires_response, model, last_evaluated_at, manual_state, manual_updated_at`

func scanMention(row interface{ Scan(...any) error }) (models.MentionClassification, error) {
	var m models.MentionClassification
	var requires sql.NullBool
	var evaluated, manualAt sql.NullTime
	var manual sql.NullString
	if err := row.Scan(&m.CommentID, &m.MentionedLogin, &requires, &m.Model, &evaluated, &manual, &manualAt); err != nil {
		return m, err
	}
	if requires.Valid {
		v := requires.Bool
		m.RequiresResponse = &v
	}
	m.LastEvaluatedAt = timePtr(evaluated)
	m.ManualState = models.MentionOverride(manual.String)
	m.ManualUpdatedAt = timePtr(manualAt)
	return m, nil
}

// GetMentionClassification loads one classification; nil when none exists
func (db *DB) GetMentionClassification(ctx context.Context, commentID, login string) (*models.MentionClassification, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+mentionColumns+` FROM mention_classifications
	WHERE comment_id = ? AND mentioned_login = ?`, commentID, login)
	m, err := scanMention(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mention classification: %w", err)
	}
	return &m, nil
}

// AllMentionClassifications returns every classification keyed by comment and login
func (db *DB) AllMentionClassifications(ctx context.Context) (map[MentionKey]models.MentionClassification, error) {
	rows, err := db.q.QueryContext(ctx, `SELECT `+mentionColumns+` FROM mention_classifications`)
	if err != nil {
		return nil, fmt.Errorf("failed to query mention classifications: %w", err)
	}
	defer rows.Close()

	out := make(map[MentionKey]models.MentionClassification)
	for rows.Next() {
		m, err := scanMention(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mention classification: %w", err)
		}
		out[MentionKey{CommentID: m.CommentID, Login: m.MentionedLogin}] = m
	}
	return out, rows.Err()
}

// MentionKey identifies a (comment, mentioned user) pair
type MentionKey struct {
	CommentID string
	Login     string
}

// SaveMentionClassification upserts a classification row as a whole
func (db *DB) SaveMentionClassification(ctx context.Context, m models.MentionClassification) error {
	var requires any
	if m.RequiresResponse != nil {
		requires = *m.RequiresResponse
	}
	_, err := db.q.ExecContext(ctx, `
	INSERT INTO mention_classifications (`+mentionColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(comment_id, mentioned_login) DO UPDATE SET
		requires_response = excluded.requires_response,
		model = excluded.model,
		last_evaluated_at = excluded.last_evaluated_at,
		manual_state = excluded.manual_state,
		manual_updated_at = excluded.manual_updated_at
	`, m.CommentID, m.MentionedLogin, requires, m.Model, nullTime(m.LastEvaluatedAt),
		nullString(string(m.ManualState)), nullTime(m.ManualUpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save mention classification: %w", err)
	}
	return nil
}

// CommentExists reports whether a comment is known locally
func (db *DB) CommentExists(ctx context.Context, commentID string) (bool, error) {
	var n int
	if err := db.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE id = ?`, commentID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check comment: %w", err)
	}
	return n > 0, nil
}
