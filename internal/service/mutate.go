package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wesm/github-activity-digest/internal/apperrors"
	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/models"
)

// lookupIssue resolves id and requires it to be an issue
func lookupIssue(ctx context.Context, tx *db.DB, id string) error {
	ref, err := tx.LookupItem(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperrors.Newf(apperrors.ErrNotFound, "issue %s not found", id)
		}
		return err
	}
	if ref.Type != models.ItemIssue {
		return apperrors.Newf(apperrors.ErrInvalidArgument, "%s is a %s, not an issue", id, ref.Type)
	}
	return nil
}

// UpdateIssueStatus sets an issue's status manually. It is rejected when the
// project board owns the status, or when expected is given and no longer
// matches the current status; the stored status is left untouched in both
// cases.
func (s *Service) UpdateIssueStatus(ctx context.Context, id, status string, expected *string) (*models.ActivityItem, error) {
	st, err := models.ParseStatus(status)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidArgument, "%v", err)
	}

	err = s.db.InTx(ctx, func(tx *db.DB) error {
		if err := lookupIssue(ctx, tx, id); err != nil {
			return err
		}
		history, err := tx.StatusHistory(ctx, id)
		if err != nil {
			return err
		}
		cur := models.ResolveStatus(history)
		current := string(cur.Status)
		if cur.Locked {
			return &apperrors.AppError{
				Code:    apperrors.ErrStatusLocked,
				Message: "status of " + id + " is managed by the project board",
				Current: &current,
			}
		}
		if expected != nil && *expected != current {
			return apperrors.ConflictError(&current)
		}
		if cur.Status == st {
			return nil
		}
		_, err = tx.InsertStatusEvent(ctx, models.StatusEvent{
			IssueID:    id,
			Status:     st,
			OccurredAt: s.Now().UTC(),
			Source:     models.SourceActivity,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Updated issue status", "issue", id, "status", status)
	return s.refreshOne(ctx, id)
}

// UpdateProjectFieldOverride sets or clears one manual project value.
// expected is the value the caller last saw, nil for unset; a mismatch is a
// conflict carrying the stored value. An empty value clears the field.
func (s *Service) UpdateProjectFieldOverride(ctx context.Context, id, field string, value, expected *string) (models.ProjectFieldOverride, error) {
	f, ok := models.ParseProjectField(field)
	if !ok {
		return models.ProjectFieldOverride{}, apperrors.Newf(apperrors.ErrInvalidArgument, "unknown project field %q", field)
	}
	if value != nil && strings.TrimSpace(*value) == "" {
		value = nil
	}

	var out models.ProjectFieldOverride
	err := s.db.InTx(ctx, func(tx *db.DB) error {
		if err := lookupIssue(ctx, tx, id); err != nil {
			return err
		}
		cur, err := tx.GetProjectFieldOverride(ctx, id)
		if err != nil {
			return err
		}
		if stored := cur.Get(f); !equalPtr(stored, expected) {
			return apperrors.ConflictError(stored)
		}
		cur.Set(f, value, s.Now().UTC())
		out = cur
		return tx.SaveProjectFieldOverride(ctx, id, cur)
	})
	if err != nil {
		return models.ProjectFieldOverride{}, err
	}
	if _, err := s.refreshOne(ctx, id); err != nil {
		return out, err
	}
	return out, nil
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(login), "@"))
}

// SetMentionOverride records a manual decision for a mention. clear removes
// the decision so the classifier's judgment applies again.
func (s *Service) SetMentionOverride(ctx context.Context, commentID, login, state string) (models.MentionClassification, error) {
	override, err := models.ParseMentionOverride(state)
	if err != nil {
		return models.MentionClassification{}, apperrors.Newf(apperrors.ErrInvalidArgument, "%v", err)
	}
	login = normalizeLogin(login)
	if login == "" {
		return models.MentionClassification{}, apperrors.Newf(apperrors.ErrInvalidArgument, "login is required")
	}

	var out models.MentionClassification
	err = s.db.InTx(ctx, func(tx *db.DB) error {
		m, err := s.mentionForUpdate(ctx, tx, commentID, login)
		if err != nil {
			return err
		}
		if override == models.OverrideClear {
			m.ManualState = models.OverrideNone
			m.ManualUpdatedAt = nil
		} else {
			now := s.Now().UTC()
			m.ManualState = override
			m.ManualUpdatedAt = &now
		}
		out = m
		return tx.SaveMentionClassification(ctx, m)
	})
	if err != nil {
		return models.MentionClassification{}, err
	}
	s.logger.Info("Set mention override", "comment", commentID, "login", login, "state", state)
	return out, nil
}

// MentionJudgment is one classifier verdict
type MentionJudgment struct {
	CommentID        string
	Login            string
	RequiresResponse bool
	Model            string
	// EvaluatedAt defaults to now
	EvaluatedAt time.Time
}

// RecordMentionClassification stores a classifier verdict. A manual
// decision older than the verdict goes stale; it is kept for display.
func (s *Service) RecordMentionClassification(ctx context.Context, j MentionJudgment) (models.MentionClassification, error) {
	login := normalizeLogin(j.Login)
	if login == "" {
		return models.MentionClassification{}, apperrors.Newf(apperrors.ErrInvalidArgument, "login is required")
	}
	at := j.EvaluatedAt
	if at.IsZero() {
		at = s.Now()
	}
	at = at.UTC()

	var out models.MentionClassification
	err := s.db.InTx(ctx, func(tx *db.DB) error {
		m, err := s.mentionForUpdate(ctx, tx, j.CommentID, login)
		if err != nil {
			return err
		}
		requires := j.RequiresResponse
		m.RequiresResponse = &requires
		m.Model = j.Model
		m.LastEvaluatedAt = &at
		out = m
		return tx.SaveMentionClassification(ctx, m)
	})
	if err != nil {
		return models.MentionClassification{}, err
	}
	if out.ManualStale() {
		s.logger.Debug("Manual mention override superseded by classifier", "comment", j.CommentID, "login", login)
	}
	return out, nil
}

func (s *Service) mentionForUpdate(ctx context.Context, tx *db.DB, commentID, login string) (models.MentionClassification, error) {
	exists, err := tx.CommentExists(ctx, commentID)
	if err != nil {
		return models.MentionClassification{}, err
	}
	if !exists {
		return models.MentionClassification{}, apperrors.Newf(apperrors.ErrNotFound, "comment %s not found", commentID)
	}
	m, err := tx.GetMentionClassification(ctx, commentID, login)
	if err != nil {
		return models.MentionClassification{}, err
	}
	if m == nil {
		return models.MentionClassification{CommentID: commentID, MentionedLogin: login}, nil
	}
	return *m, nil
}

// refreshOne rematerializes one item and returns the fresh row
func (s *Service) refreshOne(ctx context.Context, id string) (*models.ActivityItem, error) {
	if _, err := s.snapshot.Refresh(ctx, []string{id}); err != nil {
		return nil, err
	}
	return s.db.GetActivityItem(ctx, id)
}
