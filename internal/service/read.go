package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wesm/github-activity-digest/internal/apperrors"
	"github.com/wesm/github-activity-digest/internal/attention"
	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ActivityQuery filters the activity item listing
type ActivityQuery struct {
	RepositoryID string
	Type         models.ItemType
	Status       models.Status
	// State is "open", "closed" or empty for both
	State    string
	Search   string
	Assignee string
	// Attention keeps items flagged with the category
	Attention attention.Category
}

// Pagination selects one page
type Pagination struct {
	Limit  int
	Offset int
}

// PageInfo describes the returned page
type PageInfo struct {
	Total       int  `json:"total"`
	Limit       int  `json:"limit"`
	Offset      int  `json:"offset"`
	HasNextPage bool `json:"has_next_page"`
}

// ActivityPage is one page of activity items
type ActivityPage struct {
	Items    []models.ActivityItem `json:"items"`
	PageInfo PageInfo              `json:"page_info"`
	// GeneratedAt is the last successful sync; nil when no sync has
	// succeeded yet
	GeneratedAt *time.Time `json:"generated_at"`
}

// ListActivityItems returns one page of materialized items
func (s *Service) ListActivityItems(ctx context.Context, q ActivityQuery, p Pagination) (ActivityPage, error) {
	f := db.ActivityFilter{
		RepositoryID: q.RepositoryID,
		Type:         q.Type,
		Status:       q.Status,
		Search:       strings.TrimSpace(q.Search),
		Assignee:     q.Assignee,
	}
	switch strings.ToLower(q.State) {
	case "":
	case "open":
		f.OpenOnly = true
	case "closed":
		f.ClosedOnly = true
	default:
		return ActivityPage{}, apperrors.Newf(apperrors.ErrInvalidArgument, "invalid state %q", q.State)
	}

	if q.Attention != "" {
		if !validCategory(q.Attention) {
			return ActivityPage{}, apperrors.Newf(apperrors.ErrInvalidArgument, "invalid attention category %q", q.Attention)
		}
		insights, err := s.attention.Insights(ctx, attention.Filter{RepositoryID: q.RepositoryID})
		if err != nil {
			return ActivityPage{}, err
		}
		f.IDs = []string{}
		seen := make(map[string]bool)
		for _, e := range insights.Categories[q.Attention] {
			if !seen[e.ItemID] {
				seen[e.ItemID] = true
				f.IDs = append(f.IDs, e.ItemID)
			}
		}
	}

	limit := p.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := max(p.Offset, 0)

	items, total, err := s.db.ListActivityItems(ctx, f, limit, offset)
	if err != nil {
		return ActivityPage{}, err
	}
	if items == nil {
		items = []models.ActivityItem{}
	}
	generated, err := s.generatedAt(ctx)
	if err != nil {
		return ActivityPage{}, err
	}
	return ActivityPage{
		Items: items,
		PageInfo: PageInfo{
			Total:       total,
			Limit:       limit,
			Offset:      offset,
			HasNextPage: offset+len(items) < total,
		},
		GeneratedAt: generated,
	}, nil
}

func validCategory(c attention.Category) bool {
	for _, known := range attention.Categories {
		if c == known {
			return true
		}
	}
	return false
}

// CommentDetail is a comment with its reactions
type CommentDetail struct {
	db.CommentView
	Reactions []db.ReactionView `json:"reactions"`
}

// ActivityItemDetail is one item with its children
type ActivityItemDetail struct {
	Item           models.ActivityItem    `json:"item"`
	Comments       []CommentDetail        `json:"comments"`
	Reactions      []db.ReactionView      `json:"reactions"`
	LinkedItems    []models.ActivityItem  `json:"linked_items"`
	ReviewRequests []models.ReviewRequest `json:"review_requests"`
	Reviews        []db.ReviewView        `json:"reviews"`
}

// GetActivityItemDetail loads one item with its comments, reactions,
// linked items and review state
func (s *Service) GetActivityItemDetail(ctx context.Context, id string) (*ActivityItemDetail, error) {
	item, err := s.db.GetActivityItem(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "item %s not found", id)
		}
		return nil, err
	}
	detail := &ActivityItemDetail{
		Item:           *item,
		Comments:       []CommentDetail{},
		Reactions:      []db.ReactionView{},
		LinkedItems:    []models.ActivityItem{},
		ReviewRequests: []models.ReviewRequest{},
		Reviews:        []db.ReviewView{},
	}

	comments, err := s.db.Comments(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	reactions, err := s.db.Reactions(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	byComment := make(map[string][]db.ReactionView)
	for _, r := range reactions {
		if r.SubjectKind == models.ParentComment {
			byComment[r.SubjectID] = append(byComment[r.SubjectID], r)
		} else {
			detail.Reactions = append(detail.Reactions, r)
		}
	}
	for _, c := range comments {
		cr := byComment[c.ID]
		if cr == nil {
			cr = []db.ReactionView{}
		}
		detail.Comments = append(detail.Comments, CommentDetail{CommentView: c, Reactions: cr})
	}

	if len(item.LinkedItemIDs) > 0 {
		linked, _, err := s.db.ListActivityItems(ctx, db.ActivityFilter{IDs: item.LinkedItemIDs}, 0, 0)
		if err != nil {
			return nil, err
		}
		detail.LinkedItems = append(detail.LinkedItems, linked...)
	}

	if item.Type == models.ItemPullRequest {
		requests, err := s.db.ReviewRequests(ctx, []string{id})
		if err != nil {
			return nil, err
		}
		detail.ReviewRequests = append(detail.ReviewRequests, requests...)
		reviews, err := s.db.Reviews(ctx, []string{id})
		if err != nil {
			return nil, err
		}
		detail.Reviews = append(detail.Reviews, reviews...)
	}
	return detail, nil
}

// AttentionQuery filters attention insights
type AttentionQuery struct {
	RepositoryID string
	Login        string
}

// AttentionReport is the insights payload for the dashboard
type AttentionReport struct {
	attention.Insights
	// GeneratedAt is the last successful sync; nil means no data yet
	GeneratedAt    *time.Time `json:"generated_at"`
	LastSyncStatus string     `json:"last_sync_status"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`
}

// GetAttentionInsights classifies current data. The sync status lets the
// dashboard tell stale data from missing data.
func (s *Service) GetAttentionInsights(ctx context.Context, q AttentionQuery) (*AttentionReport, error) {
	insights, err := s.attention.Insights(ctx, attention.Filter{RepositoryID: q.RepositoryID, Login: q.Login})
	if err != nil {
		return nil, err
	}
	state, err := s.db.GetSyncState(ctx)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	report := &AttentionReport{Insights: insights}
	if state != nil {
		report.GeneratedAt = state.LastSuccessfulSyncAt
		report.LastSyncStatus = state.LastSyncStatus
		report.LastSyncError = state.LastSyncError
	}
	return report, nil
}

func (s *Service) generatedAt(ctx context.Context) (*time.Time, error) {
	state, err := s.db.GetSyncState(ctx)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	return state.LastSuccessfulSyncAt, nil
}
