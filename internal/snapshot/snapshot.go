// Package snapshot materializes the denormalized activity item table from
// issues, pull requests, discussions, status history and child aggregates.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/models"
)

// Result tallies one materialization pass
type Result struct {
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
}

// Materializer projects source tables into activity_items
type Materializer struct {
	db     *db.DB
	logger *slog.Logger

	// Now stamps snapshot_updated_at; replaced in tests
	Now func() time.Time
}

// New creates a materializer
func New(database *db.DB, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{db: database, logger: logger, Now: time.Now}
}

// Rebuild truncates the table and repopulates every row in one transaction
func (m *Materializer) Rebuild(ctx context.Context) (Result, error) {
	var res Result
	err := m.db.InTx(ctx, func(tx *db.DB) error {
		if err := tx.TruncateActivityItems(ctx); err != nil {
			return err
		}
		items, err := m.build(ctx, tx, nil)
		if err != nil {
			return err
		}
		for i := range items {
			if err := tx.UpsertActivityItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		res.Upserted = len(items)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to rebuild activity items: %w", err)
	}
	m.logger.Info("Rebuilt activity items", "items", res.Upserted)
	return res, nil
}

// Refresh recomputes the named items, or every item when ids is nil, and
// upserts them in place. Rows whose source item no longer exists are
// removed.
func (m *Materializer) Refresh(ctx context.Context, ids []string) (Result, error) {
	var res Result
	err := m.db.InTx(ctx, func(tx *db.DB) error {
		items, err := m.build(ctx, tx, ids)
		if err != nil {
			return err
		}
		present := make([]string, 0, len(items))
		for i := range items {
			if err := tx.UpsertActivityItem(ctx, &items[i]); err != nil {
				return err
			}
			present = append(present, items[i].ID)
		}
		res.Upserted = len(items)

		if ids == nil {
			n, err := tx.DeleteActivityItemsNotIn(ctx, present)
			if err != nil {
				return err
			}
			res.Deleted = n
			return nil
		}
		missing := difference(ids, present)
		if err := tx.DeleteActivityItems(ctx, missing); err != nil {
			return err
		}
		res.Deleted = len(missing)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to refresh activity items: %w", err)
	}
	m.logger.Debug("Refreshed activity items", "upserted", res.Upserted, "deleted", res.Deleted)
	return res, nil
}

// build computes activity items for ids (every item when nil) from
// committed rows
func (m *Materializer) build(ctx context.Context, tx *db.DB, ids []string) ([]models.ActivityItem, error) {
	sources, err := tx.ActivitySources(ctx, ids)
	if err != nil {
		return nil, err
	}
	agg, err := tx.LoadActivityAggregates(ctx, ids)
	if err != nil {
		return nil, err
	}
	history, err := m.history(ctx, tx, sources, ids)
	if err != nil {
		return nil, err
	}
	overrides, err := tx.AllProjectFieldOverrides(ctx)
	if err != nil {
		return nil, err
	}

	now := m.Now().UTC()
	items := make([]models.ActivityItem, 0, len(sources))
	for _, src := range sources {
		items = append(items, project(src, agg, history[src.ID], overrides[src.ID], now))
	}
	return items, nil
}

func (m *Materializer) history(ctx context.Context, tx *db.DB, sources []db.ActivitySource, ids []string) (map[string][]models.StatusEvent, error) {
	if ids == nil {
		return tx.AllStatusHistory(ctx)
	}
	out := make(map[string][]models.StatusEvent)
	for _, src := range sources {
		if src.Type != models.ItemIssue {
			continue
		}
		events, err := tx.StatusHistory(ctx, src.ID)
		if err != nil {
			return nil, err
		}
		out[src.ID] = events
	}
	return out, nil
}

// project derives one activity item. Every list is sorted and
// de-duplicated so repeated runs over the same rows produce identical
// columns.
func project(src db.ActivitySource, agg *db.ActivityAggregates, history []models.StatusEvent, override models.ProjectFieldOverride, now time.Time) models.ActivityItem {
	item := models.ActivityItem{
		ID:           src.ID,
		Type:         src.Type,
		RepositoryID: src.RepositoryID,
		Repository:   src.Repository,
		Number:       src.Number,
		Title:        src.Title,
		State:        src.State,
		URL:          src.URL,
		AuthorLogin:  src.AuthorLogin,
		CreatedAt:    src.CreatedAt,
		UpdatedAt:    src.UpdatedAt,
		ClosedAt:     src.ClosedAt,
		MergedAt:     src.MergedAt,
		IsDraft:      src.IsDraft,

		Status:         models.StatusNone,
		StatusSource:   models.SourceNone,
		ProjectHistory: []models.StatusEvent{},

		CommentCount:  len(uniq(agg.CommentIDs[src.ID])),
		ReactionCount: len(uniq(agg.Reactions[src.ID])),
		LinkedItemIDs: uniq(agg.Linked[src.ID]),

		Assignees:      uniqFold(agg.Assignees[src.ID]),
		Reviewers:      uniqFold(agg.Reviewers[src.ID]),
		MentionedUsers: uniqFold(agg.Mentions[src.ID]),
		Commenters:     uniqFold(agg.Commenters[src.ID]),
		Reactors:       uniqFold(agg.Reactors[src.ID]),

		SnapshotInsertedAt: now,
		SnapshotUpdatedAt:  now,
	}
	item.LinkedIssueCount = len(item.LinkedItemIDs)

	if src.Type == models.ItemIssue {
		resolved := models.ResolveStatus(history)
		item.Status = resolved.Status
		item.StatusSource = resolved.Source
		item.StatusLocked = resolved.Locked
		item.StatusUpdatedAt = resolved.UpdatedAt

		events := append([]models.StatusEvent{}, history...)
		sort.SliceStable(events, func(i, j int) bool {
			if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
				return events[i].OccurredAt.Before(events[j].OccurredAt)
			}
			return events[i].ID < events[j].ID
		})
		item.ProjectHistory = events
		item.Overrides = override
	}
	return item
}

// uniq returns the sorted distinct non-empty values, never nil
func uniq(values []string) []string {
	out := []string{}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// uniqFold is uniq for logins, which compare case-insensitively. The first
// spelling seen is kept.
func uniqFold(values []string) []string {
	out := []string{}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		k := strings.ToLower(v)
		if v == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

func difference(all, present []string) []string {
	have := make(map[string]bool, len(present))
	for _, id := range present {
		have[id] = true
	}
	var out []string
	for _, id := range all {
		if !have[id] {
			out = append(out, id)
		}
	}
	return out
}
