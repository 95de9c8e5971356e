package attention

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wesm/github-activity-digest/internal/businessday"
	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/models"
)

// Filter narrows insights to one repository and/or one person
type Filter struct {
	RepositoryID string
	// Login keeps entries where the user is an assignee, a reviewer, or the
	// requested or mentioned user
	Login string
}

// Engine loads committed data and classifies it
type Engine struct {
	db         *db.DB
	calendar   *businessday.Calendar
	thresholds models.Thresholds
	logger     *slog.Logger

	// Now is the engine's clock; replaced in tests
	Now func() time.Time
}

// NewEngine creates an attention engine
func NewEngine(database *db.DB, calendar *businessday.Calendar, thresholds models.Thresholds, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:         database,
		calendar:   calendar,
		thresholds: thresholds,
		logger:     logger,
		Now:        time.Now,
	}
}

// Load reads everything classification needs
func (e *Engine) Load(ctx context.Context) (Input, error) {
	in := Input{
		Now:        e.Now().UTC(),
		Calendar:   e.calendar,
		Thresholds: e.thresholds,
	}

	items, _, err := e.db.ListActivityItems(ctx, db.ActivityFilter{}, 0, 0)
	if err != nil {
		return in, err
	}
	in.Items = items

	if in.History, err = e.db.AllStatusHistory(ctx); err != nil {
		return in, err
	}

	comments, err := e.db.Comments(ctx, nil)
	if err != nil {
		return in, err
	}
	for _, c := range comments {
		if c.AuthorLogin != "" {
			in.Activity = append(in.Activity, Activity{ItemID: c.ParentID, Login: c.AuthorLogin, At: c.CreatedAt})
		}
	}

	reactions, err := e.db.Reactions(ctx, nil)
	if err != nil {
		return in, err
	}
	for _, r := range reactions {
		if r.ActorLogin != "" {
			in.Activity = append(in.Activity, Activity{ItemID: r.ItemID, Login: r.ActorLogin, At: r.CreatedAt})
		}
	}

	reviews, err := e.db.Reviews(ctx, nil)
	if err != nil {
		return in, err
	}
	for _, r := range reviews {
		// Pending reviews are drafts nobody else can see yet
		if r.SubmittedAt == nil || r.AuthorLogin == "" || r.State == models.ReviewPending {
			continue
		}
		in.Reviews = append(in.Reviews, Review{
			PullRequestID: r.PullRequestID,
			Login:         r.AuthorLogin,
			State:         r.State,
			SubmittedAt:   *r.SubmittedAt,
		})
	}

	if in.ReviewRequests, err = e.db.ReviewRequests(ctx, nil); err != nil {
		return in, err
	}

	mentions, err := e.db.Mentions(ctx, nil)
	if err != nil {
		return in, err
	}
	for _, m := range mentions {
		in.Mentions = append(in.Mentions, Mention{
			CommentID:   m.CommentID,
			ItemID:      m.ItemID,
			Login:       m.Login,
			AuthorLogin: m.AuthorLogin,
			At:          m.CreatedAt,
		})
	}

	classifications, err := e.db.AllMentionClassifications(ctx)
	if err != nil {
		return in, err
	}
	in.Classifications = make(map[MentionKey]models.MentionClassification, len(classifications))
	for k, v := range classifications {
		in.Classifications[MentionKey{CommentID: k.CommentID, Login: strings.ToLower(k.Login)}] = v
	}

	return in, nil
}

// Insights loads, classifies and filters
func (e *Engine) Insights(ctx context.Context, f Filter) (Insights, error) {
	in, err := e.Load(ctx)
	if err != nil {
		return Insights{}, fmt.Errorf("failed to load attention input: %w", err)
	}
	out := Classify(Scope(in, f.RepositoryID))
	flagged := 0
	for _, fl := range out.Flags {
		if fl.Any() {
			flagged++
		}
	}
	e.logger.Debug("Computed attention insights", "items", len(in.Items), "flagged", flagged)
	return Apply(out, in.Items, f), nil
}

// Apply narrows classified insights to a filter. Flags are recomputed from
// the entries that remain.
func Apply(out Insights, items []models.ActivityItem, f Filter) Insights {
	if f.RepositoryID == "" && f.Login == "" {
		return out
	}
	byID := make(map[string]*models.ActivityItem, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}

	res := Insights{
		Categories:      make(map[Category][]Entry, len(out.Categories)),
		Flags:           make(map[string]Flags),
		ReviewerRanking: []ReviewerStat{},
	}
	for cat, entries := range out.Categories {
		kept := []Entry{}
		for _, e := range entries {
			item := byID[e.ItemID]
			if item == nil || !matches(item, e, f) {
				continue
			}
			kept = append(kept, e)
			fl := res.Flags[e.ItemID]
			fl.set(cat)
			res.Flags[e.ItemID] = fl
		}
		res.Categories[cat] = kept
	}
	for _, s := range out.ReviewerRanking {
		if f.Login == "" || strings.EqualFold(s.Login, f.Login) {
			res.ReviewerRanking = append(res.ReviewerRanking, s)
		}
	}
	return res
}

func matches(item *models.ActivityItem, e Entry, f Filter) bool {
	if f.RepositoryID != "" && item.RepositoryID != f.RepositoryID {
		return false
	}
	if f.Login == "" {
		return true
	}
	if strings.EqualFold(e.User, f.Login) {
		return true
	}
	for _, list := range [][]string{item.Assignees, item.Reviewers} {
		for _, login := range list {
			if strings.EqualFold(login, f.Login) {
				return true
			}
		}
	}
	return false
}
