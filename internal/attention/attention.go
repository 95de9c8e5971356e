// Package attention classifies activity items into follow-up categories.
package attention

import (
	"sort"
	"strings"
	"time"

	"github.com/wesm/github-activity-digest/internal/businessday"
	"github.com/wesm/github-activity-digest/internal/models"
)

// Category names a follow-up bucket
type Category string

const (
	CategoryBacklogIssues       Category = "backlog_issues"
	CategoryStalledInProgress   Category = "stalled_in_progress"
	CategoryReviewerUnassigned  Category = "reviewer_unassigned_prs"
	CategoryReviewStalled       Category = "review_stalled_prs"
	CategoryMergeDelayed        Category = "merge_delayed_prs"
	CategoryStuckReviewRequests Category = "stuck_review_requests"
	CategoryUnansweredMentions  Category = "unanswered_mentions"
)

// Categories lists every category in display order
var Categories = []Category{
	CategoryBacklogIssues,
	CategoryStalledInProgress,
	CategoryReviewerUnassigned,
	CategoryReviewStalled,
	CategoryMergeDelayed,
	CategoryStuckReviewRequests,
	CategoryUnansweredMentions,
}

// Entry is one item in a category, annotated with the elapsed business days
// that put it there
type Entry struct {
	ItemID      string          `json:"item_id"`
	Type        models.ItemType `json:"type"`
	Repository  string          `json:"repository"`
	Number      int             `json:"number"`
	Title       string          `json:"title"`
	URL         string          `json:"url"`
	Since       time.Time       `json:"since"`
	ElapsedDays int             `json:"elapsed_days"`
	// User is the reviewer or mentioned login for per-user entries
	User      string `json:"user,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Flags are the categories one item falls into
type Flags struct {
	Backlog            bool `json:"backlog"`
	StalledInProgress  bool `json:"stalled_in_progress"`
	ReviewerUnassigned bool `json:"reviewer_unassigned"`
	ReviewStalled      bool `json:"review_stalled"`
	MergeDelayed       bool `json:"merge_delayed"`
	StuckReviewRequest bool `json:"stuck_review_request"`
	UnansweredMention  bool `json:"unanswered_mention"`
}

// Any reports whether at least one flag is set
func (f Flags) Any() bool {
	return f.Backlog || f.StalledInProgress || f.ReviewerUnassigned || f.ReviewStalled ||
		f.MergeDelayed || f.StuckReviewRequest || f.UnansweredMention
}

func (f *Flags) set(c Category) {
	switch c {
	case CategoryBacklogIssues:
		f.Backlog = true
	case CategoryStalledInProgress:
		f.StalledInProgress = true
	case CategoryReviewerUnassigned:
		f.ReviewerUnassigned = true
	case CategoryReviewStalled:
		f.ReviewStalled = true
	case CategoryMergeDelayed:
		f.MergeDelayed = true
	case CategoryStuckReviewRequests:
		f.StuckReviewRequest = true
	case CategoryUnansweredMentions:
		f.UnansweredMention = true
	}
}

// ReviewerStat aggregates review-request waits for one reviewer. Waits of
// answered requests count toward the aggregates too.
type ReviewerStat struct {
	Login           string  `json:"login"`
	Pending         int     `json:"pending"`
	Answered        int     `json:"answered"`
	MaxWaitDays     int     `json:"max_wait_days"`
	AverageWaitDays float64 `json:"average_wait_days"`
}

// Insights is the classification output
type Insights struct {
	Categories      map[Category][]Entry `json:"categories"`
	Flags           map[string]Flags     `json:"flags"`
	ReviewerRanking []ReviewerStat       `json:"reviewer_ranking"`
}

// Activity is one participation by a user on an item: a comment, a review
// or a reaction
type Activity struct {
	ItemID string
	Login  string
	At     time.Time
}

// Review is a submitted review
type Review struct {
	PullRequestID string
	Login         string
	State         string
	SubmittedAt   time.Time
}

// Mention is one user mentioned in one comment
type Mention struct {
	CommentID   string
	ItemID      string
	Login       string
	AuthorLogin string
	At          time.Time
}

// MentionKey identifies a (comment, mentioned user) pair
type MentionKey struct {
	CommentID string
	Login     string
}

// Input is everything classification reads
type Input struct {
	Now             time.Time
	Calendar        *businessday.Calendar
	Thresholds      models.Thresholds
	Items           []models.ActivityItem
	History         map[string][]models.StatusEvent
	Activity        []Activity
	Reviews         []Review
	ReviewRequests  []models.ReviewRequest
	Mentions        []Mention
	Classifications map[MentionKey]models.MentionClassification
}

// Scope narrows in to the items of one repository, so reviewer waits from
// other repositories stay out of the ranking. An empty repositoryID keeps
// everything.
func Scope(in Input, repositoryID string) Input {
	if repositoryID == "" {
		return in
	}
	keep := make(map[string]bool)
	items := []models.ActivityItem{}
	for _, item := range in.Items {
		if item.RepositoryID == repositoryID {
			keep[item.ID] = true
			items = append(items, item)
		}
	}
	out := in
	out.Items = items
	out.Activity = nil
	for _, a := range in.Activity {
		if keep[a.ItemID] {
			out.Activity = append(out.Activity, a)
		}
	}
	out.Reviews = nil
	for _, r := range in.Reviews {
		if keep[r.PullRequestID] {
			out.Reviews = append(out.Reviews, r)
		}
	}
	out.ReviewRequests = nil
	for _, r := range in.ReviewRequests {
		if keep[r.PullRequestID] {
			out.ReviewRequests = append(out.ReviewRequests, r)
		}
	}
	out.Mentions = nil
	for _, m := range in.Mentions {
		if keep[m.ItemID] {
			out.Mentions = append(out.Mentions, m)
		}
	}
	return out
}

type classifier struct {
	in       Input
	items    map[string]*models.ActivityItem
	activity map[string][]Activity
	out      Insights
}

// Classify sorts items into categories. A threshold of N business days
// flags an item once its elapsed metric reaches N.
func Classify(in Input) Insights {
	c := &classifier{
		in:       in,
		items:    make(map[string]*models.ActivityItem, len(in.Items)),
		activity: make(map[string][]Activity),
		out: Insights{
			Categories:      make(map[Category][]Entry, len(Categories)),
			Flags:           make(map[string]Flags),
			ReviewerRanking: []ReviewerStat{},
		},
	}
	for _, cat := range Categories {
		c.out.Categories[cat] = []Entry{}
	}
	for i := range in.Items {
		c.items[in.Items[i].ID] = &in.Items[i]
	}
	for _, a := range in.Activity {
		c.activity[a.ItemID] = append(c.activity[a.ItemID], a)
	}
	for _, r := range in.Reviews {
		c.activity[r.PullRequestID] = append(c.activity[r.PullRequestID],
			Activity{ItemID: r.PullRequestID, Login: r.Login, At: r.SubmittedAt})
	}

	for i := range in.Items {
		item := &in.Items[i]
		if !item.IsOpen() {
			continue
		}
		switch item.Type {
		case models.ItemIssue:
			c.backlog(item)
			c.stalledInProgress(item)
		case models.ItemPullRequest:
			if item.IsDraft {
				continue
			}
			c.reviewerUnassigned(item)
			c.reviewStalled(item)
			c.mergeDelayed(item)
		}
	}
	c.reviewRequests()
	c.mentions()

	for _, cat := range Categories {
		entries := c.out.Categories[cat]
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].ElapsedDays != entries[j].ElapsedDays {
				return entries[i].ElapsedDays > entries[j].ElapsedDays
			}
			if entries[i].ItemID != entries[j].ItemID {
				return entries[i].ItemID < entries[j].ItemID
			}
			return entries[i].User < entries[j].User
		})
	}
	return c.out
}

func (c *classifier) elapsed(since time.Time) int {
	return c.in.Calendar.Between(since, c.in.Now)
}

func (c *classifier) add(cat Category, item *models.ActivityItem, since time.Time, elapsed int, mod func(*Entry)) {
	e := Entry{
		ItemID:      item.ID,
		Type:        item.Type,
		Repository:  item.Repository,
		Number:      item.Number,
		Title:       item.Title,
		URL:         item.URL,
		Since:       since,
		ElapsedDays: elapsed,
	}
	if mod != nil {
		mod(&e)
	}
	c.out.Categories[cat] = append(c.out.Categories[cat], e)
	f := c.out.Flags[item.ID]
	f.set(cat)
	c.out.Flags[item.ID] = f
}

// respondedAfter reports the first activity by login on an item at or after t
func (c *classifier) respondedAfter(itemID, login string, t time.Time) (time.Time, bool) {
	var first time.Time
	found := false
	for _, a := range c.activity[itemID] {
		if !strings.EqualFold(a.Login, login) || a.At.Before(t) {
			continue
		}
		if !found || a.At.Before(first) {
			first, found = a.At, true
		}
	}
	return first, found
}

// backlog: open issues not yet picked up. Tracking starts with the first
// board event, or creation when the issue never reached the board.
func (c *classifier) backlog(item *models.ActivityItem) {
	switch item.Status {
	case models.StatusInProgress, models.StatusDone, models.StatusCanceled:
		return
	}
	since := item.CreatedAt
	if first := models.FirstFromSource(c.in.History[item.ID], models.SourceTodoProject); first != nil {
		since = first.OccurredAt
	}
	if n := c.elapsed(since); n >= c.in.Thresholds.BacklogIssue {
		c.add(CategoryBacklogIssues, item, since, n, nil)
	}
}

func (c *classifier) stalledInProgress(item *models.ActivityItem) {
	if item.Status != models.StatusInProgress || item.StatusUpdatedAt == nil {
		return
	}
	since := *item.StatusUpdatedAt
	if n := c.elapsed(since); n >= c.in.Thresholds.StalledInProgress {
		c.add(CategoryStalledInProgress, item, since, n, nil)
	}
}

func (c *classifier) hasReviewer(item *models.ActivityItem) bool {
	for _, login := range item.Reviewers {
		if !strings.EqualFold(login, item.AuthorLogin) {
			return true
		}
	}
	return false
}

func (c *classifier) reviewerUnassigned(item *models.ActivityItem) {
	if c.hasReviewer(item) {
		return
	}
	if n := c.elapsed(item.CreatedAt); n >= c.in.Thresholds.ReviewerUnassigned {
		c.add(CategoryReviewerUnassigned, item, item.CreatedAt, n, nil)
	}
}

// reviewStalled: reviewers were requested but none of them has reviewed,
// commented or reacted since the earliest standing request
func (c *classifier) reviewStalled(item *models.ActivityItem) {
	var since time.Time
	var logins []string
	for _, rr := range c.in.ReviewRequests {
		if rr.PullRequestID != item.ID {
			continue
		}
		logins = append(logins, rr.ReviewerLogin)
		if since.IsZero() || rr.RequestedAt.Before(since) {
			since = rr.RequestedAt
		}
	}
	if len(logins) == 0 {
		return
	}
	for _, login := range logins {
		if _, ok := c.respondedAfter(item.ID, login, since); ok {
			return
		}
	}
	if n := c.elapsed(since); n >= c.in.Thresholds.ReviewStalled {
		c.add(CategoryReviewStalled, item, since, n, nil)
	}
}

// mergeDelayed: the latest decisive review of every reviewer leaves at
// least one approval and no requested changes, and the PR is still open
func (c *classifier) mergeDelayed(item *models.ActivityItem) {
	latest := make(map[string]Review)
	for _, r := range c.in.Reviews {
		if r.PullRequestID != item.ID {
			continue
		}
		switch r.State {
		case models.ReviewApproved, models.ReviewChangesRequested, models.ReviewDismissed:
		default:
			continue
		}
		key := strings.ToLower(r.Login)
		if cur, ok := latest[key]; !ok || r.SubmittedAt.After(cur.SubmittedAt) {
			latest[key] = r
		}
	}
	var approvedAt time.Time
	for _, r := range latest {
		switch r.State {
		case models.ReviewChangesRequested:
			return
		case models.ReviewApproved:
			if r.SubmittedAt.After(approvedAt) {
				approvedAt = r.SubmittedAt
			}
		}
	}
	if approvedAt.IsZero() {
		return
	}
	if n := c.elapsed(approvedAt); n >= c.in.Thresholds.MergeDelayed {
		c.add(CategoryMergeDelayed, item, approvedAt, n, nil)
	}
}

// reviewRequests classifies each standing request and builds the reviewer
// ranking from pending and answered waits
func (c *classifier) reviewRequests() {
	type agg struct {
		stat  ReviewerStat
		total int
		waits int
	}
	byLogin := make(map[string]*agg)

	for _, rr := range c.in.ReviewRequests {
		item, ok := c.items[rr.PullRequestID]
		if !ok || !item.IsOpen() {
			continue
		}
		key := strings.ToLower(rr.ReviewerLogin)
		a := byLogin[key]
		if a == nil {
			a = &agg{stat: ReviewerStat{Login: rr.ReviewerLogin}}
			byLogin[key] = a
		}

		var wait int
		if answered, ok := c.respondedAfter(rr.PullRequestID, rr.ReviewerLogin, rr.RequestedAt); ok {
			wait = c.in.Calendar.Between(rr.RequestedAt, answered)
			a.stat.Answered++
		} else {
			wait = c.elapsed(rr.RequestedAt)
			a.stat.Pending++
			if wait >= c.in.Thresholds.StuckReviewRequest {
				c.add(CategoryStuckReviewRequests, item, rr.RequestedAt, wait, func(e *Entry) {
					e.User = rr.ReviewerLogin
					e.RequestID = rr.ID
				})
			}
		}
		a.total += wait
		a.waits++
		if wait > a.stat.MaxWaitDays {
			a.stat.MaxWaitDays = wait
		}
	}

	for _, a := range byLogin {
		if a.waits > 0 {
			a.stat.AverageWaitDays = float64(a.total) / float64(a.waits)
		}
		c.out.ReviewerRanking = append(c.out.ReviewerRanking, a.stat)
	}
	sort.Slice(c.out.ReviewerRanking, func(i, j int) bool {
		ri, rj := c.out.ReviewerRanking[i], c.out.ReviewerRanking[j]
		if ri.Pending != rj.Pending {
			return ri.Pending > rj.Pending
		}
		if ri.MaxWaitDays != rj.MaxWaitDays {
			return ri.MaxWaitDays > rj.MaxWaitDays
		}
		return ri.Login < rj.Login
	})
}

// mentions flags mentions the mentioned user never answered, unless an
// active override or the classifier says no response is needed
func (c *classifier) mentions() {
	for _, m := range c.in.Mentions {
		item, ok := c.items[m.ItemID]
		if !ok || !item.IsOpen() || strings.EqualFold(m.Login, m.AuthorLogin) {
			continue
		}
		if _, ok := c.respondedAfter(m.ItemID, m.Login, m.At); ok {
			continue
		}
		if cls, ok := c.in.Classifications[MentionKey{CommentID: m.CommentID, Login: strings.ToLower(m.Login)}]; ok {
			if required, known := cls.RequiresResponseEffective(); known && !required {
				continue
			}
		}
		if n := c.elapsed(m.At); n >= c.in.Thresholds.UnansweredMention {
			c.add(CategoryUnansweredMentions, item, m.At, n, func(e *Entry) {
				e.User = m.Login
				e.CommentID = m.CommentID
			})
		}
	}
}
