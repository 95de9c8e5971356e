package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shurcooL/githubv4"
	"github.com/wesm/github-activity-digest/internal/models"
)

const (
	itemsPerPage    = 25
	commentsPerPage = 50
	metadataPerPage = 25
)

// NewGraphQLClient creates a GitHub GraphQL client over httpClient
func NewGraphQLClient(httpClient *http.Client) *githubv4.Client {
	return githubv4.NewClient(httpClient)
}

type pageInfo struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

// actorNode is the Actor interface. Which fragment carries the ID depends
// on the concrete type, so normalizeActor picks it by __typename.
type actorNode struct {
	Typename  string `graphql:"__typename" json:"__typename"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl"`
	User      struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `graphql:"... on User" json:"-"`
	Organization struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `graphql:"... on Organization" json:"-"`
	Bot struct {
		ID string `json:"id"`
	} `graphql:"... on Bot" json:"-"`
	Mannequin struct {
		ID string `json:"id"`
	} `graphql:"... on Mannequin" json:"-"`
	EnterpriseUserAccount struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `graphql:"... on EnterpriseUserAccount" json:"-"`
}

type userNode struct {
	ID        string `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

type reactionNode struct {
	ID        string
	Content   string
	CreatedAt time.Time
	User      userNode
}

type reactionConnection struct {
	Nodes    []reactionNode
	PageInfo pageInfo
}

type commentNode struct {
	ID        string
	Body      string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Author    actorNode
	Reactions reactionConnection `graphql:"reactions(first: 50)"`
}

type commentConnection struct {
	Nodes    []commentNode
	PageInfo pageInfo
}

type assigneeConnection struct {
	Nodes []userNode `json:"nodes"`
}

type projectItemNode struct {
	Project struct {
		Title string `json:"title"`
	} `json:"project"`
	FieldValueByName struct {
		SingleSelect struct {
			Name      string    `json:"name"`
			UpdatedAt time.Time `json:"updatedAt"`
		} `graphql:"... on ProjectV2ItemFieldSingleSelectValue" json:"singleSelect"`
	} `graphql:"fieldValueByName(name: $statusField)" json:"status"`
}

// Fields tagged json:"-" are stored in their own tables and left out of the
// raw payload.
type issueNode struct {
	ID           string             `json:"id"`
	Number       int                `json:"number"`
	Title        string             `json:"title"`
	State        string             `json:"state"`
	Body         string             `json:"-"`
	URL          string             `json:"url"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
	ClosedAt     *time.Time         `json:"closedAt"`
	Author       actorNode          `json:"author"`
	Assignees    assigneeConnection `graphql:"assignees(first: 20)" json:"assignees"`
	Reactions    reactionConnection `graphql:"reactions(first: 50)" json:"-"`
	Comments     commentConnection  `graphql:"comments(first: 50)" json:"-"`
	ProjectItems struct {
		Nodes []projectItemNode `json:"nodes"`
	} `graphql:"projectItems(first: 20)" json:"projectItems"`
}

type pullRequestNode struct {
	ID                      string             `json:"id"`
	Number                  int                `json:"number"`
	Title                   string             `json:"title"`
	State                   string             `json:"state"`
	Body                    string             `json:"-"`
	URL                     string             `json:"url"`
	IsDraft                 bool               `json:"isDraft"`
	Merged                  bool               `json:"merged"`
	CreatedAt               time.Time          `json:"createdAt"`
	UpdatedAt               time.Time          `json:"updatedAt"`
	ClosedAt                *time.Time         `json:"closedAt"`
	MergedAt                *time.Time         `json:"mergedAt"`
	Author                  actorNode          `json:"author"`
	Assignees               assigneeConnection `graphql:"assignees(first: 20)" json:"assignees"`
	Reactions               reactionConnection `graphql:"reactions(first: 50)" json:"-"`
	Comments                commentConnection  `graphql:"comments(first: 50)" json:"-"`
	ClosingIssuesReferences struct {
		Nodes []struct {
			ID     string `json:"id"`
			Number int    `json:"number"`
		} `json:"nodes"`
	} `graphql:"closingIssuesReferences(first: 20)" json:"closingIssuesReferences"`
}

type discussionNode struct {
	ID             string             `json:"id"`
	Number         int                `json:"number"`
	Title          string             `json:"title"`
	Body           string             `json:"-"`
	URL            string             `json:"url"`
	Closed         bool               `json:"closed"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	ClosedAt       *time.Time         `json:"closedAt"`
	AnswerChosenAt *time.Time         `json:"answerChosenAt"`
	Author         actorNode          `json:"author"`
	Reactions      reactionConnection `graphql:"reactions(first: 50)" json:"-"`
	Comments       commentConnection  `graphql:"comments(first: 50)" json:"-"`
}

type requestedReviewerNode struct {
	Typename string   `graphql:"__typename"`
	User     userNode `graphql:"... on User"`
	Bot      struct {
		ID    string
		Login string
	} `graphql:"... on Bot"`
	Team struct {
		ID   string
		Slug string
	} `graphql:"... on Team"`
}

type reviewNode struct {
	ID          string
	State       string
	Body        string
	SubmittedAt *time.Time
	UpdatedAt   time.Time
	Author      actorNode
}

type reviewMetadataNode struct {
	ID             string
	Number         int
	CreatedAt      time.Time
	Assignees      assigneeConnection `graphql:"assignees(first: 20)"`
	ReviewRequests struct {
		Nodes []struct {
			ID                string
			RequestedReviewer requestedReviewerNode
		}
		PageInfo pageInfo
	} `graphql:"reviewRequests(first: 20)"`
	TimelineItems struct {
		Nodes []struct {
			ReviewRequestedEvent struct {
				CreatedAt         time.Time
				RequestedReviewer requestedReviewerNode
			} `graphql:"... on ReviewRequestedEvent"`
		}
	} `graphql:"timelineItems(itemTypes: [REVIEW_REQUESTED_EVENT], last: 50)"`
	Reviews struct {
		Nodes []reviewNode
	} `graphql:"reviews(last: 50)"`
}

// normalizeActor folds the Actor union into one shape. Deleted accounts
// come back with no login and yield the zero Actor.
func normalizeActor(a actorNode) models.Actor {
	actor := models.Actor{Login: a.Login, AvatarURL: a.AvatarURL}
	switch a.Typename {
	case "User":
		actor.Kind, actor.ID, actor.Name = models.ActorUser, a.User.ID, a.User.Name
	case "Organization":
		actor.Kind, actor.ID, actor.Name = models.ActorOrganization, a.Organization.ID, a.Organization.Name
	case "Bot":
		actor.Kind, actor.ID = models.ActorBot, a.Bot.ID
	case "Mannequin":
		actor.Kind, actor.ID = models.ActorMannequin, a.Mannequin.ID
	case "EnterpriseUserAccount":
		actor.Kind, actor.ID, actor.Name = models.ActorEnterprise, a.EnterpriseUserAccount.ID, a.EnterpriseUserAccount.Name
	default:
		return models.Actor{}
	}
	return actor
}

func userActor(u userNode) models.Actor {
	if u.ID == "" {
		return models.Actor{}
	}
	return models.Actor{ID: u.ID, Login: u.Login, Kind: models.ActorUser, Name: u.Name, AvatarURL: u.AvatarURL}
}

func reviewerActor(r requestedReviewerNode) models.Actor {
	switch r.Typename {
	case "User":
		return userActor(r.User)
	case "Bot":
		return models.Actor{ID: r.Bot.ID, Login: r.Bot.Login, Kind: models.ActorBot}
	}
	return models.Actor{}
}

// reviewerLogin is the login a request is addressed to; teams use their slug
func reviewerLogin(r requestedReviewerNode) string {
	switch r.Typename {
	case "User":
		return r.User.Login
	case "Bot":
		return r.Bot.Login
	case "Team":
		return r.Team.Slug
	}
	return ""
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func parentKind(t models.ItemType) models.ParentKind {
	switch t {
	case models.ItemPullRequest:
		return models.ParentPullRequest
	case models.ItemDiscussion:
		return models.ParentDiscussion
	default:
		return models.ParentIssue
	}
}

func convertReactions(subjectID string, kind models.ParentKind, conn reactionConnection) []ReactionRecord {
	out := make([]ReactionRecord, 0, len(conn.Nodes))
	for _, n := range conn.Nodes {
		actor := userActor(n.User)
		out = append(out, ReactionRecord{
			Reaction: models.Reaction{
				ID:          n.ID,
				SubjectID:   subjectID,
				SubjectKind: kind,
				ActorID:     actor.ID,
				Content:     n.Content,
				CreatedAt:   n.CreatedAt.UTC(),
			},
			Actor: actor,
		})
	}
	return out
}

func convertComment(parentID string, kind models.ParentKind, n commentNode) CommentRecord {
	author := normalizeActor(n.Author)
	return CommentRecord{
		Comment: models.Comment{
			ID:         n.ID,
			ParentID:   parentID,
			ParentKind: kind,
			AuthorID:   author.ID,
			Body:       n.Body,
			URL:        n.URL,
			CreatedAt:  n.CreatedAt.UTC(),
			UpdatedAt:  n.UpdatedAt.UTC(),
			Mentions:   ExtractMentions(n.Body),
		},
		Author:            author,
		Reactions:         convertReactions(n.ID, models.ParentComment, n.Reactions),
		ReactionsComplete: !n.Reactions.PageInfo.HasNextPage,
	}
}

func convertThread(parentID string, t models.ItemType, author actorNode, assignees assigneeConnection,
	reactions reactionConnection, comments commentConnection) Thread {
	kind := parentKind(t)
	th := Thread{
		Author:            normalizeActor(author),
		Reactions:         convertReactions(parentID, kind, reactions),
		ReactionsComplete: !reactions.PageInfo.HasNextPage,
	}
	for _, u := range assignees.Nodes {
		if a := userActor(u); !a.IsZero() {
			th.Assignees = append(th.Assignees, a)
		}
	}
	for _, c := range comments.Nodes {
		th.Comments = append(th.Comments, convertComment(parentID, kind, c))
	}
	if comments.PageInfo.HasNextPage {
		th.CommentsCursor = comments.PageInfo.EndCursor
	}
	return th
}

func convertIssue(repositoryID string, n issueNode) (IssueRecord, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return IssueRecord{}, fmt.Errorf("failed to encode issue #%d: %w", n.Number, err)
	}
	rec := IssueRecord{
		Thread: convertThread(n.ID, models.ItemIssue, n.Author, n.Assignees, n.Reactions, n.Comments),
	}
	rec.Issue = models.Issue{
		ID:           n.ID,
		RepositoryID: repositoryID,
		Number:       n.Number,
		Title:        n.Title,
		State:        n.State,
		Body:         n.Body,
		URL:          n.URL,
		AuthorID:     rec.Author.ID,
		CreatedAt:    n.CreatedAt.UTC(),
		UpdatedAt:    n.UpdatedAt.UTC(),
		ClosedAt:     utcPtr(n.ClosedAt),
		Raw:          raw,
	}
	for _, item := range n.ProjectItems.Nodes {
		rec.ProjectStatuses = append(rec.ProjectStatuses, models.ProjectItemStatus{
			ProjectTitle: item.Project.Title,
			Status:       item.FieldValueByName.SingleSelect.Name,
			UpdatedAt:    item.FieldValueByName.SingleSelect.UpdatedAt.UTC(),
		})
	}
	return rec, nil
}

func convertPullRequest(repositoryID string, n pullRequestNode) (PullRequestRecord, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return PullRequestRecord{}, fmt.Errorf("failed to encode pull request #%d: %w", n.Number, err)
	}
	rec := PullRequestRecord{
		Thread:         convertThread(n.ID, models.ItemPullRequest, n.Author, n.Assignees, n.Reactions, n.Comments),
		LinkedIssueIDs: []string{},
	}
	rec.PullRequest = models.PullRequest{
		ID:           n.ID,
		RepositoryID: repositoryID,
		Number:       n.Number,
		Title:        n.Title,
		State:        n.State,
		Body:         n.Body,
		URL:          n.URL,
		AuthorID:     rec.Author.ID,
		Merged:       n.Merged,
		IsDraft:      n.IsDraft,
		CreatedAt:    n.CreatedAt.UTC(),
		UpdatedAt:    n.UpdatedAt.UTC(),
		ClosedAt:     utcPtr(n.ClosedAt),
		MergedAt:     utcPtr(n.MergedAt),
		Raw:          raw,
	}
	for _, ref := range n.ClosingIssuesReferences.Nodes {
		rec.LinkedIssueIDs = append(rec.LinkedIssueIDs, ref.ID)
	}
	return rec, nil
}

func convertDiscussion(repositoryID string, n discussionNode) (DiscussionRecord, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return DiscussionRecord{}, fmt.Errorf("failed to encode discussion #%d: %w", n.Number, err)
	}
	rec := DiscussionRecord{
		Thread: convertThread(n.ID, models.ItemDiscussion, n.Author, assigneeConnection{}, n.Reactions, n.Comments),
	}
	state := "OPEN"
	if n.Closed {
		state = "CLOSED"
	}
	rec.Discussion = models.Discussion{
		ID:           n.ID,
		RepositoryID: repositoryID,
		Number:       n.Number,
		Title:        n.Title,
		State:        state,
		Body:         n.Body,
		URL:          n.URL,
		AuthorID:     rec.Author.ID,
		CreatedAt:    n.CreatedAt.UTC(),
		UpdatedAt:    n.UpdatedAt.UTC(),
		ClosedAt:     utcPtr(n.ClosedAt),
		AnsweredAt:   utcPtr(n.AnswerChosenAt),
		Raw:          raw,
	}
	return rec, nil
}

func convertReviewMetadata(n reviewMetadataNode) ReviewMetadata {
	md := ReviewMetadata{
		PullRequestID:    n.ID,
		Number:           n.Number,
		RequestsComplete: !n.ReviewRequests.PageInfo.HasNextPage,
	}
	for _, u := range n.Assignees.Nodes {
		if a := userActor(u); !a.IsZero() {
			md.Assignees = append(md.Assignees, a)
		}
	}

	// The latest request event per reviewer dates the standing request
	requested := make(map[string]time.Time)
	for _, item := range n.TimelineItems.Nodes {
		ev := item.ReviewRequestedEvent
		login := strings.ToLower(reviewerLogin(ev.RequestedReviewer))
		if login == "" {
			continue
		}
		if ev.CreatedAt.After(requested[login]) {
			requested[login] = ev.CreatedAt.UTC()
		}
	}

	for _, rr := range n.ReviewRequests.Nodes {
		login := reviewerLogin(rr.RequestedReviewer)
		if login == "" {
			continue
		}
		at, ok := requested[strings.ToLower(login)]
		if !ok {
			at = n.CreatedAt.UTC()
		}
		reviewer := reviewerActor(rr.RequestedReviewer)
		md.Requests = append(md.Requests, ReviewRequestRecord{
			Request: models.ReviewRequest{
				ID:            rr.ID,
				PullRequestID: n.ID,
				ReviewerID:    reviewer.ID,
				ReviewerLogin: login,
				RequestedAt:   at,
			},
			Reviewer: reviewer,
		})
	}

	for _, r := range n.Reviews.Nodes {
		author := normalizeActor(r.Author)
		md.Reviews = append(md.Reviews, ReviewRecord{
			Review: models.Review{
				ID:            r.ID,
				PullRequestID: n.ID,
				AuthorID:      author.ID,
				State:         r.State,
				Body:          r.Body,
				SubmittedAt:   utcPtr(r.SubmittedAt),
				UpdatedAt:     r.UpdatedAt.UTC(),
			},
			Author: author,
		})
	}
	return md
}

// GraphQLSource reads repository activity through the GraphQL API. Every
// request goes through the fetcher, one at a time.
type GraphQLSource struct {
	fetcher     *Fetcher
	statusField string
}

// NewGraphQLSource creates a source. statusField names the project board
// field that holds an issue's status.
func NewGraphQLSource(fetcher *Fetcher, statusField string) *GraphQLSource {
	if statusField == "" {
		statusField = "Status"
	}
	return &GraphQLSource{fetcher: fetcher, statusField: statusField}
}

func cursorVar(cursor string) *githubv4.String {
	if cursor == "" {
		return nil
	}
	c := githubv4.String(cursor)
	return &c
}

func repoVars(repo models.Repository, extra map[string]any) map[string]any {
	vars := map[string]any{
		"owner": githubv4.String(repo.Owner),
		"name":  githubv4.String(repo.Name),
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

// IssuesPage fetches one page of issues, most recently updated first
func (s *GraphQLSource) IssuesPage(ctx context.Context, repo models.Repository, cursor string) (Page[IssueRecord], error) {
	var query struct {
		Repository struct {
			Issues struct {
				Nodes    []issueNode
				PageInfo pageInfo
			} `graphql:"issues(first: $first, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := repoVars(repo, map[string]any{
		"first":       githubv4.Int(itemsPerPage),
		"cursor":      cursorVar(cursor),
		"statusField": githubv4.String(s.statusField),
	})
	if err := s.fetcher.Query(ctx, "issues of "+repo.FullName, &query, vars); err != nil {
		return Page[IssueRecord]{}, err
	}

	conn := query.Repository.Issues
	page := Page[IssueRecord]{EndCursor: conn.PageInfo.EndCursor, HasNextPage: conn.PageInfo.HasNextPage}
	for _, n := range conn.Nodes {
		rec, err := convertIssue(repo.ID, n)
		if err != nil {
			return Page[IssueRecord]{}, err
		}
		page.Nodes = append(page.Nodes, rec)
	}
	return page, nil
}

// PullRequestsPage fetches one page of pull requests, most recently updated first
func (s *GraphQLSource) PullRequestsPage(ctx context.Context, repo models.Repository, cursor string) (Page[PullRequestRecord], error) {
	var query struct {
		Repository struct {
			PullRequests struct {
				Nodes    []pullRequestNode
				PageInfo pageInfo
			} `graphql:"pullRequests(first: $first, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := repoVars(repo, map[string]any{
		"first":  githubv4.Int(itemsPerPage),
		"cursor": cursorVar(cursor),
	})
	if err := s.fetcher.Query(ctx, "pull requests of "+repo.FullName, &query, vars); err != nil {
		return Page[PullRequestRecord]{}, err
	}

	conn := query.Repository.PullRequests
	page := Page[PullRequestRecord]{EndCursor: conn.PageInfo.EndCursor, HasNextPage: conn.PageInfo.HasNextPage}
	for _, n := range conn.Nodes {
		rec, err := convertPullRequest(repo.ID, n)
		if err != nil {
			return Page[PullRequestRecord]{}, err
		}
		page.Nodes = append(page.Nodes, rec)
	}
	return page, nil
}

// DiscussionsPage fetches one page of discussions, most recently updated first
func (s *GraphQLSource) DiscussionsPage(ctx context.Context, repo models.Repository, cursor string) (Page[DiscussionRecord], error) {
	var query struct {
		Repository struct {
			Discussions struct {
				Nodes    []discussionNode
				PageInfo pageInfo
			} `graphql:"discussions(first: $first, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := repoVars(repo, map[string]any{
		"first":  githubv4.Int(itemsPerPage),
		"cursor": cursorVar(cursor),
	})
	if err := s.fetcher.Query(ctx, "discussions of "+repo.FullName, &query, vars); err != nil {
		return Page[DiscussionRecord]{}, err
	}

	conn := query.Repository.Discussions
	page := Page[DiscussionRecord]{EndCursor: conn.PageInfo.EndCursor, HasNextPage: conn.PageInfo.HasNextPage}
	for _, n := range conn.Nodes {
		rec, err := convertDiscussion(repo.ID, n)
		if err != nil {
			return Page[DiscussionRecord]{}, err
		}
		page.Nodes = append(page.Nodes, rec)
	}
	return page, nil
}

// CommentsPage continues the comments of one item past its first page
func (s *GraphQLSource) CommentsPage(ctx context.Context, repo models.Repository, item ItemKey, cursor string) (Page[CommentRecord], error) {
	vars := repoVars(repo, map[string]any{
		"number": githubv4.Int(item.Number),
		"first":  githubv4.Int(commentsPerPage),
		"cursor": cursorVar(cursor),
	})
	op := fmt.Sprintf("comments of %s#%d", repo.FullName, item.Number)

	var conn commentConnection
	switch item.Type {
	case models.ItemIssue:
		var query struct {
			Repository struct {
				Issue struct {
					Comments commentConnection `graphql:"comments(first: $first, after: $cursor)"`
				} `graphql:"issue(number: $number)"`
			} `graphql:"repository(owner: $owner, name: $name)"`
		}
		if err := s.fetcher.Query(ctx, op, &query, vars); err != nil {
			return Page[CommentRecord]{}, err
		}
		conn = query.Repository.Issue.Comments
	case models.ItemPullRequest:
		var query struct {
			Repository struct {
				PullRequest struct {
					Comments commentConnection `graphql:"comments(first: $first, after: $cursor)"`
				} `graphql:"pullRequest(number: $number)"`
			} `graphql:"repository(owner: $owner, name: $name)"`
		}
		if err := s.fetcher.Query(ctx, op, &query, vars); err != nil {
			return Page[CommentRecord]{}, err
		}
		conn = query.Repository.PullRequest.Comments
	case models.ItemDiscussion:
		var query struct {
			Repository struct {
				Discussion struct {
					Comments commentConnection `graphql:"comments(first: $first, after: $cursor)"`
				} `graphql:"discussion(number: $number)"`
			} `graphql:"repository(owner: $owner, name: $name)"`
		}
		if err := s.fetcher.Query(ctx, op, &query, vars); err != nil {
			return Page[CommentRecord]{}, err
		}
		conn = query.Repository.Discussion.Comments
	default:
		return Page[CommentRecord]{}, fmt.Errorf("unknown item type %q", item.Type)
	}

	kind := parentKind(item.Type)
	page := Page[CommentRecord]{EndCursor: conn.PageInfo.EndCursor, HasNextPage: conn.PageInfo.HasNextPage}
	for _, n := range conn.Nodes {
		page.Nodes = append(page.Nodes, convertComment(item.ID, kind, n))
	}
	return page, nil
}

// OpenPullRequestReviewsPage fetches assignees, review requests and reviews
// of open pull requests
func (s *GraphQLSource) OpenPullRequestReviewsPage(ctx context.Context, repo models.Repository, cursor string) (Page[ReviewMetadata], error) {
	var query struct {
		Repository struct {
			PullRequests struct {
				Nodes    []reviewMetadataNode
				PageInfo pageInfo
			} `graphql:"pullRequests(first: $first, after: $cursor, states: OPEN, orderBy: {field: UPDATED_AT, direction: DESC})"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := repoVars(repo, map[string]any{
		"first":  githubv4.Int(metadataPerPage),
		"cursor": cursorVar(cursor),
	})
	if err := s.fetcher.Query(ctx, "review metadata of "+repo.FullName, &query, vars); err != nil {
		return Page[ReviewMetadata]{}, err
	}

	conn := query.Repository.PullRequests
	page := Page[ReviewMetadata]{EndCursor: conn.PageInfo.EndCursor, HasNextPage: conn.PageInfo.HasNextPage}
	for _, n := range conn.Nodes {
		page.Nodes = append(page.Nodes, convertReviewMetadata(n))
	}
	return page, nil
}

// IssueByNumber fetches a single issue
func (s *GraphQLSource) IssueByNumber(ctx context.Context, repo models.Repository, number int) (*IssueRecord, error) {
	var query struct {
		Repository struct {
			Issue issueNode `graphql:"issue(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := repoVars(repo, map[string]any{
		"number":      githubv4.Int(number),
		"statusField": githubv4.String(s.statusField),
	})
	if err := s.fetcher.Query(ctx, fmt.Sprintf("issue %s#%d", repo.FullName, number), &query, vars); err != nil {
		return nil, err
	}
	rec, err := convertIssue(repo.ID, query.Repository.Issue)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PullRequestByNumber fetches a single pull request
func (s *GraphQLSource) PullRequestByNumber(ctx context.Context, repo models.Repository, number int) (*PullRequestRecord, error) {
	var query struct {
		Repository struct {
			PullRequest pullRequestNode `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := repoVars(repo, map[string]any{"number": githubv4.Int(number)})
	if err := s.fetcher.Query(ctx, fmt.Sprintf("pull request %s#%d", repo.FullName, number), &query, vars); err != nil {
		return nil, err
	}
	rec, err := convertPullRequest(repo.ID, query.Repository.PullRequest)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DiscussionByNumber fetches a single discussion
func (s *GraphQLSource) DiscussionByNumber(ctx context.Context, repo models.Repository, number int) (*DiscussionRecord, error) {
	var query struct {
		Repository struct {
			Discussion discussionNode `graphql:"discussion(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := repoVars(repo, map[string]any{"number": githubv4.Int(number)})
	if err := s.fetcher.Query(ctx, fmt.Sprintf("discussion %s#%d", repo.FullName, number), &query, vars); err != nil {
		return nil, err
	}
	rec, err := convertDiscussion(repo.ID, query.Repository.Discussion)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ReviewMetadataByNumber fetches review state of one pull request
func (s *GraphQLSource) ReviewMetadataByNumber(ctx context.Context, repo models.Repository, number int) (*ReviewMetadata, error) {
	var query struct {
		Repository struct {
			PullRequest reviewMetadataNode `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := repoVars(repo, map[string]any{"number": githubv4.Int(number)})
	if err := s.fetcher.Query(ctx, fmt.Sprintf("review metadata %s#%d", repo.FullName, number), &query, vars); err != nil {
		return nil, err
	}
	md := convertReviewMetadata(query.Repository.PullRequest)
	return &md, nil
}
