package api

import "github.com/wesm/github-activity-digest/internal/models"

// ItemKey locates an issue, pull request or discussion upstream
type ItemKey struct {
	ID     string
	Type   models.ItemType
	Number int
}

// ReactionRecord is a reaction with its normalized actor
type ReactionRecord struct {
	Reaction models.Reaction
	Actor    models.Actor
}

// CommentRecord is a comment with its author and reactions
type CommentRecord struct {
	Comment           models.Comment
	Author            models.Actor
	Reactions         []ReactionRecord
	ReactionsComplete bool
}

// Thread holds what issues, pull requests and discussions share: the
// author, assignees, reactions and the first page of comments
type Thread struct {
	Author            models.Actor
	Assignees         []models.Actor
	Reactions         []ReactionRecord
	ReactionsComplete bool
	Comments          []CommentRecord
	// CommentsCursor is set when more comments remain upstream
	CommentsCursor string
}

// IssueRecord is a normalized issue node
type IssueRecord struct {
	Issue models.Issue
	Thread
	// ProjectStatuses lists the board status on every project the issue is on
	ProjectStatuses []models.ProjectItemStatus
}

// PullRequestRecord is a normalized pull request node
type PullRequestRecord struct {
	PullRequest models.PullRequest
	Thread
	// LinkedIssueIDs are the issues this pull request closes
	LinkedIssueIDs []string
}

// DiscussionRecord is a normalized discussion node
type DiscussionRecord struct {
	Discussion models.Discussion
	Thread
}

// ReviewRecord is a review with its author
type ReviewRecord struct {
	Review models.Review
	Author models.Actor
}

// ReviewRequestRecord is a standing review request with its reviewer
type ReviewRequestRecord struct {
	Request  models.ReviewRequest
	Reviewer models.Actor
}

// ReviewMetadata carries assignee and review state of an open pull request
type ReviewMetadata struct {
	PullRequestID    string
	Number           int
	Assignees        []models.Actor
	Requests         []ReviewRequestRecord
	RequestsComplete bool
	Reviews          []ReviewRecord
}
