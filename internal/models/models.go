package models

import (
	"encoding/json"
	"time"
)

// ActorKind tags the upstream actor type after normalization
type ActorKind string

const (
	ActorUser         ActorKind = "user"
	ActorOrganization ActorKind = "organization"
	ActorBot          ActorKind = "bot"
	ActorMannequin    ActorKind = "mannequin"
	ActorEnterprise   ActorKind = "enterprise_user"
)

// ItemType identifies which upstream entity an activity item came from
type ItemType string

const (
	ItemIssue       ItemType = "issue"
	ItemPullRequest ItemType = "pull_request"
	ItemDiscussion  ItemType = "discussion"
)

// ParentKind identifies the container of a comment or reaction
type ParentKind string

const (
	ParentIssue       ParentKind = "issue"
	ParentPullRequest ParentKind = "pull_request"
	ParentDiscussion  ParentKind = "discussion"
	ParentComment     ParentKind = "comment"
)

// Repository represents a GitHub repository
type Repository struct {
	ID         string
	Owner      string
	Name       string
	FullName   string
	Visibility string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Actor represents a user, organization, bot or mannequin. Every upstream
// actor union is normalized into this shape at the collector boundary.
type Actor struct {
	ID        string
	Login     string
	Kind      ActorKind
	Name      string
	AvatarURL string
}

// IsZero reports whether the actor is missing (deleted accounts come back empty)
func (a Actor) IsZero() bool {
	return a.ID == "" && a.Login == ""
}

// Issue represents a GitHub issue
type Issue struct {
	ID           string
	RepositoryID string
	Number       int
	Title        string
	State        string
	Body         string
	URL          string
	AuthorID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
	Raw          json.RawMessage
}

// IsClosed reports whether the issue is closed upstream
func (i Issue) IsClosed() bool {
	return i.State == "CLOSED" || i.ClosedAt != nil
}

// PullRequest represents a GitHub pull request
type PullRequest struct {
	ID           string
	RepositoryID string
	Number       int
	Title        string
	State        string
	Body         string
	URL          string
	AuthorID     string
	Merged       bool
	IsDraft      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
	MergedAt     *time.Time
	Raw          json.RawMessage
}

// Discussion represents a GitHub discussion
type Discussion struct {
	ID           string
	RepositoryID string
	Number       int
	Title        string
	State        string
	Body         string
	URL          string
	AuthorID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
	AnsweredAt   *time.Time
	Raw          json.RawMessage
}

// Comment represents a comment on an issue, pull request or discussion
type Comment struct {
	ID         string
	ParentID   string
	ParentKind ParentKind
	AuthorID   string
	Body       string
	URL        string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Mentions   []string
}

// Review represents a submitted pull request review
type Review struct {
	ID            string
	PullRequestID string
	AuthorID      string
	State         string
	Body          string
	SubmittedAt   *time.Time
	UpdatedAt     time.Time
}

// Review states as reported upstream
const (
	ReviewApproved         = "APPROVED"
	ReviewChangesRequested = "CHANGES_REQUESTED"
	ReviewCommented        = "COMMENTED"
	ReviewDismissed        = "DISMISSED"
	ReviewPending          = "PENDING"
)

// ReviewRequest represents a standing review request on a pull request
type ReviewRequest struct {
	ID            string
	PullRequestID string
	ReviewerID    string
	ReviewerLogin string
	RequestedAt   time.Time
}

// Reaction represents an emoji reaction on an item or comment
type Reaction struct {
	ID          string
	SubjectID   string
	SubjectKind ParentKind
	ActorID     string
	Content     string
	CreatedAt   time.Time
}

// ProjectItemStatus is the board status of an issue on a project
type ProjectItemStatus struct {
	ProjectTitle string
	Status       string
	UpdatedAt    time.Time
}
