package models

import "time"

// ActivityItem is the materialized, denormalized view of one issue, pull
// request or discussion. It can always be rebuilt from the source tables.
type ActivityItem struct {
	ID           string
	Type         ItemType
	RepositoryID string
	Repository   string
	Number       int
	Title        string
	State        string
	URL          string
	AuthorLogin  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
	MergedAt     *time.Time
	IsDraft      bool

	Status          Status
	StatusSource    StatusSource
	StatusLocked    bool
	StatusUpdatedAt *time.Time

	CommentCount     int
	ReactionCount    int
	LinkedIssueCount int
	LinkedItemIDs    []string

	Assignees      []string
	Reviewers      []string
	MentionedUsers []string
	Commenters     []string
	Reactors       []string

	ProjectHistory []StatusEvent
	Overrides      ProjectFieldOverride

	SnapshotInsertedAt time.Time
	SnapshotUpdatedAt  time.Time
}

// IsOpen reports whether the underlying item is still open
func (a ActivityItem) IsOpen() bool {
	return a.ClosedAt == nil && a.MergedAt == nil && a.State == "OPEN"
}

// ProjectField names a manually overridable project field
type ProjectField string

const (
	FieldPriority          ProjectField = "priority"
	FieldWeight            ProjectField = "weight"
	FieldInitiationOptions ProjectField = "initiation_options"
	FieldStartDate         ProjectField = "start_date"
)

// ParseProjectField validates a project field name
func ParseProjectField(s string) (ProjectField, bool) {
	switch f := ProjectField(s); f {
	case FieldPriority, FieldWeight, FieldInitiationOptions, FieldStartDate:
		return f, true
	}
	return "", false
}

// ProjectFieldOverride holds manually set project values for an issue.
// Each field carries its own update timestamp.
type ProjectFieldOverride struct {
	Priority                   *string    `json:"priority,omitempty"`
	PriorityUpdatedAt          *time.Time `json:"priority_updated_at,omitempty"`
	Weight                     *string    `json:"weight,omitempty"`
	WeightUpdatedAt            *time.Time `json:"weight_updated_at,omitempty"`
	InitiationOptions          *string    `json:"initiation_options,omitempty"`
	InitiationOptionsUpdatedAt *time.Time `json:"initiation_options_updated_at,omitempty"`
	StartDate                  *string    `json:"start_date,omitempty"`
	StartDateUpdatedAt         *time.Time `json:"start_date_updated_at,omitempty"`
}

// Get returns the current value of a field
func (o ProjectFieldOverride) Get(f ProjectField) *string {
	switch f {
	case FieldPriority:
		return o.Priority
	case FieldWeight:
		return o.Weight
	case FieldInitiationOptions:
		return o.InitiationOptions
	case FieldStartDate:
		return o.StartDate
	}
	return nil
}

// Set updates a field value and its timestamp
func (o *ProjectFieldOverride) Set(f ProjectField, v *string, at time.Time) {
	switch f {
	case FieldPriority:
		o.Priority, o.PriorityUpdatedAt = v, &at
	case FieldWeight:
		o.Weight, o.WeightUpdatedAt = v, &at
	case FieldInitiationOptions:
		o.InitiationOptions, o.InitiationOptionsUpdatedAt = v, &at
	case FieldStartDate:
		o.StartDate, o.StartDateUpdatedAt = v, &at
	}
}

// Empty reports whether every field is unset
func (o ProjectFieldOverride) Empty() bool {
	return o.Priority == nil && o.Weight == nil && o.InitiationOptions == nil && o.StartDate == nil
}
