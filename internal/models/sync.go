package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes as "15m"-style strings
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Thresholds are the attention thresholds in business days
type Thresholds struct {
	BacklogIssue       int `json:"backlog_issue"`
	StalledInProgress  int `json:"stalled_in_progress"`
	ReviewerUnassigned int `json:"reviewer_unassigned"`
	ReviewStalled      int `json:"review_stalled"`
	MergeDelayed       int `json:"merge_delayed"`
	StuckReviewRequest int `json:"stuck_review_request"`
	UnansweredMention  int `json:"unanswered_mention"`
}

// DefaultThresholds returns the thresholds used when none are configured
func DefaultThresholds() Thresholds {
	return Thresholds{
		BacklogIssue:       5,
		StalledInProgress:  10,
		ReviewerUnassigned: 2,
		ReviewStalled:      2,
		MergeDelayed:       2,
		StuckReviewRequest: 2,
		UnansweredMention:  2,
	}
}

// SyncConfig is the process-wide singleton configuration persisted in the
// database so every component (and every process) reads the same values.
type SyncConfig struct {
	Organization  string            `json:"organization"`
	TargetProject string            `json:"target_project"`
	StatusField   string            `json:"status_field"`
	StatusMapping map[string]Status `json:"status_mapping"`
	SyncInterval  Duration          `json:"sync_interval"`
	Timezone      string            `json:"timezone"`
	Holidays      []string          `json:"holidays"`
	Thresholds    Thresholds        `json:"thresholds"`
}

// MapBoardStatus maps a project board option name to a status
func (c SyncConfig) MapBoardStatus(option string) (Status, bool) {
	st, ok := c.StatusMapping[option]
	return st, ok
}

// SyncState is the persisted outcome of the most recent sync runs
type SyncState struct {
	Config               SyncConfig
	LastSuccessfulSyncAt *time.Time
	LastSyncStartedAt    *time.Time
	LastSyncStatus       string
	LastSyncError        string
}

// Run outcome values shared by sync runs and automation state
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
	RunSkipped = "skipped"
)

// AutomationState is the cached run state for one automation job key
type AutomationState struct {
	JobKey        string
	Status        string
	Trigger       string
	SyncWatermark *time.Time
	Metadata      json.RawMessage
	Error         string
	UpdatedAt     time.Time
}

// WatermarkKind names an entity kind tracked by incremental sync
type WatermarkKind string

const (
	WatermarkIssues       WatermarkKind = "issues"
	WatermarkPullRequests WatermarkKind = "pull_requests"
	WatermarkDiscussions  WatermarkKind = "discussions"
	WatermarkComments     WatermarkKind = "comments"
	WatermarkReviews      WatermarkKind = "reviews"
)
