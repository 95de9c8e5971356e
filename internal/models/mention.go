package models

import (
	"fmt"
	"time"
)

// MentionOverride is a manual decision on whether a mention needs a response
type MentionOverride string

const (
	OverrideNone     MentionOverride = ""
	OverrideSuppress MentionOverride = "suppress"
	OverrideForce    MentionOverride = "force"
	OverrideClear    MentionOverride = "clear"
)

// ParseMentionOverride validates an override state from a caller
func ParseMentionOverride(s string) (MentionOverride, error) {
	switch o := MentionOverride(s); o {
	case OverrideSuppress, OverrideForce, OverrideClear:
		return o, nil
	}
	return "", fmt.Errorf("unknown mention override %q", s)
}

// MentionClassification is the AI judgment and manual override for one
// (comment, mentioned user) pair.
type MentionClassification struct {
	CommentID        string
	MentionedLogin   string
	RequiresResponse *bool
	Model            string
	LastEvaluatedAt  *time.Time
	ManualState      MentionOverride
	ManualUpdatedAt  *time.Time
}

// ManualActive reports whether the manual override still applies. An
// override goes stale once the classifier evaluates the mention after it.
func (m MentionClassification) ManualActive() bool {
	if m.ManualState != OverrideSuppress && m.ManualState != OverrideForce {
		return false
	}
	if m.ManualUpdatedAt == nil {
		return false
	}
	if m.LastEvaluatedAt == nil {
		return true
	}
	return !m.ManualUpdatedAt.Before(*m.LastEvaluatedAt)
}

// ManualStale reports whether a manual override exists but has been superseded
func (m MentionClassification) ManualStale() bool {
	return (m.ManualState == OverrideSuppress || m.ManualState == OverrideForce) && !m.ManualActive()
}

// RequiresResponseEffective resolves whether the mention needs a response.
// The second result is false when neither an active override nor an AI
// judgment is available.
func (m MentionClassification) RequiresResponseEffective() (bool, bool) {
	if m.ManualActive() {
		return m.ManualState == OverrideForce, true
	}
	if m.RequiresResponse != nil {
		return *m.RequiresResponse, true
	}
	return false, false
}
