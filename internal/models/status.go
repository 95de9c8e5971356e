package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle status of a tracked work item
type Status string

const (
	StatusNone       Status = "none"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCanceled   Status = "canceled"
)

// ParseStatus validates a status string
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusTodo, StatusInProgress, StatusDone, StatusCanceled:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// StatusSource records where a status history event came from
type StatusSource string

const (
	// SourceNone means no event exists for the issue
	SourceNone StatusSource = "none"
	// SourceActivity events are inferred by the system or set manually
	SourceActivity StatusSource = "activity"
	// SourceTodoProject events come from the tracked project board and are authoritative
	SourceTodoProject StatusSource = "todo_project"
)

// StatusEvent is one append-only row of issue status history
type StatusEvent struct {
	ID         int64
	IssueID    string
	Status     Status
	OccurredAt time.Time
	Source     StatusSource
}

// ResolvedStatus is the outcome of applying status precedence to an issue's history
type ResolvedStatus struct {
	Status    Status
	Source    StatusSource
	Locked    bool
	UpdatedAt *time.Time
}

// ResolveStatus reduces a status history into a single status.
//
// The states are none, activity(status) and todo_project(status). Any
// todo_project event moves the issue into the todo_project state for good;
// within a state the most recent event wins.
func ResolveStatus(events []StatusEvent) ResolvedStatus {
	res := ResolvedStatus{Status: StatusNone, Source: SourceNone}
	var latest *StatusEvent
	for i := range events {
		ev := &events[i]
		switch {
		case rank(ev.Source) > rank(res.Source):
			latest = ev
			res.Source = ev.Source
		case ev.Source == res.Source && newer(ev, latest):
			latest = ev
		}
	}
	if latest == nil {
		return res
	}
	at := latest.OccurredAt
	res.Status = latest.Status
	res.UpdatedAt = &at
	res.Locked = res.Source == SourceTodoProject
	return res
}

func rank(s StatusSource) int {
	switch s {
	case SourceTodoProject:
		return 2
	case SourceActivity:
		return 1
	}
	return 0
}

// newer orders events by occurrence time, then by insertion order
func newer(ev, cur *StatusEvent) bool {
	if cur == nil {
		return true
	}
	if !ev.OccurredAt.Equal(cur.OccurredAt) {
		return ev.OccurredAt.After(cur.OccurredAt)
	}
	return ev.ID > cur.ID
}

// FirstFromSource returns the earliest event recorded by source
func FirstFromSource(events []StatusEvent, source StatusSource) *StatusEvent {
	var first *StatusEvent
	for i := range events {
		if events[i].Source != source {
			continue
		}
		if first == nil || events[i].OccurredAt.Before(first.OccurredAt) {
			first = &events[i]
		}
	}
	return first
}
