// Package runs tracks sync and automation runs for the lifetime of the
// process so callers can poll a run by ID.
package runs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wesm/github-activity-digest/internal/apperrors"
	"github.com/wesm/github-activity-digest/internal/models"
)

// Kind groups runs that must not overlap
type Kind string

const (
	KindSync       Kind = "sync"
	KindResync     Kind = "resync"
	KindAutomation Kind = "automation"
)

// Run is a snapshot of one run
type Run struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Counts     any        `json:"counts,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Registry holds runs in memory. At most one run per kind is active.
type Registry struct {
	mu     sync.Mutex
	runs   map[string]*Run
	active map[Kind]string
	// finished runs kept for polling, oldest first
	history []string
	limit   int

	// Now is the registry's clock; replaced in tests
	Now func() time.Time
}

// NewRegistry creates a registry remembering up to limit finished runs
func NewRegistry(limit int) *Registry {
	if limit <= 0 {
		limit = 100
	}
	return &Registry{
		runs:   make(map[string]*Run),
		active: make(map[Kind]string),
		limit:  limit,
		Now:    time.Now,
	}
}

// Start registers a new running run of kind. It fails with RUN_IN_PROGRESS
// while another run of the same kind is active.
func (r *Registry) Start(kind Kind) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.active[kind]; ok {
		return Run{}, apperrors.Newf(apperrors.ErrRunInProgress, "%s run %s is already in progress", kind, id)
	}
	run := &Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    models.RunRunning,
		StartedAt: r.Now().UTC(),
	}
	r.runs[run.ID] = run
	r.active[kind] = run.ID
	return *run, nil
}

// Finish marks a run done with its counts and outcome
func (r *Registry) Finish(id string, counts any, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok || run.FinishedAt != nil {
		return
	}
	now := r.Now().UTC()
	run.FinishedAt = &now
	run.Counts = counts
	run.Status = models.RunSuccess
	if runErr != nil {
		run.Status = models.RunFailed
		run.Error = runErr.Error()
	}
	if r.active[run.Kind] == id {
		delete(r.active, run.Kind)
	}

	r.history = append(r.history, id)
	for len(r.history) > r.limit {
		delete(r.runs, r.history[0])
		r.history = r.history[1:]
	}
}

// Get returns a run by ID
func (r *Registry) Get(id string) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return Run{}, apperrors.Newf(apperrors.ErrNotFound, "run %s not found", id)
	}
	return *run, nil
}
