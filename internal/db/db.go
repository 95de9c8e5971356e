package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB represents the database connection. A DB returned by InTx is bound to
// a transaction and every method runs inside it.
type DB struct {
	conn *sql.DB
	q    querier
	tx   *sql.Tx
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Immediate transactions take the write lock up front so concurrent
	// writers serialize on BEGIN instead of failing on upgrade.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate", dbPath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn, q: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// InTx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Nested calls reuse the outer
// transaction.
func (db *DB) InTx(ctx context.Context, fn func(tx *DB) error) error {
	if db.tx != nil {
		return fn(db)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			slog.Warn("Transaction rollback failed", "error", rerr)
		}
	}()

	if err := fn(&DB{conn: db.conn, q: tx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	_, err := db.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	full_name TEXT NOT NULL UNIQUE,
	visibility TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS actors (
	id TEXT PRIMARY KEY,
	login TEXT NOT NULL,
	kind TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_actors_login ON actors(login);

CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL,
	number INTEGER NOT NULL,
	title TEXT NOT NULL,
	state TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	author_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	closed_at TIMESTAMP,
	raw TEXT NOT NULL DEFAULT '{}',
	UNIQUE(repository_id, number)
);

CREATE TABLE IF NOT EXISTS pull_requests (
	id TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL,
	number INTEGER NOT NULL,
	title TEXT NOT NULL,
	state TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	author_id TEXT,
	merged BOOLEAN NOT NULL DEFAULT 0,
	is_draft BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	closed_at TIMESTAMP,
	merged_at TIMESTAMP,
	raw TEXT NOT NULL DEFAULT '{}',
	UNIQUE(repository_id, number)
);

CREATE TABLE IF NOT EXISTS discussions (
	id TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL,
	number INTEGER NOT NULL,
	title TEXT NOT NULL,
	state TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	author_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	closed_at TIMESTAMP,
	answered_at TIMESTAMP,
	raw TEXT NOT NULL DEFAULT '{}',
	UNIQUE(repository_id, number)
);

CREATE TABLE IF NOT EXISTS item_assignees (
	item_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	PRIMARY KEY (item_id, actor_id)
);

CREATE TABLE IF NOT EXISTS pull_request_issues (
	pull_request_id TEXT NOT NULL,
	issue_id TEXT NOT NULL,
	PRIMARY KEY (pull_request_id, issue_id)
);
CREATE INDEX IF NOT EXISTS idx_pull_request_issues_issue ON pull_request_issues(issue_id);

CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	parent_id TEXT NOT NULL,
	parent_kind TEXT NOT NULL,
	author_id TEXT,
	body TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comments_parent ON comments(parent_id);

CREATE TABLE IF NOT EXISTS comment_mentions (
	comment_id TEXT NOT NULL,
	login TEXT NOT NULL,
	PRIMARY KEY (comment_id, login)
);

CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	pull_request_id TEXT NOT NULL,
	author_id TEXT,
	state TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reviews_pull_request ON reviews(pull_request_id);

CREATE TABLE IF NOT EXISTS review_requests (
	id TEXT PRIMARY KEY,
	pull_request_id TEXT NOT NULL,
	reviewer_id TEXT,
	reviewer_login TEXT NOT NULL,
	requested_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_requests_pull_request ON review_requests(pull_request_id);

CREATE TABLE IF NOT EXISTS reactions (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	subject_kind TEXT NOT NULL,
	actor_id TEXT,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reactions_subject ON reactions(subject_id);

CREATE TABLE IF NOT EXISTS issue_status_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_id TEXT NOT NULL,
	status TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	source TEXT NOT NULL,
	UNIQUE(issue_id, status, occurred_at, source)
);
CREATE INDEX IF NOT EXISTS idx_issue_status_history_issue ON issue_status_history(issue_id);

CREATE TABLE IF NOT EXISTS activity_items (
	id TEXT PRIMARY KEY,
	item_type TEXT NOT NULL,
	repository_id TEXT NOT NULL,
	repository TEXT NOT NULL,
	number INTEGER NOT NULL,
	title TEXT NOT NULL,
	state TEXT NOT NULL,
	url TEXT NOT NULL,
	author_login TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	closed_at TIMESTAMP,
	merged_at TIMESTAMP,
	is_draft BOOLEAN NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	status_source TEXT NOT NULL,
	status_locked BOOLEAN NOT NULL DEFAULT 0,
	status_updated_at TIMESTAMP,
	comment_count INTEGER NOT NULL DEFAULT 0,
	reaction_count INTEGER NOT NULL DEFAULT 0,
	linked_issue_count INTEGER NOT NULL DEFAULT 0,
	linked_item_ids TEXT NOT NULL DEFAULT '[]',
	assignees TEXT NOT NULL DEFAULT '[]',
	reviewers TEXT NOT NULL DEFAULT '[]',
	mentioned_users TEXT NOT NULL DEFAULT '[]',
	commenters TEXT NOT NULL DEFAULT '[]',
	reactors TEXT NOT NULL DEFAULT '[]',
	project_history TEXT NOT NULL DEFAULT '[]',
	overrides TEXT NOT NULL DEFAULT '{}',
	snapshot_inserted_at TIMESTAMP NOT NULL,
	snapshot_updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_items_repository ON activity_items(repository_id);

CREATE TABLE IF NOT EXISTS project_field_overrides (
	issue_id TEXT PRIMARY KEY,
	priority TEXT,
	priority_updated_at TIMESTAMP,
	weight TEXT,
	weight_updated_at TIMESTAMP,
	initiation_options TEXT,
	initiation_options_updated_at TIMESTAMP,
	start_date TEXT,
	start_date_updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mention_classifications (
	comment_id TEXT NOT NULL,
	mentioned_login TEXT NOT NULL,
	requires_response BOOLEAN,
	model TEXT NOT NULL DEFAULT '',
	last_evaluated_at TIMESTAMP,
	manual_state TEXT,
	manual_updated_at TIMESTAMP,
	PRIMARY KEY (comment_id, mentioned_login)
);

CREATE TABLE IF NOT EXISTS sync_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	config TEXT NOT NULL,
	last_successful_sync_at TIMESTAMP,
	last_sync_started_at TIMESTAMP,
	last_sync_status TEXT NOT NULL DEFAULT '',
	last_sync_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS automation_state (
	job_key TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	trigger TEXT NOT NULL DEFAULT '',
	sync_watermark TIMESTAMP,
	metadata TEXT NOT NULL DEFAULT '{}',
	error TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_watermarks (
	repository_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	watermark TIMESTAMP NOT NULL,
	PRIMARY KEY (repository_id, kind)
);

CREATE TABLE IF NOT EXISTS advisory_locks (
	key TEXT PRIMARY KEY,
	holder TEXT NOT NULL,
	acquired_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
`

// utc normalizes timestamps before they are bound so stored text compares
// and orders consistently.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrEmpty(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
