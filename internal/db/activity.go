package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wesm/github-activity-digest/internal/models"
)

// inFilter builds "AND col IN (...)" when ids is non-nil. A non-nil empty
// slice matches nothing.
func inFilter(col string, ids []string) (string, []any) {
	if ids == nil {
		return "", nil
	}
	if len(ids) == 0 {
		return " AND 1 = 0", nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return " AND " + col + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", args
}

// ActivitySource is the base row of one issue, pull request or discussion
// before status and aggregates are resolved
type ActivitySource struct {
	ID           string
	Type         models.ItemType
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
}

// ActivitySources loads base rows for the given item IDs, or for every item
// when ids is nil. Each table is read with the same projection so the three
// result sets combine into one list.
func (db *DB) ActivitySources(ctx context.Context, ids []string) ([]ActivitySource, error) {
	tables := []struct {
		typ    models.ItemType
		table  string
		merged string
		draft  string
	}{
		{models.ItemIssue, "issues", "NULL", "0"},
		{models.ItemPullRequest, "pull_requests", "t.merged_at", "t.is_draft"},
		{models.ItemDiscussion, "discussions", "NULL", "0"},
	}

	var out []ActivitySource
	for _, tbl := range tables {
		filter, args := inFilter("t.id", ids)
		query := fmt.Sprintf(`
		SELECT t.id, t.repository_id, COALESCE(r.full_name, ''), t.number, t.title, t.state, t.url,
			COALESCE(a.login, ''), t.created_at, t.updated_at, t.closed_at, %s, %s
		FROM %s t
		LEFT JOIN repositories r ON r.id = t.repository_id
		LEFT JOIN actors a ON a.id = t.author_id
		WHERE 1 = 1%s
		ORDER BY t.id
		`, tbl.merged, tbl.draft, tbl.table, filter)

		rows, err := db.q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", tbl.table, err)
		}
		for rows.Next() {
			src := ActivitySource{Type: tbl.typ}
			var closed sql.NullTime
			var merged any
			if err := rows.Scan(&src.ID, &src.RepositoryID, &src.Repository, &src.Number, &src.Title, &src.State,
				&src.URL, &src.AuthorLogin, &src.CreatedAt, &src.UpdatedAt, &closed, &merged, &src.IsDraft); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s row: %w", tbl.table, err)
			}
			src.CreatedAt = src.CreatedAt.UTC()
			src.UpdatedAt = src.UpdatedAt.UTC()
			src.ClosedAt = timePtr(closed)
			if t, ok := merged.(time.Time); ok {
				t = t.UTC()
				src.MergedAt = &t
			}
			out = append(out, src)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// pairs runs a two-column (key, value) query and groups values by key
func (db *DB) pairs(ctx context.Context, query string, args ...any) (map[string][]string, error) {
	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = append(out[k], v)
	}
	return out, rows.Err()
}

// ActivityAggregates holds per-item participant lists and counts. Lists may
// contain duplicates; the materializer normalizes them.
type ActivityAggregates struct {
	Assignees  map[string][]string
	Reviewers  map[string][]string
	Mentions   map[string][]string
	Commenters map[string][]string
	CommentIDs map[string][]string
	Reactors   map[string][]string
	Reactions  map[string][]string
	Linked     map[string][]string
}

// LoadActivityAggregates loads participant data for the given items, or for
// every item when ids is nil
func (db *DB) LoadActivityAggregates(ctx context.Context, ids []string) (*ActivityAggregates, error) {
	var agg ActivityAggregates
	var err error

	f, args := inFilter("ia.item_id", ids)
	if agg.Assignees, err = db.pairs(ctx, `
	SELECT ia.item_id, a.login FROM item_assignees ia JOIN actors a ON a.id = ia.actor_id WHERE 1 = 1`+f, args...); err != nil {
		return nil, fmt.Errorf("failed to load assignees: %w", err)
	}

	f1, args1 := inFilter("rr.pull_request_id", ids)
	f2, args2 := inFilter("rv.pull_request_id", ids)
	if agg.Reviewers, err = db.pairs(ctx, `
	SELECT rr.pull_request_id, rr.reviewer_login FROM review_requests rr WHERE 1 = 1`+f1+`
	UNION ALL
	SELECT rv.pull_request_id, a.login FROM reviews rv JOIN actors a ON a.id = rv.author_id WHERE 1 = 1`+f2,
		append(args1, args2...)...); err != nil {
		return nil, fmt.Errorf("failed to load reviewers: %w", err)
	}

	f, args = inFilter("c.parent_id", ids)
	if agg.Mentions, err = db.pairs(ctx, `
	SELECT c.parent_id, m.login FROM comment_mentions m JOIN comments c ON c.id = m.comment_id WHERE 1 = 1`+f, args...); err != nil {
		return nil, fmt.Errorf("failed to load mentions: %w", err)
	}
	if agg.Commenters, err = db.pairs(ctx, `
	SELECT c.parent_id, a.login FROM comments c JOIN actors a ON a.id = c.author_id WHERE 1 = 1`+f, args...); err != nil {
		return nil, fmt.Errorf("failed to load commenters: %w", err)
	}
	if agg.CommentIDs, err = db.pairs(ctx, `SELECT c.parent_id, c.id FROM comments c WHERE 1 = 1`+f, args...); err != nil {
		return nil, fmt.Errorf("failed to load comments: %w", err)
	}

	f1, args1 = inFilter("r.subject_id", ids)
	f2, args2 = inFilter("c.parent_id", ids)
	reactionRows := `
	SELECT r.subject_id AS item_id, r.id AS reaction_id, COALESCE(a.login, '') AS login
	FROM reactions r LEFT JOIN actors a ON a.id = r.actor_id
	WHERE r.subject_kind != 'comment'` + f1 + `
	UNION ALL
	SELECT c.parent_id, r.id, COALESCE(a.login, '')
	FROM reactions r JOIN comments c ON c.id = r.subject_id LEFT JOIN actors a ON a.id = r.actor_id
	WHERE r.subject_kind = 'comment'` + f2
	reactionArgs := append(args1, args2...)
	if agg.Reactions, err = db.pairs(ctx, `SELECT item_id, reaction_id FROM (`+reactionRows+`)`, reactionArgs...); err != nil {
		return nil, fmt.Errorf("failed to load reactions: %w", err)
	}
	if agg.Reactors, err = db.pairs(ctx, `SELECT item_id, login FROM (`+reactionRows+`) WHERE login != ''`, reactionArgs...); err != nil {
		return nil, fmt.Errorf("failed to load reactors: %w", err)
	}

	f1, args1 = inFilter("l.issue_id", ids)
	f2, args2 = inFilter("l.pull_request_id", ids)
	if agg.Linked, err = db.pairs(ctx, `
	SELECT l.issue_id, l.pull_request_id FROM pull_request_issues l WHERE 1 = 1`+f1+`
	UNION ALL
	SELECT l.pull_request_id, l.issue_id FROM pull_request_issues l WHERE 1 = 1`+f2,
		append(args1, args2...)...); err != nil {
		return nil, fmt.Errorf("failed to load linked items: %w", err)
	}

	return &agg, nil
}

// TruncateActivityItems removes every materialized row
func (db *DB) TruncateActivityItems(ctx context.Context) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM activity_items`); err != nil {
		return fmt.Errorf("failed to truncate activity items: %w", err)
	}
	return nil
}

// DeleteActivityItems removes materialized rows whose source item is gone
func (db *DB) DeleteActivityItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	f, args := inFilter("id", ids)
	if _, err := db.q.ExecContext(ctx, `DELETE FROM activity_items WHERE 1 = 1`+f, args...); err != nil {
		return fmt.Errorf("failed to delete activity items: %w", err)
	}
	return nil
}

// DeleteActivityItemsNotIn removes materialized rows whose IDs are absent
// from keep and returns how many were removed
func (db *DB) DeleteActivityItemsNotIn(ctx context.Context, keep []string) (int, error) {
	clause, args := notInClause("id", keep)
	res, err := db.q.ExecContext(ctx, `DELETE FROM activity_items WHERE `+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale activity items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func marshalList(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UpsertActivityItem writes a materialized row. On conflict every derived
// column is replaced; snapshot_inserted_at keeps its first value.
func (db *DB) UpsertActivityItem(ctx context.Context, item *models.ActivityItem) error {
	lists := []any{item.LinkedItemIDs, item.Assignees, item.Reviewers, item.MentionedUsers,
		item.Commenters, item.Reactors, item.ProjectHistory, item.Overrides}
	encoded := make([]any, len(lists))
	for i, l := range lists {
		s, err := marshalList(l)
		if err != nil {
			return fmt.Errorf("failed to encode activity item %s: %w", item.ID, err)
		}
		encoded[i] = s
	}

	query := `
	INSERT INTO activity_items (id, item_type, repository_id, repository, number, title, state, url, author_login,
		created_at, updated_at, closed_at, merged_at, is_draft,
		status, status_source, status_locked, status_updated_at,
		comment_count, reaction_count, linked_issue_count,
		linked_item_ids, assignees, reviewers, mentioned_users, commenters, reactors, project_history, overrides,
		snapshot_inserted_at, snapshot_updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		item_type = excluded.item_type,
		repository_id = excluded.repository_id,
		repository = excluded.repository,
		number = excluded.number,
		title = excluded.title,
		state = excluded.state,
		url = excluded.url,
		author_login = excluded.author_login,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		closed_at = excluded.closed_at,
		merged_at = excluded.merged_at,
		is_draft = excluded.is_draft,
		status = excluded.status,
		status_source = excluded.status_source,
		status_locked = excluded.status_locked,
		status_updated_at = excluded.status_updated_at,
		comment_count = excluded.comment_count,
		reaction_count = excluded.reaction_count,
		linked_issue_count = excluded.linked_issue_count,
		linked_item_ids = excluded.linked_item_ids,
		assignees = excluded.assignees,
		reviewers = excluded.reviewers,
		mentioned_users = excluded.mentioned_users,
		commenters = excluded.commenters,
		reactors = excluded.reactors,
		project_history = excluded.project_history,
		overrides = excluded.overrides,
		snapshot_updated_at = excluded.snapshot_updated_at
	`
	args := []any{item.ID, string(item.Type), item.RepositoryID, item.Repository, item.Number, item.Title,
		item.State, item.URL, item.AuthorLogin, utc(item.CreatedAt), utc(item.UpdatedAt),
		nullTime(item.ClosedAt), nullTime(item.MergedAt), item.IsDraft,
		string(item.Status), string(item.StatusSource), item.StatusLocked, nullTime(item.StatusUpdatedAt),
		item.CommentCount, item.ReactionCount, item.LinkedIssueCount}
	args = append(args, encoded...)
	args = append(args, utc(item.SnapshotInsertedAt), utc(item.SnapshotUpdatedAt))

	if _, err := db.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert activity item %s: %w", item.ID, err)
	}
	return nil
}

const activityColumns = `id, item_type, repository_id, repository, number, title, state, url, author_login,
	created_at, updated_at, closed_at, merged_at, is_draft,
	status, status_source, status_locked, status_updated_at,
	comment_count, reaction_count, linked_issue_count,
	linked_item_ids, assignees, reviewers, mentioned_users, commenters, reactors, project_history, overrides,
	snapshot_inserted_at, snapshot_updated_at`

func scanActivityItem(row interface{ Scan(...any) error }) (*models.ActivityItem, error) {
	var item models.ActivityItem
	var typ, status, source string
	var closed, merged, statusAt sql.NullTime
	var lists [8]string
	err := row.Scan(&item.ID, &typ, &item.RepositoryID, &item.Repository, &item.Number, &item.Title, &item.State,
		&item.URL, &item.AuthorLogin, &item.CreatedAt, &item.UpdatedAt, &closed, &merged, &item.IsDraft,
		&status, &source, &item.StatusLocked, &statusAt,
		&item.CommentCount, &item.ReactionCount, &item.LinkedIssueCount,
		&lists[0], &lists[1], &lists[2], &lists[3], &lists[4], &lists[5], &lists[6], &lists[7],
		&item.SnapshotInsertedAt, &item.SnapshotUpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Type = models.ItemType(typ)
	item.Status = models.Status(status)
	item.StatusSource = models.StatusSource(source)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	item.ClosedAt = timePtr(closed)
	item.MergedAt = timePtr(merged)
	item.StatusUpdatedAt = timePtr(statusAt)
	item.SnapshotInsertedAt = item.SnapshotInsertedAt.UTC()
	item.SnapshotUpdatedAt = item.SnapshotUpdatedAt.UTC()

	targets := []any{&item.LinkedItemIDs, &item.Assignees, &item.Reviewers, &item.MentionedUsers,
		&item.Commenters, &item.Reactors, &item.ProjectHistory, &item.Overrides}
	for i, t := range targets {
		if err := json.Unmarshal([]byte(lists[i]), t); err != nil {
			return nil, fmt.Errorf("failed to decode activity item %s: %w", item.ID, err)
		}
	}
	return &item, nil
}

// GetActivityItem loads one materialized item
func (db *DB) GetActivityItem(ctx context.Context, id string) (*models.ActivityItem, error) {
	item, err := scanActivityItem(db.q.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activity_items WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get activity item: %w", err)
	}
	return item, nil
}

// ActivityFilter narrows a listing of activity items
type ActivityFilter struct {
	RepositoryID string
	Type         models.ItemType
	Status       models.Status
	// OpenOnly keeps items that are neither closed nor merged
	OpenOnly bool
	// ClosedOnly keeps items that are closed or merged
	ClosedOnly bool
	Search     string
	Assignee   string
	// IDs restricts the listing when non-nil
	IDs []string
}

func (f ActivityFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.RepositoryID != "" {
		conds = append(conds, "repository_id = ?")
		args = append(args, f.RepositoryID)
	}
	if f.Type != "" {
		conds = append(conds, "item_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.OpenOnly {
		conds = append(conds, "closed_at IS NULL AND merged_at IS NULL")
	}
	if f.ClosedOnly {
		conds = append(conds, "(closed_at IS NOT NULL OR merged_at IS NOT NULL)")
	}
	if f.Search != "" {
		conds = append(conds, "title LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	if f.Assignee != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(activity_items.assignees) WHERE value = ?)")
		args = append(args, f.Assignee)
	}
	where := "WHERE 1 = 1"
	if len(conds) > 0 {
		where += " AND " + strings.Join(conds, " AND ")
	}
	idFilter, idArgs := inFilter("id", f.IDs)
	return where + idFilter, append(args, idArgs...)
}

// ListActivityItems returns one page of materialized items, most recently
// updated first, plus the total number of matching rows. A limit <= 0
// returns every match.
func (db *DB) ListActivityItems(ctx context.Context, f ActivityFilter, limit, offset int) ([]models.ActivityItem, int, error) {
	where, args := f.where()

	var total int
	if err := db.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_items `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count activity items: %w", err)
	}

	query := `SELECT ` + activityColumns + ` FROM activity_items ` + where + ` ORDER BY updated_at DESC, id`
	pageArgs := args
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		pageArgs = append(append([]any{}, args...), limit, offset)
	}
	rows, err := db.q.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list activity items: %w", err)
	}
	defer rows.Close()

	var items []models.ActivityItem
	for rows.Next() {
		item, err := scanActivityItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan activity item: %w", err)
		}
		items = append(items, *item)
	}
	return items, total, rows.Err()
}
