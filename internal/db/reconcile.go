package db

import (
	"context"
	"fmt"
	"strings"
)

// notInClause builds "col NOT IN (?, ?, ...)" for a keep list. An empty keep
// list matches every row.
func notInClause(col string, keep []string) (string, []any) {
	if len(keep) == 0 {
		return "1 = 1", nil
	}
	args := make([]any, len(keep))
	for i, id := range keep {
		args[i] = id
	}
	return col + " NOT IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(keep)), ", ") + ")", args
}

// DeleteCommentsNotIn removes comments of parentID whose IDs are absent from
// keep, together with their reactions, mentions and mention classifications.
// It returns the number of comments removed.
func (db *DB) DeleteCommentsNotIn(ctx context.Context, parentID string, keep []string) (int, error) {
	clause, keepArgs := notInClause("id", keep)
	args := append([]any{parentID}, keepArgs...)
	stale := `SELECT id FROM comments WHERE parent_id = ? AND ` + clause

	children := []string{
		`DELETE FROM reactions WHERE subject_kind = 'comment' AND subject_id IN (` + stale + `)`,
		`DELETE FROM comment_mentions WHERE comment_id IN (` + stale + `)`,
		`DELETE FROM mention_classifications WHERE comment_id IN (` + stale + `)`,
	}
	for _, q := range children {
		if _, err := db.q.ExecContext(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("failed to delete comment children: %w", err)
		}
	}

	res, err := db.q.ExecContext(ctx, `DELETE FROM comments WHERE parent_id = ? AND `+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete comments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted comments: %w", err)
	}
	return int(n), nil
}

// DeleteReactionsNotIn removes reactions on subjectID whose IDs are absent from keep
func (db *DB) DeleteReactionsNotIn(ctx context.Context, subjectID string, keep []string) (int, error) {
	clause, keepArgs := notInClause("id", keep)
	args := append([]any{subjectID}, keepArgs...)
	res, err := db.q.ExecContext(ctx, `DELETE FROM reactions WHERE subject_id = ? AND `+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted reactions: %w", err)
	}
	return int(n), nil
}

// DeleteReviewRequestsNotIn removes review requests of a pull request that
// are no longer standing upstream
func (db *DB) DeleteReviewRequestsNotIn(ctx context.Context, pullRequestID string, keep []string) (int, error) {
	clause, keepArgs := notInClause("id", keep)
	args := append([]any{pullRequestID}, keepArgs...)
	res, err := db.q.ExecContext(ctx, `DELETE FROM review_requests WHERE pull_request_id = ? AND `+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete review requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted review requests: %w", err)
	}
	return int(n), nil
}
