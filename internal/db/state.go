package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/github-activity-digest/internal/models"
)

// ErrLocked is returned when an advisory lock is held by someone else
var ErrLocked = errors.New("advisory lock held")

// SeedSyncConfig stores cfg as the singleton sync config unless one exists
func (db *DB) SeedSyncConfig(ctx context.Context, cfg models.SyncConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal sync config: %w", err)
	}
	_, err = db.q.ExecContext(ctx, `INSERT INTO sync_config (id, config) VALUES (1, ?) ON CONFLICT(id) DO NOTHING`, string(data))
	if err != nil {
		return fmt.Errorf("failed to seed sync config: %w", err)
	}
	return nil
}

// SaveSyncConfig replaces the singleton sync config, keeping run state
func (db *DB) SaveSyncConfig(ctx context.Context, cfg models.SyncConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal sync config: %w", err)
	}
	_, err = db.q.ExecContext(ctx, `
	INSERT INTO sync_config (id, config) VALUES (1, ?)
	ON CONFLICT(id) DO UPDATE SET config = excluded.config
	`, string(data))
	if err != nil {
		return fmt.Errorf("failed to save sync config: %w", err)
	}
	return nil
}

// GetSyncState loads the singleton sync config and the last run outcome
func (db *DB) GetSyncState(ctx context.Context) (*models.SyncState, error) {
	var state models.SyncState
	var data string
	var success, started sql.NullTime
	err := db.q.QueryRowContext(ctx, `
	SELECT config, last_successful_sync_at, last_sync_started_at, last_sync_status, last_sync_error
	FROM sync_config WHERE id = 1
	`).Scan(&data, &success, &started, &state.LastSyncStatus, &state.LastSyncError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &state.Config); err != nil {
		return nil, fmt.Errorf("failed to parse sync config: %w", err)
	}
	state.LastSuccessfulSyncAt = timePtr(success)
	state.LastSyncStartedAt = timePtr(started)
	return &state, nil
}

// MarkSyncStarted records that a sync run began
func (db *DB) MarkSyncStarted(ctx context.Context, at time.Time) error {
	_, err := db.q.ExecContext(ctx, `
	UPDATE sync_config SET last_sync_started_at = ?, last_sync_status = ?, last_sync_error = '' WHERE id = 1
	`, utc(at), models.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to mark sync started: %w", err)
	}
	return nil
}

// MarkSyncFinished records a sync outcome. The successful-sync generation
// only moves forward on success, so dashboards keep the last good timestamp
// after a failed run.
func (db *DB) MarkSyncFinished(ctx context.Context, at time.Time, runErr error) error {
	var err error
	if runErr == nil {
		_, err = db.q.ExecContext(ctx, `
		UPDATE sync_config SET last_successful_sync_at = ?, last_sync_status = ?, last_sync_error = '' WHERE id = 1
		`, utc(at), models.RunSuccess)
	} else {
		_, err = db.q.ExecContext(ctx, `
		UPDATE sync_config SET last_sync_status = ?, last_sync_error = ? WHERE id = 1
		`, models.RunFailed, runErr.Error())
	}
	if err != nil {
		return fmt.Errorf("failed to mark sync finished: %w", err)
	}
	return nil
}

// GetAutomationState loads the cached state of an automation job; nil when
// the job never ran
func (db *DB) GetAutomationState(ctx context.Context, jobKey string) (*models.AutomationState, error) {
	var st models.AutomationState
	var watermark sql.NullTime
	var metadata string
	err := db.q.QueryRowContext(ctx, `
	SELECT job_key, status, trigger, sync_watermark, metadata, error, updated_at
	FROM automation_state WHERE job_key = ?
	`, jobKey).Scan(&st.JobKey, &st.Status, &st.Trigger, &watermark, &metadata, &st.Error, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get automation state: %w", err)
	}
	st.SyncWatermark = timePtr(watermark)
	st.Metadata = json.RawMessage(metadata)
	return &st, nil
}

// SaveAutomationState upserts the single state row of an automation job
func (db *DB) SaveAutomationState(ctx context.Context, st models.AutomationState) error {
	metadata := string(st.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	_, err := db.q.ExecContext(ctx, `
	INSERT INTO automation_state (job_key, status, trigger, sync_watermark, metadata, error, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_key) DO UPDATE SET
		status = excluded.status,
		trigger = excluded.trigger,
		sync_watermark = excluded.sync_watermark,
		metadata = excluded.metadata,
		error = excluded.error,
		updated_at = excluded.updated_at
	`, st.JobKey, st.Status, st.Trigger, nullTime(st.SyncWatermark), metadata, st.Error, utc(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save automation state: %w", err)
	}
	return nil
}

// GetWatermark returns the stored watermark for a repository and entity kind;
// zero time when none is recorded
func (db *DB) GetWatermark(ctx context.Context, repositoryID string, kind models.WatermarkKind) (time.Time, error) {
	var wm time.Time
	err := db.q.QueryRowContext(ctx,
		`SELECT watermark FROM sync_watermarks WHERE repository_id = ? AND kind = ?`, repositoryID, string(kind)).Scan(&wm)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get watermark: %w", err)
	}
	return wm.UTC(), nil
}

// AdvanceWatermark stores wm unless a later watermark is already recorded
func (db *DB) AdvanceWatermark(ctx context.Context, repositoryID string, kind models.WatermarkKind, wm time.Time) error {
	if wm.IsZero() {
		return nil
	}
	_, err := db.q.ExecContext(ctx, `
	INSERT INTO sync_watermarks (repository_id, kind, watermark) VALUES (?, ?, ?)
	ON CONFLICT(repository_id, kind) DO UPDATE SET watermark = excluded.watermark
	WHERE excluded.watermark > sync_watermarks.watermark
	`, repositoryID, string(kind), utc(wm))
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

// AcquireLock takes the named advisory lock for holder until ttl elapses.
// Expired locks are taken over. It returns ErrLocked when another holder
// has a live lock.
func (db *DB) AcquireLock(ctx context.Context, key, holder string, now time.Time, ttl time.Duration) error {
	res, err := db.q.ExecContext(ctx, `
	INSERT INTO advisory_locks (key, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		holder = excluded.holder,
		acquired_at = excluded.acquired_at,
		expires_at = excluded.expires_at
	WHERE advisory_locks.expires_at <= excluded.acquired_at OR advisory_locks.holder = excluded.holder
	`, key, holder, utc(now), utc(now.Add(ttl)))
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLocked, key)
	}
	return nil
}

// ReleaseLock drops the named lock if holder still owns it
func (db *DB) ReleaseLock(ctx context.Context, key, holder string) error {
	_, err := db.q.ExecContext(ctx, `DELETE FROM advisory_locks WHERE key = ? AND holder = ?`, key, holder)
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}
