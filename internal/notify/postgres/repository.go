// Package postgres provides PostgreSQL storage for the change-feed
// cursor and the push queue.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/pagewatch/internal/incident"
	"github.com/bissquit/pagewatch/internal/notify"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements notify.Repository backed by PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new notify repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FetchUnprocessedChanges returns unconsumed change events ordered by
// (incident_id, seq). Incident-major ordering keeps each incident's
// changes in commit order inside one batch.
func (r *Repository) FetchUnprocessedChanges(ctx context.Context, limit int) ([]*incident.ChangeEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, incident_id, seq, change_type, before_state, after_state,
		       severity, team_id, alarm_name, assigned_to, actor, is_game, changed_at
		FROM incident_changes
		WHERE processed_at IS NULL
		ORDER BY incident_id, seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch changes: %w", err)
	}
	defer rows.Close()

	var events []*incident.ChangeEvent
	for rows.Next() {
		ev := &incident.ChangeEvent{}
		err := rows.Scan(
			&ev.ID, &ev.IncidentID, &ev.Seq, &ev.Type, &ev.BeforeState, &ev.AfterState,
			&ev.Severity, &ev.TeamID, &ev.AlarmName, &ev.AssignedTo, &ev.Actor, &ev.IsGame, &ev.ChangedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CompleteChange marks the change processed and enqueues its push items
// atomically. The conditional UPDATE makes redelivered changes a no-op:
// whoever flips processed_at first owns the enqueue.
func (r *Repository) CompleteChange(ctx context.Context, ev *incident.ChangeEvent, items []*notify.QueueItem) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	tag, err := tx.Exec(ctx, `
		UPDATE incident_changes SET processed_at = now()
		WHERE incident_id = $1 AND seq = $2 AND processed_at IS NULL
	`, ev.IncidentID, ev.Seq)
	if err != nil {
		return false, fmt.Errorf("mark change processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return true, nil
	}

	for _, item := range items {
		content, err := json.Marshal(item.Content)
		if err != nil {
			return false, fmt.Errorf("marshal push content: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO push_queue
				(id, incident_id, kind, responder, device_token, platform,
				 content, status, attempts, max_attempts, next_attempt_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0, $8, now())
		`, item.ID, item.IncidentID, item.Kind, item.Responder,
			item.DeviceToken, item.Platform, content, item.MaxAttempts)
		if err != nil {
			return false, fmt.Errorf("enqueue push: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return false, nil
}

// FetchPendingPushes claims due pending items. SKIP LOCKED keeps
// concurrent deliverers off each other's batches.
func (r *Repository) FetchPendingPushes(ctx context.Context, limit int) ([]*notify.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE push_queue SET status = 'processing', updated_at = now()
		WHERE id IN (
			SELECT id FROM push_queue
			WHERE status = 'pending' AND next_attempt_at <= now()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, incident_id, kind, responder, device_token, platform,
		          content, status, attempts, max_attempts, next_attempt_at,
		          last_error, created_at, updated_at, sent_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending pushes: %w", err)
	}
	defer rows.Close()

	var items []*notify.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkAsSent marks an item delivered.
func (r *Repository) MarkAsSent(ctx context.Context, itemID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE push_queue
		SET status = 'sent', sent_at = now(), updated_at = now(), attempts = attempts + 1
		WHERE id = $1
	`, itemID)
	if err != nil {
		return fmt.Errorf("mark as sent: %w", err)
	}
	return nil
}

// MarkForRetry reschedules a failed item.
func (r *Repository) MarkForRetry(ctx context.Context, itemID string, cause error, nextAttemptAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE push_queue
		SET status = 'pending', attempts = attempts + 1,
		    next_attempt_at = $2, last_error = $3, updated_at = now()
		WHERE id = $1
	`, itemID, nextAttemptAt, cause.Error())
	if err != nil {
		return fmt.Errorf("mark for retry: %w", err)
	}
	return nil
}

// MarkAsFailed marks an item permanently failed.
func (r *Repository) MarkAsFailed(ctx context.Context, itemID string, cause error) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE push_queue
		SET status = 'failed', attempts = attempts + 1,
		    last_error = $2, updated_at = now()
		WHERE id = $1
	`, itemID, cause.Error())
	if err != nil {
		return fmt.Errorf("mark as failed: %w", err)
	}
	return nil
}

// QueueStats returns queue size by status.
func (r *Repository) QueueStats(ctx context.Context) (*notify.QueueStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*) FROM push_queue GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &notify.QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch notify.QueueStatus(status) {
		case notify.QueueStatusPending:
			stats.Pending = count
		case notify.QueueStatusProcessing:
			stats.Processing = count
		case notify.QueueStatusSent:
			stats.Sent = count
		case notify.QueueStatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// CountUnprocessedChanges returns the change-feed lag.
func (r *Repository) CountUnprocessedChanges(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM incident_changes WHERE processed_at IS NULL
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unprocessed changes: %w", err)
	}
	return count, nil
}

func scanItem(rows pgx.Rows) (*notify.QueueItem, error) {
	item := &notify.QueueItem{}
	var content []byte
	err := rows.Scan(
		&item.ID, &item.IncidentID, &item.Kind, &item.Responder,
		&item.DeviceToken, &item.Platform, &content, &item.Status,
		&item.Attempts, &item.MaxAttempts, &item.NextAttemptAt,
		&item.LastError, &item.CreatedAt, &item.UpdatedAt, &item.SentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan queue item: %w", err)
	}
	if err := json.Unmarshal(content, &item.Content); err != nil {
		return nil, fmt.Errorf("unmarshal push content: %w", err)
	}
	return item, nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("failed to rollback transaction", "error", err)
	}
}
