package notify

import (
	"context"
	"time"

	"github.com/bissquit/pagewatch/internal/incident"
)

// Repository defines the interface for the change feed cursor and the
// push queue.
type Repository interface {
	// FetchUnprocessedChanges returns committed change events not yet
	// handed to the queue, ordered by (incident id, seq) so each
	// incident's changes arrive in commit order.
	FetchUnprocessedChanges(ctx context.Context, limit int) ([]*incident.ChangeEvent, error)

	// CompleteChange marks the change processed and enqueues its push
	// items in one transaction. A change already marked processed is
	// skipped without enqueueing (redelivery dedupe); skipped reports
	// that outcome.
	CompleteChange(ctx context.Context, ev *incident.ChangeEvent, items []*QueueItem) (skipped bool, err error)

	// FetchPendingPushes claims due pending items for delivery.
	FetchPendingPushes(ctx context.Context, limit int) ([]*QueueItem, error)

	MarkAsSent(ctx context.Context, itemID string) error
	MarkForRetry(ctx context.Context, itemID string, cause error, nextAttemptAt time.Time) error
	MarkAsFailed(ctx context.Context, itemID string, cause error) error

	QueueStats(ctx context.Context) (*QueueStats, error)

	// CountUnprocessedChanges backs the change-feed lag gauge.
	CountUnprocessedChanges(ctx context.Context) (int, error)
}
