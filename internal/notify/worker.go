package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/pagewatch/internal/pkg/metrics"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	NumDeliverers     int
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:         100,
		PollInterval:      2 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        2 * time.Minute,
		BackoffMultiplier: 2.0,
		NumDeliverers:     5,
	}
}

// Worker runs the notification pipeline's two loops: a single change
// pump that consumes the change feed in per-incident commit order, and
// a pool of deliverers draining the push queue. The pump is one
// goroutine on purpose: per-incident ordering must survive here, while
// delivery order across devices does not matter.
type Worker struct {
	config     WorkerConfig
	repo       Repository
	notifier   *Notifier
	dispatcher *Dispatcher

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a new notification worker.
func NewWorker(config WorkerConfig, repo Repository, notifier *Notifier, dispatcher *Dispatcher) *Worker {
	return &Worker{
		config:     config,
		repo:       repo,
		notifier:   notifier,
		dispatcher: dispatcher,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the pump and deliverer goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"deliverers", w.config.NumDeliverers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
	)

	w.wg.Add(1)
	go w.runPump(ctx)

	for i := 0; i < w.config.NumDeliverers; i++ {
		w.wg.Add(1)
		go w.runDeliverer(ctx, i)
	}
}

// Stop gracefully stops all goroutines.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("notification worker stopped")
}

func (w *Worker) runPump(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.pumpChanges(ctx)
		}
	}
}

func (w *Worker) pumpChanges(ctx context.Context) {
	changes, err := w.repo.FetchUnprocessedChanges(ctx, w.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch change events", "error", err)
		return
	}

	// Ordering only binds within an incident: on failure skip the
	// rest of that incident's changes and let the next tick retry,
	// while other incidents keep draining.
	stalled := make(map[string]struct{})
	for _, ev := range changes {
		if _, skip := stalled[ev.IncidentID]; skip {
			continue
		}
		if err := w.notifier.Process(ctx, ev); err != nil {
			slog.Error("failed to process change event",
				"incident_id", ev.IncidentID,
				"seq", ev.Seq,
				"error", err,
			)
			stalled[ev.IncidentID] = struct{}{}
		}
	}

	if pending, err := w.repo.CountUnprocessedChanges(ctx); err == nil {
		metrics.ChangeFeedPending.Set(float64(pending))
	}
}

func (w *Worker) runDeliverer(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.deliverBatch(ctx, workerID)
		}
	}
}

func (w *Worker) deliverBatch(ctx context.Context, workerID int) {
	items, err := w.repo.FetchPendingPushes(ctx, w.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch pending pushes", "worker", workerID, "error", err)
		return
	}

	if len(items) == 0 {
		return
	}

	slog.Debug("delivering pushes", "worker", workerID, "count", len(items))

	for _, item := range items {
		w.deliverItem(ctx, item)
	}

	if stats, err := w.repo.QueueStats(ctx); err == nil {
		RecordQueueStats(stats)
	}
}

func (w *Worker) deliverItem(ctx context.Context, item *QueueItem) {
	start := time.Now()

	push := Push{
		DeviceToken: item.DeviceToken,
		Content:     item.Content,
	}

	err := w.dispatcher.Send(ctx, item.Platform, push)
	duration := time.Since(start)

	if err != nil {
		w.handleSendError(ctx, item, err)
		return
	}

	if err := w.repo.MarkAsSent(ctx, item.ID); err != nil {
		slog.Error("failed to mark as sent", "item_id", item.ID, "error", err)
	}

	recordPushSent(string(item.Platform), "success")
	recordPushDuration(string(item.Platform), duration)

	slog.Debug("push delivered",
		"item_id", item.ID,
		"platform", item.Platform,
		"kind", item.Kind,
		"duration", duration,
	)
}

func (w *Worker) handleSendError(ctx context.Context, item *QueueItem, err error) {
	slog.Warn("push delivery failed",
		"item_id", item.ID,
		"attempt", item.Attempts+1,
		"max_attempts", item.MaxAttempts,
		"error", err,
	)

	if !isRetryable(err) {
		if markErr := w.repo.MarkAsFailed(ctx, item.ID, err); markErr != nil {
			slog.Error("failed to mark as failed", "item_id", item.ID, "error", markErr)
		}
		recordPushSent(string(item.Platform), "failed")
		return
	}

	if item.Attempts+1 >= item.MaxAttempts {
		if markErr := w.repo.MarkAsFailed(ctx, item.ID, fmt.Errorf("max attempts exceeded: %w", err)); markErr != nil {
			slog.Error("failed to mark as failed", "item_id", item.ID, "error", markErr)
		}
		recordPushSent(string(item.Platform), "failed")
		return
	}

	nextAttempt := w.calculateNextAttempt(item.Attempts + 1)
	if markErr := w.repo.MarkForRetry(ctx, item.ID, err, nextAttempt); markErr != nil {
		slog.Error("failed to mark for retry", "item_id", item.ID, "error", markErr)
	}
	recordPushSent(string(item.Platform), "retry")
}

func (w *Worker) calculateNextAttempt(attempt int) time.Time {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
	}

	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	return time.Now().Add(time.Duration(backoff))
}
