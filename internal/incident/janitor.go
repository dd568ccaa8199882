package incident

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Janitor periodically deletes incidents past their expiry marker.
type Janitor struct {
	service  *Service
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewJanitor creates a janitor sweeping at the given interval.
func NewJanitor(service *Service, interval time.Duration) *Janitor {
	return &Janitor{
		service:  service,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (j *Janitor) Start(ctx context.Context) {
	slog.Info("starting incident janitor", "interval", j.interval)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-j.stopCh:
				return
			case <-ticker.C:
				j.sweep(ctx)
			}
		}
	}()
}

// Stop gracefully stops the janitor.
func (j *Janitor) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	slog.Info("incident janitor stopped")
}

func (j *Janitor) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := j.service.SweepExpired(sweepCtx)
	if err != nil {
		slog.Error("expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("expired incidents deleted", "count", n)
	}
}
