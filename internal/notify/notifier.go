package notify

import (
	"context"
	"fmt"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/incident"
	"github.com/bissquit/pagewatch/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// DeviceResolver resolves a responder's registered push targets.
type DeviceResolver interface {
	DevicesFor(ctx context.Context, responder string) ([]*domain.DeviceRegistration, error)
}

// BadgeCounter reads a responder's live unacknowledged-incident count.
type BadgeCounter interface {
	UnackedCount(ctx context.Context, responder string) (int, error)
}

// Notifier classifies change events and turns them into queued push
// deliveries for the assignee's devices.
type Notifier struct {
	repo        Repository
	devices     DeviceResolver
	badges      BadgeCounter
	maxAttempts int
}

// NewNotifier creates a new Notifier.
func NewNotifier(repo Repository, devices DeviceResolver, badges BadgeCounter, maxAttempts int) *Notifier {
	return &Notifier{
		repo:        repo,
		devices:     devices,
		badges:      badges,
		maxAttempts: maxAttempts,
	}
}

// Process handles one change event: classify, resolve target devices,
// read the badge count, enqueue one push per device and mark the change
// processed — all such that the change is consumed exactly once even
// under redelivery.
func (n *Notifier) Process(ctx context.Context, ev *incident.ChangeEvent) error {
	kind := Classify(ev)
	recordChangeClassified(string(kind))

	if kind == KindNone {
		// Still consume the change so the cursor advances.
		_, err := n.repo.CompleteChange(ctx, ev, nil)
		if err != nil {
			return fmt.Errorf("complete change: %w", err)
		}
		return nil
	}

	items, err := n.buildItems(ctx, kind, ev)
	if err != nil {
		return err
	}

	skipped, err := n.repo.CompleteChange(ctx, ev, items)
	if err != nil {
		return fmt.Errorf("complete change: %w", err)
	}
	if skipped {
		ctxlog.FromContext(ctx).Debug("change already processed, skipping",
			"incident_id", ev.IncidentID,
			"seq", ev.Seq,
		)
		return nil
	}

	recordPushesEnqueued(string(kind), len(items))
	return nil
}

func (n *Notifier) buildItems(ctx context.Context, kind Kind, ev *incident.ChangeEvent) ([]*QueueItem, error) {
	log := ctxlog.FromContext(ctx)

	devices, err := n.devices.DevicesFor(ctx, ev.AssignedTo)
	if err != nil {
		return nil, fmt.Errorf("resolve devices: %w", err)
	}
	if len(devices) == 0 {
		log.Info("no registered devices, skipping push",
			"incident_id", ev.IncidentID,
			"responder", ev.AssignedTo,
			"kind", kind,
		)
		return nil, nil
	}

	content := BuildContent(kind, ev)
	badge, err := n.badges.UnackedCount(ctx, ev.AssignedTo)
	if err != nil {
		// Badge is best-effort; the notification itself still goes out.
		log.Warn("badge count read failed", "responder", ev.AssignedTo, "error", err)
	} else {
		content.Badge = badge
	}

	items := make([]*QueueItem, 0, len(devices))
	for _, dev := range devices {
		items = append(items, &QueueItem{
			ID:          uuid.NewString(),
			IncidentID:  ev.IncidentID,
			Kind:        kind,
			Responder:   dev.Responder,
			DeviceToken: dev.Token,
			Platform:    dev.Platform,
			Content:     content,
			Status:      QueueStatusPending,
			MaxAttempts: n.maxAttempts,
		})
	}
	return items, nil
}
