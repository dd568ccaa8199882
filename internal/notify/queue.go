package notify

import (
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
)

// QueueStatus represents the status of a push queue item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueItem is one push delivery waiting in the queue: one device, one
// classified change.
type QueueItem struct {
	ID            string
	IncidentID    string
	Kind          Kind
	Responder     string
	DeviceToken   string
	Platform      domain.Platform
	Content       Content
	Status        QueueStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
}

// QueueStats holds queue size by status.
type QueueStats struct {
	Pending    int
	Processing int
	Sent       int
	Failed     int
}
