package incident

import (
	"context"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
)

// ChangeType classifies a persisted mutation.
type ChangeType string

// Change types.
const (
	ChangeInsert ChangeType = "insert"
	ChangeModify ChangeType = "modify"
	ChangeRemove ChangeType = "remove"
)

// ChangeEvent describes one committed mutation of an incident. Events
// are written in the same transaction as the mutation they describe, so
// per-incident ordering (Seq) matches commit order. The notifier and
// the live stream both consume this shape; neither depends on how the
// feed is persisted.
type ChangeEvent struct {
	ID          int64                 `json:"id"`
	IncidentID  string                `json:"incident_id"`
	Seq         int                   `json:"seq"`
	Type        ChangeType            `json:"type"`
	BeforeState *domain.IncidentState `json:"before_state,omitempty"`
	AfterState  *domain.IncidentState `json:"after_state,omitempty"`
	Severity    domain.Severity       `json:"severity"`
	TeamID      string                `json:"team_id"`
	AlarmName   string                `json:"alarm_name"`
	AssignedTo  string                `json:"assigned_to"`
	Actor       string                `json:"actor"`
	IsGame      bool                  `json:"is_game"`
	ChangedAt   time.Time             `json:"changed_at"`
}

// ChangeListener receives committed change events in-process.
// Implementations must not block: the store publishes on the request
// path after commit.
type ChangeListener interface {
	OnChange(ctx context.Context, ev ChangeEvent)
}
