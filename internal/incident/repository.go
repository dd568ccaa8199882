// Package incident implements the authoritative incident state machine.
//
// All mutations go through conditional writes: a transition only
// applies if the incident's current state matches the transition's
// precondition at apply time. Concurrent attempts on the same incident
// resolve to exactly one success, the rest receive ErrStateConflict.
package incident

import (
	"context"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
)

// StateCond is the precondition a transition places on the current state.
type StateCond string

// Preconditions.
const (
	CondTriggered StateCond = "triggered" // state must be exactly triggered
	CondAcked     StateCond = "acked"     // state must be exactly acked
	CondActive    StateCond = "active"    // any state except resolved
)

// Admits reports whether the condition holds for the given state.
func (c StateCond) Admits(s domain.IncidentState) bool {
	switch c {
	case CondTriggered:
		return s == domain.IncidentStateTriggered
	case CondAcked:
		return s == domain.IncidentStateAcked
	case CondActive:
		return s != domain.IncidentStateResolved
	}
	return false
}

// Transition describes one conditional state change.
type Transition struct {
	IncidentID string
	Cond       StateCond
	To         domain.IncidentState
	Kind       domain.TimelineKind
	Actor      string
	Note       string
	ExpiresAt  *time.Time // set on the incident when the transition applies
}

// Filters holds filter options for listing incidents.
type Filters struct {
	TeamID     string
	State      *domain.IncidentState
	ActiveOnly bool // triggered or acked
	History    bool // resolved only
	IsGame     *bool
	Limit      int
	Offset     int
}

// Repository defines the interface for incident storage. Mutating
// operations persist the incident, its timeline entry and the change
// event atomically and return the committed change event.
type Repository interface {
	Create(ctx context.Context, inc *domain.Incident, actor string) (*ChangeEvent, error)
	Get(ctx context.Context, id string) (*domain.Incident, error)
	List(ctx context.Context, filters Filters) ([]*domain.Incident, error)
	Timeline(ctx context.Context, incidentID string) ([]domain.TimelineEntry, error)

	// Apply performs a conditional transition. Returns ErrIncidentNotFound
	// or ErrStateConflict when the precondition does not hold.
	Apply(ctx context.Context, t Transition) (*domain.Incident, *ChangeEvent, error)

	// Reassign changes the assignee without touching state.
	Reassign(ctx context.Context, id, actor, newResponder string) (*domain.Incident, *ChangeEvent, error)

	// CountTriggeredByAssignee is the live badge-count read.
	CountTriggeredByAssignee(ctx context.Context, responder string) (int, error)

	// DeleteGameIncidents removes all game-flagged incidents, recording
	// remove change events. Returns the number of deleted incidents.
	DeleteGameIncidents(ctx context.Context) (int64, error)

	// DeleteExpired removes incidents whose expiry marker has passed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
