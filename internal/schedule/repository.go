// Package schedule provides team routing and on-call resolution.
package schedule

import (
	"context"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
)

// Repository defines the interface for team and schedule storage.
type Repository interface {
	CreateTeam(ctx context.Context, team *domain.Team, levels []domain.EscalationLevel) error
	GetTeam(ctx context.Context, id string) (*domain.Team, error)
	ListTeams(ctx context.Context) ([]*domain.Team, error)
	GetEscalationPolicy(ctx context.Context, teamID string) ([]domain.EscalationLevel, error)

	// FindTeamsByAccountID returns all teams owning the account id,
	// oldest first. Backed by the account_id index; never a team scan.
	FindTeamsByAccountID(ctx context.Context, accountID string) ([]*domain.Team, error)

	CreateSlot(ctx context.Context, slot *domain.ScheduleSlot) error
	DeleteSlot(ctx context.Context, teamID, slotID string) error
	ListSlots(ctx context.Context, teamID string) ([]*domain.ScheduleSlot, error)

	// FindSlotCovering returns the earliest-starting slot whose
	// [starts_at, ends_at) window contains at, or ErrSlotNotFound.
	FindSlotCovering(ctx context.Context, teamID string, at time.Time) (*domain.ScheduleSlot, error)
}
