package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// Service implements team and schedule business logic.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new schedule service.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// CreateTeamInput holds data for creating a team.
type CreateTeamInput struct {
	Name       string
	AccountIDs []string
	Escalation []EscalationLevelInput
}

// EscalationLevelInput is one declared escalation step. The policy is
// stored but never executed: no scheduler advances incidents past
// level 0.
type EscalationLevelInput struct {
	Delay  time.Duration
	Target string
}

// CreateTeam creates a team; the creator becomes its first member.
func (s *Service) CreateTeam(ctx context.Context, input CreateTeamInput, createdBy string) (*domain.Team, error) {
	team := &domain.Team{
		ID:         uuid.NewString(),
		Name:       input.Name,
		Slug:       Slugify(input.Name),
		AccountIDs: input.AccountIDs,
		Members:    []string{createdBy},
		CreatedBy:  createdBy,
	}

	levels := make([]domain.EscalationLevel, 0, len(input.Escalation))
	for i, l := range input.Escalation {
		levels = append(levels, domain.EscalationLevel{
			TeamID: team.ID,
			Level:  i,
			Delay:  l.Delay,
			Target: l.Target,
		})
	}

	if err := s.repo.CreateTeam(ctx, team, levels); err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}

	ctxlog.FromContext(ctx).Info("team created",
		"team_id", team.ID,
		"slug", team.Slug,
		"accounts", len(team.AccountIDs),
	)

	return team, nil
}

// GetTeam returns a team by id.
func (s *Service) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	return s.repo.GetTeam(ctx, id)
}

// ListTeams returns all teams.
func (s *Service) ListTeams(ctx context.Context) ([]*domain.Team, error) {
	return s.repo.ListTeams(ctx)
}

// CreateSlotInput holds data for creating a schedule slot.
type CreateSlotInput struct {
	TeamID    string
	Responder string
	StartsAt  time.Time
	EndsAt    time.Time
}

// CreateSlot adds a schedule slot. Only team members may modify the
// schedule.
func (s *Service) CreateSlot(ctx context.Context, input CreateSlotInput, caller string) (*domain.ScheduleSlot, error) {
	if !input.StartsAt.Before(input.EndsAt) {
		return nil, ErrInvalidWindow
	}

	if err := s.requireMember(ctx, input.TeamID, caller); err != nil {
		return nil, err
	}

	slot := &domain.ScheduleSlot{
		ID:        uuid.NewString(),
		TeamID:    input.TeamID,
		Responder: input.Responder,
		StartsAt:  input.StartsAt,
		EndsAt:    input.EndsAt,
	}

	if err := s.repo.CreateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}

	return slot, nil
}

// DeleteSlot removes a schedule slot.
func (s *Service) DeleteSlot(ctx context.Context, teamID, slotID, caller string) error {
	if err := s.requireMember(ctx, teamID, caller); err != nil {
		return err
	}
	return s.repo.DeleteSlot(ctx, teamID, slotID)
}

// ListSlots returns a team's full schedule.
func (s *Service) ListSlots(ctx context.Context, teamID string) ([]*domain.ScheduleSlot, error) {
	if _, err := s.repo.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	return s.repo.ListSlots(ctx, teamID)
}

// OnCall returns the responder currently on call for the team.
func (s *Service) OnCall(ctx context.Context, teamID string) (string, error) {
	if _, err := s.repo.GetTeam(ctx, teamID); err != nil {
		return "", err
	}

	slot, err := s.repo.FindSlotCovering(ctx, teamID, s.now())
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return "", ErrNoOnCall
		}
		return "", err
	}
	return slot.Responder, nil
}

func (s *Service) requireMember(ctx context.Context, teamID, caller string) error {
	team, err := s.repo.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if !team.IsMember(caller) {
		return ErrNotTeamMember
	}
	return nil
}
