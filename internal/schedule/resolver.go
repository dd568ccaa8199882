package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/pkg/ctxlog"
)

// Resolver answers the two routing questions of the ingestion path:
// which team owns an external account, and who is on call for that
// team right now. Both are pure reads; "not found" is an expected
// outcome, never fabricated away.
type Resolver struct {
	repo Repository
}

// NewResolver creates a new Resolver.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveTeam finds the team owning the external account id. Multiple
// owners are a configuration error; the oldest team wins and the
// conflict is logged.
func (r *Resolver) ResolveTeam(ctx context.Context, accountID string) (*domain.Team, error) {
	teams, err := r.repo.FindTeamsByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if len(teams) == 0 {
		return nil, ErrNoTeamForAccount
	}

	if len(teams) > 1 {
		ctxlog.FromContext(ctx).Warn("multiple teams own account, using oldest",
			"account_id", accountID,
			"team_count", len(teams),
			"chosen_team", teams[0].ID,
		)
	}

	return teams[0], nil
}

// ResolveOnCall returns the responder on call for the team at the
// given time, or ErrNoOnCall when no slot covers it.
func (r *Resolver) ResolveOnCall(ctx context.Context, teamID string, at time.Time) (string, error) {
	slot, err := r.repo.FindSlotCovering(ctx, teamID, at)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return "", ErrNoOnCall
		}
		return "", err
	}
	return slot.Responder, nil
}
