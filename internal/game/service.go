package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/incident"
	"github.com/bissquit/pagewatch/internal/pkg/ctxlog"
)

const (
	basePoints     = 100
	claimTTL       = 24 * time.Hour
	gameTeamID     = "game"
	fastAckBonus   = 2.0
	quickAckBonus  = 1.5
	fastAckWindow  = 2 * time.Second
	quickAckWindow = 4 * time.Second
)

// Config holds game service configuration.
type Config struct {
	Enabled         bool
	SessionDuration time.Duration
}

// IncidentStore is the slice of the incident service the game uses.
type IncidentStore interface {
	Create(ctx context.Context, input incident.CreateInput) (*domain.Incident, error)
	Get(ctx context.Context, id string) (*domain.Incident, error)
	Ack(ctx context.Context, id, actor string) (*domain.Incident, error)
	List(ctx context.Context, filters incident.Filters) ([]*domain.Incident, error)
	CleanupGameIncidents(ctx context.Context) (int64, error)
}

// Service implements the game session, race scoring and leaderboard.
type Service struct {
	config    Config
	store     SessionStore
	incidents IncidentStore
	now       func() time.Time
}

// NewService creates a new game service.
func NewService(config Config, store SessionStore, incidents IncidentStore) *Service {
	if config.SessionDuration <= 0 {
		config.SessionDuration = 60 * time.Second
	}
	return &Service{
		config:    config,
		store:     store,
		incidents: incidents,
		now:       time.Now,
	}
}

// Enabled reports whether game mode is available.
func (s *Service) Enabled() bool {
	return s.config.Enabled
}

// Start begins a new session. Exactly one session exists system-wide;
// a concurrent start loses with ErrSessionActive.
func (s *Service) Start(ctx context.Context, caller string) (*domain.GameSession, error) {
	if !s.config.Enabled {
		return nil, ErrGameDisabled
	}

	now := s.now()
	session := &domain.GameSession{
		StartedBy: caller,
		StartedAt: now,
		EndsAt:    now.Add(s.config.SessionDuration),
	}

	if err := s.store.StartSession(ctx, session, s.config.SessionDuration); err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("game session started",
		"started_by", caller,
		"ends_at", session.EndsAt,
	)
	return session, nil
}

// End finishes the session: scores fold into high scores and all game
// incidents are removed. Ending an already-expired session only runs
// the cleanup.
func (s *Service) End(ctx context.Context, caller string) error {
	if !s.config.Enabled {
		return ErrGameDisabled
	}

	if err := s.store.EndSession(ctx); err != nil {
		return err
	}
	if err := s.cleanup(ctx); err != nil {
		return err
	}

	ctxlog.FromContext(ctx).Info("game session ended", "ended_by", caller)
	return nil
}

// Status returns the active session. A session record that outlived its
// own end time is healed inline: cleanup runs and the caller sees "no
// active session". Reads self-heal so a crashed End cannot orphan game
// incidents.
func (s *Service) Status(ctx context.Context) (*domain.GameSession, error) {
	if !s.config.Enabled {
		return nil, ErrGameDisabled
	}
	return s.activeSession(ctx)
}

// TriggerInput holds data for creating a game incident.
type TriggerInput struct {
	Title    string
	Severity domain.Severity
}

// Trigger creates a game-flagged incident. Rejected without an active
// session.
func (s *Service) Trigger(ctx context.Context, caller string, input TriggerInput) (*domain.Incident, error) {
	if !s.config.Enabled {
		return nil, ErrGameDisabled
	}

	session, err := s.activeSession(ctx)
	if err != nil {
		return nil, err
	}

	expiresAt := session.EndsAt.Add(time.Minute)
	inc, err := s.incidents.Create(ctx, incident.CreateInput{
		TeamID:         gameTeamID,
		AlarmName:      input.Title,
		Severity:       input.Severity,
		AssignedTo:     caller,
		IsGame:         true,
		GameMultiplier: severityMultiplier(input.Severity),
		ExpiresAt:      &expiresAt,
		Actor:          caller,
		Origin:         "game",
	})
	if err != nil {
		return nil, err
	}
	return inc, nil
}

// AckResult is the outcome of a race acknowledgement. Losing the race
// is a regular outcome, not an error.
type AckResult struct {
	Success  bool             `json:"success"`
	Points   int              `json:"points"`
	Incident *domain.Incident `json:"incident,omitempty"`
	Score    *domain.Score    `json:"score,omitempty"`
}

// Ack races to acknowledge a game incident. The store's conditional
// transition picks the single winner; only the winner scores, exactly
// once per incident.
func (s *Service) Ack(ctx context.Context, caller, incidentID string) (*AckResult, error) {
	if !s.config.Enabled {
		return nil, ErrGameDisabled
	}

	if _, err := s.activeSession(ctx); err != nil {
		return nil, err
	}

	existing, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !existing.IsGame {
		return nil, ErrNotGameIncident
	}

	inc, err := s.incidents.Ack(ctx, incidentID, caller)
	if err != nil {
		if errors.Is(err, incident.ErrStateConflict) {
			return &AckResult{Success: false, Points: 0}, nil
		}
		return nil, err
	}

	points := s.computePoints(inc)

	claimed, err := s.store.ClaimScore(ctx, incidentID, claimTTL)
	if err != nil {
		return nil, fmt.Errorf("claim score: %w", err)
	}
	if !claimed {
		// Won the transition but the incident was already scored:
		// redelivered request, report the win without double credit.
		return &AckResult{Success: true, Points: 0, Incident: inc}, nil
	}

	score, err := s.store.AddPoints(ctx, caller, points)
	if err != nil {
		return nil, fmt.Errorf("add points: %w", err)
	}

	ctxlog.FromContext(ctx).Info("game incident acknowledged",
		"incident_id", incidentID,
		"winner", caller,
		"points", points,
	)

	return &AckResult{
		Success:  true,
		Points:   points,
		Incident: inc,
		Score:    score,
	}, nil
}

// ActiveIncidents lists the game incidents still up for grabs.
func (s *Service) ActiveIncidents(ctx context.Context) ([]*domain.Incident, error) {
	if !s.config.Enabled {
		return nil, ErrGameDisabled
	}

	isGame := true
	return s.incidents.List(ctx, incident.Filters{
		IsGame:     &isGame,
		ActiveOnly: true,
	})
}

// LeaderboardView is the board plus the caller's own standing.
type LeaderboardView struct {
	Top []Standing `json:"top"`
	Own *Standing  `json:"own,omitempty"`
}

// Leaderboard returns the top n responders and the caller's standing.
func (s *Service) Leaderboard(ctx context.Context, caller string, n int) (*LeaderboardView, error) {
	if !s.config.Enabled {
		return nil, ErrGameDisabled
	}
	if n <= 0 {
		n = 10
	}

	top, err := s.store.Leaderboard(ctx, n)
	if err != nil {
		return nil, err
	}
	own, err := s.store.StandingFor(ctx, caller)
	if err != nil {
		return nil, err
	}
	return &LeaderboardView{Top: top, Own: own}, nil
}

// activeSession returns the session if it is genuinely active, healing
// an expired-but-present record inline.
func (s *Service) activeSession(ctx context.Context) (*domain.GameSession, error) {
	session, err := s.store.GetSession(ctx)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			// The record may have expired before an explicit End ran.
			if cleanupErr := s.cleanup(ctx); cleanupErr != nil {
				ctxlog.FromContext(ctx).Warn("game cleanup failed", "error", cleanupErr)
			}
		}
		return nil, err
	}

	if !session.Active(s.now()) {
		if err := s.store.EndSession(ctx); err != nil {
			return nil, err
		}
		if err := s.cleanup(ctx); err != nil {
			return nil, err
		}
		return nil, ErrNoActiveSession
	}
	return session, nil
}

func (s *Service) cleanup(ctx context.Context) error {
	deleted, err := s.incidents.CleanupGameIncidents(ctx)
	if err != nil {
		return fmt.Errorf("cleanup game incidents: %w", err)
	}
	if deleted > 0 {
		ctxlog.FromContext(ctx).Info("game incidents cleaned up", "count", deleted)
	}
	return s.store.ResetScores(ctx)
}

// computePoints scores a winning ack: base × severity multiplier ×
// speed bonus.
func (s *Service) computePoints(inc *domain.Incident) int {
	multiplier := inc.GameMultiplier
	if multiplier <= 0 {
		multiplier = severityMultiplier(inc.Severity)
	}

	elapsed := s.now().Sub(inc.TriggeredAt)
	if inc.AckedAt != nil {
		elapsed = inc.AckedAt.Sub(inc.TriggeredAt)
	}

	bonus := 1.0
	switch {
	case elapsed < fastAckWindow:
		bonus = fastAckBonus
	case elapsed < quickAckWindow:
		bonus = quickAckBonus
	}

	return int(float64(basePoints*multiplier) * bonus)
}

func severityMultiplier(sev domain.Severity) int {
	switch sev {
	case domain.SeverityCritical:
		return 3
	case domain.SeverityWarning:
		return 2
	default:
		return 1
	}
}
