package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/pkg/ctxlog"
	"github.com/bissquit/pagewatch/internal/pkg/metrics"
	"github.com/google/uuid"
)

// Service implements incident lifecycle business logic.
type Service struct {
	repo      Repository
	retention time.Duration
	listeners []ChangeListener
	now       func() time.Time
}

// NewService creates a new incident service. retention controls how long
// resolved incidents are kept before time-based expiry.
func NewService(repo Repository, retention time.Duration) *Service {
	return &Service{
		repo:      repo,
		retention: retention,
		now:       time.Now,
	}
}

// Subscribe registers an in-process listener for committed change
// events. Must be called before the service starts handling requests.
func (s *Service) Subscribe(l ChangeListener) {
	s.listeners = append(s.listeners, l)
}

// CreateInput holds data for creating an incident.
type CreateInput struct {
	TeamID           string
	AlarmName        string
	AlarmExternalRef string
	Severity         domain.Severity
	AssignedTo       string
	IsGame           bool
	GameMultiplier   int
	ExpiresAt        *time.Time
	Actor            string // who/what created it; domain.SystemActor for the pipeline
	Origin           string // metrics label: alarm, game
}

// Create persists a new triggered incident and emits an insert change
// event. Incident ids are UUIDv7 so they sort chronologically.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Incident, error) {
	if !input.Severity.IsValid() {
		return nil, ErrInvalidSeverity
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate incident id: %w", err)
	}

	now := s.now()
	inc := &domain.Incident{
		ID:               id.String(),
		TeamID:           input.TeamID,
		AlarmName:        input.AlarmName,
		AlarmExternalRef: input.AlarmExternalRef,
		State:            domain.IncidentStateTriggered,
		Severity:         input.Severity,
		AssignedTo:       input.AssignedTo,
		IsGame:           input.IsGame,
		GameMultiplier:   input.GameMultiplier,
		TriggeredAt:      now,
		ExpiresAt:        input.ExpiresAt,
	}

	actor := input.Actor
	if actor == "" {
		actor = domain.SystemActor
	}

	ev, err := s.repo.Create(ctx, inc, actor)
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	metrics.IncidentsCreated.WithLabelValues(string(input.Severity), input.Origin).Inc()
	s.publish(ctx, ev)

	ctxlog.FromContext(ctx).Info("incident created",
		"incident_id", inc.ID,
		"team_id", inc.TeamID,
		"severity", inc.Severity,
		"assigned_to", inc.AssignedTo,
		"is_game", inc.IsGame,
	)

	return inc, nil
}

// Ack transitions triggered → acked. A concurrent acknowledger that
// loses the race receives ErrStateConflict; the transition is never
// applied twice.
func (s *Service) Ack(ctx context.Context, id, actor string) (*domain.Incident, error) {
	return s.apply(ctx, Transition{
		IncidentID: id,
		Cond:       CondTriggered,
		To:         domain.IncidentStateAcked,
		Kind:       domain.TimelineAcked,
		Actor:      actor,
	})
}

// Unack transitions acked → triggered, clearing acked_at and putting the
// incident back into the unhandled set. The historical acked timeline
// entry is preserved.
func (s *Service) Unack(ctx context.Context, id, actor string) (*domain.Incident, error) {
	return s.apply(ctx, Transition{
		IncidentID: id,
		Cond:       CondAcked,
		To:         domain.IncidentStateTriggered,
		Kind:       domain.TimelineUnacknowledged,
		Actor:      actor,
	})
}

// Resolve transitions any non-resolved state → resolved. Resolving an
// already-resolved incident is rejected with ErrStateConflict so the
// timeline keeps a single resolution record. Resolved incidents carry
// an expiry marker for later sweep.
func (s *Service) Resolve(ctx context.Context, id, actor, note string) (*domain.Incident, error) {
	expires := s.now().Add(s.retention)
	return s.apply(ctx, Transition{
		IncidentID: id,
		Cond:       CondActive,
		To:         domain.IncidentStateResolved,
		Kind:       domain.TimelineResolved,
		Actor:      actor,
		Note:       note,
		ExpiresAt:  &expires,
	})
}

func (s *Service) apply(ctx context.Context, t Transition) (*domain.Incident, error) {
	inc, ev, err := s.repo.Apply(ctx, t)
	if err != nil {
		outcome := "error"
		switch err {
		case ErrStateConflict:
			outcome = "conflict"
		case ErrIncidentNotFound:
			outcome = "not_found"
		}
		metrics.IncidentTransitions.WithLabelValues(string(t.Kind), outcome).Inc()
		return nil, err
	}

	metrics.IncidentTransitions.WithLabelValues(string(t.Kind), "success").Inc()
	s.publish(ctx, ev)

	ctxlog.FromContext(ctx).Info("incident transition",
		"incident_id", t.IncidentID,
		"kind", t.Kind,
		"actor", t.Actor,
	)

	return inc, nil
}

// Reassign changes the assignee and appends a reassigned timeline entry.
// State is not affected; resolved incidents cannot be reassigned.
func (s *Service) Reassign(ctx context.Context, id, actor, newResponder string) (*domain.Incident, error) {
	inc, ev, err := s.repo.Reassign(ctx, id, actor, newResponder)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev)

	ctxlog.FromContext(ctx).Info("incident reassigned",
		"incident_id", id,
		"actor", actor,
		"assigned_to", newResponder,
	)

	return inc, nil
}

// Get returns an incident by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.Get(ctx, id)
}

// List returns incidents matching the filters.
func (s *Service) List(ctx context.Context, filters Filters) ([]*domain.Incident, error) {
	return s.repo.List(ctx, filters)
}

// Timeline returns the incident's append-only timeline in insertion order.
func (s *Service) Timeline(ctx context.Context, id string) ([]domain.TimelineEntry, error) {
	// Existence check so callers get a 404 rather than an empty list.
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Timeline(ctx, id)
}

// UnackedCount is the live badge count: currently-triggered incidents
// assigned to the responder. Always a point-in-time read, never cached.
func (s *Service) UnackedCount(ctx context.Context, responder string) (int, error) {
	return s.repo.CountTriggeredByAssignee(ctx, responder)
}

// CleanupGameIncidents removes all game-flagged incidents. Called on
// session end and by the game package's self-healing expiry reads.
func (s *Service) CleanupGameIncidents(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteGameIncidents(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete game incidents: %w", err)
	}
	if n > 0 {
		ctxlog.FromContext(ctx).Info("game incidents cleaned up", "count", n)
	}
	return n, nil
}

// SweepExpired deletes incidents whose expiry marker has passed.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}

func (s *Service) publish(ctx context.Context, ev *ChangeEvent) {
	if ev == nil {
		return
	}
	for _, l := range s.listeners {
		l.OnChange(ctx, *ev)
	}
}
