// Package ingest converts external alarm events into incidents.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/incident"
	"github.com/bissquit/pagewatch/internal/pkg/ctxlog"
	"github.com/bissquit/pagewatch/internal/pkg/metrics"
	"github.com/bissquit/pagewatch/internal/schedule"
)

// Drop reasons, exported on the alarms_dropped metric.
const (
	dropReasonNonAlarm = "non_alarm_state"
	dropReasonNoTeam   = "no_team"
	dropReasonNoOnCall = "no_oncall"
	dropReasonBadInput = "invalid_input"
)

// TeamResolver answers the routing questions of the ingestion path.
type TeamResolver interface {
	ResolveTeam(ctx context.Context, accountID string) (*domain.Team, error)
	ResolveOnCall(ctx context.Context, teamID string, at time.Time) (string, error)
}

// IncidentCreator creates incidents from resolved alarms.
type IncidentCreator interface {
	Create(ctx context.Context, input incident.CreateInput) (*domain.Incident, error)
}

// Adapter turns alarm events into incidents. Resolution failures are
// configuration gaps: the alarm is logged, counted and dropped, never
// retried and never assigned to a fabricated responder.
type Adapter struct {
	resolver  TeamResolver
	incidents IncidentCreator
	now       func() time.Time
}

// NewAdapter creates a new ingestion adapter.
func NewAdapter(resolver TeamResolver, incidents IncidentCreator) *Adapter {
	return &Adapter{
		resolver:  resolver,
		incidents: incidents,
		now:       time.Now,
	}
}

// Ingest processes one alarm event. Returns the created incident, or
// nil when the event was dropped without error.
func (a *Adapter) Ingest(ctx context.Context, ev domain.AlarmEvent) (*domain.Incident, error) {
	log := ctxlog.FromContext(ctx)

	if ev.AlarmName == "" || ev.AccountID == "" {
		metrics.AlarmsDropped.WithLabelValues(dropReasonBadInput).Inc()
		return nil, fmt.Errorf("alarm event missing name or account id")
	}

	if ev.NewState != domain.AlarmStateAlarm {
		log.Info("non-alarm state, dropping",
			"alarm", ev.AlarmName,
			"state", ev.NewState,
			"account_id", ev.AccountID,
		)
		metrics.AlarmsDropped.WithLabelValues(dropReasonNonAlarm).Inc()
		return nil, nil
	}

	severity := ev.Severity
	if !severity.IsValid() {
		severity = domain.SeverityCritical
	}

	team, err := a.resolver.ResolveTeam(ctx, ev.AccountID)
	if err != nil {
		if errors.Is(err, schedule.ErrNoTeamForAccount) {
			log.Warn("no team owns account, dropping alarm",
				"alarm", ev.AlarmName,
				"account_id", ev.AccountID,
			)
			metrics.AlarmsDropped.WithLabelValues(dropReasonNoTeam).Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("resolve team: %w", err)
	}

	responder, err := a.resolver.ResolveOnCall(ctx, team.ID, a.now())
	if err != nil {
		if errors.Is(err, schedule.ErrNoOnCall) {
			log.Warn("no responder on call, dropping alarm",
				"alarm", ev.AlarmName,
				"team_id", team.ID,
			)
			metrics.AlarmsDropped.WithLabelValues(dropReasonNoOnCall).Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("resolve on-call: %w", err)
	}

	inc, err := a.incidents.Create(ctx, incident.CreateInput{
		TeamID:           team.ID,
		AlarmName:        ev.AlarmName,
		AlarmExternalRef: ev.ExternalRef,
		Severity:         severity,
		AssignedTo:       responder,
		Actor:            domain.SystemActor,
		Origin:           "alarm",
	})
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	log.Info("alarm ingested",
		"incident_id", inc.ID,
		"alarm", ev.AlarmName,
		"team_id", team.ID,
		"assigned_to", responder,
		"severity", severity,
	)
	return inc, nil
}
