// Package notify turns persisted incident changes into push notifications.
package notify

import (
	"fmt"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/incident"
)

// Kind is the notification intent derived from a change event.
type Kind string

// Notification kinds. KindNone means the change warrants no push.
const (
	KindNew            Kind = "new"
	KindAcknowledged   Kind = "acknowledged"
	KindResolved       Kind = "resolved"
	KindUnacknowledged Kind = "unacknowledged"
	KindNone           Kind = "none"
)

// Interruption maps to the platform's interruption/priority level.
type Interruption string

// Interruption levels, most to least intrusive.
const (
	InterruptionCritical Interruption = "critical"
	InterruptionActive   Interruption = "active"
	InterruptionPassive  Interruption = "passive"
)

// Classify decides the notification kind for a change event. Rules are
// evaluated in priority order, first match wins; reassignment-only and
// severity-only changes produce no notification.
func Classify(ev *incident.ChangeEvent) Kind {
	switch {
	case ev.Type == incident.ChangeInsert && stateIs(ev.AfterState, domain.IncidentStateTriggered):
		return KindNew
	case ev.Type == incident.ChangeModify &&
		stateIs(ev.BeforeState, domain.IncidentStateTriggered) &&
		stateIs(ev.AfterState, domain.IncidentStateAcked):
		return KindAcknowledged
	case ev.Type == incident.ChangeModify &&
		stateIs(ev.BeforeState, domain.IncidentStateAcked) &&
		stateIs(ev.AfterState, domain.IncidentStateResolved):
		return KindResolved
	case ev.Type == incident.ChangeModify &&
		stateIs(ev.BeforeState, domain.IncidentStateAcked) &&
		stateIs(ev.AfterState, domain.IncidentStateTriggered):
		return KindUnacknowledged
	default:
		return KindNone
	}
}

func stateIs(s *domain.IncidentState, want domain.IncidentState) bool {
	return s != nil && *s == want
}

// Content is the abstract notification the dispatcher delivers; the
// platform senders own the wire encoding.
type Content struct {
	Title        string
	Body         string
	Sound        string
	Interruption Interruption
	IncidentID   string
	Severity     domain.Severity
	State        domain.IncidentState
	Badge        int
}

// BuildContent renders the notification content for a classified
// change. Severity drives intrusiveness for new and unacknowledged
// alerts; resolutions are always passive.
func BuildContent(kind Kind, ev *incident.ChangeEvent) Content {
	c := Content{
		IncidentID: ev.IncidentID,
		Severity:   ev.Severity,
	}
	if ev.AfterState != nil {
		c.State = *ev.AfterState
	}

	switch kind {
	case KindNew:
		c.Title = fmt.Sprintf("[%s] %s", ev.Severity, ev.AlarmName)
		c.Body = "New incident assigned to you"
		c.Sound, c.Interruption = severityDelivery(ev.Severity)
	case KindAcknowledged:
		c.Title = ev.AlarmName
		c.Body = fmt.Sprintf("Acknowledged by %s", ev.Actor)
		c.Sound = "default"
		c.Interruption = InterruptionActive
	case KindResolved:
		c.Title = ev.AlarmName
		c.Body = fmt.Sprintf("Resolved by %s", ev.Actor)
		c.Interruption = InterruptionPassive
	case KindUnacknowledged:
		c.Title = ev.AlarmName
		c.Body = fmt.Sprintf("Back to triggered: unacknowledged by %s", ev.Actor)
		c.Sound, c.Interruption = severityDelivery(ev.Severity)
	}

	return c
}

func severityDelivery(sev domain.Severity) (sound string, level Interruption) {
	switch sev {
	case domain.SeverityCritical:
		return "siren", InterruptionCritical
	case domain.SeverityWarning:
		return "alert", InterruptionActive
	default:
		return "default", InterruptionPassive
	}
}
