package domain

import "time"

// IncidentState represents the lifecycle state of an incident.
type IncidentState string

// Incident states.
const (
	IncidentStateTriggered IncidentState = "triggered"
	IncidentStateAcked     IncidentState = "acked"
	IncidentStateResolved  IncidentState = "resolved"
)

// Severity represents the severity level of an incident.
type Severity string

// Severity levels.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// SystemActor marks timeline entries produced by the pipeline itself
// rather than by a responder.
const SystemActor = "system"

// Incident is a tracked occurrence of a triggered alarm requiring human
// acknowledgement and resolution. IDs are UUIDv7 so chronological order
// matches lexical order.
type Incident struct {
	ID               string        `json:"id"`
	TeamID           string        `json:"team_id"`
	AlarmName        string        `json:"alarm_name"`
	AlarmExternalRef string        `json:"alarm_external_ref"`
	State            IncidentState `json:"state"`
	Severity         Severity      `json:"severity"`
	AssignedTo       string        `json:"assigned_to"`
	EscalationLevel  int           `json:"escalation_level"`
	IsGame           bool          `json:"is_game"`
	GameMultiplier   int           `json:"game_multiplier,omitempty"`
	TriggeredAt      time.Time     `json:"triggered_at"`
	AckedAt          *time.Time    `json:"acked_at"`
	ResolvedAt       *time.Time    `json:"resolved_at"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// IsActive reports whether the incident still needs attention.
// Triggered and acked incidents are active; resolved ones are history.
func (i *Incident) IsActive() bool {
	return i.State != IncidentStateResolved
}

// TimelineKind identifies what happened in a timeline entry.
type TimelineKind string

// Timeline entry kinds.
const (
	TimelineTriggered      TimelineKind = "triggered"
	TimelineAcked          TimelineKind = "acked"
	TimelineResolved       TimelineKind = "resolved"
	TimelineEscalated      TimelineKind = "escalated"
	TimelineReassigned     TimelineKind = "reassigned"
	TimelineUnacknowledged TimelineKind = "unacknowledged"
)

// TimelineEntry is one immutable record in an incident's append-only
// timeline. Entries are never mutated or removed once written.
type TimelineEntry struct {
	IncidentID string       `json:"incident_id"`
	Seq        int          `json:"seq"`
	Kind       TimelineKind `json:"kind"`
	Actor      string       `json:"actor"`
	Note       string       `json:"note,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// IsValid checks if the severity is one of the known levels.
func (s Severity) IsValid() bool {
	return s == SeverityCritical || s == SeverityWarning || s == SeverityInfo
}

// IsValid checks if the state is one of the known lifecycle states.
func (s IncidentState) IsValid() bool {
	return s == IncidentStateTriggered || s == IncidentStateAcked || s == IncidentStateResolved
}
