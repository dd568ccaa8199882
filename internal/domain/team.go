package domain

import "time"

// Team owns a set of external account identities and routes their alarms
// to an on-call responder.
type Team struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	AccountIDs []string  `json:"account_ids"`
	Members    []string  `json:"members"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsMember reports whether the responder belongs to the team.
func (t *Team) IsMember(responder string) bool {
	for _, m := range t.Members {
		if m == responder {
			return true
		}
	}
	return false
}

// EscalationLevel is one step of a team's escalation policy.
// Declared for teams but never executed by this service: no scheduler
// advances incidents past level 0.
type EscalationLevel struct {
	TeamID string        `json:"team_id"`
	Level  int           `json:"level"`
	Delay  time.Duration `json:"delay"`
	Target string        `json:"target"`
}

// ScheduleSlot assigns a responder to a team for a half-open time
// window [StartsAt, EndsAt). StartsAt is always before EndsAt.
type ScheduleSlot struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	Responder string    `json:"responder"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Covers reports whether the slot's window contains t.
func (s *ScheduleSlot) Covers(t time.Time) bool {
	return !t.Before(s.StartsAt) && t.Before(s.EndsAt)
}
