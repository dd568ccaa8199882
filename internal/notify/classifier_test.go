package notify

import (
	"testing"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/incident"
	"github.com/stretchr/testify/assert"
)

func statePtr(s domain.IncidentState) *domain.IncidentState {
	return &s
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		change incident.ChangeEvent
		want   Kind
	}{
		{
			name: "insert triggered is new",
			change: incident.ChangeEvent{
				Type:       incident.ChangeInsert,
				AfterState: statePtr(domain.IncidentStateTriggered),
			},
			want: KindNew,
		},
		{
			name: "triggered to acked is acknowledged",
			change: incident.ChangeEvent{
				Type:        incident.ChangeModify,
				BeforeState: statePtr(domain.IncidentStateTriggered),
				AfterState:  statePtr(domain.IncidentStateAcked),
			},
			want: KindAcknowledged,
		},
		{
			name: "acked to resolved is resolved",
			change: incident.ChangeEvent{
				Type:        incident.ChangeModify,
				BeforeState: statePtr(domain.IncidentStateAcked),
				AfterState:  statePtr(domain.IncidentStateResolved),
			},
			want: KindResolved,
		},
		{
			name: "acked to triggered is unacknowledged",
			change: incident.ChangeEvent{
				Type:        incident.ChangeModify,
				BeforeState: statePtr(domain.IncidentStateAcked),
				AfterState:  statePtr(domain.IncidentStateTriggered),
			},
			want: KindUnacknowledged,
		},
		{
			name: "reassignment-only change is silent",
			change: incident.ChangeEvent{
				Type:        incident.ChangeModify,
				BeforeState: statePtr(domain.IncidentStateTriggered),
				AfterState:  statePtr(domain.IncidentStateTriggered),
			},
			want: KindNone,
		},
		{
			name: "triggered to resolved is silent",
			change: incident.ChangeEvent{
				Type:        incident.ChangeModify,
				BeforeState: statePtr(domain.IncidentStateTriggered),
				AfterState:  statePtr(domain.IncidentStateResolved),
			},
			want: KindNone,
		},
		{
			name: "remove is silent",
			change: incident.ChangeEvent{
				Type:        incident.ChangeRemove,
				BeforeState: statePtr(domain.IncidentStateTriggered),
			},
			want: KindNone,
		},
		{
			name: "insert without state is silent",
			change: incident.ChangeEvent{
				Type: incident.ChangeInsert,
			},
			want: KindNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(&tc.change))
		})
	}
}

func TestBuildContentSeverityDrivesIntrusiveness(t *testing.T) {
	base := incident.ChangeEvent{
		IncidentID: "inc-1",
		AlarmName:  "disk-full",
		Actor:      "alice",
		AfterState: statePtr(domain.IncidentStateTriggered),
		ChangedAt:  time.Now(),
	}

	critical := base
	critical.Severity = domain.SeverityCritical
	c := BuildContent(KindNew, &critical)
	assert.Equal(t, InterruptionCritical, c.Interruption)
	assert.Equal(t, "siren", c.Sound)
	assert.Contains(t, c.Title, "disk-full")

	info := base
	info.Severity = domain.SeverityInfo
	c = BuildContent(KindNew, &info)
	assert.Equal(t, InterruptionPassive, c.Interruption)
}

func TestBuildContentResolvedIsPassive(t *testing.T) {
	ev := incident.ChangeEvent{
		IncidentID:  "inc-1",
		AlarmName:   "disk-full",
		Severity:    domain.SeverityCritical,
		Actor:       "bob",
		BeforeState: statePtr(domain.IncidentStateAcked),
		AfterState:  statePtr(domain.IncidentStateResolved),
	}

	c := BuildContent(KindResolved, &ev)
	assert.Equal(t, InterruptionPassive, c.Interruption)
	assert.Empty(t, c.Sound)
	assert.Contains(t, c.Body, "bob")
}

func TestBuildContentAcknowledgedNamesActor(t *testing.T) {
	ev := incident.ChangeEvent{
		IncidentID:  "inc-1",
		AlarmName:   "disk-full",
		Severity:    domain.SeverityWarning,
		Actor:       "bob",
		BeforeState: statePtr(domain.IncidentStateTriggered),
		AfterState:  statePtr(domain.IncidentStateAcked),
	}

	c := BuildContent(KindAcknowledged, &ev)
	assert.Contains(t, c.Body, "bob")
	assert.Equal(t, domain.IncidentStateAcked, c.State)
}
