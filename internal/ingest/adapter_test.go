package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/incident"
	"github.com/bissquit/pagewatch/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockResolver struct {
	teamsByAccount map[string]*domain.Team
	oncallByTeam   map[string]string
}

func (m *mockResolver) ResolveTeam(_ context.Context, accountID string) (*domain.Team, error) {
	team, ok := m.teamsByAccount[accountID]
	if !ok {
		return nil, schedule.ErrNoTeamForAccount
	}
	return team, nil
}

func (m *mockResolver) ResolveOnCall(_ context.Context, teamID string, _ time.Time) (string, error) {
	responder, ok := m.oncallByTeam[teamID]
	if !ok {
		return "", schedule.ErrNoOnCall
	}
	return responder, nil
}

type mockCreator struct {
	created []incident.CreateInput
}

func (m *mockCreator) Create(_ context.Context, input incident.CreateInput) (*domain.Incident, error) {
	m.created = append(m.created, input)
	return &domain.Incident{
		ID:         "inc-1",
		TeamID:     input.TeamID,
		AlarmName:  input.AlarmName,
		State:      domain.IncidentStateTriggered,
		Severity:   input.Severity,
		AssignedTo: input.AssignedTo,
	}, nil
}

func alarmFor(account string, state domain.AlarmState) domain.AlarmEvent {
	return domain.AlarmEvent{
		AlarmName:   "cpu-high",
		ExternalRef: "arn:alarm:cpu-high",
		NewState:    state,
		Reason:      "threshold crossed",
		AccountID:   account,
		Severity:    domain.SeverityCritical,
	}
}

func TestIngestCreatesAssignedIncident(t *testing.T) {
	resolver := &mockResolver{
		teamsByAccount: map[string]*domain.Team{"111": {ID: "T1", Name: "Team One"}},
		oncallByTeam:   map[string]string{"T1": "alice"},
	}
	creator := &mockCreator{}
	adapter := NewAdapter(resolver, creator)

	inc, err := adapter.Ingest(context.Background(), alarmFor("111", domain.AlarmStateAlarm))
	require.NoError(t, err)
	require.NotNil(t, inc)

	assert.Equal(t, domain.IncidentStateTriggered, inc.State)
	assert.Equal(t, "alice", inc.AssignedTo)

	require.Len(t, creator.created, 1)
	input := creator.created[0]
	assert.Equal(t, "T1", input.TeamID)
	assert.Equal(t, domain.SystemActor, input.Actor)
	assert.Equal(t, "cpu-high", input.AlarmName)
}

func TestIngestDropsNonAlarmStates(t *testing.T) {
	resolver := &mockResolver{
		teamsByAccount: map[string]*domain.Team{"111": {ID: "T1"}},
		oncallByTeam:   map[string]string{"T1": "alice"},
	}
	creator := &mockCreator{}
	adapter := NewAdapter(resolver, creator)

	for _, state := range []domain.AlarmState{domain.AlarmStateOK, domain.AlarmStateInsufficientData} {
		inc, err := adapter.Ingest(context.Background(), alarmFor("111", state))
		require.NoError(t, err)
		assert.Nil(t, inc)
	}
	assert.Empty(t, creator.created)
}

func TestIngestDropsWhenNoTeamOwnsAccount(t *testing.T) {
	resolver := &mockResolver{teamsByAccount: map[string]*domain.Team{}}
	creator := &mockCreator{}
	adapter := NewAdapter(resolver, creator)

	inc, err := adapter.Ingest(context.Background(), alarmFor("999", domain.AlarmStateAlarm))
	require.NoError(t, err)
	assert.Nil(t, inc)
	assert.Empty(t, creator.created)
}

func TestIngestDropsWhenNobodyOnCall(t *testing.T) {
	resolver := &mockResolver{
		teamsByAccount: map[string]*domain.Team{"111": {ID: "T1"}},
		oncallByTeam:   map[string]string{},
	}
	creator := &mockCreator{}
	adapter := NewAdapter(resolver, creator)

	inc, err := adapter.Ingest(context.Background(), alarmFor("111", domain.AlarmStateAlarm))
	require.NoError(t, err)
	assert.Nil(t, inc)
	assert.Empty(t, creator.created)
}

func TestIngestDefaultsMissingSeverityToCritical(t *testing.T) {
	resolver := &mockResolver{
		teamsByAccount: map[string]*domain.Team{"111": {ID: "T1"}},
		oncallByTeam:   map[string]string{"T1": "alice"},
	}
	creator := &mockCreator{}
	adapter := NewAdapter(resolver, creator)

	ev := alarmFor("111", domain.AlarmStateAlarm)
	ev.Severity = ""
	_, err := adapter.Ingest(context.Background(), ev)
	require.NoError(t, err)

	require.Len(t, creator.created, 1)
	assert.Equal(t, domain.SeverityCritical, creator.created[0].Severity)
}

func TestIngestRejectsMissingFields(t *testing.T) {
	adapter := NewAdapter(&mockResolver{}, &mockCreator{})

	ev := alarmFor("", domain.AlarmStateAlarm)
	_, err := adapter.Ingest(context.Background(), ev)
	assert.Error(t, err)
}
