package incident

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepository implements Repository for testing. It reproduces the
// store's conditional-update contract: a transition only applies if the
// precondition holds at apply time, under a lock so concurrent callers
// race exactly like they would against the database.
type mockRepository struct {
	mu        sync.Mutex
	incidents map[string]*domain.Incident
	timelines map[string][]domain.TimelineEntry
	changes   []ChangeEvent
	nextIDSeq int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		incidents: make(map[string]*domain.Incident),
		timelines: make(map[string][]domain.TimelineEntry),
	}
}

func (m *mockRepository) Create(_ context.Context, inc *domain.Incident, actor string) (*ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	inc.CreatedAt = now
	inc.UpdatedAt = now

	cp := *inc
	m.incidents[inc.ID] = &cp
	m.appendTimelineLocked(inc.ID, domain.TimelineTriggered, actor, "")
	return m.appendChangeLocked(&cp, ChangeInsert, nil, &cp.State, actor), nil
}

func (m *mockRepository) Get(_ context.Context, id string) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	cp := *inc
	return &cp, nil
}

func (m *mockRepository) List(_ context.Context, filters Filters) ([]*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Incident
	for _, inc := range m.incidents {
		if filters.TeamID != "" && inc.TeamID != filters.TeamID {
			continue
		}
		if filters.State != nil && inc.State != *filters.State {
			continue
		}
		if filters.ActiveOnly && inc.State == domain.IncidentStateResolved {
			continue
		}
		if filters.History && inc.State != domain.IncidentStateResolved {
			continue
		}
		if filters.IsGame != nil && inc.IsGame != *filters.IsGame {
			continue
		}
		cp := *inc
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepository) Timeline(_ context.Context, incidentID string) ([]domain.TimelineEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TimelineEntry(nil), m.timelines[incidentID]...), nil
}

func (m *mockRepository) Apply(_ context.Context, t Transition) (*domain.Incident, *ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[t.IncidentID]
	if !ok {
		return nil, nil, ErrIncidentNotFound
	}

	if !t.Cond.Admits(inc.State) {
		return nil, nil, ErrStateConflict
	}

	before := inc.State
	now := time.Now()
	inc.State = t.To
	inc.UpdatedAt = now

	switch t.To {
	case domain.IncidentStateAcked:
		inc.AckedAt = &now
	case domain.IncidentStateTriggered:
		inc.AckedAt = nil
	case domain.IncidentStateResolved:
		inc.ResolvedAt = &now
		inc.ExpiresAt = t.ExpiresAt
	}

	m.appendTimelineLocked(inc.ID, t.Kind, t.Actor, t.Note)
	cp := *inc
	ev := m.appendChangeLocked(&cp, ChangeModify, &before, &cp.State, t.Actor)
	return &cp, ev, nil
}

func (m *mockRepository) Reassign(_ context.Context, id, actor, newResponder string) (*domain.Incident, *ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[id]
	if !ok {
		return nil, nil, ErrIncidentNotFound
	}
	if inc.State == domain.IncidentStateResolved {
		return nil, nil, ErrStateConflict
	}

	inc.AssignedTo = newResponder
	m.appendTimelineLocked(id, domain.TimelineReassigned, actor, "assigned to "+newResponder)
	cp := *inc
	ev := m.appendChangeLocked(&cp, ChangeModify, &cp.State, &cp.State, actor)
	return &cp, ev, nil
}

func (m *mockRepository) CountTriggeredByAssignee(_ context.Context, responder string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, inc := range m.incidents {
		if inc.AssignedTo == responder && inc.State == domain.IncidentStateTriggered {
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) DeleteGameIncidents(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, inc := range m.incidents {
		if inc.IsGame {
			delete(m.incidents, id)
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, inc := range m.incidents {
		if inc.ExpiresAt != nil && inc.ExpiresAt.Before(now) {
			delete(m.incidents, id)
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) appendTimelineLocked(incidentID string, kind domain.TimelineKind, actor, note string) {
	m.timelines[incidentID] = append(m.timelines[incidentID], domain.TimelineEntry{
		IncidentID: incidentID,
		Seq:        len(m.timelines[incidentID]) + 1,
		Kind:       kind,
		Actor:      actor,
		Note:       note,
		CreatedAt:  time.Now(),
	})
}

func (m *mockRepository) appendChangeLocked(inc *domain.Incident, ct ChangeType, before, after *domain.IncidentState, actor string) *ChangeEvent {
	m.nextIDSeq++
	ev := ChangeEvent{
		ID:          m.nextIDSeq,
		IncidentID:  inc.ID,
		Seq:         int(m.nextIDSeq),
		Type:        ct,
		BeforeState: before,
		AfterState:  after,
		Severity:    inc.Severity,
		TeamID:      inc.TeamID,
		AlarmName:   inc.AlarmName,
		AssignedTo:  inc.AssignedTo,
		Actor:       actor,
		IsGame:      inc.IsGame,
		ChangedAt:   time.Now(),
	}
	m.changes = append(m.changes, ev)
	return &ev
}

// collectListener records published change events.
type collectListener struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (c *collectListener) OnChange(_ context.Context, ev ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func newTestService(repo *mockRepository) *Service {
	return NewService(repo, 30*24*time.Hour)
}

func createTriggered(t *testing.T, svc *Service) *domain.Incident {
	t.Helper()
	inc, err := svc.Create(context.Background(), CreateInput{
		TeamID:           "team-1",
		AlarmName:        "cpu-high",
		AlarmExternalRef: "arn:alarm:cpu-high",
		Severity:         domain.SeverityCritical,
		AssignedTo:       "alice",
		Origin:           "alarm",
	})
	require.NoError(t, err)
	require.Equal(t, domain.IncidentStateTriggered, inc.State)
	return inc
}

func TestCreateTriggeredIncident(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	listener := &collectListener{}
	svc.Subscribe(listener)

	inc := createTriggered(t, svc)

	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, "alice", inc.AssignedTo)
	assert.Nil(t, inc.AckedAt)
	assert.Nil(t, inc.ResolvedAt)

	entries, err := svc.Timeline(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TimelineTriggered, entries[0].Kind)
	assert.Equal(t, domain.SystemActor, entries[0].Actor)

	require.Len(t, listener.events, 1)
	assert.Equal(t, ChangeInsert, listener.events[0].Type)
	assert.Nil(t, listener.events[0].BeforeState)
	require.NotNil(t, listener.events[0].AfterState)
	assert.Equal(t, domain.IncidentStateTriggered, *listener.events[0].AfterState)
}

func TestCreateRejectsInvalidSeverity(t *testing.T) {
	svc := newTestService(newMockRepository())

	_, err := svc.Create(context.Background(), CreateInput{
		TeamID:   "team-1",
		Severity: "catastrophic",
	})
	assert.ErrorIs(t, err, ErrInvalidSeverity)
}

func TestAckSetsStateAndTimestamp(t *testing.T) {
	svc := newTestService(newMockRepository())
	inc := createTriggered(t, svc)

	acked, err := svc.Ack(context.Background(), inc.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStateAcked, acked.State)
	require.NotNil(t, acked.AckedAt)

	entries, err := svc.Timeline(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.TimelineAcked, entries[1].Kind)
	assert.Equal(t, "bob", entries[1].Actor)
}

func TestAckConcurrentExactlyOneWinner(t *testing.T) {
	const ackers = 20

	svc := newTestService(newMockRepository())
	inc := createTriggered(t, svc)

	var wg sync.WaitGroup
	results := make(chan error, ackers)

	for i := 0; i < ackers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Ack(context.Background(), inc.ID, "racer")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, ErrStateConflict)
		conflicts++
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, ackers-1, conflicts)

	final, err := svc.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStateAcked, final.State)

	entries, err := svc.Timeline(context.Background(), inc.ID)
	require.NoError(t, err)

	ackedEntries := 0
	for _, e := range entries {
		if e.Kind == domain.TimelineAcked {
			ackedEntries++
		}
	}
	assert.Equal(t, 1, ackedEntries, "exactly one acked timeline entry")
}

func TestUnackRequiresAcked(t *testing.T) {
	svc := newTestService(newMockRepository())
	inc := createTriggered(t, svc)

	_, err := svc.Unack(context.Background(), inc.ID, "bob")
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = svc.Ack(context.Background(), inc.ID, "bob")
	require.NoError(t, err)

	unacked, err := svc.Unack(context.Background(), inc.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStateTriggered, unacked.State)
	assert.Nil(t, unacked.AckedAt, "acked_at cleared on unack")

	entries, err := svc.Timeline(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3, "historical acked entry preserved")
	assert.Equal(t, domain.TimelineUnacknowledged, entries[2].Kind)
}

func TestResolveFromTriggeredAndAcked(t *testing.T) {
	svc := newTestService(newMockRepository())

	fromTriggered := createTriggered(t, svc)
	resolved, err := svc.Resolve(context.Background(), fromTriggered.ID, "alice", "flapping")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStateResolved, resolved.State)
	require.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.ExpiresAt, "resolved incidents carry an expiry marker")

	fromAcked := createTriggered(t, svc)
	_, err = svc.Ack(context.Background(), fromAcked.ID, "alice")
	require.NoError(t, err)
	_, err = svc.Resolve(context.Background(), fromAcked.ID, "alice", "")
	require.NoError(t, err)
}

func TestResolveAlreadyResolvedConflicts(t *testing.T) {
	svc := newTestService(newMockRepository())
	inc := createTriggered(t, svc)

	_, err := svc.Resolve(context.Background(), inc.ID, "alice", "done")
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), inc.ID, "bob", "again")
	assert.ErrorIs(t, err, ErrStateConflict)

	entries, err := svc.Timeline(context.Background(), inc.ID)
	require.NoError(t, err)

	resolvedEntries := 0
	for _, e := range entries {
		if e.Kind == domain.TimelineResolved {
			resolvedEntries++
		}
	}
	assert.Equal(t, 1, resolvedEntries, "never a second resolved entry")
}

func TestReassignKeepsState(t *testing.T) {
	svc := newTestService(newMockRepository())
	inc := createTriggered(t, svc)

	reassigned, err := svc.Reassign(context.Background(), inc.ID, "alice", "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", reassigned.AssignedTo)
	assert.Equal(t, domain.IncidentStateTriggered, reassigned.State)

	entries, err := svc.Timeline(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.TimelineReassigned, entries[1].Kind)
}

func TestTimelineMonotonic(t *testing.T) {
	svc := newTestService(newMockRepository())
	inc := createTriggered(t, svc)

	ctx := context.Background()
	_, err := svc.Ack(ctx, inc.ID, "bob")
	require.NoError(t, err)
	_, err = svc.Unack(ctx, inc.ID, "bob")
	require.NoError(t, err)
	_, err = svc.Ack(ctx, inc.ID, "carol")
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, inc.ID, "carol", "fixed")
	require.NoError(t, err)

	entries, err := svc.Timeline(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Seq+1, entries[i].Seq, "seq strictly increasing")
		assert.False(t, entries[i].CreatedAt.Before(entries[i-1].CreatedAt), "timestamps non-decreasing")
	}
}

func TestUnackedCount(t *testing.T) {
	svc := newTestService(newMockRepository())
	ctx := context.Background()

	first := createTriggered(t, svc)
	createTriggered(t, svc)

	count, err := svc.UnackedCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = svc.Ack(ctx, first.ID, "alice")
	require.NoError(t, err)

	count, err = svc.UnackedCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "badge count is a live read")
}

func TestTimelineOfMissingIncident(t *testing.T) {
	svc := newTestService(newMockRepository())

	_, err := svc.Timeline(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}
