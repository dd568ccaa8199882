package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/incident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	mu        sync.Mutex
	changes   []*incident.ChangeEvent
	processed map[string]bool // incident_id/seq
	enqueued  []*QueueItem

	pending []*QueueItem
	sent    []string
	retried []string
	failed  []string
}

func newMockRepository() *mockRepository {
	return &mockRepository{processed: make(map[string]bool)}
}

func changeKey(ev *incident.ChangeEvent) string {
	return fmt.Sprintf("%s/%d", ev.IncidentID, ev.Seq)
}

func (m *mockRepository) FetchUnprocessedChanges(_ context.Context, limit int) ([]*incident.ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var batch []*incident.ChangeEvent
	for _, ev := range m.changes {
		if m.processed[changeKey(ev)] {
			continue
		}
		batch = append(batch, ev)
		if len(batch) == limit {
			break
		}
	}
	return batch, nil
}

func (m *mockRepository) CompleteChange(_ context.Context, ev *incident.ChangeEvent, items []*QueueItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := changeKey(ev)
	if m.processed[key] {
		return true, nil
	}
	m.processed[key] = true
	m.enqueued = append(m.enqueued, items...)
	return false, nil
}

func (m *mockRepository) FetchPendingPushes(_ context.Context, limit int) ([]*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := limit
	if n > len(m.pending) {
		n = len(m.pending)
	}
	batch := m.pending[:n]
	m.pending = m.pending[n:]
	return batch, nil
}

func (m *mockRepository) MarkAsSent(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, itemID)
	return nil
}

func (m *mockRepository) MarkForRetry(_ context.Context, itemID string, _ error, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried = append(m.retried, itemID)
	return nil
}

func (m *mockRepository) MarkAsFailed(_ context.Context, itemID string, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, itemID)
	return nil
}

func (m *mockRepository) QueueStats(_ context.Context) (*QueueStats, error) {
	return &QueueStats{}, nil
}

func (m *mockRepository) CountUnprocessedChanges(_ context.Context) (int, error) {
	return 0, nil
}

type mockDevices struct {
	devices map[string][]*domain.DeviceRegistration
	err     error
}

func (m *mockDevices) DevicesFor(_ context.Context, responder string) ([]*domain.DeviceRegistration, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.devices[responder], nil
}

type mockBadges struct {
	counts map[string]int
}

func (m *mockBadges) UnackedCount(_ context.Context, responder string) (int, error) {
	return m.counts[responder], nil
}

func triggeredInsert(id, assignee string) *incident.ChangeEvent {
	return &incident.ChangeEvent{
		IncidentID: id,
		Seq:        1,
		Type:       incident.ChangeInsert,
		AfterState: statePtr(domain.IncidentStateTriggered),
		Severity:   domain.SeverityCritical,
		AlarmName:  "cpu-high",
		AssignedTo: assignee,
		Actor:      domain.SystemActor,
		ChangedAt:  time.Now(),
	}
}

func TestProcessFansOutPerDevice(t *testing.T) {
	repo := newMockRepository()
	devices := &mockDevices{devices: map[string][]*domain.DeviceRegistration{
		"alice": {
			{Responder: "alice", Token: "tok-ios", Platform: domain.PlatformIOS},
			{Responder: "alice", Token: "tok-android", Platform: domain.PlatformAndroid},
		},
	}}
	badges := &mockBadges{counts: map[string]int{"alice": 3}}
	n := NewNotifier(repo, devices, badges, 3)

	err := n.Process(context.Background(), triggeredInsert("inc-1", "alice"))
	require.NoError(t, err)

	require.Len(t, repo.enqueued, 2)
	tokens := []string{repo.enqueued[0].DeviceToken, repo.enqueued[1].DeviceToken}
	assert.ElementsMatch(t, []string{"tok-ios", "tok-android"}, tokens)
	for _, item := range repo.enqueued {
		assert.Equal(t, KindNew, item.Kind)
		assert.Equal(t, 3, item.Content.Badge)
		assert.Equal(t, QueueStatusPending, item.Status)
		assert.Equal(t, 3, item.MaxAttempts)
	}
}

func TestProcessZeroDevicesConsumesChange(t *testing.T) {
	repo := newMockRepository()
	devices := &mockDevices{devices: map[string][]*domain.DeviceRegistration{}}
	n := NewNotifier(repo, devices, &mockBadges{}, 3)

	ev := triggeredInsert("inc-1", "nobody")
	require.NoError(t, n.Process(context.Background(), ev))

	assert.Empty(t, repo.enqueued)
	assert.True(t, repo.processed[changeKey(ev)], "change must be consumed even without devices")
}

func TestProcessSilentChangeAdvancesCursor(t *testing.T) {
	repo := newMockRepository()
	n := NewNotifier(repo, &mockDevices{}, &mockBadges{}, 3)

	ev := &incident.ChangeEvent{
		IncidentID:  "inc-1",
		Seq:         2,
		Type:        incident.ChangeModify,
		BeforeState: statePtr(domain.IncidentStateTriggered),
		AfterState:  statePtr(domain.IncidentStateTriggered),
	}
	require.NoError(t, n.Process(context.Background(), ev))

	assert.Empty(t, repo.enqueued)
	assert.True(t, repo.processed[changeKey(ev)])
}

func TestProcessRedeliveredChangeIsDeduped(t *testing.T) {
	repo := newMockRepository()
	devices := &mockDevices{devices: map[string][]*domain.DeviceRegistration{
		"alice": {{Responder: "alice", Token: "tok-1", Platform: domain.PlatformIOS}},
	}}
	n := NewNotifier(repo, devices, &mockBadges{}, 3)

	ev := triggeredInsert("inc-1", "alice")
	require.NoError(t, n.Process(context.Background(), ev))
	require.NoError(t, n.Process(context.Background(), ev))

	assert.Len(t, repo.enqueued, 1, "redelivery must not duplicate the push")
}

func TestProcessDeviceLookupFailureLeavesChangeUnconsumed(t *testing.T) {
	repo := newMockRepository()
	devices := &mockDevices{err: errors.New("storage down")}
	n := NewNotifier(repo, devices, &mockBadges{}, 3)

	ev := triggeredInsert("inc-1", "alice")
	err := n.Process(context.Background(), ev)
	require.Error(t, err)

	assert.False(t, repo.processed[changeKey(ev)], "failed processing must retry later")
}
