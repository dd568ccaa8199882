package device

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	mu   sync.Mutex
	regs map[string]*domain.DeviceRegistration
}

func newMockRepository() *mockRepository {
	return &mockRepository{regs: make(map[string]*domain.DeviceRegistration)}
}

func (m *mockRepository) Upsert(_ context.Context, reg *domain.DeviceRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg.RegisteredAt = time.Now()
	cp := *reg
	m.regs[reg.Token] = &cp
	return nil
}

func (m *mockRepository) Get(_ context.Context, token string) (*domain.DeviceRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[token]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	cp := *reg
	return &cp, nil
}

func (m *mockRepository) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[token]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.regs, token)
	return nil
}

func (m *mockRepository) ListByResponder(_ context.Context, responder string) ([]*domain.DeviceRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DeviceRegistration
	for _, reg := range m.regs {
		if reg.Responder == responder {
			cp := *reg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func TestRegisterDevice(t *testing.T) {
	svc := NewService(newMockRepository())

	reg, err := svc.Register(context.Background(), "alice", "tok-1", domain.PlatformIOS)
	require.NoError(t, err)
	assert.Equal(t, "alice", reg.Responder)
	assert.False(t, reg.RegisteredAt.IsZero())

	devices, err := svc.DevicesFor(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, domain.PlatformIOS, devices[0].Platform)
}

func TestRegisterRejectsUnknownPlatform(t *testing.T) {
	svc := NewService(newMockRepository())

	_, err := svc.Register(context.Background(), "alice", "tok-1", domain.Platform("blackberry"))
	assert.ErrorIs(t, err, ErrInvalidPlatform)
}

func TestRegisterRebindsExistingToken(t *testing.T) {
	svc := NewService(newMockRepository())

	_, err := svc.Register(context.Background(), "alice", "tok-1", domain.PlatformIOS)
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), "bob", "tok-1", domain.PlatformAndroid)
	require.NoError(t, err)

	aliceDevices, err := svc.DevicesFor(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, aliceDevices)

	bobDevices, err := svc.DevicesFor(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, bobDevices, 1)
	assert.Equal(t, domain.PlatformAndroid, bobDevices[0].Platform)
}

func TestUnregisterOnlyByOwner(t *testing.T) {
	svc := NewService(newMockRepository())

	_, err := svc.Register(context.Background(), "alice", "tok-1", domain.PlatformWeb)
	require.NoError(t, err)

	err = svc.Unregister(context.Background(), "bob", "tok-1")
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, svc.Unregister(context.Background(), "alice", "tok-1"))

	err = svc.Unregister(context.Background(), "alice", "tok-1")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}
