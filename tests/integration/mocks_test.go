//go:build integration

package integration

import (
	"context"
	"sync"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/notify"
)

// mockSender captures pushes for one platform instead of delivering them.
type mockSender struct {
	platform domain.Platform

	mu     sync.Mutex
	pushes []notify.Push
}

func newMockSender(platform domain.Platform) *mockSender {
	return &mockSender{platform: platform}
}

func (m *mockSender) Platform() domain.Platform {
	return m.platform
}

func (m *mockSender) Send(_ context.Context, push notify.Push) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, push)
	return nil
}

// Pushes returns a copy of everything sent so far.
func (m *mockSender) Pushes() []notify.Push {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.Push, len(m.pushes))
	copy(out, m.pushes)
	return out
}

// PushesFor returns pushes addressed to one device token in send order.
func (m *mockSender) PushesFor(token string) []notify.Push {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Push
	for _, p := range m.pushes {
		if p.DeviceToken == token {
			out = append(out, p)
		}
	}
	return out
}
