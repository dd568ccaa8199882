package stream

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/incident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnChangeDeliversToSubscribers(t *testing.T) {
	h := NewHub()
	c := &client{send: make(chan []byte, sendBufferSize)}
	h.clients[c] = struct{}{}

	state := domain.IncidentStateTriggered
	h.OnChange(context.Background(), incident.ChangeEvent{
		IncidentID: "inc-1",
		Seq:        1,
		Type:       incident.ChangeInsert,
		AfterState: &state,
	})

	select {
	case payload := <-c.send:
		var ev incident.ChangeEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		assert.Equal(t, "inc-1", ev.IncidentID)
		assert.Equal(t, incident.ChangeInsert, ev.Type)
	default:
		t.Fatal("expected a broadcast payload")
	}
}

func TestOnChangeDropsSlowClientWithoutBlocking(t *testing.T) {
	h := NewHub()
	slow := &client{send: make(chan []byte)} // no buffer, never drained
	h.clients[slow] = struct{}{}

	healthy := &client{send: make(chan []byte, sendBufferSize)}
	h.clients[healthy] = struct{}{}

	h.OnChange(context.Background(), incident.ChangeEvent{IncidentID: "inc-1", Seq: 1})

	h.mu.Lock()
	_, slowStillThere := h.clients[slow]
	_, healthyStillThere := h.clients[healthy]
	h.mu.Unlock()

	assert.False(t, slowStillThere, "slow client must be dropped")
	assert.True(t, healthyStillThere)
	assert.Len(t, healthy.send, 1)
}
