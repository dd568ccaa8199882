package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/nats-io/nats.go"
)

// Subject and queue group for the alarm stream. The wildcard lets
// sources partition by region or origin (alarms.cloudwatch.eu, ...)
// without consumer changes.
const (
	AlarmSubject    = "alarms.>"
	AlarmQueueGroup = "pagewatch-ingest"
)

const ingestTimeout = 15 * time.Second

// Consumer subscribes to the alarm subject and feeds events into the
// adapter. It is an alternative transport to the webhook; both paths
// share the same Adapter and so the same drop semantics.
type Consumer struct {
	conn    *nats.Conn
	adapter *Adapter
	sub     *nats.Subscription
}

// NewConsumer creates a new NATS alarm consumer.
func NewConsumer(conn *nats.Conn, adapter *Adapter) *Consumer {
	return &Consumer{
		conn:    conn,
		adapter: adapter,
	}
}

// Start subscribes to the alarm subject in a queue group so multiple
// instances share the stream.
func (c *Consumer) Start() error {
	sub, err := c.conn.QueueSubscribe(AlarmSubject, AlarmQueueGroup, c.handleMessage)
	if err != nil {
		return err
	}
	c.sub = sub

	slog.Info("nats alarm consumer started",
		"subject", AlarmSubject,
		"queue", AlarmQueueGroup,
	)
	return nil
}

// Stop drains the subscription so in-flight messages finish.
func (c *Consumer) Stop() {
	if c.sub == nil {
		return
	}
	if err := c.sub.Drain(); err != nil {
		slog.Error("failed to drain alarm subscription", "error", err)
	}
	slog.Info("nats alarm consumer stopped")
}

func (c *Consumer) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	var ev domain.AlarmEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		slog.Warn("malformed alarm message, dropping",
			"subject", msg.Subject,
			"error", err,
		)
		return
	}

	if _, err := c.adapter.Ingest(ctx, ev); err != nil {
		// Infrastructure failure: the message is gone (core NATS is
		// at-most-once), the source's own retry covers redelivery.
		slog.Error("failed to ingest alarm message",
			"subject", msg.Subject,
			"alarm", ev.AlarmName,
			"error", err,
		)
	}
}
