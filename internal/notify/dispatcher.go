package notify

import (
	"context"
	"fmt"

	"github.com/bissquit/pagewatch/internal/domain"
)

// Push is one delivery to one device.
type Push struct {
	DeviceToken string
	Content     Content
}

// Sender delivers a push to devices of one platform.
type Sender interface {
	Platform() domain.Platform
	Send(ctx context.Context, push Push) error
}

// Dispatcher routes pushes to the sender for the device's platform.
type Dispatcher struct {
	senders map[domain.Platform]Sender
}

// NewDispatcher creates a new push dispatcher.
func NewDispatcher(senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.Platform]Sender)
	for _, s := range senders {
		senderMap[s.Platform()] = s
	}
	return &Dispatcher{senders: senderMap}
}

// Send delivers a push via the platform's sender. A platform without a
// configured sender is a permanent failure, not a retry candidate.
func (d *Dispatcher) Send(ctx context.Context, platform domain.Platform, push Push) error {
	sender, ok := d.senders[platform]
	if !ok {
		return NewNonRetryableError(fmt.Errorf("no sender for platform %q", platform))
	}
	return sender.Send(ctx, push)
}
