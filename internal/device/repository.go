// Package device maintains the registry of push-notification device
// tokens per responder.
package device

import (
	"context"

	"github.com/bissquit/pagewatch/internal/domain"
)

// Repository defines the interface for device registration storage.
type Repository interface {
	// Upsert registers a token, re-binding it to the given responder
	// and platform if it already exists.
	Upsert(ctx context.Context, reg *domain.DeviceRegistration) error
	Get(ctx context.Context, token string) (*domain.DeviceRegistration, error)
	Delete(ctx context.Context, token string) error
	ListByResponder(ctx context.Context, responder string) ([]*domain.DeviceRegistration, error)
}
