package device

import (
	"context"
	"fmt"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/pkg/ctxlog"
)

// Service implements device registry business logic.
type Service struct {
	repo Repository
}

// NewService creates a new device service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register binds a push token to the responder. Registering a token
// that already exists re-binds it; devices change hands.
func (s *Service) Register(ctx context.Context, responder, token string, platform domain.Platform) (*domain.DeviceRegistration, error) {
	if !platform.IsValid() {
		return nil, ErrInvalidPlatform
	}

	reg := &domain.DeviceRegistration{
		Responder: responder,
		Token:     token,
		Platform:  platform,
	}
	if err := s.repo.Upsert(ctx, reg); err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}

	ctxlog.FromContext(ctx).Info("device registered",
		"responder", responder,
		"platform", platform,
	)
	return reg, nil
}

// Unregister removes a token. Only the owning responder may remove it.
func (s *Service) Unregister(ctx context.Context, responder, token string) error {
	reg, err := s.repo.Get(ctx, token)
	if err != nil {
		return err
	}
	if reg.Responder != responder {
		return ErrNotOwner
	}
	return s.repo.Delete(ctx, token)
}

// List returns all devices registered by the responder.
func (s *Service) List(ctx context.Context, responder string) ([]*domain.DeviceRegistration, error) {
	return s.repo.ListByResponder(ctx, responder)
}

// DevicesFor returns push targets for a responder. Used by delivery;
// an empty result is not an error.
func (s *Service) DevicesFor(ctx context.Context, responder string) ([]*domain.DeviceRegistration, error) {
	return s.repo.ListByResponder(ctx, responder)
}
