// Package apns provides iOS push delivery.
package apns

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/notify"
	"golang.org/x/time/rate"
)

// Config holds APNs sender configuration.
type Config struct {
	Enabled   bool
	KeyID     string
	TeamID    string
	BundleID  string
	RateLimit float64
}

// Sender implements iOS push delivery via APNs.
type Sender struct {
	config  Config
	limiter *rate.Limiter
}

// NewSender creates a new APNs sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.KeyID == "" || config.TeamID == "" || config.BundleID == "" {
			return nil, errors.New("apns sender: key id, team id and bundle id are required when enabled")
		}
	}

	limit := rate.Limit(config.RateLimit)
	if config.RateLimit <= 0 {
		limit = rate.Inf
	}

	slog.Info("apns sender configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:  config,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Platform returns the platform this sender serves.
func (s *Sender) Platform() domain.Platform {
	return domain.PlatformIOS
}

// Send delivers one push to an iOS device.
// TODO: wire the actual APNs HTTP/2 client once provider credentials land.
func (s *Sender) Send(ctx context.Context, push notify.Push) error {
	if !s.config.Enabled {
		slog.Debug("apns sender disabled, skipping",
			"token", truncate(push.DeviceToken),
		)
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return notify.NewRetryableError(err)
	}

	slog.Info("sending apns push (stub)",
		"token", truncate(push.DeviceToken),
		"title", push.Content.Title,
		"interruption", push.Content.Interruption,
		"badge", push.Content.Badge,
	)

	return nil
}

func truncate(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
