// Package fcm provides Android push delivery.
package fcm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/notify"
	"golang.org/x/time/rate"
)

// Config holds FCM sender configuration.
type Config struct {
	Enabled         bool
	ProjectID       string
	CredentialsFile string
	RateLimit       float64
}

// Sender implements Android push delivery via FCM.
type Sender struct {
	config  Config
	limiter *rate.Limiter
}

// NewSender creates a new FCM sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.ProjectID == "" {
			return nil, errors.New("fcm sender: project id is required when enabled")
		}
	}

	limit := rate.Limit(config.RateLimit)
	if config.RateLimit <= 0 {
		limit = rate.Inf
	}

	slog.Info("fcm sender configured",
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
	return domain.PlatformAndroid
}

// Send delivers one push to an Android device.
// TODO: wire the FCM v1 API client once the service account is provisioned.
func (s *Sender) Send(ctx context.Context, push notify.Push) error {
	if !s.config.Enabled {
		slog.Debug("fcm sender disabled, skipping",
			"token", truncate(push.DeviceToken),
		)
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return notify.NewRetryableError(err)
	}

	slog.Info("sending fcm push (stub)",
		"token", truncate(push.DeviceToken),
		"title", push.Content.Title,
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
