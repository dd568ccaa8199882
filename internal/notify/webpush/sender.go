// Package webpush provides browser push delivery.
package webpush

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/notify"
	"golang.org/x/time/rate"
)

// Config holds web push sender configuration.
type Config struct {
	Enabled         bool
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	RateLimit       float64
}

// Sender implements browser push delivery via the Web Push protocol.
type Sender struct {
	config  Config
	limiter *rate.Limiter
}

// NewSender creates a new web push sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.VAPIDPublicKey == "" || config.VAPIDPrivateKey == "" {
			return nil, errors.New("webpush sender: VAPID key pair is required when enabled")
		}
	}

	limit := rate.Limit(config.RateLimit)
	if config.RateLimit <= 0 {
		limit = rate.Inf
	}

	slog.Info("webpush sender configured",
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
	return domain.PlatformWeb
}

// Send delivers one push to a browser subscription.
func (s *Sender) Send(ctx context.Context, push notify.Push) error {
	if !s.config.Enabled {
		slog.Debug("webpush sender disabled, skipping")
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return notify.NewRetryableError(err)
	}

	slog.Info("sending web push (stub)",
		"title", push.Content.Title,
		"state", push.Content.State,
	)

	return nil
}
