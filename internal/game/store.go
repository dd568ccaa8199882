// Package game implements the time-boxed race-to-acknowledge variant of
// the incident pipeline.
package game

import (
	"context"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
)

// Standing is one leaderboard row.
type Standing struct {
	Rank  int          `json:"rank"`
	Score domain.Score `json:"score"`
}

// SessionStore holds the singleton game session and the score board.
// The session record carries its own expiry so an unfinished session
// disappears on its own; scores outlive sessions.
type SessionStore interface {
	// StartSession atomically creates the session if none is active.
	// Returns ErrSessionActive when one already exists.
	StartSession(ctx context.Context, session *domain.GameSession, ttl time.Duration) error

	// GetSession returns the active session or ErrNoActiveSession.
	GetSession(ctx context.Context) (*domain.GameSession, error)

	// EndSession removes the session record. Ending an already-ended
	// session is not an error.
	EndSession(ctx context.Context) error

	// ClaimScore marks an incident as scored, exactly once. Returns
	// false when the incident was already claimed.
	ClaimScore(ctx context.Context, incidentID string, ttl time.Duration) (bool, error)

	// AddPoints adds points and one acknowledgement to a responder's
	// cumulative score and returns the updated score.
	AddPoints(ctx context.Context, responder string, points int) (*domain.Score, error)

	// Leaderboard returns the top n responders by cumulative points.
	Leaderboard(ctx context.Context, n int) ([]Standing, error)

	// StandingFor returns the responder's own standing, or nil if they
	// have never scored.
	StandingFor(ctx context.Context, responder string) (*Standing, error)

	// ResetScores folds each responder's current points into their high
	// score and clears the board for the next session.
	ResetScores(ctx context.Context) error
}
