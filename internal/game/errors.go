package game

import "errors"

var (
	ErrGameDisabled    = errors.New("game mode is disabled")
	ErrSessionActive   = errors.New("a game session is already active")
	ErrNoActiveSession = errors.New("no active game session")
	ErrNotGameIncident = errors.New("incident is not part of the game")
)
