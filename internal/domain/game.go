package domain

import "time"

// GameSession is the single system-wide ephemeral game record. A session
// is active while now < EndsAt; expiry is implicit, no explicit flag is
// stored.
type GameSession struct {
	StartedBy string    `json:"started_by"`
	StartedAt time.Time `json:"started_at"`
	EndsAt    time.Time `json:"ends_at"`
}

// Active reports whether the session is still running at t.
func (s *GameSession) Active(t time.Time) bool {
	return t.Before(s.EndsAt)
}

// Score is a responder's cumulative game standing.
type Score struct {
	Responder string `json:"responder"`
	Name      string `json:"name"`
	Points    int64  `json:"points"`
	Acks      int64  `json:"acks"`
	HighScore int64  `json:"high_score"`
}
