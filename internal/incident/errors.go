package incident

import "errors"

// Store errors. ErrStateConflict is an expected outcome of racing
// transitions and must never be conflated with infrastructure failures.
var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrStateConflict    = errors.New("incident state changed, transition not applied")
	ErrInvalidSeverity  = errors.New("invalid severity")
	ErrInvalidState     = errors.New("invalid incident state")
)
