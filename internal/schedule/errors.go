package schedule

import "errors"

// Schedule errors. ErrNoTeamForAccount and ErrNoOnCall are resolution
// failures: configuration gaps, not transient conditions — callers log
// and drop, never retry or fabricate a default.
var (
	ErrTeamNotFound     = errors.New("team not found")
	ErrSlotNotFound     = errors.New("schedule slot not found")
	ErrSlugTaken        = errors.New("team slug already taken")
	ErrNoTeamForAccount = errors.New("no team owns this account")
	ErrNoOnCall         = errors.New("no responder on call")
	ErrInvalidWindow    = errors.New("slot start must be before end")
	ErrNotTeamMember    = errors.New("caller is not a member of this team")
)
