package presence

import "errors"

var (
	// Invalid state-machine transitions. The entry is left untouched.
	ErrNotStudying = errors.New("user is not studying")
	ErrNotOnBreak  = errors.New("user is not on a break")

	// ErrConnectionNotFound is returned for operations attempted on a
	// connection id the registry does not know, e.g. after disconnect.
	ErrConnectionNotFound = errors.New("connection is not bound to a channel")

	// Sweeper lifecycle misuse.
	ErrSweeperAlreadyRunning = errors.New("sweeper is already running")
	ErrSweeperNotRunning     = errors.New("sweeper is not running")

	// ErrSessionNotSaved wraps a session-writer failure during a
	// stop-studying transition. The in-memory transition has already
	// completed when this is returned; the caller should warn the user that
	// the interval may not have been recorded.
	ErrSessionNotSaved = errors.New("study session was not saved")
)
