package session

import "errors"

var (
	// ErrAlreadyRunning is returned when starting a session that is already Running.
	ErrAlreadyRunning = errors.New("session: already running")
	// ErrLocked is returned when starting or stopping a Locked session; only unlock() may act on it.
	ErrLocked = errors.New("session: locked, unlock required")
	// ErrNotLocked is returned when unlock is called on a non-Locked session.
	ErrNotLocked = errors.New("session: not locked")
	// ErrInvalidTransition is returned for a status-machine transition attempted out of order.
	ErrInvalidTransition = errors.New("session: invalid status transition")
)
