package trading

import "errors"

var (
	// ErrSessionNotRunning is returned by PlaceOrder and HandleSignal when
	// no session is Running.
	ErrSessionNotRunning = errors.New("trading: session is not running")
	// ErrSessionLocked is a conflict-class error: the session is Locked by
	// a prior emergency stop and only Unlock() may act on it.
	ErrSessionLocked = errors.New("trading: session is locked, unlock required")
	// ErrNoActiveSession is returned by stop/pause/resume when no session
	// has ever been started.
	ErrNoActiveSession = errors.New("trading: no active session")
	// ErrOrderNotActive is returned by cancelOrder for an unknown or
	// already-terminal order id.
	ErrOrderNotActive = errors.New("trading: order is not active")
	// ErrRiskBlocked wraps a risk validator Block decision; PlaceOrder
	// always returns it via fmt.Errorf("%w: %s", ErrRiskBlocked, reason)
	// so callers can classify it with errors.Is regardless of the reason
	// text.
	ErrRiskBlocked = errors.New("trading: order blocked by risk validator")
)
