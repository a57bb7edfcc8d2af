// Package session implements the Trading Session aggregate: the status
// machine that gates order submission and background activity for one
// live trading run.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is a position in the session lifecycle machine (§4.1).
type Status string

const (
	StatusStopped  Status = "Stopped"
	StatusStarting Status = "Starting"
	StatusRunning  Status = "Running"
	StatusPausing  Status = "Pausing"
	StatusPaused   Status = "Paused"
	StatusStopping Status = "Stopping"
	StatusError    Status = "Error"
	// StatusLocked is sticky: only unlock() can leave it.
	StatusLocked Status = "Locked"
)

// Session is the aggregate root gating the trading orchestrator's activity.
type Session struct {
	ID          uuid.UUID
	PortfolioID uuid.UUID
	Status      Status
	ErrorMsg    string

	StartedAt time.Time
	UpdatedAt time.Time
}

// New constructs a Stopped session for the given portfolio.
func New(portfolioID uuid.UUID) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          uuid.New(),
		PortfolioID: portfolioID,
		Status:      StatusStopped,
		UpdatedAt:   now,
	}
}

// BeginStart transitions Stopped -> Starting. Refuses if the session is
// Running or Locked per §4.1 ("starting a new session while a Locked
// session exists is refused").
func (s *Session) BeginStart() error {
	switch s.Status {
	case StatusRunning:
		return ErrAlreadyRunning
	case StatusLocked:
		return ErrLocked
	}
	s.Status = StatusStarting
	s.touch()
	return nil
}

// MarkRunning completes Starting -> Running.
func (s *Session) MarkRunning() error {
	if s.Status != StatusStarting {
		return ErrInvalidTransition
	}
	s.Status = StatusRunning
	s.StartedAt = time.Now().UTC()
	s.touch()
	return nil
}

// BeginPause transitions Running -> Pausing.
func (s *Session) BeginPause() error {
	if s.Status != StatusRunning {
		return ErrInvalidTransition
	}
	s.Status = StatusPausing
	s.touch()
	return nil
}

// MarkPaused completes Pausing -> Paused.
func (s *Session) MarkPaused() error {
	if s.Status != StatusPausing {
		return ErrInvalidTransition
	}
	s.Status = StatusPaused
	s.touch()
	return nil
}

// Resume transitions Paused -> Running.
func (s *Session) Resume() error {
	if s.Status != StatusPaused {
		return ErrInvalidTransition
	}
	s.Status = StatusRunning
	s.touch()
	return nil
}

// BeginStop transitions any non-Locked status -> Stopping.
func (s *Session) BeginStop() error {
	if s.Status == StatusLocked {
		return ErrLocked
	}
	s.Status = StatusStopping
	s.touch()
	return nil
}

// MarkStopped completes Stopping -> Stopped.
func (s *Session) MarkStopped() error {
	if s.Status != StatusStopping {
		return ErrInvalidTransition
	}
	s.Status = StatusStopped
	s.touch()
	return nil
}

// Fail transitions the session to Error from any status, recording msg.
func (s *Session) Fail(msg string) {
	s.Status = StatusError
	s.ErrorMsg = msg
	s.touch()
}

// Lock transitions the session to the sticky Locked status, as performed by
// emergency stop. Reachable from any status.
func (s *Session) Lock(reason string) {
	s.Status = StatusLocked
	s.ErrorMsg = reason
	s.touch()
}

// Unlock is the only path out of Locked: clears the error and transitions
// Locked -> Stopped.
func (s *Session) Unlock() error {
	if s.Status != StatusLocked {
		return ErrNotLocked
	}
	s.Status = StatusStopped
	s.ErrorMsg = ""
	s.touch()
	return nil
}

// CanAcceptOrders reports whether placeOrder should be allowed: only while
// Running, never while Locked or any other status.
func (s *Session) CanAcceptOrders() bool {
	return s.Status == StatusRunning
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}
