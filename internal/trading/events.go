package trading

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradingcore/internal/events"
)

// SessionStartedEvent is published once a session reaches Running.
type SessionStartedEvent struct {
	PortfolioID uuid.UUID
	StartedAt   time.Time
}

func (SessionStartedEvent) EventType() events.Type { return events.SessionStarted }

// SessionStoppedEvent is published once an orderly stop completes.
type SessionStoppedEvent struct {
	PortfolioID uuid.UUID
	Reason      string
	StoppedAt   time.Time
}

func (SessionStoppedEvent) EventType() events.Type { return events.SessionStopped }

// SessionPausedEvent is published once Pause completes.
type SessionPausedEvent struct {
	PortfolioID uuid.UUID
	Reason      string
	PausedAt    time.Time
}

func (SessionPausedEvent) EventType() events.Type { return events.SessionPaused }

// SessionResumedEvent is published once Resume completes.
type SessionResumedEvent struct {
	PortfolioID uuid.UUID
	ResumedAt   time.Time
}

func (SessionResumedEvent) EventType() events.Type { return events.SessionResumed }

// SessionUnlockedEvent is published once Unlock clears a Locked session.
type SessionUnlockedEvent struct {
	PortfolioID uuid.UUID
	UnlockedAt  time.Time
}

func (SessionUnlockedEvent) EventType() events.Type { return events.SessionUnlocked }

// PositionUpdatedEvent is published whenever a tracked position's quantity
// or mark-to-market changes, including the zero-quantity update that marks
// a position fully closed.
type PositionUpdatedEvent struct {
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	UnrealizedPnL decimal.Decimal
	UpdatedAt     time.Time
}

func (PositionUpdatedEvent) EventType() events.Type { return events.PositionUpdated }

// EmergencyStopEvent is published at the end of the emergency-stop
// procedure (§4.8 step 7), always at CRITICAL severity.
type EmergencyStopEvent struct {
	PortfolioID     uuid.UUID
	Reason          string
	Severity        events.Severity
	PositionsClosed bool
	TriggeredAt     time.Time
}

func (EmergencyStopEvent) EventType() events.Type { return events.EmergencyStop }

// RiskSignalRejectedEvent is published whenever the risk validator blocks
// a proposed order, whether it originated from a strategy signal or a
// direct placeOrder call.
type RiskSignalRejectedEvent struct {
	Symbol     string
	Side       string
	Quantity   decimal.Decimal
	Reason     string
	RejectedAt time.Time
}

func (RiskSignalRejectedEvent) EventType() events.Type { return events.RiskSignalRejected }

// HealthPublishedEvent is published on every monitor tick (§5) so the
// control surface's debug feed carries process-level health alongside
// domain events, without a separate polling endpoint.
type HealthPublishedEvent struct {
	CPUPercent        float64
	MemoryUsedPercent float64
	Goroutines        int
	PublishedAt       time.Time
}

func (HealthPublishedEvent) EventType() events.Type { return events.HealthPublished }
