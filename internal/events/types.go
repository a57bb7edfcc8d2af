package events

// Type identifies the kind of domain event flowing through the bus.
type Type string

const (
	SessionStarted  Type = "trading.session.started"
	SessionStopped  Type = "trading.session.stopped"
	SessionPaused   Type = "trading.session.paused"
	SessionResumed  Type = "trading.session.resumed"
	SessionUnlocked Type = "trading.session.unlocked"

	OrderPlaced         Type = "trading.order.placed"
	OrderCancelled      Type = "trading.order.cancelled"
	OrderFilled         Type = "trading.order.filled"
	OrderPartiallyFilled Type = "trading.order.partially_filled"
	OrderRejected       Type = "trading.order.rejected"
	OrderFullyCancelled Type = "trading.order.fully_cancelled"

	PositionUpdated Type = "trading.position.updated"

	EmergencyStop Type = "trading.emergency_stop"

	RiskSignalRejected Type = "risk.signal_rejected"

	HealthPublished Type = "system.health_published"
)

// Severity marks operator-facing urgency. Most events are INFO; only the
// emergency-stop path escalates to CRITICAL per the specification.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Data is implemented by every concrete event payload published on the bus.
type Data interface {
	EventType() Type
}
