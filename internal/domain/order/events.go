package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradingcore/internal/events"
)

// OrderPlacedEvent is emitted the moment an order is constructed, before
// submission to the broker.
type OrderPlacedEvent struct {
	OrderID     uuid.UUID
	PortfolioID uuid.UUID
	Symbol      string
	Side        Side
	Type        Type
	Quantity    decimal.Decimal
	LimitPrice  *decimal.Decimal
	PlacedAt    time.Time
}

func (OrderPlacedEvent) EventType() events.Type { return events.OrderPlaced }

// OrderFilledEvent is emitted when an order reaches Filled.
type OrderFilledEvent struct {
	OrderID       uuid.UUID
	Symbol        string
	Quantity      decimal.Decimal
	FillPrice     decimal.Decimal
	BrokerOrderID string
	FilledAt      time.Time
}

func (OrderFilledEvent) EventType() events.Type { return events.OrderFilled }

// OrderPartiallyFilledEvent is emitted on each incremental fill short of
// the full requested quantity.
type OrderPartiallyFilledEvent struct {
	OrderID        uuid.UUID
	Symbol         string
	FilledQuantity decimal.Decimal
	TotalFilled    decimal.Decimal
	FillPrice      decimal.Decimal
	FilledAt       time.Time
}

func (OrderPartiallyFilledEvent) EventType() events.Type { return events.OrderPartiallyFilled }

// OrderCancelledEvent is emitted when the session-side cancel is accepted.
type OrderCancelledEvent struct {
	OrderID          uuid.UUID
	Symbol           string
	Reason           string
	CancelledAt      time.Time
	UnfilledQuantity decimal.Decimal
}

func (OrderCancelledEvent) EventType() events.Type { return events.OrderCancelled }

// OrderCancelledByBrokerEvent is emitted when the broker unilaterally
// cancels the order (e.g. IOC expiry, liquidation engine action).
type OrderCancelledByBrokerEvent struct {
	OrderID     uuid.UUID
	Symbol      string
	Reason      string
	CancelledAt time.Time
}

func (OrderCancelledByBrokerEvent) EventType() events.Type { return events.OrderCancelled }

// OrderFullyCancelledEvent is emitted on the broker's async confirmation
// that a cancellation has fully settled.
type OrderFullyCancelledEvent struct {
	OrderID       uuid.UUID
	Symbol        string
	Quantity      decimal.Decimal
	ConfirmedAt   time.Time
	BrokerOrderID string
}

func (OrderFullyCancelledEvent) EventType() events.Type { return events.OrderFullyCancelled }

// OrderRejectedEvent is emitted when the broker (or pre-submit validation)
// rejects the order outright.
type OrderRejectedEvent struct {
	OrderID    uuid.UUID
	Symbol     string
	Reason     string
	RejectedAt time.Time
}

func (OrderRejectedEvent) EventType() events.Type { return events.OrderRejected }
