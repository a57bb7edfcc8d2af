// Package order implements the Order aggregate: a single order's lifecycle
// state machine, its invariants, and the domain events it emits.
package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradingcore/internal/events"
)

// Side is the order's buy/sell direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Type is the order execution style.
type Type string

const (
	TypeMarket           Type = "market"
	TypeLimit            Type = "limit"
	TypeStop             Type = "stop"
	TypeStopLimit        Type = "stop-limit"
	TypeTakeProfit       Type = "take-profit"
	TypeTakeProfitMarket Type = "take-profit-market"
)

// TimeInForce controls how long an order rests on the book.
type TimeInForce string

const (
	TIFGoodTilCancel TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFFillOrKill TimeInForce = "FOK"
)

// Status is a position in the order state machine (§4.3).
type Status string

const (
	StatusPending            Status = "Pending"
	StatusPartiallyFilled    Status = "PartiallyFilled"
	StatusFilled             Status = "Filled"
	StatusCancelled          Status = "Cancelled"
	StatusCancelledConfirmed Status = "CancelledConfirmed"
	StatusRejected           Status = "Rejected"
)

// IsTerminal reports whether status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelledConfirmed, StatusRejected:
		return true
	default:
		return false
	}
}

// Order is the aggregate root for a single order's lifecycle.
type Order struct {
	ID            uuid.UUID
	BrokerOrderID string
	PortfolioID   uuid.UUID

	Symbol      string
	Side        Side
	Type        Type
	Quantity    decimal.Decimal
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce TimeInForce
	ReduceOnly  bool
	Leverage    int

	Status              Status
	FilledQuantity      decimal.Decimal
	AverageFillPrice    decimal.Decimal
	CancellationReason  string

	CreatedAt         time.Time
	UpdatedAt         time.Time
	FilledAt          *time.Time
	CancelledAt       *time.Time
	BrokerConfirmedAt *time.Time

	pending []events.Data
}

// New creates an order in Pending status and records an OrderPlaced event.
func New(params Params) *Order {
	now := time.Now().UTC()
	o := &Order{
		ID:          uuid.New(),
		PortfolioID: params.PortfolioID,
		Symbol:      params.Symbol,
		Side:        params.Side,
		Type:        params.Type,
		Quantity:    params.Quantity,
		LimitPrice:  params.LimitPrice,
		StopPrice:   params.StopPrice,
		TimeInForce: params.TimeInForce,
		ReduceOnly:  params.ReduceOnly,
		Leverage:    params.Leverage,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if o.TimeInForce == "" {
		o.TimeInForce = TIFGoodTilCancel
	}
	o.addEvent(OrderPlacedEvent{
		OrderID:     o.ID,
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Type:        o.Type,
		Quantity:    o.Quantity,
		LimitPrice:  o.LimitPrice,
		PlacedAt:    now,
	})
	return o
}

// Params constructs a new Order.
type Params struct {
	PortfolioID uuid.UUID
	Symbol      string
	Side        Side
	Type        Type
	Quantity    decimal.Decimal
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce TimeInForce
	ReduceOnly  bool
	Leverage    int
}

// SetBrokerOrderID records the broker-assigned id after submission.
func (o *Order) SetBrokerOrderID(id string) {
	o.BrokerOrderID = id
	o.UpdatedAt = time.Now().UTC()
}

// Cancel transitions the order to Cancelled. It is idempotent when already
// Cancelled or CancelledConfirmed (no state change, no new event) and
// returns ErrCannotCancelFilled / ErrCannotCancelRejected for a Filled or
// Rejected order.
func (o *Order) Cancel(reason string) error {
	switch o.Status {
	case StatusCancelled, StatusCancelledConfirmed:
		return nil
	case StatusFilled:
		return ErrCannotCancelFilled
	case StatusRejected:
		return ErrCannotCancelRejected
	}

	now := time.Now().UTC()
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	if reason == "" {
		reason = "no reason provided"
	}
	o.CancellationReason = reason

	o.addEvent(OrderCancelledEvent{
		OrderID:           o.ID,
		Symbol:            o.Symbol,
		Reason:            reason,
		CancelledAt:       now,
		UnfilledQuantity:  o.Quantity.Sub(o.FilledQuantity),
	})
	return nil
}

// CancelByBroker records an asynchronous broker-initiated cancellation,
// using the same transition as Cancel but emitting OrderCancelledByBroker.
func (o *Order) CancelByBroker(reason string) error {
	switch o.Status {
	case StatusCancelled, StatusCancelledConfirmed:
		return nil
	case StatusFilled:
		return ErrCannotCancelFilled
	case StatusRejected:
		return ErrCannotCancelRejected
	}

	now := time.Now().UTC()
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	if reason == "" {
		reason = "broker cancelled"
	}
	o.CancellationReason = reason

	o.addEvent(OrderCancelledByBrokerEvent{
		OrderID:     o.ID,
		Symbol:      o.Symbol,
		Reason:      reason,
		CancelledAt: now,
	})
	return nil
}

// Fill marks the order fully filled. Fails on a Cancelled or already-Filled
// order.
func (o *Order) Fill(fillPrice decimal.Decimal, filledAt time.Time) error {
	switch o.Status {
	case StatusFilled:
		return ErrOrderAlreadyFilled
	case StatusCancelled, StatusCancelledConfirmed:
		return ErrCannotFillCancelled
	case StatusRejected:
		return ErrCannotFillRejected
	}
	if filledAt.IsZero() {
		filledAt = time.Now().UTC()
	}

	o.Status = StatusFilled
	o.FilledQuantity = o.Quantity
	o.AverageFillPrice = fillPrice
	o.FilledAt = &filledAt
	o.UpdatedAt = filledAt

	o.addEvent(OrderFilledEvent{
		OrderID:       o.ID,
		Symbol:        o.Symbol,
		Quantity:      o.Quantity,
		FillPrice:     fillPrice,
		BrokerOrderID: o.BrokerOrderID,
		FilledAt:      filledAt,
	})
	return nil
}

// PartialFill records a fill smaller than the remaining quantity. The order
// moves to PartiallyFilled (a still-active sub-state of Pending, not a
// terminal status) unless the cumulative filled quantity now equals the
// requested quantity, in which case it is treated as a full Fill.
func (o *Order) PartialFill(filledQty, fillPrice decimal.Decimal, filledAt time.Time) error {
	switch o.Status {
	case StatusFilled:
		return ErrOrderAlreadyFilled
	case StatusCancelled, StatusCancelledConfirmed:
		return ErrCannotFillCancelled
	case StatusRejected:
		return ErrCannotFillRejected
	}
	if filledAt.IsZero() {
		filledAt = time.Now().UTC()
	}

	newFilled := o.FilledQuantity.Add(filledQty)
	if newFilled.GreaterThanOrEqual(o.Quantity) {
		return o.Fill(fillPrice, filledAt)
	}

	// Weighted-average fill price across partial fills.
	priorNotional := o.AverageFillPrice.Mul(o.FilledQuantity)
	thisNotional := fillPrice.Mul(filledQty)
	o.AverageFillPrice = priorNotional.Add(thisNotional).Div(newFilled)
	o.FilledQuantity = newFilled
	o.Status = StatusPartiallyFilled
	o.UpdatedAt = filledAt

	o.addEvent(OrderPartiallyFilledEvent{
		OrderID:        o.ID,
		Symbol:         o.Symbol,
		FilledQuantity: filledQty,
		TotalFilled:    newFilled,
		FillPrice:      fillPrice,
		FilledAt:       filledAt,
	})
	return nil
}

// Reject marks a Pending order as Rejected by the broker or pre-submit
// validation. Terminal; fails if the order is no longer Pending.
func (o *Order) Reject(reason string) error {
	if o.Status != StatusPending {
		return ErrCannotRejectNonPending
	}
	now := time.Now().UTC()
	o.Status = StatusRejected
	o.UpdatedAt = now
	o.CancellationReason = reason

	o.addEvent(OrderRejectedEvent{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Reason:     reason,
		RejectedAt: now,
	})
	return nil
}

// ConfirmCancellation records the broker's async confirmation that a
// cancellation has fully settled. Requires prior Cancelled status.
func (o *Order) ConfirmCancellation(confirmedAt time.Time) error {
	if o.Status != StatusCancelled {
		return ErrConfirmRequiresCancelled
	}
	if confirmedAt.IsZero() {
		confirmedAt = time.Now().UTC()
	}

	o.Status = StatusCancelledConfirmed
	o.BrokerConfirmedAt = &confirmedAt
	o.UpdatedAt = confirmedAt

	o.addEvent(OrderFullyCancelledEvent{
		OrderID:       o.ID,
		Symbol:        o.Symbol,
		Quantity:      o.Quantity,
		ConfirmedAt:   confirmedAt,
		BrokerOrderID: o.BrokerOrderID,
	})
	return nil
}

// IsActive reports whether the order is still held by the session (i.e.
// has been submitted and has not reached a terminal state).
func (o *Order) IsActive() bool {
	return !o.Status.IsTerminal()
}

func (o *Order) addEvent(e events.Data) {
	o.pending = append(o.pending, e)
}

// PullEvents returns and clears the order's accumulated domain events.
func (o *Order) PullEvents() []events.Data {
	pulled := o.pending
	o.pending = nil
	return pulled
}
