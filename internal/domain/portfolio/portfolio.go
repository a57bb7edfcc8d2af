// Package portfolio implements the Portfolio aggregate: available/reserved
// cash accounting and open positions for a single trading account.
//
// Reservations are tracked per order id (not released in bulk on any fill),
// resolving the specification's Open Question in favor of precise per-order
// bookkeeping over the simpler "release everything on any fill" behavior of
// the original system.
package portfolio

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Portfolio is the aggregate root tracking cash and open positions for one
// trading account.
type Portfolio struct {
	ID            uuid.UUID
	AvailableCash decimal.Decimal
	TotalEquity   decimal.Decimal

	// reservations maps an order id to the cash it holds reserved. Released
	// in full when the order is cancelled, or incrementally as the order
	// fills (completeFill releases only the filled notional's share).
	reservations map[uuid.UUID]decimal.Decimal

	// positionIDs maps "SYMBOL:SIDE" to an open position id, letting the
	// service layer look up which position an order's fill should update.
	positionIDs map[string]uuid.UUID

	UpdatedAt time.Time
}

// New constructs a Portfolio with the given starting cash.
func New(id uuid.UUID, startingCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		ID:            id,
		AvailableCash: startingCash,
		TotalEquity:   startingCash,
		reservations:  make(map[uuid.UUID]decimal.Decimal),
		positionIDs:   make(map[string]uuid.UUID),
		UpdatedAt:     time.Now().UTC(),
	}
}

// Reserve earmarks amount of cash against orderID. Fails with
// ErrInsufficientFunds if available cash cannot cover it, or
// ErrInvalidAmount for a non-positive amount.
func (p *Portfolio) Reserve(orderID uuid.UUID, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(p.AvailableCash) {
		return ErrInsufficientFunds
	}
	if _, exists := p.reservations[orderID]; exists {
		return ErrReservationExists
	}

	p.AvailableCash = p.AvailableCash.Sub(amount)
	p.reservations[orderID] = amount
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Release returns any remaining reservation for orderID to available cash.
// A no-op, not an error, if orderID has no outstanding reservation — mirrors
// Cancel's idempotence on the Order aggregate.
func (p *Portfolio) Release(orderID uuid.UUID) {
	amount, ok := p.reservations[orderID]
	if !ok {
		return
	}
	p.AvailableCash = p.AvailableCash.Add(amount)
	delete(p.reservations, orderID)
	p.UpdatedAt = time.Now().UTC()
}

// ReservedFor returns the cash currently reserved against orderID.
func (p *Portfolio) ReservedFor(orderID uuid.UUID) decimal.Decimal {
	return p.reservations[orderID]
}

// TotalReserved sums every outstanding per-order reservation.
func (p *Portfolio) TotalReserved() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range p.reservations {
		total = total.Add(amount)
	}
	return total
}

// CompleteFill releases filledFraction (0 < f <= 1) of orderID's reservation
// back to available cash, then debits the actual notional of this fill
// (fillQuantity * fillPrice) from available cash: the released reservation
// was only an estimate, the fill is what was actually spent. The remaining
// reservation, if any, stays held for the order's unfilled quantity. Returns
// ErrInsufficientFunds if the actual cost exceeds available cash after the
// release (the released share plus any unreserved cash) — the
// release is still applied before this check, matching the original's
// release-then-debit order of operations.
func (p *Portfolio) CompleteFill(orderID uuid.UUID, filledFraction, fillQuantity, fillPrice decimal.Decimal) error {
	reserved, ok := p.reservations[orderID]
	if !ok {
		return ErrNoSuchReservation
	}
	if filledFraction.Sign() <= 0 {
		return ErrInvalidAmount
	}

	released := reserved.Mul(filledFraction)
	if released.GreaterThan(reserved) {
		released = reserved
	}

	remaining := reserved.Sub(released)
	if remaining.Sign() <= 0 {
		delete(p.reservations, orderID)
	} else {
		p.reservations[orderID] = remaining
	}

	available := p.AvailableCash.Add(released)
	p.UpdatedAt = time.Now().UTC()

	cost := fillQuantity.Mul(fillPrice)
	if cost.GreaterThan(available) {
		p.AvailableCash = available
		return ErrInsufficientFunds
	}

	p.AvailableCash = available.Sub(cost)
	return nil
}

// ApplyRealizedPnL adjusts available cash and total equity by a realized
// profit or loss amount (negative for a loss).
func (p *Portfolio) ApplyRealizedPnL(amount decimal.Decimal) {
	p.AvailableCash = p.AvailableCash.Add(amount)
	p.TotalEquity = p.TotalEquity.Add(amount)
	p.UpdatedAt = time.Now().UTC()
}

// LinkPosition records which open position id serves a given symbol/side,
// so fills can be routed to the right position.
func (p *Portfolio) LinkPosition(symbol, side string, positionID uuid.UUID) {
	p.positionIDs[positionKey(symbol, side)] = positionID
}

// UnlinkPosition removes the symbol/side -> position id mapping once a
// position is fully closed.
func (p *Portfolio) UnlinkPosition(symbol, side string) {
	delete(p.positionIDs, positionKey(symbol, side))
}

// PositionFor returns the linked position id for symbol/side, if any.
func (p *Portfolio) PositionFor(symbol, side string) (uuid.UUID, bool) {
	id, ok := p.positionIDs[positionKey(symbol, side)]
	return id, ok
}

func positionKey(symbol, side string) string {
	return symbol + ":" + side
}
